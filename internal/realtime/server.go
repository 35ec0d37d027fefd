package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// ClientInfo describes one connected browser session.
type ClientInfo struct {
	ID          string
	AccountID   string
	RemoteAddr  string
	ConnectedAt time.Time
}

type client struct {
	ClientInfo

	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

type Message struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Server owns the websocket endpoint and the registry of connected clients.
type Server struct {
	upgrader websocket.Upgrader
	log      logrus.FieldLogger

	// AccountID identifies the requester; an empty result rejects the
	// connection with 401.
	AccountID func(r *http.Request) string

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
}

func NewServer(log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     log,
		clients: map[string]*client{},
	}
}

// Len reports the number of connected clients.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) Clients() []ClientInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c.ClientInfo)
	}
	return out
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	account := ""
	if s.AccountID != nil {
		account = s.AccountID(r)
		if account == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	c := &client{
		ClientInfo: ClientInfo{
			ID:          uuid.NewString(),
			AccountID:   account,
			RemoteAddr:  r.RemoteAddr,
			ConnectedAt: time.Now(),
		},
		conn: conn,
		send: make(chan []byte, 64),
	}
	if !s.add(c) {
		_ = conn.Close()
		return
	}
	s.log.WithFields(logrus.Fields{"client_id": c.ID, "clients": s.Len()}).Debug("client connected")

	go s.writePump(c)
	s.readPump(c)
}

func (s *Server) add(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c.ID] = c
	return true
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	delete(s.clients, c.ID)
	s.mu.Unlock()
	c.once.Do(func() { close(c.send) })
}

func (s *Server) readPump(c *client) {
	defer func() {
		s.remove(c)
		_ = c.conn.Close()
		s.log.WithField("client_id", c.ID).Debug("client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithError(err).WithField("client_id", c.ID).Debug("websocket read failed")
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Event {
		case "ping":
			s.reply(c, Message{Event: "pong", ID: msg.ID})
		}
	}
}

func (s *Server) reply(c *client, msg Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
		s.log.WithField("client_id", c.ID).Warn("client send buffer full; dropping message")
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case b, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every client and refuses new ones.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	list := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		list = append(list, c)
	}
	s.mu.Unlock()

	for _, c := range list {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub shutting down"),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
	}
}
