package web

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// AgentResponder answers HAProxy agent checks: each connection gets "up"
// or "drain" and is closed.
type AgentResponder struct {
	Healthy func(ctx context.Context) bool
	Log     logrus.FieldLogger
}

func (a AgentResponder) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go a.answer(conn)
	}
}

func (a AgentResponder) answer(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	status := "up\n"
	if a.Healthy != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		ok := a.Healthy(ctx)
		cancel()
		if !ok {
			status = "drain\n"
		}
	}
	if _, err := conn.Write([]byte(status)); err != nil && a.Log != nil {
		a.Log.WithError(err).Debug("agent check: write failed")
	}
}
