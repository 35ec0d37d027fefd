package metrics

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	BlockedMsTotal         = "blocked_ms_total"
	UncaughtExceptionTotal = "uncaught_exception_total"
)

// Counter is a monotonically increasing process-wide counter.
type Counter struct {
	v atomic.Int64
}

// Add increments the counter. Zero and negative deltas are ignored.
func (c *Counter) Add(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.v.Add(n)
}

func (c *Counter) Inc() { c.Add(1) }

func (c *Counter) Value() int64 {
	if c == nil {
		return 0
	}
	return c.v.Load()
}

type Snapshot struct {
	BytesIn  int64 `json:"bytesIn"`
	BytesOut int64 `json:"bytesOut"`
	Requests int64 `json:"requests"`
}

// Service holds the HTTP traffic counters of one listener.
type Service struct {
	bytesIn  atomic.Int64
	bytesOut atomic.Int64
	requests atomic.Int64
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	return Snapshot{
		BytesIn:  s.bytesIn.Load(),
		BytesOut: s.bytesOut.Load(),
		Requests: s.requests.Load(),
	}
}

// Registry is created once at startup and shared by every component.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*Service
	counters map[string]*Counter

	prom *prometheus.Registry
}

func NewRegistry() *Registry {
	r := &Registry{
		services: map[string]*Service{},
		counters: map[string]*Counter{},
		prom:     prometheus.NewRegistry(),
	}
	r.Counter(BlockedMsTotal, "Milliseconds the scheduler was observed lagging behind its timers.")
	r.Counter(UncaughtExceptionTotal, "Panics recovered after the hub started serving.")
	return r
}

// Counter returns the named counter, creating and exporting it on first use.
func (r *Registry) Counter(name, help string) *Counter {
	if r == nil {
		return nil
	}
	k := strings.TrimSpace(name)
	if k == "" {
		return nil
	}

	r.mu.RLock()
	c := r.counters[k]
	r.mu.RUnlock()
	if c != nil {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.counters[k]; c != nil {
		return c
	}
	c = &Counter{}
	r.counters[k] = c
	if help == "" {
		help = k
	}
	r.prom.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: k, Help: help},
		func() float64 { return float64(c.Value()) },
	))
	return c
}

// Counters returns the current value of every counter by name.
func (r *Registry) Counters() map[string]int64 {
	if r == nil {
		return map[string]int64{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int64, len(r.counters))
	for k, c := range r.counters {
		out[k] = c.Value()
	}
	return out
}

func (r *Registry) Service(key string) *Service {
	if r == nil {
		return nil
	}
	k := strings.TrimSpace(key)
	if k == "" {
		return nil
	}

	r.mu.RLock()
	s := r.services[k]
	r.mu.RUnlock()
	if s != nil {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.services[k]; s != nil {
		return s
	}
	s = &Service{}
	r.services[k] = s

	labels := prometheus.Labels{"service": k}
	for _, m := range []struct {
		name string
		help string
		v    *atomic.Int64
	}{
		{"http_requests_total", "HTTP requests served.", &s.requests},
		{"http_request_bytes_total", "HTTP request body bytes read.", &s.bytesIn},
		{"http_response_bytes_total", "HTTP response bytes written.", &s.bytesOut},
	} {
		v := m.v
		r.prom.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: m.name, Help: m.help, ConstLabels: labels},
			func() float64 { return float64(v.Load()) },
		))
	}
	return s
}

// Snapshot returns the HTTP traffic of every service by key.
func (r *Registry) Snapshot() map[string]Snapshot {
	if r == nil {
		return map[string]Snapshot{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Snapshot, len(r.services))
	for k, svc := range r.services {
		out[k] = svc.Snapshot()
	}
	return out
}

// Handler serves the registry in the prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{})
}

func Wrap(svc *Service, next http.Handler) http.Handler {
	if next == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	}
	if svc == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health and scrape probes are not traffic.
		if r != nil && isProbe(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		svc.requests.Add(1)

		var bodyCounter *countingReadCloser
		if r != nil && r.Body != nil {
			bodyCounter = &countingReadCloser{ReadCloser: r.Body, svc: svc}
			r.Body = bodyCounter
		}

		crw := &countingResponseWriter{ResponseWriter: w, svc: svc}
		next.ServeHTTP(crw, r)
	})
}

func isProbe(p string) bool {
	return strings.HasSuffix(p, "/alive") || strings.HasSuffix(p, "/metrics")
}

type countingReadCloser struct {
	io.ReadCloser
	svc *Service
}

func (c *countingReadCloser) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	if n > 0 {
		if c.svc != nil {
			c.svc.bytesIn.Add(int64(n))
		}
	}
	return n, err
}

const copyBufSize = 32 * 1024

var copyBufPool = sync.Pool{New: func() any { return make([]byte, copyBufSize) }}

type countingResponseWriter struct {
	http.ResponseWriter
	svc *Service
}

func (w *countingResponseWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	if n > 0 {
		if w.svc != nil {
			w.svc.bytesOut.Add(int64(n))
		}
	}
	return n, err
}

func (w *countingResponseWriter) ReadFrom(r io.Reader) (int64, error) {
	if r == nil {
		return 0, nil
	}
	buf := copyBufPool.Get().([]byte)
	defer copyBufPool.Put(buf)

	var total int64
	for {
		nr, er := r.Read(buf)
		if nr > 0 {
			nw, ew := w.ResponseWriter.Write(buf[:nr])
			if nw > 0 {
				total += int64(nw)
				if w.svc != nil {
					w.svc.bytesOut.Add(int64(nw))
				}
			}
			if ew != nil {
				return total, ew
			}
			if nw != nr {
				return total, io.ErrShortWrite
			}
		}
		if er != nil {
			if er == io.EOF {
				return total, nil
			}
			return total, er
		}
	}
}

func (w *countingResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *countingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}

func (w *countingResponseWriter) Push(target string, opts *http.PushOptions) error {
	p, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return p.Push(target, opts)
}
