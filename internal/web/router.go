package web

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"cocalc-hub/internal/metrics"
	"cocalc-hub/internal/storage"
)

type Options struct {
	DB       *storage.DB
	Metrics  *metrics.Registry
	Cookies  CookiePolicy
	BasePath string
	Personal bool
	Log      logrus.FieldLogger

	// OnPanic receives every panic recovered from a handler.
	OnPanic func(value any, stack []byte)
}

type ctxKey int

const accountKey ctxKey = iota

// Router is the hub's HTTP handler. The realtime endpoint is attached
// once the listener is bound; until then it answers 503.
type Router struct {
	opts     Options
	log      logrus.FieldLogger
	handler  http.Handler
	realtime atomic.Pointer[http.Handler]
	personal storage.Account
}

func NewRouter(ctx context.Context, opts Options) (*Router, error) {
	if opts.DB == nil {
		return nil, errors.New("web: DB is required")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry()
	}
	if opts.Cookies.Name == "" {
		opts.Cookies = CookiePolicy{Name: CookieName, Path: "/", TTL: DefaultSessionTTL}
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Router{opts: opts, log: log}
	if opts.Personal {
		a, err := storage.EnsurePersonalAccount(ctx, opts.DB)
		if err != nil {
			return nil, err
		}
		s.personal = a
		log.Warn("authentication disabled: every request acts as " + a.Email)
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)
	r.Use(s.identify)

	r.Get("/alive", s.alive)
	r.Handle("/metrics", opts.Metrics.Handler())
	r.Get("/stats", s.stats)
	r.Get("/customize", s.customize)
	r.Post("/auth/sign_in", s.signIn)
	r.Post("/auth/sign_out", s.signOut)
	r.With(s.requireAccount).Get("/api/v1/me", s.me)
	r.With(s.requireAccount).Post("/api/v1/projects/{project_id}/touch", s.touchProject)
	r.Handle("/hub", http.HandlerFunc(s.hub))

	var root http.Handler = r
	if opts.BasePath != "" && opts.BasePath != "/" {
		outer := chi.NewRouter()
		outer.Mount(opts.BasePath, r)
		root = outer
	}
	s.handler = metrics.Wrap(opts.Metrics.Service("web"), root)
	return s, nil
}

func (s *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// AttachRealtime installs the websocket handler served on /hub.
func (s *Router) AttachRealtime(h http.Handler) {
	s.realtime.Store(&h)
}

// AccountID returns the account the request is authenticated as, or "".
func (s *Router) AccountID(r *http.Request) string {
	if a, ok := r.Context().Value(accountKey).(storage.Account); ok {
		return a.ID
	}
	if s.opts.Personal {
		return s.personal.ID
	}
	a, ok := s.lookupSession(r)
	if !ok {
		return ""
	}
	return a.ID
}

func (s *Router) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			if s.opts.OnPanic != nil {
				s.opts.OnPanic(v, debug.Stack())
			} else {
				s.log.WithField("panic", v).Error("handler panic")
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Router) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Personal {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountKey, s.personal)))
			return
		}
		if a, ok := s.lookupSession(r); ok {
			r = r.WithContext(context.WithValue(r.Context(), accountKey, a))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Router) lookupSession(r *http.Request) (storage.Account, bool) {
	c, err := r.Cookie(s.opts.Cookies.Name)
	if err != nil || c.Value == "" {
		return storage.Account{}, false
	}
	a, ok, err := storage.GetSessionAccount(r.Context(), s.opts.DB, c.Value)
	if err != nil {
		s.log.WithError(err).Warn("session lookup failed")
		return storage.Account{}, false
	}
	return a, ok
}

func (s *Router) requireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Value(accountKey).(storage.Account); !ok {
			writeError(w, r, http.StatusUnauthorized, "not signed in")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Router) alive(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.opts.DB.PingContext(ctx); err != nil {
		http.Error(w, "database unreachable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("content-type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("alive"))
}

func (s *Router) hub(w http.ResponseWriter, r *http.Request) {
	h := s.realtime.Load()
	if h == nil {
		http.Error(w, "realtime transport not available", http.StatusServiceUnavailable)
		return
	}
	(*h).ServeHTTP(w, r)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}
