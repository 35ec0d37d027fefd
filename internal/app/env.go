package app

import (
	"net"

	"github.com/sirupsen/logrus"

	"cocalc-hub/internal/config"
	"cocalc-hub/internal/metrics"
	"cocalc-hub/internal/projects"
	"cocalc-hub/internal/realtime"
	"cocalc-hub/internal/storage"
	"cocalc-hub/internal/web"
)

type runtimeEnv struct {
	opts    config.Options
	log     logrus.FieldLogger
	db      *storage.DB
	metrics *metrics.Registry
	sup     *Supervisor
	cookies web.CookiePolicy

	control  projects.Control
	router   *web.Router
	realtime *realtime.Server
	webAddr  net.Addr
}

func (e *runtimeEnv) clients() int {
	if e.realtime == nil {
		return 0
	}
	return e.realtime.Len()
}

// webPort is the port the web server actually bound.
func (e *runtimeEnv) webPort() int {
	if tcp, ok := e.webAddr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	return e.opts.Port
}
