package app

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"cocalc-hub/internal/logging"
	"cocalc-hub/internal/realtime"
	"cocalc-hub/internal/web"
)

type webModule struct{}

func (webModule) Name() string { return "web" }

func (webModule) Start(ctx context.Context, env *runtimeEnv, fatalErrCh chan<- error) (*runningModule, error) {
	o := env.opts
	log := logging.Component(env.log, "web")

	router, err := web.NewRouter(ctx, web.Options{
		DB:       env.db,
		Metrics:  env.metrics,
		Cookies:  env.cookies,
		BasePath: o.BasePath,
		Personal: o.Personal,
		Log:      log,
		OnPanic: func(v any, stack []byte) {
			env.sup.Handle("http", v, stack)
		},
	})
	if err != nil {
		return nil, err
	}
	env.router = router

	server := &http.Server{
		Addr:              net.JoinHostPort(o.Hostname, strconv.Itoa(o.Port)),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	var certs *tlsFiles
	if o.TLS() {
		certs = &tlsFiles{cert: o.HTTPSCert, key: o.HTTPSKey}
	}
	log.Infof("starting webserver on %s (base path %s)", server.Addr, o.BasePath)
	addr, err := listenAndServe(env, "web", server, certs, true, fatalErrCh)
	if err != nil {
		return nil, err
	}
	env.webAddr = addr

	var redirect *http.Server
	if web.NeedsRedirect(o, o.Port) {
		redirect = &http.Server{
			Addr:              net.JoinHostPort(o.Hostname, "80"),
			Handler:           web.RedirectHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		if a, _ := listenAndServe(env, "http redirect", redirect, nil, false, nil); a == nil {
			redirect = nil
		}
	}

	// The realtime layer attaches to a server that is already listening.
	if o.WebsocketServer {
		log.Info("initializing websocket server")
		rt := realtime.NewServer(logging.Component(env.log, "realtime"))
		rt.AccountID = router.AccountID
		router.AttachRealtime(rt)
		env.realtime = rt
	}

	return &runningModule{
		name:    "web",
		started: true,
		shutdown: func(ctx context.Context) error {
			if env.realtime != nil {
				env.realtime.Close()
			}
			if redirect != nil {
				_ = redirect.Shutdown(ctx)
			}
			return server.Shutdown(ctx)
		},
	}, nil
}
