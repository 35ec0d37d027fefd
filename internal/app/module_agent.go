package app

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"cocalc-hub/internal/logging"
	"cocalc-hub/internal/web"
)

type agentModule struct{}

func (agentModule) Name() string { return "agent" }

func (agentModule) Start(_ context.Context, env *runtimeEnv, _ chan<- error) (*runningModule, error) {
	if env.opts.AgentPort <= 0 {
		return &runningModule{name: "agent"}, nil
	}
	log := logging.Component(env.log, "agent")

	addr := net.JoinHostPort(env.opts.Hostname, strconv.Itoa(env.opts.AgentPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("agent listen %s: %w", addr, err)
	}
	log.Infof("agent check listening on %s", ln.Addr())

	a := web.AgentResponder{
		Healthy: func(ctx context.Context) bool { return env.db.PingContext(ctx) == nil },
		Log:     log,
	}
	done := make(chan struct{})
	env.sup.Go("agent", func() {
		defer close(done)
		if err := a.Serve(ln); err != nil {
			log.WithError(err).Warn("agent responder stopped")
		}
	})

	return &runningModule{
		name:    "agent",
		started: true,
		close: func() error {
			err := ln.Close()
			<-done
			return err
		},
	}, nil
}
