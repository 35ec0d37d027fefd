package app

import (
	"context"
	"time"

	"cocalc-hub/internal/config"
	"cocalc-hub/internal/logging"
	"cocalc-hub/internal/projects"
)

type projectsModule struct{}

func (projectsModule) Name() string { return "projects" }

func (projectsModule) Start(ctx context.Context, env *runtimeEnv, _ chan<- error) (*runningModule, error) {
	log := logging.Component(env.log, "projects")
	log.Info("initializing project control")
	control, err := projects.NewControl(env.opts.Mode, env.db, log)
	if err != nil {
		return nil, err
	}
	env.control = control

	if env.opts.Mode == config.ModeKucalc || !env.opts.WebsocketServer {
		return &runningModule{name: "projects", started: true}, nil
	}
	if env.opts.NoIdleTimeout {
		log.Info("idle timeout disabled by COCALC_NO_IDLE_TIMEOUT")
		return &runningModule{name: "projects", started: true}, nil
	}

	monitor := projects.IdleMonitor{DB: env.db, Control: control, Log: log}
	stop := every(ctx, env, "idle timeout", projects.IdleSweepInterval, func(ctx context.Context) error {
		_, err := monitor.Sweep(ctx, time.Now())
		return err
	})
	return &runningModule{
		name:    "projects",
		started: true,
		shutdown: func(context.Context) error {
			stop()
			return nil
		},
	}, nil
}

// devResetModule assumes no project survived a restart of a developer's
// single-user hub.
type devResetModule struct{}

func (devResetModule) Name() string { return "dev_reset" }

func (devResetModule) Start(ctx context.Context, env *runtimeEnv, _ chan<- error) (*runningModule, error) {
	o := env.opts
	if !o.WebsocketServer || o.Mode != config.ModeSingleUser || o.User != "user" {
		return &runningModule{name: "dev_reset"}, nil
	}
	if err := projects.ResetForDevelopment(ctx, env.db, logging.Component(env.log, "projects")); err != nil {
		return nil, err
	}
	return &runningModule{name: "dev_reset", started: true}, nil
}

type alwaysRunningModule struct{}

func (alwaysRunningModule) Name() string { return "always_running" }

func (alwaysRunningModule) Start(ctx context.Context, env *runtimeEnv, _ chan<- error) (*runningModule, error) {
	if !env.opts.WebsocketServer || env.opts.Mode == config.ModeKucalc {
		return &runningModule{name: "always_running"}, nil
	}
	log := logging.Component(env.log, "projects")
	log.Info("starting always running projects")
	a := projects.AlwaysRunning{DB: env.db, Control: env.control, Log: log}
	stop := everyAsync(ctx, env, "always running", projects.AlwaysRunningInterval, func(ctx context.Context) error {
		_, err := a.Sweep(ctx)
		return err
	})
	return &runningModule{
		name:    "always_running",
		started: true,
		shutdown: func(context.Context) error {
			stop()
			return nil
		},
	}, nil
}
