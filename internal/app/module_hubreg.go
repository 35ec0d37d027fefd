package app

import (
	"context"
	"time"

	"cocalc-hub/internal/hubreg"
	"cocalc-hub/internal/logging"
)

type hubRegisterModule struct{}

func (hubRegisterModule) Name() string { return "hub_register" }

func (hubRegisterModule) Start(ctx context.Context, env *runtimeEnv, _ chan<- error) (*runningModule, error) {
	if !env.opts.ServesAnything() {
		return &runningModule{name: "hub_register"}, nil
	}
	log := logging.Component(env.log, "hub_register")
	log.Info("registering periodically with the database")

	r := &hubreg.Registrar{
		DB:       env.db,
		Host:     env.opts.Hostname,
		Port:     env.webPort(),
		Clients:  env.clients,
		Interval: hubreg.DefaultInterval,
		Log:      log,
	}

	var mirror *hubreg.RedisMirror
	if env.opts.RedisAddr != "" {
		mirror = hubreg.NewRedisMirror(env.opts.RedisAddr)
		r.Mirror = mirror
		addr := env.opts.RedisAddr
		env.sup.Go("redis ping", func() {
			cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := mirror.Ping(cctx); err != nil {
				log.WithError(err).Warnf("redis %s unreachable; registration mirror will retry", addr)
				return
			}
			log.Infof("redis: connected to %s", addr)
		})
	}

	// The first registration also proves the database accepts writes.
	if err := r.Register(ctx); err != nil {
		if mirror != nil {
			_ = mirror.Close()
		}
		return nil, err
	}
	stop := loop(ctx, env, "hub register", r.Interval, r.Register, false)

	return &runningModule{
		name:    "hub_register",
		started: true,
		shutdown: func(context.Context) error {
			stop()
			return nil
		},
		close: func() error {
			if mirror != nil {
				return mirror.Close()
			}
			return nil
		},
	}, nil
}
