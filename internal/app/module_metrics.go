package app

import (
	"context"
	"time"

	"cocalc-hub/internal/logging"
	"cocalc-hub/internal/metrics"
)

const (
	blockedCheckInterval = 500 * time.Millisecond
	blockedThreshold     = 10 * time.Millisecond
	memoryLogInterval    = 5 * time.Minute
)

type metricsModule struct{}

func (metricsModule) Name() string { return "metrics" }

func (metricsModule) Start(ctx context.Context, env *runtimeEnv, _ chan<- error) (*runningModule, error) {
	log := logging.Component(env.log, "metrics")
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{}, 2)

	w := metrics.BlockedWatcher{
		Interval:  blockedCheckInterval,
		Threshold: blockedThreshold,
		Counter:   env.metrics.Counter(metrics.BlockedMsTotal, ""),
		Log:       log,
	}
	env.sup.Go("blocked watcher", func() {
		defer func() { done <- struct{}{} }()
		w.Run(loopCtx)
	})
	env.sup.Go("usage logger", func() {
		defer func() { done <- struct{}{} }()
		metrics.LogUsage(loopCtx, memoryLogInterval, env.metrics, log)
	})

	return &runningModule{
		name:    "metrics",
		started: true,
		shutdown: func(context.Context) error {
			cancel()
			<-done
			<-done
			return nil
		},
	}, nil
}
