package app

import (
	"context"
	"time"
)

type taskFunc func(ctx context.Context) error

// every runs fn once before returning and then on a fixed ticker until
// the returned stop func is called. A run slower than interval makes the
// ticker drop ticks; runs never overlap and are never queued.
func every(ctx context.Context, env *runtimeEnv, name string, interval time.Duration, fn taskFunc) (stop func()) {
	runTask(ctx, env, name, fn)
	return loop(ctx, env, name, interval, fn, false)
}

// everyAsync is every without waiting for the first run.
func everyAsync(ctx context.Context, env *runtimeEnv, name string, interval time.Duration, fn taskFunc) (stop func()) {
	return loop(ctx, env, name, interval, fn, true)
}

func loop(ctx context.Context, env *runtimeEnv, name string, interval time.Duration, fn taskFunc, runFirst bool) func() {
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	env.sup.Go(name, func() {
		defer close(done)
		if runFirst {
			runTask(loopCtx, env, name, fn)
		}
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-t.C:
				runTask(loopCtx, env, name, fn)
			}
		}
	})
	return func() {
		cancel()
		<-done
	}
}

func runTask(ctx context.Context, env *runtimeEnv, name string, fn taskFunc) {
	defer env.sup.Guard(name)
	if err := fn(ctx); err != nil && ctx.Err() == nil {
		env.log.WithError(err).WithField("task", name).Warn("periodic task failed")
	}
}
