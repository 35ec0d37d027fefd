package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"cocalc-hub/internal/metrics"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEvery_FirstRunIsSynchronous(t *testing.T) {
	defer goleak.VerifyNone(t)
	env, _ := newTestEnv(t)

	var runs atomic.Int32
	stop := every(context.Background(), env, "count", time.Hour, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs after every = %d, want 1", got)
	}
	stop()
	env.sup.Wait()
}

func TestEveryAsync_RunsInBackground(t *testing.T) {
	defer goleak.VerifyNone(t)
	env, _ := newTestEnv(t)

	release := make(chan struct{})
	var runs atomic.Int32
	stop := everyAsync(context.Background(), env, "slow", time.Hour, func(ctx context.Context) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		runs.Add(1)
		return nil
	})
	if got := runs.Load(); got != 0 {
		t.Fatalf("everyAsync waited for the first run")
	}
	close(release)
	waitFor(t, "first run", func() bool { return runs.Load() == 1 })
	stop()
	env.sup.Wait()
}

func TestEvery_ErrorsDoNotStopTheLoop(t *testing.T) {
	defer goleak.VerifyNone(t)
	env, _ := newTestEnv(t)

	var runs atomic.Int32
	stop := every(context.Background(), env, "failing", 5*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return errors.New("db down")
	})
	waitFor(t, "three runs", func() bool { return runs.Load() >= 3 })
	stop()
	env.sup.Wait()
}

func TestEvery_PanicIsCountedAndLoopContinues(t *testing.T) {
	defer goleak.VerifyNone(t)
	env, fatal := newTestEnv(t)
	env.sup.MarkServing()

	var runs atomic.Int32
	stop := every(context.Background(), env, "panicky", 5*time.Millisecond, func(context.Context) error {
		if runs.Add(1) == 1 {
			panic("first run")
		}
		return nil
	})
	waitFor(t, "runs after panic", func() bool { return runs.Load() >= 3 })
	stop()
	env.sup.Wait()

	if got := env.metrics.Counter(metrics.UncaughtExceptionTotal, "").Value(); got != 1 {
		t.Fatalf("uncaught = %d, want 1", got)
	}
	select {
	case err := <-fatal:
		t.Fatalf("unexpected fatal error: %v", err)
	default:
	}
}

func TestEvery_StopsWhenContextIsDone(t *testing.T) {
	defer goleak.VerifyNone(t)
	env, _ := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	stop := every(ctx, env, "noop", time.Millisecond, func(context.Context) error { return nil })
	cancel()
	env.sup.Wait()
	stop()
}
