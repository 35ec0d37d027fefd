package retry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

type Options struct {
	StartDelay time.Duration
	MaxDelay   time.Duration
	Factor     float64

	// Name shows up in log lines.
	Name   string
	Logger logrus.FieldLogger

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func (o Options) withDefaults() Options {
	if o.StartDelay <= 0 {
		o.StartDelay = time.Second
	}
	if o.MaxDelay < o.StartDelay {
		o.MaxDelay = o.StartDelay
	}
	if o.Factor < 1 {
		o.Factor = 1.4
	}
	if o.Name == "" {
		o.Name = "retry"
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.sleep == nil {
		o.sleep = sleepContext
	}
	return o
}

// UntilSuccess calls fn until it returns nil. There is no attempt limit;
// only ctx cancellation stops it. Delays start at StartDelay, grow by
// Factor and never exceed MaxDelay.
func UntilSuccess(ctx context.Context, fn func(ctx context.Context) error, opts Options) error {
	opts = opts.withDefaults()

	delay := opts.StartDelay
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				opts.Logger.WithField("attempts", attempt).Infof("%s: succeeded", opts.Name)
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		opts.Logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warnf("%s: failed: %v", opts.Name, err)

		if err := opts.sleep(ctx, delay); err != nil {
			return err
		}
		delay = nextDelay(delay, opts)
	}
}

func nextDelay(cur time.Duration, opts Options) time.Duration {
	next := time.Duration(float64(cur) * opts.Factor)
	if next < cur {
		next = cur
	}
	if next > opts.MaxDelay {
		next = opts.MaxDelay
	}
	return next
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
