package metrics

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// BlockedWatcher measures how late its own timer fires. Lag above
// Threshold means goroutines could not be scheduled for that long; it is
// added to Counter in milliseconds.
type BlockedWatcher struct {
	Interval  time.Duration
	Threshold time.Duration
	Counter   *Counter
	Log       logrus.FieldLogger
}

func (w BlockedWatcher) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	t := time.NewTimer(interval)
	defer t.Stop()
	expected := time.Now().Add(interval)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			w.observe(now.Sub(expected))
			expected = time.Now().Add(interval)
			t.Reset(interval)
		}
	}
}

func (w BlockedWatcher) observe(lag time.Duration) {
	threshold := w.Threshold
	if threshold <= 0 {
		threshold = 10 * time.Millisecond
	}
	if lag <= threshold {
		return
	}
	ms := lag.Milliseconds()
	w.Counter.Add(ms)
	if w.Log != nil {
		w.Log.WithField("blocked_ms", ms).Debug("scheduler blocked")
	}
}
