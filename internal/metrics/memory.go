package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// LogUsage logs heap usage, the counters of reg and its HTTP traffic once,
// then every interval until ctx is done.
func LogUsage(ctx context.Context, interval time.Duration, reg *Registry, log logrus.FieldLogger) {
	logUsageOnce(reg, log)
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			logUsageOnce(reg, log)
		}
	}
}

func logUsageOnce(reg *Registry, log logrus.FieldLogger) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	fields := logrus.Fields{
		"heap_alloc": humanize.Bytes(ms.HeapAlloc),
		"heap_sys":   humanize.Bytes(ms.HeapSys),
		"goroutines": runtime.NumGoroutine(),
	}
	for name, v := range reg.Counters() {
		fields[name] = v
	}
	for key, s := range reg.Snapshot() {
		fields[key+"_requests"] = s.Requests
		fields[key+"_bytes_in"] = humanize.Bytes(uint64(s.BytesIn))
		fields[key+"_bytes_out"] = humanize.Bytes(uint64(s.BytesOut))
	}
	log.WithFields(fields).Info("usage")
}
