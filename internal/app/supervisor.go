package app

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"cocalc-hub/internal/metrics"
	"cocalc-hub/internal/storage"
)

// Supervisor owns every background goroutine of the hub. Until the hub is
// serving, a panic is reported on the fatal channel and startup fails.
// Afterwards it is logged, counted in uncaught_exception_total, recorded
// in central_log, and the process keeps running.
type Supervisor struct {
	log      logrus.FieldLogger
	uncaught *metrics.Counter
	fatal    chan<- error

	db      atomic.Pointer[storage.DB]
	serving atomic.Bool
	wg      sync.WaitGroup
}

func NewSupervisor(log logrus.FieldLogger, reg *metrics.Registry, fatal chan<- error) *Supervisor {
	return &Supervisor{
		log:      log,
		uncaught: reg.Counter(metrics.UncaughtExceptionTotal, ""),
		fatal:    fatal,
	}
}

func (s *Supervisor) SetDB(db *storage.DB) { s.db.Store(db) }

func (s *Supervisor) MarkServing() { s.serving.Store(true) }

func (s *Supervisor) Serving() bool { return s.serving.Load() }

// Go runs fn in a new goroutine. A panic ends fn but not the process.
func (s *Supervisor) Go(name string, fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.Guard(name)
		fn()
	}()
}

// Guard must be deferred directly; it recovers a panic and handles it.
func (s *Supervisor) Guard(name string) {
	if v := recover(); v != nil {
		s.Handle(name, v, debug.Stack())
	}
}

func (s *Supervisor) Handle(name string, v any, stack []byte) {
	if !s.Serving() {
		err := fmt.Errorf("%s: panic during startup: %v", name, v)
		s.log.WithField("stack", string(stack)).Error(err.Error())
		select {
		case s.fatal <- err:
		default:
		}
		return
	}

	s.log.WithFields(logrus.Fields{
		"task":  name,
		"panic": fmt.Sprint(v),
		"stack": string(stack),
	}).Error("BUG: uncaught exception")
	s.uncaught.Inc()

	if db := s.db.Load(); db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.RecordUncaughtException(ctx, v, string(stack)); err != nil {
			s.log.WithError(err).Warn("could not record uncaught exception")
		}
	}
}

// Wait blocks until every goroutine started with Go has returned.
func (s *Supervisor) Wait() { s.wg.Wait() }
