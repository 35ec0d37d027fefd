package projects

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"cocalc-hub/internal/storage"
)

const (
	DefaultIdleTimeout    = 1800 * time.Second
	IdleSweepInterval     = 60 * time.Second
	AlwaysRunningInterval = 30 * time.Second
)

// IdleMonitor stops running projects nobody has touched for longer than
// their idle timeout.
type IdleMonitor struct {
	DB             *storage.DB
	Control        Control
	DefaultTimeout time.Duration
	Log            logrus.FieldLogger
}

// Sweep stops every project idle at now and returns how many were stopped.
// A failure to stop one project is logged and does not end the sweep.
func (m IdleMonitor) Sweep(ctx context.Context, now time.Time) (int, error) {
	timeout := m.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	idle, err := storage.IdleProjects(ctx, m.DB, now, timeout)
	if err != nil {
		return 0, err
	}
	stopped := 0
	for _, p := range idle {
		if err := m.Control.Stop(ctx, p.ID); err != nil {
			m.log().WithError(err).WithField("project_id", p.ID).Warn("idle timeout: stop failed")
			continue
		}
		stopped++
	}
	if stopped > 0 {
		m.log().WithField("stopped", stopped).Info("idle timeout: stopped projects")
	}
	return stopped, nil
}

func (m IdleMonitor) log() logrus.FieldLogger {
	if m.Log == nil {
		return logrus.StandardLogger()
	}
	return m.Log
}

// AlwaysRunning starts projects flagged always_running that are not up.
type AlwaysRunning struct {
	DB      *storage.DB
	Control Control
	Log     logrus.FieldLogger
}

func (a AlwaysRunning) Sweep(ctx context.Context) (int, error) {
	list, err := storage.AlwaysRunningStopped(ctx, a.DB)
	if err != nil {
		return 0, err
	}
	started := 0
	for _, p := range list {
		if err := a.Control.Start(ctx, p.ID); err != nil {
			if a.Log != nil {
				a.Log.WithError(err).WithField("project_id", p.ID).Warn("always running: start failed")
			}
			continue
		}
		started++
	}
	return started, nil
}

// ResetForDevelopment marks every project as opened. It is used when a
// single-user hub is restarted by the developer account, whose project
// processes did not survive the restart.
func ResetForDevelopment(ctx context.Context, db *storage.DB, log logrus.FieldLogger) error {
	n, err := storage.ResetAllProjectStates(ctx, db)
	if err != nil {
		return err
	}
	if log != nil {
		log.WithField("projects", n).Info("reset all project states to opened")
	}
	return nil
}
