package maintenance

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"cocalc-hub/internal/config"
	"cocalc-hub/internal/storage"
)

// Runner performs the one-shot actions selected on the command line.
// Every action logs its own failure; Run returns the error only so the
// caller can report it, and the process exits 0 either way.
type Runner struct {
	DB   *storage.DB
	Opts config.Options
	Log  logrus.FieldLogger

	HTTPClient *http.Client
	now        func() time.Time
}

func (r Runner) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

func (r Runner) Run(ctx context.Context, action config.Action) error {
	log := r.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("action", string(action))

	var err error
	switch action {
	case config.ActionPasswd:
		err = r.passwd(ctx, log)
	case config.ActionStripeSync:
		err = r.stripeSync(ctx, log)
	case config.ActionDeleteExpired:
		err = r.deleteExpired(ctx, log)
	case config.ActionBlobMaintenance:
		err = r.blobMaintenance(ctx, log)
	case config.ActionUpdateStats:
		err = r.updateStats(ctx, log)
	default:
		err = fmt.Errorf("maintenance: unknown action %q", action)
	}
	if err != nil {
		log.WithError(err).Error("maintenance action failed")
		return err
	}
	log.Info("maintenance action done")
	return nil
}

func (r Runner) passwd(ctx context.Context, log logrus.FieldLogger) error {
	password, err := storage.ResetPassword(ctx, r.DB, r.Opts.Passwd)
	if err != nil {
		return fmt.Errorf("reset password for %s: %w", r.Opts.Passwd, err)
	}
	log.WithField("email", r.Opts.Passwd).Info("password reset; new password: " + password)
	return nil
}

func (r Runner) deleteExpired(ctx context.Context, log logrus.FieldLogger) error {
	c, err := storage.DeleteExpired(ctx, r.DB, r.clock())
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"blobs":    c.Blobs,
		"hubs":     c.Hubs,
		"sessions": c.Sessions,
	}).Info("deleted expired rows")
	if err := storage.Optimize(ctx, r.DB); err != nil {
		log.WithError(err).Warn("PRAGMA optimize failed")
	}
	return nil
}

func (r Runner) updateStats(ctx context.Context, log logrus.FieldLogger) error {
	st, err := storage.UpdateStats(ctx, r.DB, r.clock())
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"accounts":         st.Accounts,
		"projects":         st.Projects,
		"running_projects": st.RunningProjects,
		"hubs":             st.Hubs,
	}).Info("stats updated")
	return nil
}

func (r Runner) blobMaintenance(ctx context.Context, log logrus.FieldLogger) error {
	dir := filepath.Join(r.Opts.DatabaseNodes, "blobs")
	res, err := ArchiveBlobs(ctx, r.DB, dir, r.clock().Add(-BlobArchiveAge), log)
	if err != nil {
		return err
	}
	if res.Count == 0 {
		log.Info("no blobs to archive")
	}
	return nil
}
