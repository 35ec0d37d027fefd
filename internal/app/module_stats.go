package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"cocalc-hub/internal/config"
	"cocalc-hub/internal/logging"
	"cocalc-hub/internal/storage"
)

const (
	statsInterval        = 60 * time.Second
	licenseUsageInterval = 31 * time.Second
	mentionsInterval     = 15 * time.Second
	mentionsBatch        = 100
)

// statsModule keeps the stats table and the site license usage log
// current. In kucalc an external service does both.
type statsModule struct{}

func (statsModule) Name() string { return "stats" }

func (statsModule) Start(ctx context.Context, env *runtimeEnv, _ chan<- error) (*runningModule, error) {
	if !env.opts.WebsocketServer || env.opts.Mode == config.ModeKucalc {
		return &runningModule{name: "stats"}, nil
	}
	log := logging.Component(env.log, "stats")

	stopStats := every(ctx, env, "update stats", statsInterval, func(ctx context.Context) error {
		st, err := storage.UpdateStats(ctx, env.db, time.Now())
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"accounts": st.Accounts, "running_projects": st.RunningProjects}).Debug("stats updated")
		return nil
	})
	stopLicense := every(ctx, env, "license usage log", licenseUsageInterval, func(ctx context.Context) error {
		opened, closed, err := storage.UpdateSiteLicenseUsageLog(ctx, env.db, time.Now())
		if err != nil {
			return err
		}
		if opened > 0 || closed > 0 {
			log.WithFields(logrus.Fields{"opened": opened, "closed": closed}).Debug("license usage log updated")
		}
		return nil
	})

	return &runningModule{
		name:    "stats",
		started: true,
		shutdown: func(context.Context) error {
			stopStats()
			stopLicense()
			return nil
		},
	}, nil
}

type mentionsModule struct{}

func (mentionsModule) Name() string { return "mentions" }

func (mentionsModule) Start(ctx context.Context, env *runtimeEnv, _ chan<- error) (*runningModule, error) {
	if !env.opts.Mentions {
		return &runningModule{name: "mentions"}, nil
	}
	log := logging.Component(env.log, "mentions")
	log.Info("enabling handling of mentions")

	stop := every(ctx, env, "mentions", mentionsInterval, func(ctx context.Context) error {
		_, err := handleMentions(ctx, env.db, log)
		return err
	})
	return &runningModule{
		name:    "mentions",
		started: true,
		shutdown: func(context.Context) error {
			stop()
			return nil
		},
	}, nil
}

func handleMentions(ctx context.Context, db *storage.DB, log logrus.FieldLogger) (int, error) {
	pending, err := storage.PendingMentions(ctx, db, mentionsBatch)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	for i, m := range pending {
		log.WithFields(logrus.Fields{
			"project_id": m.ProjectID,
			"path":       m.Path,
			"source":     m.Source,
			"target":     m.Target,
		}).Info("mention")
		if err := storage.MarkMentionNotified(ctx, db, m.ID, now); err != nil {
			return i, err
		}
	}
	return len(pending), nil
}
