package app

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"cocalc-hub/internal/logging"
	"cocalc-hub/internal/storage"
)

const vacuumStartupDelay = 30 * time.Second

// dbMaintenanceModule vacuums the database file when enough of it is free
// pages.
type dbMaintenanceModule struct{}

func (dbMaintenanceModule) Name() string { return "db_maintenance" }

func (dbMaintenanceModule) Start(ctx context.Context, env *runtimeEnv, _ chan<- error) (*runningModule, error) {
	o := env.opts
	if env.db == nil || o.VacuumInterval <= 0 {
		return &runningModule{name: "db_maintenance", started: false}, nil
	}
	log := logging.Component(env.log, "db_maintenance")

	maybeVacuum := func() {
		ctx2, cancel := context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()

		st, err := storage.ReadSQLiteStats(ctx2, env.db)
		if err != nil {
			log.WithError(err).Warn("read sqlite stats failed")
			return
		}
		freeBytes := st.FreeBytes()
		totalBytes := st.TotalBytes()
		if totalBytes <= 0 {
			return
		}
		freeRatio := float64(freeBytes) / float64(totalBytes)

		if o.VacuumMinFreeBytes > 0 && freeBytes < o.VacuumMinFreeBytes {
			return
		}
		if o.VacuumMinFreeRatio > 0 && freeRatio < o.VacuumMinFreeRatio {
			return
		}

		log.Infof("running VACUUM (free %.1f%%, free=%s, total=%s)",
			freeRatio*100,
			humanize.IBytes(uint64(freeBytes)),
			humanize.IBytes(uint64(totalBytes)),
		)
		// SQLITE_BUSY is expected while other connections are active; the next tick retries.
		if err := storage.Vacuum(ctx2, env.db); err != nil {
			log.WithError(err).Warn("VACUUM failed")
			return
		}
		_ = storage.Optimize(ctx2, env.db)
	}

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	env.sup.Go("db maintenance", func() {
		defer close(doneCh)

		startupTimer := time.NewTimer(vacuumStartupDelay)
		defer startupTimer.Stop()
		ticker := time.NewTicker(o.VacuumInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-startupTimer.C:
				maybeVacuum()
			case <-ticker.C:
				maybeVacuum()
			}
		}
	})

	return &runningModule{
		name:    "db_maintenance",
		started: true,
		shutdown: func(context.Context) error {
			close(stopCh)
			<-doneCh
			return nil
		},
	}, nil
}
