package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"cocalc-hub/internal/config"
	"cocalc-hub/internal/logging"
	"cocalc-hub/internal/maintenance"
	"cocalc-hub/internal/metrics"
	"cocalc-hub/internal/retry"
	"cocalc-hub/internal/storage"
	"cocalc-hub/internal/web"
)

const shutdownTimeout = 10 * time.Second

// Hub is one hub process: it connects to the database, optionally
// migrates it, runs a maintenance action or starts every subsystem the
// options ask for, and serves until ctx is done or a fatal error occurs.
type Hub struct {
	opts    config.Options
	log     logrus.FieldLogger
	state   *stateMachine
	metrics *metrics.Registry

	// test hooks
	openDB       func(path string) (*sql.DB, error)
	connectRetry retry.Options

	mu   sync.Mutex
	addr net.Addr
}

func New(opts config.Options, log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		opts:         opts,
		log:          log,
		state:        newStateMachine(),
		metrics:      metrics.NewRegistry(),
		connectRetry: retry.Options{StartDelay: time.Second, MaxDelay: 10 * time.Second, Factor: 1.4},
	}
}

// Run is New(opts, log).Run(ctx).
func Run(ctx context.Context, opts config.Options, log logrus.FieldLogger) error {
	return New(opts, log).Run(ctx)
}

func (h *Hub) State() State { return h.state.State() }

func (h *Hub) Metrics() *metrics.Registry { return h.metrics }

// Addr is the address the web server bound, or nil.
func (h *Hub) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addr
}

func (h *Hub) Run(ctx context.Context) (err error) {
	defer func() {
		if v := recover(); v != nil {
			h.log.WithField("stack", string(debug.Stack())).Errorf("panic during startup: %v", v)
			err = fmt.Errorf("app: panic during startup: %v", v)
		}
		if err != nil && h.state.State() != StateServing {
			_ = h.state.advance(StateCrashed)
		}
	}()

	o := h.opts
	log := logging.Component(h.log, "hub")
	action := o.MaintenanceAction()
	log.WithFields(logrus.Fields{
		"mode":     o.Mode,
		"host":     o.Hostname,
		"port":     o.Port,
		"database": o.DatabasePath(),
		"action":   string(action),
	}).Info("hub starting")

	fatalErrCh := make(chan error, 1)
	sup := NewSupervisor(log, h.metrics, fatalErrCh)
	env := &runtimeEnv{opts: o, log: h.log, metrics: h.metrics, sup: sup}

	var started []*runningModule
	stopAll := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for i := len(started) - 1; i >= 0; i-- {
			started[i].Stop(shutdownCtx)
		}
		started = nil
		sup.Wait()
		if env.db != nil {
			_ = env.db.Close()
			env.db = nil
		}
	}
	defer stopAll()

	if action == config.ActionNone {
		cookies, err := web.NewCookiePolicy(o)
		if err != nil {
			return err
		}
		env.cookies = cookies

		rm, err := metricsModule{}.Start(ctx, env, fatalErrCh)
		if err != nil {
			return err
		}
		started = append(started, rm)
	}

	if err := h.state.advance(StateConnectingDB); err != nil {
		return err
	}
	log.Info("connecting to the database")
	db, err := storage.Connect(ctx, storage.ConnectOptions{
		Path:           o.DatabasePath(),
		ConcurrentWarn: o.DBConcurrentWarn,
		Logger:         logging.Component(h.log, "database"),
		Retry:          h.connectRetry,
		Open:           h.openDB,
	})
	if err != nil {
		return err
	}
	env.db = db
	sup.SetDB(db)
	log.Info("connected to the database")

	if o.UpdateDatabaseSchema {
		if err := h.state.advance(StateMigratingSchema); err != nil {
			return err
		}
		log.Info("updating the database schema")
		if err := storage.Migrate(ctx, db); err != nil {
			return err
		}
		if o.Mode == config.ModeKucalc {
			names, err := storage.LoadServerSettingsFromEnv(ctx, db, os.Environ(), o.SettingsPrefix)
			if err != nil {
				return err
			}
			log.WithField("settings", names).Info("loaded server settings from the environment")
		}
	}

	if action != config.ActionNone {
		r := maintenance.Runner{DB: db, Opts: o, Log: logging.Component(h.log, "maintenance")}
		if err := r.Run(ctx, action); err != nil {
			log.WithError(err).Warnf("%s failed", action)
		}
		return nil
	}

	if err := h.state.advance(StateInitializing); err != nil {
		return err
	}

	modules := []module{
		agentModule{},
		mentionsModule{},
		projectsModule{},
		devResetModule{},
		statsModule{},
		alwaysRunningModule{},
		webModule{},
		hubRegisterModule{},
		dbMaintenanceModule{},
	}
	for _, m := range modules {
		rm, err := m.Start(ctx, env, fatalErrCh)
		if err != nil {
			return fmt.Errorf("%s: %w", m.Name(), err)
		}
		started = append(started, rm)
		select {
		case err := <-fatalErrCh:
			return err
		default:
		}
	}

	h.mu.Lock()
	h.addr = env.webAddr
	h.mu.Unlock()

	if err := h.state.advance(StateServing); err != nil {
		return err
	}
	sup.MarkServing()
	log.WithField("url", serviceURL(o, env)).Info("started hub")

	if o.Test {
		log.Info("test mode: shutting down")
		return nil
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return nil
	case err := <-fatalErrCh:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		log.WithError(err).Error("fatal error")
		return err
	}
}

func serviceURL(o config.Options, env *runtimeEnv) string {
	scheme := "http"
	if o.TLS() {
		scheme = "https"
	}
	if env.webAddr == nil {
		return ""
	}
	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(o.Hostname, strconv.Itoa(env.webPort())), o.BasePath)
}
