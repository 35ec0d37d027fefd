package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"cocalc-hub/internal/retry"
)

const concurrentWarnEvery = 10 * time.Second

// DB is the process-wide database handle. It is created once by Connect
// and shared by reference; nothing else reconnects it.
type DB struct {
	*sql.DB

	path           string
	concurrentWarn int64
	inflight       atomic.Int64
	lastWarn       atomic.Int64
	log            logrus.FieldLogger
}

type ConnectOptions struct {
	Path           string
	ConcurrentWarn int
	Logger         logrus.FieldLogger
	Retry          retry.Options

	// Open defaults to OpenDB.
	Open func(path string) (*sql.DB, error)
}

func OpenDB(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		return nil, errors.New("database path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	db, err := sql.Open("sqlite", "file:"+dbPath+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Connect opens the database and waits until it answers a ping, retrying
// with backoff for as long as ctx allows.
func Connect(ctx context.Context, opts ConnectOptions) (*DB, error) {
	open := opts.Open
	if open == nil {
		open = OpenDB
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	r := opts.Retry
	r.Name = "database connect"
	r.Logger = log

	var conn *sql.DB
	err := retry.UntilSuccess(ctx, func(ctx context.Context) error {
		db, err := open(opts.Path)
		if err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return fmt.Errorf("ping %s: %w", opts.Path, err)
		}
		conn = db
		return nil
	}, r)
	if err != nil {
		return nil, err
	}

	return Wrap(conn, opts.Path, opts.ConcurrentWarn, log), nil
}

func Wrap(conn *sql.DB, path string, concurrentWarn int, log logrus.FieldLogger) *DB {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &DB{DB: conn, path: path, concurrentWarn: int64(concurrentWarn), log: log}
}

func (db *DB) Path() string { return db.path }

func (db *DB) Concurrent() int64 { return db.inflight.Load() }

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	defer db.track()()
	return db.DB.ExecContext(ctx, query, args...)
}

// Rows counts as an in-flight query until Close.
type Rows struct {
	*sql.Rows
	release func()
	closed  atomic.Bool
}

func (r *Rows) Close() error {
	err := r.Rows.Close()
	if r.closed.CompareAndSwap(false, true) {
		r.release()
	}
	return err
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*Rows, error) {
	release := db.track()
	rows, err := db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		release()
		return nil, err
	}
	return &Rows{Rows: rows, release: release}, nil
}

// QueryRowContext counts the query only until it returns; callers Scan
// immediately.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	defer db.track()()
	return db.DB.QueryRowContext(ctx, query, args...)
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	defer db.track()()
	return db.DB.BeginTx(ctx, opts)
}

func (db *DB) track() func() {
	n := db.inflight.Add(1)
	if db.concurrentWarn > 0 && n > db.concurrentWarn {
		now := time.Now().UnixNano()
		last := db.lastWarn.Load()
		if now-last >= int64(concurrentWarnEvery) && db.lastWarn.CompareAndSwap(last, now) {
			db.log.WithFields(logrus.Fields{
				"concurrent": n,
				"threshold":  db.concurrentWarn,
			}).Warn("database: too many concurrent queries")
		}
	}
	return func() { db.inflight.Add(-1) }
}

// RecordUncaughtException stores a recovered runtime failure in central_log.
func (db *DB) RecordUncaughtException(ctx context.Context, value any, stack string) error {
	if db == nil || db.DB == nil {
		return nil
	}
	payload := fmt.Sprintf(`{"error":%q,"stack":%q}`, fmt.Sprint(value), stack)
	_, err := db.ExecContext(ctx,
		"INSERT INTO central_log (event, value, time) VALUES (?, ?, ?)",
		"uncaught_exception", payload, nowMillis())
	return err
}

func nowMillis() int64 { return time.Now().UnixMilli() }
