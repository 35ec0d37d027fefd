package storage

import (
	"context"
	"fmt"
)

const SchemaVersion = 2

var migrations = []string{
	// 1: accounts, sessions, projects, hub registration, settings, central log
	`
CREATE TABLE IF NOT EXISTS accounts (
  account_id TEXT PRIMARY KEY,
  email_address TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL DEFAULT '',
  stripe_customer_id TEXT,
  stripe_customer TEXT,
  created INTEGER NOT NULL,
  updated INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
  token_hash TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  created INTEGER NOT NULL,
  expire INTEGER NOT NULL,
  FOREIGN KEY(account_id) REFERENCES accounts(account_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_sessions_account_id ON sessions(account_id);
CREATE INDEX IF NOT EXISTS idx_sessions_expire ON sessions(expire);

CREATE TABLE IF NOT EXISTS projects (
  project_id TEXT PRIMARY KEY,
  title TEXT NOT NULL DEFAULT '',
  state TEXT NOT NULL DEFAULT 'opened',
  state_time INTEGER NOT NULL DEFAULT 0,
  last_edited INTEGER NOT NULL DEFAULT 0,
  idle_timeout_s INTEGER NOT NULL DEFAULT 0,
  always_running INTEGER NOT NULL DEFAULT 0,
  site_license_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_projects_state ON projects(state);

CREATE TABLE IF NOT EXISTS hubs (
  host TEXT NOT NULL,
  port INTEGER NOT NULL,
  clients INTEGER NOT NULL DEFAULT 0,
  expire INTEGER NOT NULL,
  PRIMARY KEY (host, port)
);

CREATE TABLE IF NOT EXISTS server_settings (
  name TEXT PRIMARY KEY,
  value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS central_log (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  event TEXT NOT NULL,
  value TEXT NOT NULL,
  time INTEGER NOT NULL
);
`,
	// 2: periodic maintenance tables
	`
CREATE TABLE IF NOT EXISTS stats (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  time INTEGER NOT NULL,
  payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stats_time ON stats(time);

CREATE TABLE IF NOT EXISTS site_license_usage_log (
  license_id TEXT NOT NULL,
  project_id TEXT NOT NULL,
  start INTEGER NOT NULL,
  stop INTEGER,
  PRIMARY KEY (license_id, project_id, start)
);
CREATE INDEX IF NOT EXISTS idx_license_usage_open ON site_license_usage_log(stop);

CREATE TABLE IF NOT EXISTS blobs (
  id TEXT PRIMARY KEY,
  blob BLOB,
  size INTEGER NOT NULL DEFAULT 0,
  created INTEGER NOT NULL,
  expire INTEGER,
  archived_path TEXT
);
CREATE INDEX IF NOT EXISTS idx_blobs_expire ON blobs(expire);

CREATE TABLE IF NOT EXISTS mentions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  project_id TEXT NOT NULL,
  path TEXT NOT NULL,
  source TEXT NOT NULL,
  target TEXT NOT NULL,
  time INTEGER NOT NULL,
  notified INTEGER
);
CREATE INDEX IF NOT EXISTS idx_mentions_notified ON mentions(notified);
`,
}

// Migrate brings the schema up to SchemaVersion, one step at a time.
func Migrate(ctx context.Context, db *DB) error {
	current, err := CurrentSchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	for v := current; v < len(migrations); v++ {
		if _, err := db.ExecContext(ctx, migrations[v]); err != nil {
			return fmt.Errorf("migrate to %d: %w", v+1, err)
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d;", v+1)); err != nil {
			return err
		}
	}
	return nil
}

func CurrentSchemaVersion(ctx context.Context, db *DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}
