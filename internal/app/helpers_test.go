package app

import (
	"context"
	"path/filepath"
	"testing"

	"cocalc-hub/internal/config"
	"cocalc-hub/internal/logging"
	"cocalc-hub/internal/metrics"
	"cocalc-hub/internal/storage"
)

func newTestDB(t *testing.T) *storage.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "smc.db")

	conn, err := storage.OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	db := storage.Wrap(conn, dbPath, 0, logging.Discard())
	t.Cleanup(func() { _ = db.Close() })

	if err := storage.Migrate(context.Background(), db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func newTestEnv(t *testing.T) (*runtimeEnv, chan error) {
	t.Helper()
	fatal := make(chan error, 1)
	reg := metrics.NewRegistry()
	env := &runtimeEnv{
		log:     logging.Discard(),
		metrics: reg,
		sup:     NewSupervisor(logging.Discard(), reg, fatal),
	}
	t.Cleanup(env.sup.Wait)
	return env, fatal
}

// serveOptions runs every server on an ephemeral port behind a TLS proxy.
func serveOptions(t *testing.T) config.Options {
	t.Helper()
	return config.Options{
		Mode:                 config.ModeSingleUser,
		WebsocketServer:      true,
		Mentions:             true,
		UpdateDatabaseSchema: true,
		BehindTLSProxy:       true,
		Hostname:             "127.0.0.1",
		Port:                 0,
		BasePath:             "/",
		DatabaseNodes:        t.TempDir(),
		Keyspace:             "smc",
		SettingsPrefix:       "COCALC_SETTING_",
		Test:                 true,
	}
}
