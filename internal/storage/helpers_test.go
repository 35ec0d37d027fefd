package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"cocalc-hub/internal/logging"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "smc.db")

	conn, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	db := Wrap(conn, dbPath, 0, logging.Discard())
	t.Cleanup(func() { _ = db.Close() })

	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func setBlobCreated(t *testing.T, db *DB, id string, created time.Time) {
	t.Helper()
	if _, err := db.ExecContext(context.Background(), "UPDATE blobs SET created = ? WHERE id = ?", created.UnixMilli(), id); err != nil {
		t.Fatalf("set blob created: %v", err)
	}
}
