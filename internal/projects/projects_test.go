package projects

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"cocalc-hub/internal/config"
	"cocalc-hub/internal/logging"
	"cocalc-hub/internal/storage"
)

func newTestDB(t *testing.T) *storage.DB {
	t.Helper()
	p := filepath.Join(t.TempDir(), "smc.db")
	conn, err := storage.OpenDB(p)
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	db := storage.Wrap(conn, p, 0, logging.Discard())
	t.Cleanup(func() { _ = db.Close() })
	if err := storage.Migrate(context.Background(), db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func addProject(t *testing.T, db *storage.DB, p storage.NewProject, state storage.ProjectState) {
	t.Helper()
	ctx := context.Background()
	if err := storage.CreateProject(ctx, db, p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if err := storage.SetProjectState(ctx, db, p.ID, state); err != nil {
		t.Fatalf("SetProjectState: %v", err)
	}
}

func TestNewControl_RejectsUnknownMode(t *testing.T) {
	db := newTestDB(t)
	if _, err := NewControl("cluster", db, logging.Discard()); !errors.Is(err, config.ErrInvalidMode) {
		t.Fatalf("err = %v, want ErrInvalidMode", err)
	}
	if _, err := NewControl(config.ModeMultiUser, nil, logging.Discard()); err == nil {
		t.Fatalf("expected error for nil database")
	}
}

func TestControl_StartStop(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	addProject(t, db, storage.NewProject{ID: "p"}, storage.ProjectOpened)

	c, err := NewControl(config.ModeSingleUser, db, logging.Discard())
	if err != nil {
		t.Fatalf("NewControl: %v", err)
	}
	if err := c.Start(ctx, "p"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st, _ := c.State(ctx, "p"); st != storage.ProjectStarting {
		t.Fatalf("state = %q, want starting", st)
	}
	if err := storage.SetProjectState(ctx, db, "p", storage.ProjectRunning); err != nil {
		t.Fatalf("SetProjectState: %v", err)
	}
	if err := c.Stop(ctx, "p"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if st, _ := c.State(ctx, "p"); st != storage.ProjectStopping {
		t.Fatalf("state = %q, want stopping", st)
	}
	if err := c.Start(ctx, "missing"); !errors.Is(err, storage.ErrProjectNotFound) {
		t.Fatalf("err = %v, want ErrProjectNotFound", err)
	}
}

func TestIdleMonitor_Sweep(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	addProject(t, db, storage.NewProject{ID: "idle", LastEdited: now.Add(-time.Hour)}, storage.ProjectRunning)
	addProject(t, db, storage.NewProject{ID: "busy", LastEdited: now.Add(-time.Minute)}, storage.ProjectRunning)
	addProject(t, db, storage.NewProject{ID: "pinned", LastEdited: now.Add(-time.Hour), AlwaysRunning: true}, storage.ProjectRunning)

	c, err := NewControl(config.ModeMultiUser, db, logging.Discard())
	if err != nil {
		t.Fatalf("NewControl: %v", err)
	}
	m := IdleMonitor{DB: db, Control: c, Log: logging.Discard()}

	n, err := m.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("stopped = %d, want 1", n)
	}
	for id, want := range map[string]storage.ProjectState{
		"idle":   storage.ProjectStopping,
		"busy":   storage.ProjectRunning,
		"pinned": storage.ProjectRunning,
	} {
		if got, _ := c.State(ctx, id); got != want {
			t.Fatalf("%s state = %q, want %q", id, got, want)
		}
	}
}

func TestAlwaysRunning_Sweep(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	addProject(t, db, storage.NewProject{ID: "a", AlwaysRunning: true}, storage.ProjectOpened)
	addProject(t, db, storage.NewProject{ID: "b"}, storage.ProjectOpened)

	c, err := NewControl(config.ModeMultiUser, db, logging.Discard())
	if err != nil {
		t.Fatalf("NewControl: %v", err)
	}
	n, err := AlwaysRunning{DB: db, Control: c}.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("started = %d, want 1", n)
	}
	if st, _ := c.State(ctx, "b"); st != storage.ProjectOpened {
		t.Fatalf("b state = %q, want opened", st)
	}
}

func TestResetForDevelopment(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	addProject(t, db, storage.NewProject{ID: "a"}, storage.ProjectRunning)

	if err := ResetForDevelopment(ctx, db, logging.Discard()); err != nil {
		t.Fatalf("ResetForDevelopment: %v", err)
	}
	p, err := storage.GetProject(ctx, db, "a")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if p.State != storage.ProjectOpened {
		t.Fatalf("state = %q, want opened", p.State)
	}
}
