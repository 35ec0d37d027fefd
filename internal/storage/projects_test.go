package storage

import (
	"context"
	"testing"
	"time"
)

func mustCreateProject(t *testing.T, db *DB, p NewProject, state ProjectState) {
	t.Helper()
	ctx := context.Background()
	if err := CreateProject(ctx, db, p); err != nil {
		t.Fatalf("CreateProject %s: %v", p.ID, err)
	}
	if state != ProjectOpened {
		if err := SetProjectState(ctx, db, p.ID, state); err != nil {
			t.Fatalf("SetProjectState %s: %v", p.ID, err)
		}
	}
}

func TestIdleProjects(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	mustCreateProject(t, db, NewProject{ID: "idle-default", LastEdited: now.Add(-2 * time.Hour)}, ProjectRunning)
	mustCreateProject(t, db, NewProject{ID: "fresh", LastEdited: now.Add(-5 * time.Minute)}, ProjectRunning)
	mustCreateProject(t, db, NewProject{ID: "long-timeout", LastEdited: now.Add(-2 * time.Hour), IdleTimeout: 3 * time.Hour}, ProjectRunning)
	mustCreateProject(t, db, NewProject{ID: "short-timeout", LastEdited: now.Add(-2 * time.Minute), IdleTimeout: time.Minute}, ProjectRunning)
	mustCreateProject(t, db, NewProject{ID: "always", LastEdited: now.Add(-48 * time.Hour), AlwaysRunning: true}, ProjectRunning)
	mustCreateProject(t, db, NewProject{ID: "stopped", LastEdited: now.Add(-48 * time.Hour)}, ProjectOpened)

	idle, err := IdleProjects(ctx, db, now, 30*time.Minute)
	if err != nil {
		t.Fatalf("IdleProjects: %v", err)
	}
	var ids []string
	for _, p := range idle {
		ids = append(ids, p.ID)
	}
	if len(ids) != 2 || ids[0] != "idle-default" || ids[1] != "short-timeout" {
		t.Fatalf("idle = %v, want [idle-default short-timeout]", ids)
	}
}

func TestAlwaysRunningStopped(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	mustCreateProject(t, db, NewProject{ID: "a", AlwaysRunning: true}, ProjectOpened)
	mustCreateProject(t, db, NewProject{ID: "b", AlwaysRunning: true}, ProjectRunning)
	mustCreateProject(t, db, NewProject{ID: "c"}, ProjectOpened)

	got, err := AlwaysRunningStopped(ctx, db)
	if err != nil {
		t.Fatalf("AlwaysRunningStopped: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("got %+v, want only project a", got)
	}
}

func TestResetAllProjectStates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	mustCreateProject(t, db, NewProject{ID: "a"}, ProjectRunning)
	mustCreateProject(t, db, NewProject{ID: "b"}, ProjectStarting)

	n, err := ResetAllProjectStates(ctx, db)
	if err != nil {
		t.Fatalf("ResetAllProjectStates: %v", err)
	}
	if n != 2 {
		t.Fatalf("rows = %d, want 2", n)
	}
	p, err := GetProject(ctx, db, "a")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if p.State != ProjectOpened {
		t.Fatalf("state = %q, want opened", p.State)
	}
}

func TestSiteLicenseUsageLog(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	mustCreateProject(t, db, NewProject{ID: "p1", SiteLicenseID: "lic"}, ProjectRunning)
	mustCreateProject(t, db, NewProject{ID: "p2", SiteLicenseID: "lic"}, ProjectOpened)
	mustCreateProject(t, db, NewProject{ID: "p3"}, ProjectRunning)

	opened, closed, err := UpdateSiteLicenseUsageLog(ctx, db, now)
	if err != nil {
		t.Fatalf("UpdateSiteLicenseUsageLog: %v", err)
	}
	if opened != 1 || closed != 0 {
		t.Fatalf("opened=%d closed=%d, want 1/0", opened, closed)
	}

	// A second run with nothing changed is a no-op.
	opened, closed, err = UpdateSiteLicenseUsageLog(ctx, db, now.Add(time.Second))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if opened != 0 || closed != 0 {
		t.Fatalf("second run opened=%d closed=%d, want 0/0", opened, closed)
	}

	if err := SetProjectState(ctx, db, "p1", ProjectOpened); err != nil {
		t.Fatalf("SetProjectState: %v", err)
	}
	if err := SetProjectState(ctx, db, "p2", ProjectRunning); err != nil {
		t.Fatalf("SetProjectState: %v", err)
	}
	opened, closed, err = UpdateSiteLicenseUsageLog(ctx, db, now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if opened != 1 || closed != 1 {
		t.Fatalf("third run opened=%d closed=%d, want 1/1", opened, closed)
	}

	log, err := LicenseUsageLog(ctx, db, "lic")
	if err != nil {
		t.Fatalf("LicenseUsageLog: %v", err)
	}
	if len(log) != 2 {
		t.Fatalf("rows = %d, want 2", len(log))
	}
	if log[0].ProjectID != "p1" || log[0].Stop == nil {
		t.Fatalf("p1 row not closed: %+v", log[0])
	}
	if log[1].ProjectID != "p2" || log[1].Stop != nil {
		t.Fatalf("p2 row should be open: %+v", log[1])
	}
}
