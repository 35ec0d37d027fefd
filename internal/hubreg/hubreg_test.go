package hubreg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

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

type recordingMirror struct {
	regs []storage.HubRegistration
	ttls []time.Duration
	err  error
}

func (m *recordingMirror) Publish(_ context.Context, reg storage.HubRegistration, ttl time.Duration) error {
	m.regs = append(m.regs, reg)
	m.ttls = append(m.ttls, ttl)
	return m.err
}

func TestRegister_UpsertsClientCount(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	clients := 2
	mirror := &recordingMirror{}
	r := &Registrar{
		DB:      db,
		Host:    "127.0.0.1",
		Port:    5000,
		Clients: func() int { return clients },
		Mirror:  mirror,
		Log:     logging.Discard(),
		now:     func() time.Time { return now },
	}

	if err := r.Register(ctx); err != nil {
		t.Fatalf("Register: %v", err)
	}
	clients = 9
	if err := r.Register(ctx); err != nil {
		t.Fatalf("Register again: %v", err)
	}

	live, err := storage.LiveHubs(ctx, db, now)
	if err != nil {
		t.Fatalf("LiveHubs: %v", err)
	}
	if len(live) != 1 {
		t.Fatalf("hubs = %d, want 1", len(live))
	}
	if live[0].Clients != 9 {
		t.Fatalf("clients = %d, want 9", live[0].Clients)
	}
	if got, want := live[0].Expire.UnixMilli(), now.Add(2*DefaultInterval).UnixMilli(); got != want {
		t.Fatalf("expire = %d, want %d", got, want)
	}
	if len(mirror.regs) != 2 || mirror.ttls[0] != 2*DefaultInterval {
		t.Fatalf("mirror calls = %d ttl=%v", len(mirror.regs), mirror.ttls)
	}
}

func TestRegister_MirrorFailureIsNotFatal(t *testing.T) {
	db := newTestDB(t)
	r := &Registrar{DB: db, Host: "h", Port: 1, Mirror: &recordingMirror{err: errors.New("redis down")}, Log: logging.Discard()}
	if err := r.Register(context.Background()); err != nil {
		t.Fatalf("Register: %v", err)
	}
}

func TestRegister_DatabaseFailure(t *testing.T) {
	db := newTestDB(t)
	_ = db.Close()
	r := &Registrar{DB: db, Host: "h", Port: 1}
	if err := r.Register(context.Background()); err == nil {
		t.Fatalf("expected error on closed database")
	}
}

func TestRedisMirror_Publish(t *testing.T) {
	addr := os.Getenv("COCALC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("COCALC_TEST_REDIS_ADDR not set")
	}
	m := NewRedisMirror(addr)
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Ping(ctx); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	reg := storage.HubRegistration{Host: "test-hub", Port: 5000, Clients: 3, Expire: time.Now().Add(time.Minute)}
	if err := m.Publish(ctx, reg, time.Minute); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	got, err := m.client.HGet(ctx, "hub:meta:test-hub:5000", "clients").Result()
	if err != nil {
		t.Fatalf("HGet: %v", err)
	}
	if got != "3" {
		t.Fatalf("clients = %q, want 3", got)
	}
	ttl, err := m.client.TTL(ctx, "hub:meta:test-hub:5000").Result()
	if err != nil || ttl <= 0 {
		t.Fatalf("ttl = %v err=%v", ttl, err)
	}
}
