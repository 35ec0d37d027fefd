package hubreg

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"cocalc-hub/internal/storage"
)

const DefaultInterval = 20 * time.Second

// Mirror publishes registrations somewhere besides the database.
type Mirror interface {
	Publish(ctx context.Context, reg storage.HubRegistration, ttl time.Duration) error
}

// Registrar advertises this hub in the hubs table so load balancers and
// monitoring can see it is alive and how loaded it is.
type Registrar struct {
	DB       *storage.DB
	Host     string
	Port     int
	Clients  func() int
	Interval time.Duration
	Mirror   Mirror
	Log      logrus.FieldLogger

	now func() time.Time
}

func (r *Registrar) interval() time.Duration {
	if r.Interval <= 0 {
		return DefaultInterval
	}
	return r.Interval
}

// Register writes one heartbeat. The row expires after two intervals, so
// a single missed beat does not drop the hub.
func (r *Registrar) Register(ctx context.Context) error {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	clients := 0
	if r.Clients != nil {
		clients = r.Clients()
	}
	ttl := 2 * r.interval()
	reg := storage.HubRegistration{
		Host:    r.Host,
		Port:    r.Port,
		Clients: clients,
		Expire:  now().Add(ttl),
	}
	if err := storage.RegisterHub(ctx, r.DB, reg); err != nil {
		return fmt.Errorf("register hub %s:%d: %w", r.Host, r.Port, err)
	}
	if r.Mirror != nil {
		if err := r.Mirror.Publish(ctx, reg, ttl); err != nil && r.Log != nil {
			r.Log.WithError(err).Warn("hub registration mirror failed")
		}
	}
	if r.Log != nil {
		r.Log.WithFields(logrus.Fields{"host": r.Host, "port": r.Port, "clients": clients}).Debug("registered hub")
	}
	return nil
}
