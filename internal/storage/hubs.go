package storage

import (
	"context"
	"time"
)

type HubRegistration struct {
	Host    string
	Port    int
	Clients int
	Expire  time.Time
}

// RegisterHub upserts this hub's liveness row.
func RegisterHub(ctx context.Context, db *DB, reg HubRegistration) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO hubs (host, port, clients, expire) VALUES (?, ?, ?, ?)
ON CONFLICT(host, port) DO UPDATE SET clients = excluded.clients, expire = excluded.expire
`, reg.Host, reg.Port, reg.Clients, reg.Expire.UnixMilli())
	return err
}

func LiveHubs(ctx context.Context, db *DB, now time.Time) ([]HubRegistration, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT host, port, clients, expire FROM hubs WHERE expire > ? ORDER BY host, port",
		now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HubRegistration
	for rows.Next() {
		var h HubRegistration
		var expire int64
		if err := rows.Scan(&h.Host, &h.Port, &h.Clients, &expire); err != nil {
			return nil, err
		}
		h.Expire = time.UnixMilli(expire)
		out = append(out, h)
	}
	return out, rows.Err()
}

func DeleteExpiredHubs(ctx context.Context, db *DB, now time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM hubs WHERE expire <= ?", now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
