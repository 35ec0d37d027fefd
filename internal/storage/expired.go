package storage

import (
	"context"
	"time"
)

type ExpiredCounts struct {
	Blobs    int64
	Hubs     int64
	Sessions int64
}

func (c ExpiredCounts) Total() int64 { return c.Blobs + c.Hubs + c.Sessions }

// DeleteExpired removes every row whose expire time has passed.
func DeleteExpired(ctx context.Context, db *DB, now time.Time) (ExpiredCounts, error) {
	var c ExpiredCounts
	var err error
	if c.Blobs, err = DeleteExpiredBlobs(ctx, db, now); err != nil {
		return c, err
	}
	if c.Hubs, err = DeleteExpiredHubs(ctx, db, now); err != nil {
		return c, err
	}
	if c.Sessions, err = DeleteExpiredSessions(ctx, db, now); err != nil {
		return c, err
	}
	return c, nil
}
