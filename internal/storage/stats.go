package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

type Stats struct {
	Time            time.Time `json:"time"`
	Accounts        int       `json:"accounts"`
	Projects        int       `json:"projects"`
	RunningProjects int       `json:"running_projects"`
	Hubs            int       `json:"hubs"`
	Clients         int       `json:"clients"`
}

// ComputeStats aggregates the numbers served on /stats.
func ComputeStats(ctx context.Context, db *DB, now time.Time) (Stats, error) {
	st := Stats{Time: now.UTC()}
	if err := db.QueryRowContext(ctx, "SELECT COUNT(1) FROM accounts").Scan(&st.Accounts); err != nil {
		return Stats{}, err
	}
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(1), COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0) FROM projects",
		ProjectRunning).Scan(&st.Projects, &st.RunningProjects); err != nil {
		return Stats{}, err
	}
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(1), COALESCE(SUM(clients), 0) FROM hubs WHERE expire > ?",
		now.UnixMilli()).Scan(&st.Hubs, &st.Clients); err != nil {
		return Stats{}, err
	}
	return st, nil
}

func InsertStats(ctx context.Context, db *DB, st Stats) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, "INSERT INTO stats (time, payload) VALUES (?, ?)", st.Time.UnixMilli(), string(payload))
	return err
}

// UpdateStats computes the current stats and stores them.
func UpdateStats(ctx context.Context, db *DB, now time.Time) (Stats, error) {
	st, err := ComputeStats(ctx, db, now)
	if err != nil {
		return Stats{}, err
	}
	return st, InsertStats(ctx, db, st)
}

func LatestStats(ctx context.Context, db *DB) (Stats, bool, error) {
	var payload string
	err := db.QueryRowContext(ctx, "SELECT payload FROM stats ORDER BY time DESC, id DESC LIMIT 1").Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Stats{}, false, nil
	}
	if err != nil {
		return Stats{}, false, err
	}
	var st Stats
	if err := json.Unmarshal([]byte(payload), &st); err != nil {
		return Stats{}, false, err
	}
	return st, true, nil
}
