package storage

import (
	"context"
)

type SQLiteStats struct {
	PageSize      int64
	PageCount     int64
	FreelistCount int64
}

func (s SQLiteStats) TotalBytes() int64 {
	if s.PageSize <= 0 || s.PageCount <= 0 {
		return 0
	}
	return s.PageSize * s.PageCount
}

func (s SQLiteStats) FreeBytes() int64 {
	if s.PageSize <= 0 || s.FreelistCount <= 0 {
		return 0
	}
	return s.PageSize * s.FreelistCount
}

func ReadSQLiteStats(ctx context.Context, db *DB) (SQLiteStats, error) {
	var st SQLiteStats
	for _, q := range []struct {
		pragma string
		dst    *int64
	}{
		{"PRAGMA page_size;", &st.PageSize},
		{"PRAGMA page_count;", &st.PageCount},
		{"PRAGMA freelist_count;", &st.FreelistCount},
	} {
		if err := db.QueryRowContext(ctx, q.pragma).Scan(q.dst); err != nil {
			return SQLiteStats{}, err
		}
	}
	return st, nil
}

// Vacuum rebuilds the file. It needs an exclusive lock and may fail with
// SQLITE_BUSY while other connections are active.
func Vacuum(ctx context.Context, db *DB) error {
	_, err := db.ExecContext(ctx, "VACUUM;")
	return err
}

func Optimize(ctx context.Context, db *DB) error {
	_, err := db.ExecContext(ctx, "PRAGMA optimize;")
	return err
}
