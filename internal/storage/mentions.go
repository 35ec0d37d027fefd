package storage

import (
	"context"
	"time"
)

type Mention struct {
	ID        int64
	ProjectID string
	Path      string
	Source    string
	Target    string
	Time      time.Time
}

func AddMention(ctx context.Context, db *DB, m Mention) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO mentions (project_id, path, source, target, time) VALUES (?, ?, ?, ?, ?)",
		m.ProjectID, m.Path, m.Source, m.Target, m.Time.UnixMilli())
	return err
}

func PendingMentions(ctx context.Context, db *DB, limit int) ([]Mention, error) {
	rows, err := db.QueryContext(ctx, `
SELECT id, project_id, path, source, target, time FROM mentions
WHERE notified IS NULL
ORDER BY time, id
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Mention
	for rows.Next() {
		var m Mention
		var ts int64
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Path, &m.Source, &m.Target, &ts); err != nil {
			return nil, err
		}
		m.Time = time.UnixMilli(ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

func MarkMentionNotified(ctx context.Context, db *DB, id int64, at time.Time) error {
	_, err := db.ExecContext(ctx, "UPDATE mentions SET notified = ? WHERE id = ?", at.UnixMilli(), id)
	return err
}
