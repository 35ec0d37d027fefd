package storage

import (
	"context"
	"time"
)

type Blob struct {
	ID      string
	Data    []byte
	Created time.Time
}

// SaveBlob stores a blob. A zero ttl means the blob never expires.
func SaveBlob(ctx context.Context, db *DB, id string, data []byte, ttl time.Duration) error {
	now := time.Now()
	var expire any
	if ttl > 0 {
		expire = now.Add(ttl).UnixMilli()
	}
	_, err := db.ExecContext(ctx, `
INSERT INTO blobs (id, blob, size, created, expire) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET expire = excluded.expire
`, id, data, len(data), now.UnixMilli(), expire)
	return err
}

// ArchivableBlobs lists non-expiring blobs still held inline that were
// created before cutoff.
func ArchivableBlobs(ctx context.Context, db *DB, cutoff time.Time, limit int) ([]Blob, error) {
	rows, err := db.QueryContext(ctx, `
SELECT id, blob, created FROM blobs
WHERE expire IS NULL AND archived_path IS NULL AND blob IS NOT NULL AND created < ?
ORDER BY created, id
LIMIT ?
`, cutoff.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Blob
	for rows.Next() {
		var b Blob
		var created int64
		if err := rows.Scan(&b.ID, &b.Data, &created); err != nil {
			return nil, err
		}
		b.Created = time.UnixMilli(created)
		out = append(out, b)
	}
	return out, rows.Err()
}

// MarkBlobsArchived records where the blobs went and drops the inline copy.
func MarkBlobsArchived(ctx context.Context, db *DB, ids []string, archivePath string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "UPDATE blobs SET archived_path = ?, blob = NULL WHERE id = ?", archivePath, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func BlobArchivePath(ctx context.Context, db *DB, id string) (string, error) {
	var p *string
	if err := db.QueryRowContext(ctx, "SELECT archived_path FROM blobs WHERE id = ?", id).Scan(&p); err != nil {
		return "", err
	}
	if p == nil {
		return "", nil
	}
	return *p, nil
}

func DeleteExpiredBlobs(ctx context.Context, db *DB, now time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM blobs WHERE expire IS NOT NULL AND expire <= ?", now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
