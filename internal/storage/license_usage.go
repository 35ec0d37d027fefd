package storage

import (
	"context"
	"time"
)

type LicenseUsage struct {
	LicenseID string
	ProjectID string
	Start     time.Time
	Stop      *time.Time
}

// UpdateSiteLicenseUsageLog opens a usage row for every running project
// with a site license that has none open, and closes open rows whose
// project stopped running or dropped the license.
func UpdateSiteLicenseUsageLog(ctx context.Context, db *DB, now time.Time) (opened, closed int64, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	ts := now.UnixMilli()
	res, err := tx.ExecContext(ctx, `
UPDATE site_license_usage_log SET stop = ?
WHERE stop IS NULL AND NOT EXISTS (
  SELECT 1 FROM projects p
  WHERE p.project_id = site_license_usage_log.project_id
    AND p.state = ?
    AND p.site_license_id = site_license_usage_log.license_id
)
`, ts, ProjectRunning)
	if err != nil {
		return 0, 0, err
	}
	closed, _ = res.RowsAffected()

	res, err = tx.ExecContext(ctx, `
INSERT INTO site_license_usage_log (license_id, project_id, start)
SELECT p.site_license_id, p.project_id, ?
FROM projects p
WHERE p.state = ? AND p.site_license_id IS NOT NULL AND p.site_license_id != ''
  AND NOT EXISTS (
    SELECT 1 FROM site_license_usage_log l
    WHERE l.project_id = p.project_id AND l.license_id = p.site_license_id AND l.stop IS NULL
  )
`, ts, ProjectRunning)
	if err != nil {
		return 0, 0, err
	}
	opened, _ = res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return opened, closed, nil
}

func LicenseUsageLog(ctx context.Context, db *DB, licenseID string) ([]LicenseUsage, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT license_id, project_id, start, stop FROM site_license_usage_log WHERE license_id = ? ORDER BY start, project_id",
		licenseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LicenseUsage
	for rows.Next() {
		var u LicenseUsage
		var start int64
		var stop *int64
		if err := rows.Scan(&u.LicenseID, &u.ProjectID, &start, &stop); err != nil {
			return nil, err
		}
		u.Start = time.UnixMilli(start)
		if stop != nil {
			t := time.UnixMilli(*stop)
			u.Stop = &t
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
