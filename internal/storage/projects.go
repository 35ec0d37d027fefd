package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type ProjectState string

const (
	ProjectOpened   ProjectState = "opened"
	ProjectStarting ProjectState = "starting"
	ProjectRunning  ProjectState = "running"
	ProjectStopping ProjectState = "stopping"
)

var ErrProjectNotFound = errors.New("project not found")

type Project struct {
	ID            string
	Title         string
	State         ProjectState
	LastEdited    time.Time
	IdleTimeout   time.Duration
	AlwaysRunning bool
	SiteLicenseID string
}

type NewProject struct {
	ID            string
	Title         string
	LastEdited    time.Time
	IdleTimeout   time.Duration
	AlwaysRunning bool
	SiteLicenseID string
}

func CreateProject(ctx context.Context, db *DB, p NewProject) error {
	var license any
	if p.SiteLicenseID != "" {
		license = p.SiteLicenseID
	}
	_, err := db.ExecContext(ctx, `
INSERT INTO projects (project_id, title, state, state_time, last_edited, idle_timeout_s, always_running, site_license_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, p.ID, p.Title, ProjectOpened, nowMillis(), p.LastEdited.UnixMilli(), int64(p.IdleTimeout/time.Second), boolInt(p.AlwaysRunning), license)
	return err
}

func GetProject(ctx context.Context, db *DB, id string) (Project, error) {
	row := db.QueryRowContext(ctx, `
SELECT project_id, title, state, last_edited, idle_timeout_s, always_running, site_license_id
FROM projects WHERE project_id = ?
`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, ErrProjectNotFound
	}
	return p, err
}

func SetProjectState(ctx context.Context, db *DB, id string, state ProjectState) error {
	res, err := db.ExecContext(ctx,
		"UPDATE projects SET state = ?, state_time = ? WHERE project_id = ?",
		state, nowMillis(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrProjectNotFound
	}
	return nil
}

// TouchProject records activity, pushing back the project's idle timeout.
func TouchProject(ctx context.Context, db *DB, id string, at time.Time) error {
	res, err := db.ExecContext(ctx, "UPDATE projects SET last_edited = ? WHERE project_id = ?", at.UnixMilli(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrProjectNotFound
	}
	return nil
}

// ResetAllProjectStates marks every project as opened.
func ResetAllProjectStates(ctx context.Context, db *DB) (int64, error) {
	res, err := db.ExecContext(ctx, "UPDATE projects SET state = ?, state_time = ?", ProjectOpened, nowMillis())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// IdleProjects lists running projects whose idle timeout has passed at now.
// Projects without their own timeout use defaultTimeout; always-running
// projects are never idle.
func IdleProjects(ctx context.Context, db *DB, now time.Time, defaultTimeout time.Duration) ([]Project, error) {
	rows, err := db.QueryContext(ctx, `
SELECT project_id, title, state, last_edited, idle_timeout_s, always_running, site_license_id
FROM projects
WHERE state = ? AND always_running = 0
  AND last_edited + 1000 * (CASE WHEN idle_timeout_s > 0 THEN idle_timeout_s ELSE ? END) < ?
ORDER BY project_id
`, ProjectRunning, int64(defaultTimeout/time.Second), now.UnixMilli())
	if err != nil {
		return nil, err
	}
	return collectProjects(rows)
}

func AlwaysRunningStopped(ctx context.Context, db *DB) ([]Project, error) {
	rows, err := db.QueryContext(ctx, `
SELECT project_id, title, state, last_edited, idle_timeout_s, always_running, site_license_id
FROM projects
WHERE always_running = 1 AND state NOT IN (?, ?)
ORDER BY project_id
`, ProjectRunning, ProjectStarting)
	if err != nil {
		return nil, err
	}
	return collectProjects(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (Project, error) {
	var p Project
	var state string
	var lastEdited, idle int64
	var always int
	var license sql.NullString
	if err := row.Scan(&p.ID, &p.Title, &state, &lastEdited, &idle, &always, &license); err != nil {
		return Project{}, err
	}
	p.State = ProjectState(state)
	p.LastEdited = time.UnixMilli(lastEdited)
	p.IdleTimeout = time.Duration(idle) * time.Second
	p.AlwaysRunning = always != 0
	p.SiteLicenseID = license.String
	return p, nil
}

func collectProjects(rows *Rows) ([]Project, error) {
	defer rows.Close()
	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
