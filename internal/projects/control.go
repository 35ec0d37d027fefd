package projects

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"cocalc-hub/internal/config"
	"cocalc-hub/internal/storage"
)

// Control starts and stops projects. The processes themselves are run by
// an external manager that follows the state column.
type Control interface {
	Start(ctx context.Context, projectID string) error
	Stop(ctx context.Context, projectID string) error
	State(ctx context.Context, projectID string) (storage.ProjectState, error)
}

type dbControl struct {
	mode config.Mode
	db   *storage.DB
	log  logrus.FieldLogger
}

// NewControl returns the project control used in the given mode.
func NewControl(mode config.Mode, db *storage.DB, log logrus.FieldLogger) (Control, error) {
	if db == nil {
		return nil, fmt.Errorf("projects: nil database")
	}
	switch mode {
	case config.ModeSingleUser, config.ModeMultiUser, config.ModeKucalc, config.ModeKubernetes:
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidMode, mode)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &dbControl{mode: mode, db: db, log: log}, nil
}

func (c *dbControl) Start(ctx context.Context, projectID string) error {
	p, err := storage.GetProject(ctx, c.db, projectID)
	if err != nil {
		return err
	}
	switch p.State {
	case storage.ProjectRunning, storage.ProjectStarting:
		return nil
	}
	if err := storage.SetProjectState(ctx, c.db, projectID, storage.ProjectStarting); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"project_id": projectID, "mode": c.mode}).Info("starting project")
	return nil
}

func (c *dbControl) Stop(ctx context.Context, projectID string) error {
	p, err := storage.GetProject(ctx, c.db, projectID)
	if err != nil {
		return err
	}
	switch p.State {
	case storage.ProjectOpened, storage.ProjectStopping:
		return nil
	}
	if err := storage.SetProjectState(ctx, c.db, projectID, storage.ProjectStopping); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"project_id": projectID, "mode": c.mode}).Info("stopping project")
	return nil
}

func (c *dbControl) State(ctx context.Context, projectID string) (storage.ProjectState, error) {
	p, err := storage.GetProject(ctx, c.db, projectID)
	if err != nil {
		return "", err
	}
	return p.State, nil
}
