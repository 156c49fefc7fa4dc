// Package storage persists finished pipeline runs.
package storage

import (
	"context"
	"errors"

	"github.com/xaenox/mail-pilot/internal/models"
)

var ErrNotFound = errors.New("run not found")

type Storage interface {
	SaveRun(ctx context.Context, run *models.RunRecord) error
	GetRun(ctx context.Context, id string) (*models.RunRecord, error)
	// ListRuns returns the most recent runs first, without payloads.
	ListRuns(ctx context.Context, limit int) ([]*models.RunRecord, error)
	Close() error
}
