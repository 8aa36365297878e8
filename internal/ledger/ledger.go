package ledger

import (
	"context"
	"errors"

	"github.com/snapsell/api/internal/model"
)

var (
	ErrNotFound        = errors.New("job not found")
	ErrAlreadyTerminal = errors.New("job already in a terminal state")
)

// Store persists job records. Transitions out of processing are
// compare-and-set: a terminal job is never overwritten.
type Store interface {
	Create(ctx context.Context, job *model.Job) error
	MarkCompleted(ctx context.Context, jobID string, done model.JobCompletion) error
	MarkFailed(ctx context.Context, jobID string, jobErr model.JobError) error
	Get(ctx context.Context, jobID string) (*model.Job, error)
	// GetForUser returns ErrNotFound for jobs owned by someone else.
	GetForUser(ctx context.Context, jobID, userID string) (*model.Job, error)
	// ListByUser returns the newest jobs first.
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.Job, error)
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ClampLimit bounds a caller supplied page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
