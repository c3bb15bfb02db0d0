// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"

	"github.com/google/uuid"

	"mailsync_server/core/domain"
)

// SyncJobRepository - sync job ledger
type SyncJobRepository interface {
	// Create inserts the job only when the user has no PENDING or
	// RUNNING job. The insert and the active-job check are a single
	// atomic statement; a lost race returns apperr.SyncAlreadyRunning.
	Create(ctx context.Context, job *domain.SyncJob) error

	GetByID(ctx context.Context, id int64) (*domain.SyncJob, error)
	GetByIDForUser(ctx context.Context, id int64, userID uuid.UUID) (*domain.SyncJob, error)

	// Update persists the full mutable state of the job. Progress
	// writes during a run go through here; the engine re-reads via
	// GetByID to observe cancellation.
	Update(ctx context.Context, job *domain.SyncJob) error

	// FindActiveByUser returns the user's PENDING or RUNNING job,
	// or nil when none exists.
	FindActiveByUser(ctx context.Context, userID uuid.UUID) (*domain.SyncJob, error)

	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.SyncJob, int, error)

	// Cancel flips a RUNNING job to CANCELLED without touching the
	// counters written by the running engine. The status guard lives
	// in the statement itself: a cancel racing a completion loses and
	// returns apperr.SyncNotActive, because terminal states are final.
	Cancel(ctx context.Context, id int64, statusMessage string) error
}
