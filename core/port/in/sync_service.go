package in

import (
	"context"

	"mailsync_server/core/domain"

	"github.com/google/uuid"
)

// SyncService drives background mailbox syncs.
type SyncService interface {
	// StartSyncJob creates a PENDING job and enqueues it for the
	// worker. At most one PENDING or RUNNING job per user; a second
	// start returns apperr.SyncAlreadyRunning.
	StartSyncJob(ctx context.Context, userID uuid.UUID, jobType domain.JobType) (*domain.SyncJob, error)

	// RunSyncJob executes the job to a terminal state. Called from
	// the worker process, not from HTTP handlers.
	RunSyncJob(ctx context.Context, jobID int64) error

	// CancelJob flips a RUNNING job to CANCELLED. The running engine
	// observes the flag on its next job re-read.
	CancelJob(ctx context.Context, jobID int64, userID uuid.UUID) error

	GetJob(ctx context.Context, jobID int64, userID uuid.UUID) (*domain.SyncJob, error)
	GetActiveJob(ctx context.Context, userID uuid.UUID) (*domain.SyncJob, error)
	ListJobs(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.SyncJob, int, error)
}

// AccountService manages connected mailbox accounts.
type AccountService interface {
	ListAccounts(ctx context.Context, userID uuid.UUID) ([]*domain.EmailAccount, error)
	GetAccount(ctx context.Context, accountID int64, userID uuid.UUID) (*domain.EmailAccount, error)
	ConnectAccount(ctx context.Context, account *domain.EmailAccount) error
	DisconnectAccount(ctx context.Context, accountID int64, userID uuid.UUID) error
}

// MailboxService performs folder and move operations against the
// provider on behalf of the account owner. These run outside the sync
// loop but carry the same token refresh discipline.
type MailboxService interface {
	ListFolders(ctx context.Context, userID uuid.UUID, accountID int64) ([]domain.MailFolder, error)

	// GetOrCreateFolder returns the folder matching name, creating it
	// when the account has none. Matching is case-insensitive.
	GetOrCreateFolder(ctx context.Context, userID uuid.UUID, accountID int64, name string) (*domain.MailFolder, error)

	MoveMessages(ctx context.Context, userID uuid.UUID, accountID int64, folderID string, messageIDs []string) error
}
