package out

import (
	"context"
	"time"

	"github.com/google/uuid"

	"mailsync_server/core/domain"
)

// AccountRepository - connected mailbox accounts
type AccountRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.EmailAccount, error)
	GetByIDForUser(ctx context.Context, id int64, userID uuid.UUID) (*domain.EmailAccount, error)

	// FindActiveByUser returns the user's active accounts in creation
	// order. A sync run walks these sequentially.
	FindActiveByUser(ctx context.Context, userID uuid.UUID) ([]*domain.EmailAccount, error)

	Create(ctx context.Context, account *domain.EmailAccount) error
	Update(ctx context.Context, account *domain.EmailAccount) error
	Delete(ctx context.Context, id int64, userID uuid.UUID) error

	// UpdateTokens persists a refreshed token set. Tokens are
	// encrypted at rest by the adapter.
	UpdateTokens(ctx context.Context, accountID int64, accessToken, refreshToken string, expiresAt time.Time) error

	// UpdateSyncStatus records the per-account outcome of a run.
	UpdateSyncStatus(ctx context.Context, accountID int64, status domain.AccountSyncStatus, lastError string) error

	// ListUsersDueForSync returns users owning at least one active
	// account that has not synced within the staleness window. Drives
	// the periodic incremental sync scheduler.
	ListUsersDueForSync(ctx context.Context, staleAfter time.Duration, limit int) ([]uuid.UUID, error)
}
