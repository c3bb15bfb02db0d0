package account

import (
	"context"
	"time"

	"github.com/google/uuid"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/in"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/logger"
	"mailsync_server/pkg/snowflake"
)

// Service manages connected mailbox accounts.
type Service struct {
	accounts out.AccountRepository
	mails    out.MailRepository
}

var _ in.AccountService = (*Service)(nil)

func NewService(accounts out.AccountRepository, mails out.MailRepository) *Service {
	return &Service{accounts: accounts, mails: mails}
}

func (s *Service) ListAccounts(ctx context.Context, userID uuid.UUID) ([]*domain.EmailAccount, error) {
	return s.accounts.FindActiveByUser(ctx, userID)
}

func (s *Service) GetAccount(ctx context.Context, accountID int64, userID uuid.UUID) (*domain.EmailAccount, error) {
	return s.accounts.GetByIDForUser(ctx, accountID, userID)
}

// ConnectAccount registers a mailbox with its OAuth credentials. The
// first sync run picks it up as PENDING.
func (s *Service) ConnectAccount(ctx context.Context, account *domain.EmailAccount) error {
	if !account.Provider.Valid() {
		return apperr.InvalidInput("provider", "must be GMAIL or OUTLOOK")
	}
	if account.EmailAddress == "" {
		return apperr.MissingField("email_address")
	}
	if account.AccessToken == "" {
		return apperr.MissingField("access_token")
	}

	now := time.Now()
	account.ID = snowflake.ID()
	account.SyncStatus = domain.AccountStatusPending
	account.IsActive = true
	account.CreatedAt = now
	account.UpdatedAt = now

	if err := s.accounts.Create(ctx, account); err != nil {
		return err
	}

	logger.Info("[AccountService] Connected %s account %s for user %s",
		account.Provider, account.EmailAddress, account.UserID)
	return nil
}

// DisconnectAccount removes the account and its synced metadata.
func (s *Service) DisconnectAccount(ctx context.Context, accountID int64, userID uuid.UUID) error {
	account, err := s.accounts.GetByIDForUser(ctx, accountID, userID)
	if err != nil {
		return err
	}

	if err := s.mails.DeleteByAccount(ctx, account.ID); err != nil {
		return err
	}
	if err := s.accounts.Delete(ctx, account.ID, userID); err != nil {
		return err
	}

	logger.Info("[AccountService] Disconnected account %s for user %s", account.EmailAddress, userID)
	return nil
}
