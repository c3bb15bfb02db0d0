// Package mailbox implements folder and move operations against the
// provider, outside the background sync loop.
package mailbox

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/in"
	"mailsync_server/core/port/out"
	"mailsync_server/core/service/auth"
	"mailsync_server/core/service/sync"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/logger"
)

// Service dispatches folder and move calls to the account's provider.
// Every call refreshes a near-expiry token up front and retries exactly
// once when the provider rejects the credential anyway.
type Service struct {
	accounts out.AccountRepository
	registry *sync.Registry
	tokens   *auth.TokenManager
}

var _ in.MailboxService = (*Service)(nil)

func NewService(accounts out.AccountRepository, registry *sync.Registry, tokens *auth.TokenManager) *Service {
	return &Service{accounts: accounts, registry: registry, tokens: tokens}
}

// ListFolders lists the account's provider folders.
func (s *Service) ListFolders(ctx context.Context, userID uuid.UUID, accountID int64) ([]domain.MailFolder, error) {
	provider, account, err := s.resolve(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}

	var folders []domain.MailFolder
	err = s.withRetry(ctx, provider, account, func() error {
		var ferr error
		folders, ferr = provider.ListFolders(ctx, account)
		return ferr
	})
	return folders, err
}

// GetOrCreateFolder returns the folder whose name matches, creating it
// when none does. Provider folder names are matched case-insensitively
// because Gmail treats label names that way.
func (s *Service) GetOrCreateFolder(ctx context.Context, userID uuid.UUID, accountID int64, name string) (*domain.MailFolder, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperr.MissingField("name")
	}

	provider, account, err := s.resolve(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}

	var folders []domain.MailFolder
	err = s.withRetry(ctx, provider, account, func() error {
		var ferr error
		folders, ferr = provider.ListFolders(ctx, account)
		return ferr
	})
	if err != nil {
		return nil, err
	}

	for i := range folders {
		if strings.EqualFold(folders[i].Name, name) {
			return &folders[i], nil
		}
	}

	var created *domain.MailFolder
	err = s.withRetry(ctx, provider, account, func() error {
		var cerr error
		created, cerr = provider.CreateFolder(ctx, account, name)
		return cerr
	})
	if err != nil {
		return nil, err
	}

	logger.Info("[Mailbox] Created folder %q for %s", name, account.EmailAddress)
	return created, nil
}

// MoveMessages moves the messages into the folder.
func (s *Service) MoveMessages(ctx context.Context, userID uuid.UUID, accountID int64, folderID string, messageIDs []string) error {
	if folderID == "" {
		return apperr.MissingField("folder_id")
	}
	if len(messageIDs) == 0 {
		return apperr.MissingField("message_ids")
	}

	provider, account, err := s.resolve(ctx, userID, accountID)
	if err != nil {
		return err
	}

	return s.withRetry(ctx, provider, account, func() error {
		return provider.MoveMessages(ctx, account, folderID, messageIDs)
	})
}

// resolve loads the caller's account and its provider adapter, with
// the token freshened when it is about to expire.
func (s *Service) resolve(ctx context.Context, userID uuid.UUID, accountID int64) (out.MailProvider, *domain.EmailAccount, error) {
	account, err := s.accounts.GetByIDForUser(ctx, accountID, userID)
	if err != nil {
		return nil, nil, err
	}
	if !account.IsActive {
		return nil, nil, apperr.NotFound("account")
	}

	provider, err := s.registry.Get(account.Provider)
	if err != nil {
		return nil, nil, err
	}

	if err := s.tokens.EnsureFresh(ctx, provider, account); err != nil {
		return nil, nil, err
	}
	return provider, account, nil
}

// withRetry runs the call, refreshing the token and retrying exactly
// once when the provider rejects the credential mid-call.
func (s *Service) withRetry(ctx context.Context, provider out.MailProvider, account *domain.EmailAccount, fn func() error) error {
	err := fn()
	if err == nil || !apperr.IsCode(err, apperr.CodeTokenExpired) {
		return err
	}

	logger.Info("[Mailbox] Token rejected for %s, refreshing and retrying", account.EmailAddress)
	if rerr := s.tokens.Refresh(ctx, provider, account); rerr != nil {
		return rerr
	}
	return fn()
}
