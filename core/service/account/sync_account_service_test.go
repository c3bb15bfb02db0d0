package account

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"mailsync_server/core/domain"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/snowflake"
)

func init() {
	_ = snowflake.Init(1)
}

// =============================================================================
// In-memory fakes
// =============================================================================

type memAccountRepo struct {
	accounts map[int64]*domain.EmailAccount
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{accounts: make(map[int64]*domain.EmailAccount)}
}

func (r *memAccountRepo) GetByID(ctx context.Context, id int64) (*domain.EmailAccount, error) {
	a, ok := r.accounts[id]
	if !ok {
		return nil, apperr.NotFound("email account")
	}
	cp := *a
	return &cp, nil
}

func (r *memAccountRepo) GetByIDForUser(ctx context.Context, id int64, userID uuid.UUID) (*domain.EmailAccount, error) {
	a, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.UserID != userID {
		return nil, apperr.NotFound("email account")
	}
	return a, nil
}

func (r *memAccountRepo) FindActiveByUser(ctx context.Context, userID uuid.UUID) ([]*domain.EmailAccount, error) {
	var result []*domain.EmailAccount
	for _, a := range r.accounts {
		if a.UserID == userID && a.IsActive {
			cp := *a
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (r *memAccountRepo) Create(ctx context.Context, account *domain.EmailAccount) error {
	cp := *account
	r.accounts[account.ID] = &cp
	return nil
}

func (r *memAccountRepo) Update(ctx context.Context, account *domain.EmailAccount) error {
	cp := *account
	r.accounts[account.ID] = &cp
	return nil
}

func (r *memAccountRepo) Delete(ctx context.Context, id int64, userID uuid.UUID) error {
	a, ok := r.accounts[id]
	if !ok || a.UserID != userID {
		return apperr.NotFound("email account")
	}
	delete(r.accounts, id)
	return nil
}

func (r *memAccountRepo) UpdateTokens(ctx context.Context, accountID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	return nil
}

func (r *memAccountRepo) UpdateSyncStatus(ctx context.Context, accountID int64, status domain.AccountSyncStatus, lastError string) error {
	return nil
}

func (r *memAccountRepo) ListUsersDueForSync(ctx context.Context, staleAfter time.Duration, limit int) ([]uuid.UUID, error) {
	return nil, nil
}

type memMailRepo struct {
	deletedAccounts []int64
}

func (r *memMailRepo) FindExistingMessageIDs(ctx context.Context, accountID int64, messageIDs []string) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

func (r *memMailRepo) BulkInsert(ctx context.Context, emails []*domain.EmailMetadata) (int, error) {
	return len(emails), nil
}

func (r *memMailRepo) CountByAccount(ctx context.Context, accountID int64) (int64, error) {
	return 0, nil
}

func (r *memMailRepo) DeleteByAccount(ctx context.Context, accountID int64) error {
	r.deletedAccounts = append(r.deletedAccounts, accountID)
	return nil
}

// =============================================================================
// Tests
// =============================================================================

func TestConnectAccount(t *testing.T) {
	repo := newMemAccountRepo()
	svc := NewService(repo, &memMailRepo{})

	account := &domain.EmailAccount{
		UserID:       uuid.New(),
		EmailAddress: "user@gmail.com",
		Provider:     domain.ProviderGmail,
		AccessToken:  "token",
	}
	if err := svc.ConnectAccount(context.Background(), account); err != nil {
		t.Fatalf("ConnectAccount: %v", err)
	}

	if account.ID == 0 {
		t.Error("expected generated account ID")
	}
	if account.SyncStatus != domain.AccountStatusPending {
		t.Errorf("sync status = %s, want PENDING", account.SyncStatus)
	}
	if !account.IsActive {
		t.Error("expected account to be active")
	}
	if len(repo.accounts) != 1 {
		t.Fatalf("expected 1 stored account, got %d", len(repo.accounts))
	}
}

func TestConnectAccountValidation(t *testing.T) {
	svc := NewService(newMemAccountRepo(), &memMailRepo{})

	tests := []struct {
		name    string
		account *domain.EmailAccount
		code    string
	}{
		{
			name: "invalid provider",
			account: &domain.EmailAccount{
				Provider:     "YAHOO",
				EmailAddress: "a@b.com",
				AccessToken:  "t",
			},
			code: apperr.CodeInvalidInput,
		},
		{
			name: "missing email",
			account: &domain.EmailAccount{
				Provider:    domain.ProviderGmail,
				AccessToken: "t",
			},
			code: apperr.CodeMissingField,
		},
		{
			name: "missing access token",
			account: &domain.EmailAccount{
				Provider:     domain.ProviderOutlook,
				EmailAddress: "a@b.com",
			},
			code: apperr.CodeMissingField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.ConnectAccount(context.Background(), tt.account)
			if err == nil {
				t.Fatal("expected error")
			}
			if !apperr.IsCode(err, tt.code) {
				t.Errorf("error code = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestDisconnectAccountRemovesMail(t *testing.T) {
	repo := newMemAccountRepo()
	mails := &memMailRepo{}
	svc := NewService(repo, mails)

	userID := uuid.New()
	account := &domain.EmailAccount{
		UserID:       userID,
		EmailAddress: "user@outlook.com",
		Provider:     domain.ProviderOutlook,
		AccessToken:  "token",
	}
	if err := svc.ConnectAccount(context.Background(), account); err != nil {
		t.Fatalf("ConnectAccount: %v", err)
	}

	if err := svc.DisconnectAccount(context.Background(), account.ID, userID); err != nil {
		t.Fatalf("DisconnectAccount: %v", err)
	}

	if len(repo.accounts) != 0 {
		t.Error("account not deleted")
	}
	if len(mails.deletedAccounts) != 1 || mails.deletedAccounts[0] != account.ID {
		t.Errorf("mail metadata not deleted for account: %v", mails.deletedAccounts)
	}
}

func TestDisconnectOtherUsersAccount(t *testing.T) {
	repo := newMemAccountRepo()
	svc := NewService(repo, &memMailRepo{})

	owner := uuid.New()
	account := &domain.EmailAccount{
		UserID:       owner,
		EmailAddress: "owner@gmail.com",
		Provider:     domain.ProviderGmail,
		AccessToken:  "token",
	}
	if err := svc.ConnectAccount(context.Background(), account); err != nil {
		t.Fatalf("ConnectAccount: %v", err)
	}

	err := svc.DisconnectAccount(context.Background(), account.ID, uuid.New())
	if !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Errorf("expected not found for foreign account, got %v", err)
	}
	if len(repo.accounts) != 1 {
		t.Error("foreign account was deleted")
	}
}
