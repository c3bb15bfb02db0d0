package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/apperr"
)

type stubAccountRepo struct {
	tokensUpdated  bool
	accessToken    string
	refreshToken   string
	expiresAt      time.Time
	lastStatus     domain.AccountSyncStatus
	lastError      string
	updateTokenErr error
}

func (r *stubAccountRepo) GetByID(ctx context.Context, id int64) (*domain.EmailAccount, error) {
	return nil, apperr.NotFound("account")
}

func (r *stubAccountRepo) GetByIDForUser(ctx context.Context, id int64, userID uuid.UUID) (*domain.EmailAccount, error) {
	return nil, apperr.NotFound("account")
}

func (r *stubAccountRepo) FindActiveByUser(ctx context.Context, userID uuid.UUID) ([]*domain.EmailAccount, error) {
	return nil, nil
}

func (r *stubAccountRepo) Create(ctx context.Context, account *domain.EmailAccount) error { return nil }
func (r *stubAccountRepo) Update(ctx context.Context, account *domain.EmailAccount) error { return nil }
func (r *stubAccountRepo) Delete(ctx context.Context, id int64, userID uuid.UUID) error   { return nil }

func (r *stubAccountRepo) UpdateTokens(ctx context.Context, accountID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	if r.updateTokenErr != nil {
		return r.updateTokenErr
	}
	r.tokensUpdated = true
	r.accessToken = accessToken
	r.refreshToken = refreshToken
	r.expiresAt = expiresAt
	return nil
}

func (r *stubAccountRepo) UpdateSyncStatus(ctx context.Context, accountID int64, status domain.AccountSyncStatus, lastError string) error {
	r.lastStatus = status
	r.lastError = lastError
	return nil
}

func (r *stubAccountRepo) ListUsersDueForSync(ctx context.Context, staleAfter time.Duration, limit int) ([]uuid.UUID, error) {
	return nil, nil
}

type stubProvider struct {
	tokens     *out.TokenSet
	err        error
	refreshed  int
	name       domain.Provider
}

func (p *stubProvider) Name() domain.Provider { return p.name }

func (p *stubProvider) FetchPage(ctx context.Context, account *domain.EmailAccount, query *out.MailQuery) (*out.MailPage, error) {
	return nil, errors.New("not used")
}

func (p *stubProvider) RefreshToken(ctx context.Context, account *domain.EmailAccount) (*out.TokenSet, error) {
	p.refreshed++
	if p.err != nil {
		return nil, p.err
	}
	return p.tokens, nil
}

func (p *stubProvider) ListFolders(ctx context.Context, account *domain.EmailAccount) ([]domain.MailFolder, error) {
	return nil, errors.New("not used")
}

func (p *stubProvider) CreateFolder(ctx context.Context, account *domain.EmailAccount, name string) (*domain.MailFolder, error) {
	return nil, errors.New("not used")
}

func (p *stubProvider) MoveMessages(ctx context.Context, account *domain.EmailAccount, folderID string, messageIDs []string) error {
	return errors.New("not used")
}

func expiringAccount(in time.Duration) *domain.EmailAccount {
	return &domain.EmailAccount{
		ID:             7,
		EmailAddress:   "me@example.com",
		Provider:       domain.ProviderGmail,
		AccessToken:    "old-access",
		RefreshToken:   "old-refresh",
		TokenExpiresAt: time.Now().Add(in),
		SyncStatus:     domain.AccountStatusSynced,
	}
}

func TestEnsureFresh_SkipsFreshToken(t *testing.T) {
	repo := &stubAccountRepo{}
	provider := &stubProvider{name: domain.ProviderGmail}
	m := NewTokenManager(repo)

	account := expiringAccount(time.Hour)
	if err := m.EnsureFresh(context.Background(), provider, account); err != nil {
		t.Fatalf("EnsureFresh() error = %v", err)
	}
	if provider.refreshed != 0 {
		t.Errorf("refreshed = %d, want 0 for a fresh token", provider.refreshed)
	}
}

func TestEnsureFresh_RefreshesExpiringToken(t *testing.T) {
	repo := &stubAccountRepo{}
	expiry := time.Now().Add(time.Hour)
	provider := &stubProvider{
		name:   domain.ProviderGmail,
		tokens: &out.TokenSet{AccessToken: "new-access", ExpiresAt: expiry},
	}
	m := NewTokenManager(repo)

	// Inside the 5 minute window.
	account := expiringAccount(2 * time.Minute)
	if err := m.EnsureFresh(context.Background(), provider, account); err != nil {
		t.Fatalf("EnsureFresh() error = %v", err)
	}

	if provider.refreshed != 1 {
		t.Fatalf("refreshed = %d, want 1", provider.refreshed)
	}
	if !repo.tokensUpdated {
		t.Fatal("tokens not persisted")
	}
	if account.AccessToken != "new-access" {
		t.Errorf("AccessToken = %q, want new-access", account.AccessToken)
	}
	// No rotation: the stored refresh token stays.
	if repo.refreshToken != "old-refresh" {
		t.Errorf("persisted refresh token = %q, want old-refresh", repo.refreshToken)
	}
	if !account.TokenExpiresAt.Equal(expiry) {
		t.Errorf("TokenExpiresAt = %v, want %v", account.TokenExpiresAt, expiry)
	}
}

func TestRefresh_PersistsRotatedRefreshToken(t *testing.T) {
	repo := &stubAccountRepo{}
	provider := &stubProvider{
		name: domain.ProviderOutlook,
		tokens: &out.TokenSet{
			AccessToken:  "new-access",
			RefreshToken: "rotated-refresh",
			ExpiresAt:    time.Now().Add(time.Hour),
		},
	}
	m := NewTokenManager(repo)

	account := expiringAccount(time.Minute)
	account.Provider = domain.ProviderOutlook
	if err := m.Refresh(context.Background(), provider, account); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if repo.refreshToken != "rotated-refresh" {
		t.Errorf("persisted refresh token = %q, want rotated-refresh", repo.refreshToken)
	}
	if account.RefreshToken != "rotated-refresh" {
		t.Errorf("account refresh token = %q, want rotated-refresh", account.RefreshToken)
	}
}

func TestRefresh_FailureMarksAccountForReauth(t *testing.T) {
	repo := &stubAccountRepo{}
	provider := &stubProvider{name: domain.ProviderGmail, err: errors.New("invalid_grant")}
	m := NewTokenManager(repo)

	account := expiringAccount(time.Minute)
	err := m.Refresh(context.Background(), provider, account)
	if !apperr.IsCode(err, apperr.CodeTokenExpired) {
		t.Fatalf("Refresh() error = %v, want code %s", err, apperr.CodeTokenExpired)
	}

	if repo.lastStatus != domain.AccountStatusError {
		t.Errorf("account status = %s, want ERROR", repo.lastStatus)
	}
	if repo.lastError != "Token expired - need to re-authenticate" {
		t.Errorf("account error = %q", repo.lastError)
	}
	if account.SyncStatus != domain.AccountStatusError {
		t.Errorf("in-memory status = %s, want ERROR", account.SyncStatus)
	}
}

func TestEnsureFresh_NoRefreshTokenFailsFast(t *testing.T) {
	repo := &stubAccountRepo{}
	provider := &stubProvider{name: domain.ProviderGmail}
	m := NewTokenManager(repo)

	account := expiringAccount(time.Minute)
	account.RefreshToken = ""
	err := m.EnsureFresh(context.Background(), provider, account)
	if !apperr.IsCode(err, apperr.CodeTokenExpired) {
		t.Fatalf("EnsureFresh() error = %v, want code %s", err, apperr.CodeTokenExpired)
	}
	if provider.refreshed != 0 {
		t.Errorf("refreshed = %d, want 0 with no refresh token", provider.refreshed)
	}
}
