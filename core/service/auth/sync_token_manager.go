package auth

import (
	"context"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/logger"
)

// RefreshWindow is how close to expiry a token gets before we refresh
// it proactively, instead of waiting for the provider to reject it
// mid-page.
const RefreshWindow = 5 * time.Minute

const reauthMessage = "Token expired - need to re-authenticate"

// TokenManager owns the OAuth token lifecycle for mailbox accounts.
// Provider adapters do the wire exchange; this persists the result and
// keeps the account's credential health in sync.
type TokenManager struct {
	accounts out.AccountRepository
}

func NewTokenManager(accounts out.AccountRepository) *TokenManager {
	return &TokenManager{accounts: accounts}
}

// EnsureFresh refreshes the account's access token when it expires
// within RefreshWindow. The account is mutated in place so the caller
// keeps using it without a re-read.
func (m *TokenManager) EnsureFresh(ctx context.Context, provider out.MailProvider, account *domain.EmailAccount) error {
	if !account.TokenExpiringWithin(RefreshWindow) {
		return nil
	}
	if !account.HasRefreshToken() {
		return m.markExpired(ctx, account, nil)
	}
	logger.Info("[TokenManager] Access token for %s expires soon, refreshing", account.EmailAddress)
	return m.Refresh(ctx, provider, account)
}

// Refresh forces a token exchange and persists the new credentials.
// Providers that rotate refresh tokens get the rotated one stored;
// otherwise the existing refresh token stays.
func (m *TokenManager) Refresh(ctx context.Context, provider out.MailProvider, account *domain.EmailAccount) error {
	if !account.HasRefreshToken() {
		return m.markExpired(ctx, account, nil)
	}

	tokens, err := provider.RefreshToken(ctx, account)
	if err != nil {
		logger.Error("[TokenManager] Refresh failed for %s: %v", account.EmailAddress, err)
		return m.markExpired(ctx, account, err)
	}

	refreshToken := account.RefreshToken
	if tokens.RefreshToken != "" {
		refreshToken = tokens.RefreshToken
	}

	if err := m.accounts.UpdateTokens(ctx, account.ID, tokens.AccessToken, refreshToken, tokens.ExpiresAt); err != nil {
		return apperr.DatabaseError("update tokens", err)
	}

	account.AccessToken = tokens.AccessToken
	account.RefreshToken = refreshToken
	account.TokenExpiresAt = tokens.ExpiresAt
	account.LastSyncError = ""

	// A successful refresh clears any prior credential error.
	if account.SyncStatus == domain.AccountStatusError {
		account.SyncStatus = domain.AccountStatusSynced
		if err := m.accounts.UpdateSyncStatus(ctx, account.ID, domain.AccountStatusSynced, ""); err != nil {
			logger.Warn("[TokenManager] Failed to clear error status for %s: %v", account.EmailAddress, err)
		}
	}

	logger.Info("[TokenManager] Refreshed token for %s, expires %s", account.EmailAddress, tokens.ExpiresAt.Format(time.RFC3339))
	return nil
}

func (m *TokenManager) markExpired(ctx context.Context, account *domain.EmailAccount, cause error) error {
	account.SyncStatus = domain.AccountStatusError
	account.LastSyncError = reauthMessage
	if err := m.accounts.UpdateSyncStatus(ctx, account.ID, domain.AccountStatusError, reauthMessage); err != nil {
		logger.Warn("[TokenManager] Failed to mark %s as expired: %v", account.EmailAddress, err)
	}
	appErr := apperr.TokenExpired(account.EmailAddress)
	if cause != nil {
		return appErr.WithError(cause)
	}
	return appErr
}
