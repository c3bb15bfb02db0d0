package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Provider identifies a mail provider.
type Provider string

const (
	ProviderGmail   Provider = "GMAIL"
	ProviderOutlook Provider = "OUTLOOK"
)

// Valid reports whether the provider is one we can sync.
func (p Provider) Valid() bool {
	return p == ProviderGmail || p == ProviderOutlook
}

// ParseProvider normalizes a provider string.
func ParseProvider(s string) Provider {
	return Provider(strings.ToUpper(strings.TrimSpace(s)))
}

// AccountSyncStatus tracks the health of an account's credentials and
// its last sync attempt.
type AccountSyncStatus string

const (
	AccountStatusPending AccountSyncStatus = "PENDING"
	AccountStatusSynced  AccountSyncStatus = "SYNCED"
	AccountStatusSyncing AccountSyncStatus = "SYNCING"
	AccountStatusError   AccountSyncStatus = "ERROR"
)

// EmailAccount is a connected mailbox belonging to a user.
type EmailAccount struct {
	ID           int64     `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	EmailAddress string    `json:"email_address"`
	Provider     Provider  `json:"provider"`

	// OAuth credentials. Tokens are encrypted at rest; in memory they
	// are plaintext.
	AccessToken    string    `json:"-"`
	RefreshToken   string    `json:"-"`
	TokenExpiresAt time.Time `json:"token_expires_at,omitempty"`

	SyncStatus    AccountSyncStatus `json:"sync_status"`
	LastSyncAt    time.Time         `json:"last_sync_at,omitempty"`
	LastSyncError string            `json:"last_sync_error,omitempty"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TokenExpiringWithin reports whether the access token expires inside
// the given window. A zero expiry is treated as not expiring.
func (a *EmailAccount) TokenExpiringWithin(window time.Duration) bool {
	if a.TokenExpiresAt.IsZero() {
		return false
	}
	return a.TokenExpiresAt.Before(time.Now().Add(window))
}

// HasRefreshToken reports whether a refresh is even possible.
func (a *EmailAccount) HasRefreshToken() bool {
	return a.RefreshToken != ""
}

// OwnsMessageFrom reports whether a message sender is the account
// holder. Comparison is case-insensitive.
func (a *EmailAccount) OwnsMessageFrom(senderEmail string) bool {
	return strings.EqualFold(senderEmail, a.EmailAddress)
}
