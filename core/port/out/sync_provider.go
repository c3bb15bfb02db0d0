package out

import (
	"context"
	"time"

	"mailsync_server/core/domain"
)

// =============================================================================
// Mail Provider Port (Gmail, Outlook)
// =============================================================================

// MailProvider is the capability interface a provider adapter
// implements. The engine dispatches through a registry keyed by
// Name(); adding a provider means adding an adapter, not a branch.
type MailProvider interface {
	Name() domain.Provider

	// FetchPage lists one page of message headers. An empty PageToken
	// means the first page. The adapter maps a provider-side expired
	// credential to apperr.CodeTokenExpired so the caller can refresh
	// and retry exactly once.
	FetchPage(ctx context.Context, account *domain.EmailAccount, query *MailQuery) (*MailPage, error)

	// RefreshToken exchanges the account's refresh token for a new
	// access token. Providers that rotate refresh tokens return the
	// new one in the TokenSet; otherwise RefreshToken is empty and
	// the stored one stays valid.
	RefreshToken(ctx context.Context, account *domain.EmailAccount) (*TokenSet, error)

	// ListFolders lists the account's folders (labels on Gmail).
	ListFolders(ctx context.Context, account *domain.EmailAccount) ([]domain.MailFolder, error)

	// CreateFolder creates a folder with the given display name and
	// returns it.
	CreateFolder(ctx context.Context, account *domain.EmailAccount, name string) (*domain.MailFolder, error)

	// MoveMessages moves the messages into the folder. On Gmail this
	// applies the label and archives out of the inbox. An expired
	// credential maps to apperr.CodeTokenExpired, same as FetchPage.
	MoveMessages(ctx context.Context, account *domain.EmailAccount, folderID string, messageIDs []string) error
}

// MailQuery selects what one FetchPage call lists. Since and Until
// bound the query by received date when non-zero; incremental runs set
// Since to the account's last successful sync.
type MailQuery struct {
	PageToken string
	PageSize  int64
	Since     time.Time
	Until     time.Time
}

// MailPage is one page of a mailbox listing.
type MailPage struct {
	Messages      []MailMessage
	NextPageToken string

	// TotalEstimate is the provider's estimate of total matching
	// messages, reported on the first page only. Zero when unknown.
	TotalEstimate int64
}

// MailMessage carries raw header values; the engine owns parsing.
type MailMessage struct {
	MessageID string
	ThreadID  string

	// Raw header values as the provider returned them.
	From      string
	To        string
	Subject   string
	Date      string
	InReplyTo string

	IsUnread bool
}

// TokenSet is the result of a token refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string // non-empty only when the provider rotated it
	ExpiresAt    time.Time
}
