package out

import (
	"context"

	"mailsync_server/core/domain"
)

// MailRepository - synced email metadata store
type MailRepository interface {
	// FindExistingMessageIDs returns, from the given candidate IDs,
	// the ones the account already has. One query per page, not one
	// per message.
	FindExistingMessageIDs(ctx context.Context, accountID int64, messageIDs []string) (map[string]struct{}, error)

	// BulkInsert writes a page of new metadata rows in one statement.
	// Rows that raced in since the dedup check are skipped, and the
	// returned count reflects only what was actually inserted.
	BulkInsert(ctx context.Context, emails []*domain.EmailMetadata) (int, error)

	CountByAccount(ctx context.Context, accountID int64) (int64, error)
	DeleteByAccount(ctx context.Context, accountID int64) error
}
