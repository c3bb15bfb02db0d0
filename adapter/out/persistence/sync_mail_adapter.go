package persistence

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/apperr"
)

// MailAdapter implements out.MailRepository using PostgreSQL.
type MailAdapter struct {
	db *sqlx.DB
}

var _ out.MailRepository = (*MailAdapter)(nil)

func NewMailAdapter(db *sqlx.DB) *MailAdapter {
	return &MailAdapter{db: db}
}

type mailRow struct {
	ID             int64     `db:"id"`
	AccountID      int64     `db:"account_id"`
	MessageID      string    `db:"message_id"`
	ThreadID       string    `db:"thread_id"`
	SenderEmail    string    `db:"sender_email"`
	SenderName     string    `db:"sender_name"`
	RecipientEmail string    `db:"recipient_email"`
	Subject        string    `db:"subject"`
	ReceivedAt     time.Time `db:"received_at"`
	IsRead         bool      `db:"is_read"`
	IsFromMe       bool      `db:"is_from_me"`
	InReplyTo      string    `db:"in_reply_to"`
	SyncedAt       time.Time `db:"synced_at"`
}

func toMailRow(e *domain.EmailMetadata) mailRow {
	return mailRow{
		ID:             e.ID,
		AccountID:      e.AccountID,
		MessageID:      e.MessageID,
		ThreadID:       e.ThreadID,
		SenderEmail:    e.SenderEmail,
		SenderName:     e.SenderName,
		RecipientEmail: e.RecipientEmail,
		Subject:        e.Subject,
		ReceivedAt:     e.ReceivedAt,
		IsRead:         e.IsRead,
		IsFromMe:       e.IsFromMe,
		InReplyTo:      e.InReplyTo,
		SyncedAt:       e.SyncedAt,
	}
}

// FindExistingMessageIDs checks a whole page of candidate IDs in one
// query.
func (a *MailAdapter) FindExistingMessageIDs(ctx context.Context, accountID int64, messageIDs []string) (map[string]struct{}, error) {
	if len(messageIDs) == 0 {
		return map[string]struct{}{}, nil
	}

	var found []string
	err := a.db.SelectContext(ctx, &found, `
		SELECT message_id FROM email_metadata
		WHERE account_id = $1 AND message_id = ANY($2)`,
		accountID, pq.Array(messageIDs))
	if err != nil {
		return nil, apperr.DatabaseError("find existing messages", err)
	}

	existing := make(map[string]struct{}, len(found))
	for _, id := range found {
		existing[id] = struct{}{}
	}
	return existing, nil
}

// BulkInsert writes one page of metadata in a single statement. The
// unique (account_id, message_id) index plus DO NOTHING makes the
// write safe against concurrent runs; RowsAffected is the actual
// insert count.
func (a *MailAdapter) BulkInsert(ctx context.Context, emails []*domain.EmailMetadata) (int, error) {
	if len(emails) == 0 {
		return 0, nil
	}

	rows := make([]mailRow, 0, len(emails))
	for _, e := range emails {
		rows = append(rows, toMailRow(e))
	}

	res, err := a.db.NamedExecContext(ctx, `
		INSERT INTO email_metadata
			(id, account_id, message_id, thread_id, sender_email, sender_name,
			 recipient_email, subject, received_at, is_read, is_from_me, in_reply_to, synced_at)
		VALUES
			(:id, :account_id, :message_id, :thread_id, :sender_email, :sender_name,
			 :recipient_email, :subject, :received_at, :is_read, :is_from_me, :in_reply_to, :synced_at)
		ON CONFLICT (account_id, message_id) DO NOTHING`, rows)
	if err != nil {
		return 0, apperr.DatabaseError("bulk insert messages", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.DatabaseError("bulk insert messages", err)
	}
	return int(inserted), nil
}

func (a *MailAdapter) CountByAccount(ctx context.Context, accountID int64) (int64, error) {
	var count int64
	err := a.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM email_metadata WHERE account_id = $1`, accountID)
	if err != nil {
		return 0, apperr.DatabaseError("count messages", err)
	}
	return count, nil
}

func (a *MailAdapter) DeleteByAccount(ctx context.Context, accountID int64) error {
	_, err := a.db.ExecContext(ctx,
		`DELETE FROM email_metadata WHERE account_id = $1`, accountID)
	if err != nil {
		return apperr.DatabaseError("delete messages", err)
	}
	return nil
}
