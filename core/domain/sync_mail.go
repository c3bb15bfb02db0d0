package domain

import (
	"time"
)

// EmailMetadata is one synced message header row. Bodies and
// attachments are never stored; dedup is keyed by (account, message ID).
type EmailMetadata struct {
	ID        int64  `json:"id"`
	AccountID int64  `json:"account_id"`
	MessageID string `json:"message_id"`
	ThreadID  string `json:"thread_id,omitempty"`

	SenderEmail    string `json:"sender_email"`
	SenderName     string `json:"sender_name,omitempty"`
	RecipientEmail string `json:"recipient_email,omitempty"`
	Subject        string `json:"subject,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
	IsRead     bool      `json:"is_read"`
	IsFromMe   bool      `json:"is_from_me"`
	InReplyTo  string    `json:"in_reply_to,omitempty"`

	SyncedAt time.Time `json:"synced_at"`
}

// MailFolder is a provider-side folder, or a label on Gmail.
type MailFolder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
