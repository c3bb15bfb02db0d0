package sync

import (
	"regexp"
	"strings"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/snowflake"
)

// addressPattern extracts the address from "Display Name <user@host>".
var addressPattern = regexp.MustCompile(`<([^>]+)>`)

// parseAddress splits a raw From/To header into address and display
// name. The address is lowercased; a header without angle brackets is
// taken as a bare address, and anything unparseable is kept whole so
// nothing is silently dropped.
func parseAddress(header string) (email, name string) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ""
	}

	if m := addressPattern.FindStringSubmatch(header); m != nil {
		email = strings.ToLower(strings.TrimSpace(m[1]))
		name = strings.TrimSpace(header[:strings.Index(header, "<")])
		name = strings.Trim(name, `"`)
		return email, name
	}

	return strings.ToLower(header), ""
}

// dateLayouts are tried in order when parsing a Date header.
var dateLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
	"2006-01-02T15:04:05",
}

// parseDate parses a Date header, falling back to the current time
// when no layout matches. A bad date must not drop the message.
func parseDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Now()
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Now()
}

// convertMessage maps one provider message to a metadata row for the
// given account.
func convertMessage(account *domain.EmailAccount, msg out.MailMessage) *domain.EmailMetadata {
	senderEmail, senderName := parseAddress(msg.From)
	recipientEmail, _ := parseAddress(msg.To)

	return &domain.EmailMetadata{
		ID:             snowflake.ID(),
		AccountID:      account.ID,
		MessageID:      msg.MessageID,
		ThreadID:       msg.ThreadID,
		SenderEmail:    senderEmail,
		SenderName:     senderName,
		RecipientEmail: recipientEmail,
		Subject:        msg.Subject,
		ReceivedAt:     parseDate(msg.Date),
		IsRead:         !msg.IsUnread,
		IsFromMe:       account.OwnsMessageFrom(senderEmail),
		InReplyTo:      msg.InReplyTo,
		SyncedAt:       time.Now(),
	}
}
