// Package gmail provides the Gmail API adapter.
package gmail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/httputil"
	"mailsync_server/pkg/logger"
)

var metadataHeaders = []string{"From", "To", "Subject", "Date", "In-Reply-To"}

// Adapter implements out.MailProvider for Gmail. All API calls run
// through a circuit breaker so a Google outage sheds load fast
// instead of stalling every sync worker.
type Adapter struct {
	config *oauth2.Config
	cb     *gobreaker.CircuitBreaker
}

var _ out.MailProvider = (*Adapter)(nil)

// Config holds the Gmail OAuth client credentials.
type Config struct {
	ClientID     string
	ClientSecret string
}

func NewAdapter(cfg *Config) *Adapter {
	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailModifyScope},
		Endpoint:     google.Endpoint,
	}

	cbSettings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
		},
	}

	return &Adapter{
		config: config,
		cb:     gobreaker.NewCircuitBreaker(cbSettings),
	}
}

func (a *Adapter) Name() domain.Provider {
	return domain.ProviderGmail
}

// FetchPage lists one page of message IDs and resolves each to its
// metadata headers. Bodies are never fetched.
func (a *Adapter) FetchPage(ctx context.Context, account *domain.EmailAccount, query *out.MailQuery) (*out.MailPage, error) {
	svc, err := a.service(ctx, account)
	if err != nil {
		return nil, apperr.ProviderError("GMAIL", err)
	}

	req := svc.Users.Messages.List("me").Context(ctx)
	if query.PageSize > 0 {
		req = req.MaxResults(query.PageSize)
	}
	if query.PageToken != "" {
		req = req.PageToken(query.PageToken)
	}
	if q := buildQuery(query); q != "" {
		req = req.Q(q)
	}

	listResp, err := a.execute(account, func() (any, error) { return req.Do() })
	if err != nil {
		return nil, err
	}
	list := listResp.(*gmail.ListMessagesResponse)

	page := &out.MailPage{
		NextPageToken: list.NextPageToken,
		TotalEstimate: list.ResultSizeEstimate,
		Messages:      make([]out.MailMessage, 0, len(list.Messages)),
	}

	for _, ref := range list.Messages {
		getReq := svc.Users.Messages.Get("me", ref.Id).
			Format("metadata").
			MetadataHeaders(metadataHeaders...).
			Context(ctx)

		msgResp, err := a.execute(account, func() (any, error) { return getReq.Do() })
		if err != nil {
			return nil, err
		}
		page.Messages = append(page.Messages, convertMessage(msgResp.(*gmail.Message)))
	}

	return page, nil
}

// RefreshToken exchanges the refresh token for a new access token.
// Google does not rotate refresh tokens on this path.
func (a *Adapter) RefreshToken(ctx context.Context, account *domain.EmailAccount) (*out.TokenSet, error) {
	src := a.config.TokenSource(ctx, &oauth2.Token{RefreshToken: account.RefreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, apperr.ProviderError("GMAIL", fmt.Errorf("refresh token: %w", err))
	}

	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(time.Hour)
	}

	tokens := &out.TokenSet{
		AccessToken: token.AccessToken,
		ExpiresAt:   expiresAt,
	}
	if token.RefreshToken != "" && token.RefreshToken != account.RefreshToken {
		tokens.RefreshToken = token.RefreshToken
	}
	return tokens, nil
}

// ListFolders lists the account's labels.
func (a *Adapter) ListFolders(ctx context.Context, account *domain.EmailAccount) ([]domain.MailFolder, error) {
	svc, err := a.service(ctx, account)
	if err != nil {
		return nil, apperr.ProviderError("GMAIL", err)
	}

	resp, err := a.execute(account, func() (any, error) {
		return svc.Users.Labels.List("me").Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}

	list := resp.(*gmail.ListLabelsResponse)
	folders := make([]domain.MailFolder, 0, len(list.Labels))
	for _, l := range list.Labels {
		folders = append(folders, domain.MailFolder{ID: l.Id, Name: l.Name})
	}
	return folders, nil
}

// CreateFolder creates a user label.
func (a *Adapter) CreateFolder(ctx context.Context, account *domain.EmailAccount, name string) (*domain.MailFolder, error) {
	svc, err := a.service(ctx, account)
	if err != nil {
		return nil, apperr.ProviderError("GMAIL", err)
	}

	resp, err := a.execute(account, func() (any, error) {
		return svc.Users.Labels.Create("me", &gmail.Label{
			Name:                  name,
			LabelListVisibility:   "labelShow",
			MessageListVisibility: "show",
		}).Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}

	label := resp.(*gmail.Label)
	return &domain.MailFolder{ID: label.Id, Name: label.Name}, nil
}

// MoveMessages applies the label to the messages and archives them out
// of the inbox, which is what "move" means on Gmail.
func (a *Adapter) MoveMessages(ctx context.Context, account *domain.EmailAccount, folderID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	svc, err := a.service(ctx, account)
	if err != nil {
		return apperr.ProviderError("GMAIL", err)
	}

	_, err = a.execute(account, func() (any, error) {
		err := svc.Users.Messages.BatchModify("me", &gmail.BatchModifyMessagesRequest{
			Ids:            messageIDs,
			AddLabelIds:    []string{folderID},
			RemoveLabelIds: []string{"INBOX"},
		}).Context(ctx).Do()
		return nil, err
	})
	return err
}

func (a *Adapter) service(ctx context.Context, account *domain.EmailAccount) (*gmail.Service, error) {
	// Route API calls through the pooled Gmail client.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httputil.GmailClient())
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: account.AccessToken})
	return gmail.NewService(ctx, option.WithTokenSource(src))
}

// execute runs one API call through the circuit breaker and maps the
// error to an application code.
func (a *Adapter) execute(account *domain.EmailAccount, fn func() (any, error)) (any, error) {
	result, err := a.cb.Execute(fn)
	if err != nil {
		return nil, a.mapError(err, account)
	}
	return result, nil
}

func (a *Adapter) mapError(err error, account *domain.EmailAccount) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return apperr.ProviderError("GMAIL", err)
	}
	if apiErr, ok := err.(*googleapi.Error); ok {
		switch {
		case apiErr.Code == 401:
			return apperr.TokenExpired(account.EmailAddress)
		case apiErr.Code == 429:
			return apperr.RateLimited("GMAIL")
		case apiErr.Code == 403 && strings.Contains(apiErr.Message, "rateLimitExceeded"):
			return apperr.RateLimited("GMAIL")
		}
	}
	return apperr.ProviderError("GMAIL", err)
}

// buildQuery translates date bounds into a Gmail search query using
// epoch seconds.
func buildQuery(query *out.MailQuery) string {
	var parts []string
	if !query.Since.IsZero() {
		parts = append(parts, fmt.Sprintf("after:%d", query.Since.Unix()))
	}
	if !query.Until.IsZero() {
		parts = append(parts, fmt.Sprintf("before:%d", query.Until.Unix()))
	}
	return strings.Join(parts, " ")
}

func convertMessage(msg *gmail.Message) out.MailMessage {
	m := out.MailMessage{
		MessageID: msg.Id,
		ThreadID:  msg.ThreadId,
	}

	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "From":
				m.From = h.Value
			case "To":
				m.To = h.Value
			case "Subject":
				m.Subject = h.Value
			case "Date":
				m.Date = h.Value
			case "In-Reply-To":
				m.InReplyTo = h.Value
			}
		}
	}

	for _, label := range msg.LabelIds {
		if label == "UNREAD" {
			m.IsUnread = true
			break
		}
	}
	return m
}
