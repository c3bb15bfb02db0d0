// Package outlook provides the Microsoft Graph mail adapter.
package outlook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/httputil"
)

const (
	defaultGraphBaseURL = "https://graph.microsoft.com/v1.0"
	defaultTokenURL     = "https://login.microsoftonline.com/common/oauth2/v2.0/token"

	// archivePrefix marks page tokens that continue into the archive
	// folder once the main mailbox is exhausted.
	archivePrefix = "archive:"

	selectFields = "id,conversationId,subject,from,toRecipients,receivedDateTime,isRead"
)

// Adapter implements out.MailProvider for Outlook via the Graph API.
// The raw HTTP client keeps the wire format visible and testable; the
// Graph SDK buys nothing for two endpoints.
type Adapter struct {
	clientID     string
	clientSecret string
	baseURL      string
	tokenURL     string
	client       *http.Client
}

var _ out.MailProvider = (*Adapter)(nil)

// Config holds the Microsoft OAuth client credentials. BaseURL and
// TokenURL default to the public Graph endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	TokenURL     string
}

func NewAdapter(cfg *Config) *Adapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	return &Adapter{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		baseURL:      baseURL,
		tokenURL:     tokenURL,
		client:       httputil.OutlookClient(),
	}
}

func (a *Adapter) Name() domain.Provider {
	return domain.ProviderOutlook
}

// FetchPage walks the main mailbox first, then the archive folder.
// The handoff rides in the page token: when the main listing runs out
// the returned token carries archivePrefix, and every archive page
// token keeps it.
func (a *Adapter) FetchPage(ctx context.Context, account *domain.EmailAccount, query *out.MailQuery) (*out.MailPage, error) {
	archive := strings.HasPrefix(query.PageToken, archivePrefix)
	pageToken := strings.TrimPrefix(query.PageToken, archivePrefix)

	endpoint := a.listURL(archive, pageToken, query)

	var resp struct {
		Value    []graphMessage `json:"value"`
		NextLink string         `json:"@odata.nextLink"`
		Count    int64          `json:"@odata.count"`
	}
	if err := a.get(ctx, account, endpoint, &resp); err != nil {
		// Not every mailbox has an archive folder.
		if archive && apperr.IsCode(err, apperr.CodeNotFound) {
			return &out.MailPage{}, nil
		}
		return nil, err
	}

	page := &out.MailPage{
		TotalEstimate: resp.Count,
		Messages:      make([]out.MailMessage, 0, len(resp.Value)),
	}
	for _, m := range resp.Value {
		page.Messages = append(page.Messages, convertMessage(&m))
	}

	switch {
	case resp.NextLink != "":
		token := extractSkipToken(resp.NextLink)
		if archive {
			token = archivePrefix + token
		}
		page.NextPageToken = token
	case !archive:
		// Main mailbox done, continue into the archive.
		page.NextPageToken = archivePrefix
	}

	return page, nil
}

// RefreshToken exchanges the refresh token at the Microsoft identity
// endpoint. Microsoft rotates refresh tokens; the new one is returned
// for persisting.
func (a *Adapter) RefreshToken(ctx context.Context, account *domain.EmailAccount) (*out.TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", account.RefreshToken)
	form.Set("client_id", a.clientID)
	form.Set("client_secret", a.clientSecret)
	form.Set("scope", "https://graph.microsoft.com/Mail.ReadWrite offline_access")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, apperr.ProviderError("OUTLOOK", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := a.client.Do(req)
	if err != nil {
		return nil, apperr.ProviderError("OUTLOOK", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, apperr.ProviderError("OUTLOOK",
			fmt.Errorf("token endpoint returned %d: %s", httpResp.StatusCode, body))
	}

	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&tokenResp); err != nil {
		return nil, apperr.ProviderError("OUTLOOK", err)
	}

	expiresIn := tokenResp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}

	return &out.TokenSet{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

// ListFolders lists the account's mail folders.
func (a *Adapter) ListFolders(ctx context.Context, account *domain.EmailAccount) ([]domain.MailFolder, error) {
	var resp struct {
		Value []graphFolder `json:"value"`
	}
	endpoint := a.baseURL + "/me/mailFolders?" + url.Values{"$top": {"100"}}.Encode()
	if err := a.get(ctx, account, endpoint, &resp); err != nil {
		return nil, err
	}

	folders := make([]domain.MailFolder, 0, len(resp.Value))
	for _, f := range resp.Value {
		folders = append(folders, domain.MailFolder{ID: f.ID, Name: f.DisplayName})
	}
	return folders, nil
}

// CreateFolder creates a top-level mail folder.
func (a *Adapter) CreateFolder(ctx context.Context, account *domain.EmailAccount, name string) (*domain.MailFolder, error) {
	var created graphFolder
	err := a.post(ctx, account, a.baseURL+"/me/mailFolders",
		map[string]string{"displayName": name}, &created)
	if err != nil {
		return nil, err
	}
	return &domain.MailFolder{ID: created.ID, Name: created.DisplayName}, nil
}

// MoveMessages moves each message into the folder. Graph has no batch
// move, so this is one call per message.
func (a *Adapter) MoveMessages(ctx context.Context, account *domain.EmailAccount, folderID string, messageIDs []string) error {
	for _, id := range messageIDs {
		endpoint := a.baseURL + "/me/messages/" + url.PathEscape(id) + "/move"
		if err := a.post(ctx, account, endpoint, map[string]string{"destinationId": folderID}, nil); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Graph wire format
// =============================================================================

type graphFolder struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type graphMessage struct {
	ID               string         `json:"id"`
	ConversationID   string         `json:"conversationId"`
	Subject          string         `json:"subject"`
	From             graphRecipient `json:"from"`
	ToRecipients     []graphRecipient `json:"toRecipients"`
	ReceivedDateTime string         `json:"receivedDateTime"`
	IsRead           bool           `json:"isRead"`
}

type graphRecipient struct {
	EmailAddress struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"emailAddress"`
}

func (r graphRecipient) header() string {
	addr := r.EmailAddress.Address
	if addr == "" {
		return ""
	}
	if r.EmailAddress.Name != "" {
		return fmt.Sprintf("%s <%s>", r.EmailAddress.Name, addr)
	}
	return addr
}

func convertMessage(m *graphMessage) out.MailMessage {
	msg := out.MailMessage{
		MessageID: m.ID,
		ThreadID:  m.ConversationID,
		From:      m.From.header(),
		Subject:   m.Subject,
		Date:      m.ReceivedDateTime,
		IsUnread:  !m.IsRead,
	}
	if len(m.ToRecipients) > 0 {
		msg.To = m.ToRecipients[0].header()
	}
	return msg
}

func (a *Adapter) listURL(archive bool, pageToken string, query *out.MailQuery) string {
	path := "/me/messages"
	if archive {
		path = "/me/mailFolders/archive/messages"
	}

	params := url.Values{}
	params.Set("$select", selectFields)
	params.Set("$orderby", "receivedDateTime desc")
	params.Set("$count", "true")
	if query.PageSize > 0 {
		params.Set("$top", fmt.Sprintf("%d", query.PageSize))
	}
	if pageToken != "" {
		params.Set("$skiptoken", pageToken)
	}

	var filters []string
	if !query.Since.IsZero() {
		filters = append(filters, "receivedDateTime ge "+query.Since.UTC().Format(time.RFC3339))
	}
	if !query.Until.IsZero() {
		filters = append(filters, "receivedDateTime lt "+query.Until.UTC().Format(time.RFC3339))
	}
	if len(filters) > 0 {
		params.Set("$filter", strings.Join(filters, " and "))
	}

	return a.baseURL + path + "?" + params.Encode()
}

func (a *Adapter) get(ctx context.Context, account *domain.EmailAccount, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return apperr.ProviderError("OUTLOOK", err)
	}
	req.Header.Set("ConsistencyLevel", "eventual")
	return a.send(req, account, v)
}

func (a *Adapter) post(ctx context.Context, account *domain.EmailAccount, endpoint string, body any, v any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apperr.ProviderError("OUTLOOK", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return apperr.ProviderError("OUTLOOK", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return a.send(req, account, v)
}

// send runs one authenticated Graph call and maps the status to an
// application code. v may be nil when the response body is not needed.
func (a *Adapter) send(req *http.Request, account *domain.EmailAccount, v any) error {
	req.Header.Set("Authorization", "Bearer "+account.AccessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return apperr.ProviderError("OUTLOOK", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		io.Copy(io.Discard, resp.Body)
		return apperr.TokenExpired(account.EmailAddress)
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return apperr.RateLimited("OUTLOOK")
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return apperr.NotFound("graph resource")
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperr.ProviderError("OUTLOOK",
			fmt.Errorf("graph returned %d: %s", resp.StatusCode, body))
	}

	if v == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// extractSkipToken pulls the $skiptoken value out of an
// @odata.nextLink URL.
func extractSkipToken(nextLink string) string {
	u, err := url.Parse(nextLink)
	if err != nil {
		return ""
	}
	if token := u.Query().Get("$skiptoken"); token != "" {
		return token
	}
	return u.Query().Get("$skipToken")
}
