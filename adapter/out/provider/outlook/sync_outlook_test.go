package outlook

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/apperr"
)

func testAdapter(serverURL string) *Adapter {
	return NewAdapter(&Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		BaseURL:      serverURL,
		TokenURL:     serverURL + "/token",
	})
}

func testAccount() *domain.EmailAccount {
	return &domain.EmailAccount{
		ID:           1,
		EmailAddress: "me@outlook.com",
		Provider:     domain.ProviderOutlook,
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
	}
}

func graphPage(serverURL, path string, ids []string, skipToken string) string {
	items := ""
	for i, id := range ids {
		if i > 0 {
			items += ","
		}
		items += fmt.Sprintf(`{
			"id": %q,
			"conversationId": "conv-1",
			"subject": "Subject %s",
			"from": {"emailAddress": {"name": "Alice", "address": "alice@example.com"}},
			"toRecipients": [{"emailAddress": {"address": "me@outlook.com"}}],
			"receivedDateTime": "2023-06-15T10:30:00Z",
			"isRead": false
		}`, id, id)
	}
	next := ""
	if skipToken != "" {
		next = fmt.Sprintf(`, "@odata.nextLink": "%s%s?$skiptoken=%s"`, serverURL, path, skipToken)
	}
	return fmt.Sprintf(`{"@odata.count": 3, "value": [%s]%s}`, items, next)
}

func TestFetchPage_MainMailboxThenArchive(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer access-token" {
			t.Errorf("Authorization = %q", got)
		}

		switch r.URL.Path {
		case "/me/messages":
			if r.URL.Query().Get("$skiptoken") == "" {
				fmt.Fprint(w, graphPage(server.URL, "/me/messages", []string{"m1", "m2"}, "tok2"))
			} else {
				fmt.Fprint(w, graphPage(server.URL, "/me/messages", []string{"m3"}, ""))
			}
		case "/me/mailFolders/archive/messages":
			fmt.Fprint(w, graphPage(server.URL, "/me/mailFolders/archive/messages", []string{"a1"}, ""))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	adapter := testAdapter(server.URL)
	account := testAccount()
	ctx := context.Background()

	// Page 1: main mailbox.
	page, err := adapter.FetchPage(ctx, account, &out.MailQuery{PageSize: 2})
	if err != nil {
		t.Fatalf("FetchPage(1) error = %v", err)
	}
	if len(page.Messages) != 2 {
		t.Fatalf("page 1 messages = %d, want 2", len(page.Messages))
	}
	if page.NextPageToken != "tok2" {
		t.Errorf("page 1 token = %q, want tok2", page.NextPageToken)
	}
	if page.TotalEstimate != 3 {
		t.Errorf("TotalEstimate = %d, want 3", page.TotalEstimate)
	}

	msg := page.Messages[0]
	if msg.MessageID != "m1" {
		t.Errorf("MessageID = %q", msg.MessageID)
	}
	if msg.From != "Alice <alice@example.com>" {
		t.Errorf("From = %q", msg.From)
	}
	if !msg.IsUnread {
		t.Error("IsUnread = false, want true for isRead=false")
	}

	// Page 2: end of main mailbox hands off to the archive.
	page, err = adapter.FetchPage(ctx, account, &out.MailQuery{PageSize: 2, PageToken: "tok2"})
	if err != nil {
		t.Fatalf("FetchPage(2) error = %v", err)
	}
	if page.NextPageToken != "archive:" {
		t.Errorf("page 2 token = %q, want archive handoff", page.NextPageToken)
	}

	// Page 3: archive.
	page, err = adapter.FetchPage(ctx, account, &out.MailQuery{PageSize: 2, PageToken: "archive:"})
	if err != nil {
		t.Fatalf("FetchPage(3) error = %v", err)
	}
	if len(page.Messages) != 1 || page.Messages[0].MessageID != "a1" {
		t.Fatalf("archive page = %+v", page.Messages)
	}
	if page.NextPageToken != "" {
		t.Errorf("archive end token = %q, want empty", page.NextPageToken)
	}
}

func TestFetchPage_MissingArchiveFolderIsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	adapter := testAdapter(server.URL)
	page, err := adapter.FetchPage(context.Background(), testAccount(), &out.MailQuery{PageToken: "archive:"})
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	if len(page.Messages) != 0 || page.NextPageToken != "" {
		t.Errorf("page = %+v, want empty terminal page", page)
	}
}

func TestFetchPage_UnauthorizedMapsToTokenExpired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	adapter := testAdapter(server.URL)
	_, err := adapter.FetchPage(context.Background(), testAccount(), &out.MailQuery{})
	if !apperr.IsCode(err, apperr.CodeTokenExpired) {
		t.Errorf("FetchPage() error = %v, want code %s", err, apperr.CodeTokenExpired)
	}
}

func TestFetchPage_RateLimitMapsToRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	adapter := testAdapter(server.URL)
	_, err := adapter.FetchPage(context.Background(), testAccount(), &out.MailQuery{})
	if !apperr.IsCode(err, apperr.CodeRateLimited) {
		t.Errorf("FetchPage() error = %v, want code %s", err, apperr.CodeRateLimited)
	}
}

func TestRefreshToken_RotatesRefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			t.Errorf("path = %s, want /token", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm() error = %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != "refresh-token" {
			t.Errorf("refresh_token = %q", got)
		}
		fmt.Fprint(w, `{"access_token": "new-access", "refresh_token": "new-refresh", "expires_in": 1800}`)
	}))
	defer server.Close()

	adapter := testAdapter(server.URL)
	tokens, err := adapter.RefreshToken(context.Background(), testAccount())
	if err != nil {
		t.Fatalf("RefreshToken() error = %v", err)
	}

	if tokens.AccessToken != "new-access" {
		t.Errorf("AccessToken = %q", tokens.AccessToken)
	}
	if tokens.RefreshToken != "new-refresh" {
		t.Errorf("RefreshToken = %q, rotation not surfaced", tokens.RefreshToken)
	}
	wantExpiry := time.Now().Add(30 * time.Minute)
	if diff := tokens.ExpiresAt.Sub(wantExpiry); diff < -time.Minute || diff > time.Minute {
		t.Errorf("ExpiresAt = %v, want about %v", tokens.ExpiresAt, wantExpiry)
	}
}

func TestListFolders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me/mailFolders" {
			t.Errorf("path = %s, want /me/mailFolders", r.URL.Path)
		}
		fmt.Fprint(w, `{"value": [
			{"id": "f1", "displayName": "Inbox"},
			{"id": "f2", "displayName": "Receipts"}
		]}`)
	}))
	defer server.Close()

	adapter := testAdapter(server.URL)
	folders, err := adapter.ListFolders(context.Background(), testAccount())
	if err != nil {
		t.Fatalf("ListFolders() error = %v", err)
	}
	if len(folders) != 2 {
		t.Fatalf("folders = %d, want 2", len(folders))
	}
	if folders[1].ID != "f2" || folders[1].Name != "Receipts" {
		t.Errorf("folders[1] = %+v", folders[1])
	}
}

func TestCreateFolder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/me/mailFolders" {
			t.Errorf("%s %s, want POST /me/mailFolders", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": "f9", "displayName": "Receipts"}`)
	}))
	defer server.Close()

	adapter := testAdapter(server.URL)
	folder, err := adapter.CreateFolder(context.Background(), testAccount(), "Receipts")
	if err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	if folder.ID != "f9" || folder.Name != "Receipts" {
		t.Errorf("folder = %+v", folder)
	}
}

func TestMoveMessages(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": "moved"}`)
	}))
	defer server.Close()

	adapter := testAdapter(server.URL)
	err := adapter.MoveMessages(context.Background(), testAccount(), "f9", []string{"m1", "m2"})
	if err != nil {
		t.Fatalf("MoveMessages() error = %v", err)
	}
	want := []string{"POST /me/messages/m1/move", "POST /me/messages/m2/move"}
	if len(paths) != len(want) {
		t.Fatalf("calls = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestMoveMessages_UnauthorizedMapsToTokenExpired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	adapter := testAdapter(server.URL)
	err := adapter.MoveMessages(context.Background(), testAccount(), "f9", []string{"m1"})
	if !apperr.IsCode(err, apperr.CodeTokenExpired) {
		t.Errorf("MoveMessages() error = %v, want code %s", err, apperr.CodeTokenExpired)
	}
}

func TestRefreshToken_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": "invalid_grant"}`)
	}))
	defer server.Close()

	adapter := testAdapter(server.URL)
	_, err := adapter.RefreshToken(context.Background(), testAccount())
	if !apperr.IsCode(err, apperr.CodeProviderError) {
		t.Errorf("RefreshToken() error = %v, want code %s", err, apperr.CodeProviderError)
	}
}
