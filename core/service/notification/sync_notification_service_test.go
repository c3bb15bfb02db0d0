package notification

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"mailsync_server/core/domain"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/snowflake"
)

func init() {
	_ = snowflake.Init(1)
}

// =============================================================================
// In-memory fakes
// =============================================================================

type memNotificationRepo struct {
	notifications map[int64]*domain.Notification
}

func newMemNotificationRepo() *memNotificationRepo {
	return &memNotificationRepo{notifications: make(map[int64]*domain.Notification)}
}

func (r *memNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	cp := *n
	r.notifications[n.ID] = &cp
	return nil
}

func (r *memNotificationRepo) GetByID(ctx context.Context, id int64) (*domain.Notification, error) {
	n, ok := r.notifications[id]
	if !ok {
		return nil, apperr.NotFound("notification")
	}
	cp := *n
	return &cp, nil
}

func (r *memNotificationRepo) List(ctx context.Context, filter *domain.NotificationFilter) ([]*domain.Notification, int, error) {
	var result []*domain.Notification
	for _, n := range r.notifications {
		if n.UserID != filter.UserID {
			continue
		}
		if filter.IsRead != nil && n.IsRead != *filter.IsRead {
			continue
		}
		if filter.Type != nil && n.Type != *filter.Type {
			continue
		}
		cp := *n
		result = append(result, &cp)
	}
	return result, len(result), nil
}

func (r *memNotificationRepo) MarkAsRead(ctx context.Context, id int64, userID uuid.UUID) error {
	n, ok := r.notifications[id]
	if !ok || n.UserID != userID {
		return apperr.NotFound("notification")
	}
	n.IsRead = true
	return nil
}

func (r *memNotificationRepo) MarkAllAsRead(ctx context.Context, userID uuid.UUID) error {
	for _, n := range r.notifications {
		if n.UserID == userID {
			n.IsRead = true
		}
	}
	return nil
}

func (r *memNotificationRepo) Delete(ctx context.Context, id int64, userID uuid.UUID) error {
	n, ok := r.notifications[id]
	if !ok || n.UserID != userID {
		return apperr.NotFound("notification")
	}
	delete(r.notifications, id)
	return nil
}

func (r *memNotificationRepo) CountUnread(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	for _, n := range r.notifications {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

type capturingRealtime struct {
	events []*domain.RealtimeEvent
}

func (r *capturingRealtime) Subscribe(userID string) <-chan *domain.RealtimeEvent { return nil }
func (r *capturingRealtime) Unsubscribe(userID string, ch <-chan *domain.RealtimeEvent) {
}

func (r *capturingRealtime) Push(ctx context.Context, userID string, event *domain.RealtimeEvent) error {
	r.events = append(r.events, event)
	return nil
}

func (r *capturingRealtime) Broadcast(ctx context.Context, event *domain.RealtimeEvent) error {
	r.events = append(r.events, event)
	return nil
}

func (r *capturingRealtime) ConnectedCount() int           { return 0 }
func (r *capturingRealtime) IsConnected(userID string) bool { return false }

// =============================================================================
// Tests
// =============================================================================

func TestSendAssignsIDAndPushes(t *testing.T) {
	repo := newMemNotificationRepo()
	realtime := &capturingRealtime{}
	svc := NewService(repo, realtime)

	userID := uuid.New()
	n := &domain.Notification{
		UserID:  userID,
		Type:    domain.NotificationSyncComplete,
		Title:   "Sync Complete",
		Message: "done",
	}
	if err := svc.Send(context.Background(), n); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if n.ID == 0 {
		t.Error("expected generated notification ID")
	}
	if n.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be stamped")
	}
	if len(repo.notifications) != 1 {
		t.Fatalf("expected 1 stored notification, got %d", len(repo.notifications))
	}
	if len(realtime.events) != 1 {
		t.Fatalf("expected 1 pushed event, got %d", len(realtime.events))
	}
	if realtime.events[0].Type != domain.EventNotification {
		t.Errorf("expected %s event, got %s", domain.EventNotification, realtime.events[0].Type)
	}
	if realtime.events[0].UserID != userID.String() {
		t.Errorf("event targeted %s, want %s", realtime.events[0].UserID, userID.String())
	}
}

func TestNotifySyncComplete(t *testing.T) {
	repo := newMemNotificationRepo()
	svc := NewService(repo, nil)

	job := &domain.SyncJob{
		ID:                 42,
		UserID:             uuid.New(),
		TotalEmailsSynced:  120,
		TotalEmailsSkipped: 7,
		TotalAccounts:      2,
	}
	if err := svc.NotifySyncComplete(context.Background(), job); err != nil {
		t.Fatalf("NotifySyncComplete: %v", err)
	}

	var stored *domain.Notification
	for _, n := range repo.notifications {
		stored = n
	}
	if stored == nil {
		t.Fatal("no notification stored")
	}
	if stored.Title != "Sync Complete" {
		t.Errorf("title = %q", stored.Title)
	}
	want := "Successfully synced 120 emails from 2 accounts. 7 emails were already synced."
	if stored.Message != want {
		t.Errorf("message = %q, want %q", stored.Message, want)
	}
	if stored.ActionURL != "/analytics" {
		t.Errorf("action url = %q", stored.ActionURL)
	}
	if stored.RelatedJobID != 42 {
		t.Errorf("related job = %d", stored.RelatedJobID)
	}
}

func TestNotifySyncFailed(t *testing.T) {
	repo := newMemNotificationRepo()
	svc := NewService(repo, nil)

	job := &domain.SyncJob{
		ID:           7,
		UserID:       uuid.New(),
		ErrorMessage: "provider unavailable",
	}
	if err := svc.NotifySyncFailed(context.Background(), job); err != nil {
		t.Fatalf("NotifySyncFailed: %v", err)
	}

	var stored *domain.Notification
	for _, n := range repo.notifications {
		stored = n
	}
	if stored == nil {
		t.Fatal("no notification stored")
	}
	if stored.Title != "Sync Failed" {
		t.Errorf("title = %q", stored.Title)
	}
	if stored.Message != "Sync failed: provider unavailable" {
		t.Errorf("message = %q", stored.Message)
	}
	if stored.ActionURL != "/analytics" {
		t.Errorf("action URL = %q, want /analytics on failure too", stored.ActionURL)
	}
}

func TestUnreadCountAndMarkRead(t *testing.T) {
	repo := newMemNotificationRepo()
	svc := NewService(repo, nil)
	userID := uuid.New()

	for i := 0; i < 3; i++ {
		if err := svc.Send(context.Background(), &domain.Notification{
			UserID: userID,
			Type:   domain.NotificationSyncComplete,
		}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	count, err := svc.GetUnreadCount(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetUnreadCount: %v", err)
	}
	if count != 3 {
		t.Errorf("unread = %d, want 3", count)
	}

	if err := svc.MarkAllAsRead(context.Background(), userID); err != nil {
		t.Fatalf("MarkAllAsRead: %v", err)
	}

	count, err = svc.GetUnreadCount(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetUnreadCount: %v", err)
	}
	if count != 0 {
		t.Errorf("unread after mark all = %d, want 0", count)
	}
}

func TestNoRepoIsNoop(t *testing.T) {
	svc := NewService(nil, nil)
	userID := uuid.New()

	if err := svc.Send(context.Background(), &domain.Notification{UserID: userID}); err != nil {
		t.Fatalf("Send without repo: %v", err)
	}
	count, err := svc.GetUnreadCount(context.Background(), userID)
	if err != nil || count != 0 {
		t.Errorf("GetUnreadCount without repo = %d, %v", count, err)
	}
	if err := svc.MarkAsRead(context.Background(), userID, []int64{1}); err != nil {
		t.Errorf("MarkAsRead without repo: %v", err)
	}
}
