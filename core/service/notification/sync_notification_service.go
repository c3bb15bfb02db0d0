package notification

import (
	"context"
	"fmt"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/cache"
	"mailsync_server/pkg/snowflake"

	"github.com/google/uuid"
)

const analyticsURL = "/analytics"

const unreadCountTTL = 30 * time.Second

// Service handles notification operations. The repo is optional;
// with no repo nothing is stored but SSE push still works.
type Service struct {
	notificationRepo out.NotificationRepository
	realtime         out.RealtimePort
	cache            *cache.RedisCache
}

// NewService creates a new notification service.
func NewService(notificationRepo out.NotificationRepository, realtime out.RealtimePort) *Service {
	return &Service{
		notificationRepo: notificationRepo,
		realtime:         realtime,
	}
}

// SetCache enables short-lived caching of unread counts.
func (s *Service) SetCache(c *cache.RedisCache) {
	s.cache = c
}

func unreadCountKey(userID uuid.UUID) string {
	return "notification:unread:" + userID.String()
}

func (s *Service) invalidateUnreadCount(ctx context.Context, userID uuid.UUID) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, unreadCountKey(userID))
	}
}

// Send creates and pushes a notification.
func (s *Service) Send(ctx context.Context, notification *domain.Notification) error {
	if notification.ID == 0 {
		notification.ID = snowflake.ID()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now()
	}

	if s.notificationRepo != nil {
		if err := s.notificationRepo.Create(ctx, notification); err != nil {
			return err
		}
		s.invalidateUnreadCount(ctx, notification.UserID)
	}

	if s.realtime != nil {
		event := &domain.RealtimeEvent{
			Type:      domain.EventNotification,
			UserID:    notification.UserID.String(),
			Data:      notification,
			Timestamp: time.Now(),
		}
		if err := s.realtime.Push(ctx, event.UserID, event); err != nil {
			// Delivery is best effort; the stored row is the record.
			return nil
		}
	}

	return nil
}

// NotifySyncComplete notifies the user that a sync run finished.
func (s *Service) NotifySyncComplete(ctx context.Context, job *domain.SyncJob) error {
	return s.Send(ctx, &domain.Notification{
		UserID: job.UserID,
		Type:   domain.NotificationSyncComplete,
		Title:  "Sync Complete",
		Message: fmt.Sprintf("Successfully synced %d emails from %d accounts. %d emails were already synced.",
			job.TotalEmailsSynced, job.TotalAccounts, job.TotalEmailsSkipped),
		ActionURL:    analyticsURL,
		RelatedJobID: job.ID,
	})
}

// NotifySyncFailed notifies the user that a sync run failed.
func (s *Service) NotifySyncFailed(ctx context.Context, job *domain.SyncJob) error {
	return s.Send(ctx, &domain.Notification{
		UserID:       job.UserID,
		Type:         domain.NotificationSyncFailed,
		Title:        "Sync Failed",
		Message:      "Sync failed: " + job.ErrorMessage,
		ActionURL:    analyticsURL,
		RelatedJobID: job.ID,
	})
}

// List returns notifications for a user.
func (s *Service) List(ctx context.Context, userID uuid.UUID, filter *domain.NotificationFilter) ([]*domain.Notification, int, error) {
	if s.notificationRepo == nil {
		return []*domain.Notification{}, 0, nil
	}
	filter.UserID = userID
	return s.notificationRepo.List(ctx, filter)
}

// GetUnreadCount returns the count of unread notifications.
func (s *Service) GetUnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	if s.notificationRepo == nil {
		return 0, nil
	}

	if s.cache != nil {
		var cached int64
		if hit, err := s.cache.GetJSON(ctx, unreadCountKey(userID), &cached); err == nil && hit {
			return cached, nil
		}
	}

	count, err := s.notificationRepo.CountUnread(ctx, userID)
	if err != nil {
		return 0, err
	}

	if s.cache != nil {
		_ = s.cache.SetJSON(ctx, unreadCountKey(userID), count, unreadCountTTL)
	}

	return count, nil
}

// MarkAsRead marks specific notifications as read.
func (s *Service) MarkAsRead(ctx context.Context, userID uuid.UUID, notificationIDs []int64) error {
	if s.notificationRepo == nil {
		return nil
	}
	for _, id := range notificationIDs {
		if err := s.notificationRepo.MarkAsRead(ctx, id, userID); err != nil {
			return err
		}
	}
	s.invalidateUnreadCount(ctx, userID)
	return nil
}

// MarkAllAsRead marks all notifications as read for a user.
func (s *Service) MarkAllAsRead(ctx context.Context, userID uuid.UUID) error {
	if s.notificationRepo == nil {
		return nil
	}
	if err := s.notificationRepo.MarkAllAsRead(ctx, userID); err != nil {
		return err
	}
	s.invalidateUnreadCount(ctx, userID)
	return nil
}

// Delete deletes a notification.
func (s *Service) Delete(ctx context.Context, userID uuid.UUID, notificationID int64) error {
	if s.notificationRepo == nil {
		return nil
	}
	if err := s.notificationRepo.Delete(ctx, notificationID, userID); err != nil {
		return err
	}
	s.invalidateUnreadCount(ctx, userID)
	return nil
}
