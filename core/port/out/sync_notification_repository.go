package out

import (
	"context"

	"github.com/google/uuid"

	"mailsync_server/core/domain"
)

// NotificationRepository - user notification store
type NotificationRepository interface {
	Create(ctx context.Context, notification *domain.Notification) error
	GetByID(ctx context.Context, id int64) (*domain.Notification, error)
	List(ctx context.Context, filter *domain.NotificationFilter) ([]*domain.Notification, int, error)
	MarkAsRead(ctx context.Context, id int64, userID uuid.UUID) error
	MarkAllAsRead(ctx context.Context, userID uuid.UUID) error
	Delete(ctx context.Context, id int64, userID uuid.UUID) error
	CountUnread(ctx context.Context, userID uuid.UUID) (int64, error)
}
