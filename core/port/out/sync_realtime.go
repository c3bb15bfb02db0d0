package out

import (
	"context"

	"mailsync_server/core/domain"
)

// RealtimePort - pushes events to connected clients over SSE
type RealtimePort interface {
	Subscribe(userID string) <-chan *domain.RealtimeEvent
	Unsubscribe(userID string, ch <-chan *domain.RealtimeEvent)

	Push(ctx context.Context, userID string, event *domain.RealtimeEvent) error
	Broadcast(ctx context.Context, event *domain.RealtimeEvent) error

	ConnectedCount() int
	IsConnected(userID string) bool
}
