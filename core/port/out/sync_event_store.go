package out

import (
	"context"
	"time"
)

// SyncEvent is one audit record of a sync run, kept in MongoDB with a
// TTL index. Postgres holds the current job row; this is the history.
type SyncEvent struct {
	JobID     int64          `bson:"job_id" json:"job_id"`
	UserID    string         `bson:"user_id" json:"user_id"`
	Event     string         `bson:"event" json:"event"` // started, account_done, completed, failed, cancelled
	Account   string         `bson:"account,omitempty" json:"account,omitempty"`
	Detail    map[string]any `bson:"detail,omitempty" json:"detail,omitempty"`
	CreatedAt time.Time      `bson:"created_at" json:"created_at"`
}

// SyncEventStore - append-only sync run history
type SyncEventStore interface {
	Append(ctx context.Context, event *SyncEvent) error
	ListByJob(ctx context.Context, jobID int64) ([]*SyncEvent, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*SyncEvent, error)
}
