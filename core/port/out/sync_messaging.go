package out

import (
	"context"
	"time"
)

// Time alias for JSON serialization
type Time = time.Time

// JobProducer - publishes sync runs onto the job stream. The API
// process enqueues; the worker process consumes and drives the engine.
type JobProducer interface {
	PublishSyncRun(ctx context.Context, job *SyncRunJob) error

	// Progress mirror in Redis, keyed by job ID. Cheap to poll from
	// the API process without touching Postgres.
	SetSyncStatus(ctx context.Context, jobID int64, status *SyncStatus) error
	GetSyncStatus(ctx context.Context, jobID int64) (*SyncStatus, error)
	IncrementSyncProgress(ctx context.Context, jobID int64, synced, skipped int) error
}

// SyncRunJob is the payload placed on the sync run stream.
type SyncRunJob struct {
	JobID   int64  `json:"job_id"`
	UserID  string `json:"user_id"`
	JobType string `json:"job_type"`
}

// SyncStatus is the Redis-mirrored view of a running job.
type SyncStatus struct {
	Status          string `json:"status"`
	StatusMessage   string `json:"status_message,omitempty"`
	CurrentAccount  string `json:"current_account,omitempty"`
	CurrentPage     int    `json:"current_page,omitempty"`
	EmailsSynced    int    `json:"emails_synced"`
	EmailsSkipped   int    `json:"emails_skipped"`
	EmailsPerSecond int64  `json:"emails_per_second,omitempty"`
	UpdatedAt       Time   `json:"updated_at"`
}
