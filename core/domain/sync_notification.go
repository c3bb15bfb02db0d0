package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Notification - user-facing notification persisted to the DB
// =============================================================================

type Notification struct {
	ID           int64            `json:"id"`
	UserID       uuid.UUID        `json:"user_id"`
	Type         NotificationType `json:"type"`
	Title        string           `json:"title"`
	Message      string           `json:"message"`
	IsRead       bool             `json:"is_read"`
	ActionURL    string           `json:"action_url,omitempty"`
	RelatedJobID int64            `json:"related_job_id,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

type NotificationType string

const (
	NotificationSyncComplete NotificationType = "SYNC_COMPLETE"
	NotificationSyncFailed   NotificationType = "SYNC_FAILED"
)

// NotificationFilter - query filter for listing notifications
type NotificationFilter struct {
	UserID uuid.UUID
	Type   *NotificationType
	IsRead *bool
	Limit  int
	Offset int
}

// =============================================================================
// RealtimeEvent - event pushed to the frontend over SSE
// =============================================================================

type RealtimeEvent struct {
	Type      EventType   `json:"type"`
	Seq       int64       `json:"seq"` // ordering sequence number
	UserID    string      `json:"-"`   // delivery target, excluded from JSON
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type EventType string

const (
	// Sync lifecycle events
	EventSyncStarted   EventType = "sync.started"
	EventSyncProgress  EventType = "sync.progress"
	EventSyncCompleted EventType = "sync.completed"
	EventSyncFailed    EventType = "sync.failed"
	EventSyncCancelled EventType = "sync.cancelled"

	// OAuth events
	EventTokenExpired EventType = "oauth.token_expired" // token refresh failed, re-auth needed

	// Notification events
	EventNotification EventType = "notification"

	// System events
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
)

// SyncProgressData - progress payload pushed while a job runs
type SyncProgressData struct {
	JobID             int64  `json:"job_id"`
	Status            string `json:"status"`
	StatusMessage     string `json:"status_message,omitempty"`
	CurrentAccount    string `json:"current_account,omitempty"`
	CurrentPage       int    `json:"current_page,omitempty"`
	EmailsSynced      int    `json:"emails_synced"`
	EmailsSkipped     int    `json:"emails_skipped"`
	EmailsPerSecond   int64  `json:"emails_per_second,omitempty"`
	SecondsRemaining  int    `json:"estimated_seconds_remaining,omitempty"`
	ProgressPercent   int    `json:"progress_percent"`
	ProcessedAccounts int    `json:"processed_accounts"`
	TotalAccounts     int    `json:"total_accounts"`
}

// NewSyncProgressEvent builds a progress event from the current job state.
func NewSyncProgressEvent(job *SyncJob) *RealtimeEvent {
	data := &SyncProgressData{
		JobID:             job.ID,
		Status:            string(job.Status),
		StatusMessage:     job.StatusMessage,
		CurrentAccount:    job.CurrentAccount,
		CurrentPage:       job.CurrentPage,
		EmailsSynced:      job.TotalEmailsSynced,
		EmailsSkipped:     job.TotalEmailsSkipped,
		EmailsPerSecond:   job.EmailsPerSecond,
		SecondsRemaining:  job.EstimatedSecondsRemaining,
		ProgressPercent:   job.ProgressPercent(),
		ProcessedAccounts: job.ProcessedAccounts,
		TotalAccounts:     job.TotalAccounts,
	}
	return &RealtimeEvent{
		Type:      eventTypeForStatus(job.Status),
		UserID:    job.UserID.String(),
		Data:      data,
		Timestamp: time.Now(),
	}
}

func eventTypeForStatus(status JobStatus) EventType {
	switch status {
	case JobStatusCompleted:
		return EventSyncCompleted
	case JobStatusFailed:
		return EventSyncFailed
	case JobStatusCancelled:
		return EventSyncCancelled
	case JobStatusRunning:
		return EventSyncProgress
	default:
		return EventSyncStarted
	}
}
