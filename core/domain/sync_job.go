package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Sync Job - per-user background sync run
// =============================================================================

// JobStatus is the sync job state machine. PENDING and RUNNING are the
// only non-terminal states; the status column doubles as the
// cancellation flag, observed by re-reads during a run.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsActive reports whether the job still occupies the user's sync slot.
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// JobType distinguishes a full mailbox walk from a catch-up pass.
type JobType string

const (
	JobTypeFullSync        JobType = "FULL_SYNC"
	JobTypeIncrementalSync JobType = "INCREMENTAL_SYNC"
)

// SyncJob is the ledger row for one background sync run.
type SyncJob struct {
	ID     int64     `json:"id"`
	UserID uuid.UUID `json:"user_id"`
	Status JobStatus `json:"status"`
	Type   JobType   `json:"type"`

	// Account progress
	TotalAccounts     int `json:"total_accounts"`
	ProcessedAccounts int `json:"processed_accounts"`

	// Message counters. TotalEmailsProcessed is always derived as
	// synced + skipped when written.
	TotalEmailsSynced    int `json:"total_emails_synced"`
	TotalEmailsSkipped   int `json:"total_emails_skipped"`
	TotalEmailsProcessed int `json:"total_emails_processed"`
	EstimatedTotalEmails int `json:"estimated_total_emails"`

	// Live progress
	CurrentAccount            string `json:"current_account,omitempty"`
	CurrentPage               int    `json:"current_page"`
	StatusMessage             string `json:"status_message,omitempty"`
	EmailsPerSecond           int64  `json:"emails_per_second"`
	EstimatedSecondsRemaining int    `json:"estimated_seconds_remaining"`

	StartedAt    time.Time `json:"started_at,omitempty"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsCancelled reports whether the run was cancelled by the user.
func (j *SyncJob) IsCancelled() bool {
	return j.Status == JobStatusCancelled
}

// ProgressPercent is the account-level completion figure shown to the
// user: floor(processedAccounts*100/totalAccounts), 0 before the
// account list is known.
func (j *SyncJob) ProgressPercent() int {
	if j.TotalAccounts == 0 {
		return 0
	}
	return j.ProcessedAccounts * 100 / j.TotalAccounts
}

// EmailProgressPercent is the finer message-based figure, meaningful
// only once the provider reported an estimate. Capped at 100; the
// estimate can undershoot the real mailbox size.
func (j *SyncJob) EmailProgressPercent() float64 {
	if j.EstimatedTotalEmails <= 0 {
		return 0
	}
	p := float64(j.TotalEmailsProcessed) / float64(j.EstimatedTotalEmails) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// RemainingEmails returns how many estimated messages are left, never
// negative.
func (j *SyncJob) RemainingEmails() int {
	remaining := j.EstimatedTotalEmails - j.TotalEmailsProcessed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Duration returns the wall time of the run so far, or the final
// duration for terminal jobs.
func (j *SyncJob) Duration() time.Duration {
	if j.StartedAt.IsZero() {
		return 0
	}
	if !j.CompletedAt.IsZero() {
		return j.CompletedAt.Sub(j.StartedAt)
	}
	return time.Since(j.StartedAt)
}
