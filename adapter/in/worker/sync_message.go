// Package worker contains the job consumers that drive sync runs.
package worker

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// JobType represents the type of a job.
type JobType = string

const (
	// JobSyncRun executes a queued sync job to a terminal state.
	JobSyncRun JobType = "sync.run"
)

// Message is the unit of work flowing through the pool.
type Message struct {
	ID        string         `json:"id"`
	Type      JobType        `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
	Retries   int            `json:"retries"`
}

// NewMessage creates a message with a fresh ID.
func NewMessage(jobType JobType, payload map[string]any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// SyncRunPayload is the payload of a sync.run job. Field names match
// the stream message written by the producer.
type SyncRunPayload struct {
	JobID   int64  `json:"job_id"`
	UserID  string `json:"user_id"`
	JobType string `json:"job_type"`
}

// ParsePayload decodes a message payload into a typed struct.
func ParsePayload[T any](msg *Message) (*T, error) {
	var payload T
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
