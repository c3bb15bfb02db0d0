// Package messaging provides Redis Streams adapters for the sync job queue.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"mailsync_server/core/port/out"

	"github.com/redis/go-redis/v9"
)

// Stream names
const (
	StreamSyncRun = "sync:run"

	// DLQ streams are derived: "dlq:" + stream
)

const (
	syncStatusKeyPrefix = "sync:status:"
	syncStatusTTL       = 24 * time.Hour
)

// RedisProducer implements out.JobProducer using Redis Streams.
type RedisProducer struct {
	client *redis.Client
}

var _ out.JobProducer = (*RedisProducer)(nil)

// NewRedisProducer creates a new RedisProducer.
func NewRedisProducer(client *redis.Client) *RedisProducer {
	return &RedisProducer{client: client}
}

// PublishSyncRun publishes a sync run job onto the sync stream.
func (p *RedisProducer) PublishSyncRun(ctx context.Context, job *out.SyncRunJob) error {
	return p.publish(ctx, StreamSyncRun, job)
}

// =============================================================================
// Sync Status (Redis Hash)
// =============================================================================

// SetSyncStatus stores the progress mirror for a job in Redis.
func (p *RedisProducer) SetSyncStatus(ctx context.Context, jobID int64, status *out.SyncStatus) error {
	key := fmt.Sprintf("%s%d", syncStatusKeyPrefix, jobID)

	err := p.client.HSet(ctx, key,
		"status", status.Status,
		"status_message", status.StatusMessage,
		"current_account", status.CurrentAccount,
		"current_page", status.CurrentPage,
		"emails_synced", status.EmailsSynced,
		"emails_skipped", status.EmailsSkipped,
		"emails_per_second", status.EmailsPerSecond,
		"updated_at", status.UpdatedAt.UTC().Format(time.RFC3339),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to set sync status: %w", err)
	}

	p.client.Expire(ctx, key, syncStatusTTL)

	return nil
}

// GetSyncStatus retrieves the progress mirror for a job from Redis.
// Returns nil when no mirror exists (job never ran or the key expired).
func (p *RedisProducer) GetSyncStatus(ctx context.Context, jobID int64) (*out.SyncStatus, error) {
	key := fmt.Sprintf("%s%d", syncStatusKeyPrefix, jobID)

	result, err := p.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get sync status: %w", err)
	}

	if len(result) == 0 {
		return nil, nil
	}

	status := &out.SyncStatus{
		Status:         result["status"],
		StatusMessage:  result["status_message"],
		CurrentAccount: result["current_account"],
	}

	if v, ok := result["current_page"]; ok {
		fmt.Sscanf(v, "%d", &status.CurrentPage)
	}
	if v, ok := result["emails_synced"]; ok {
		fmt.Sscanf(v, "%d", &status.EmailsSynced)
	}
	if v, ok := result["emails_skipped"]; ok {
		fmt.Sscanf(v, "%d", &status.EmailsSkipped)
	}
	if v, ok := result["emails_per_second"]; ok {
		fmt.Sscanf(v, "%d", &status.EmailsPerSecond)
	}
	if v, ok := result["updated_at"]; ok {
		if t, parseErr := time.Parse(time.RFC3339, v); parseErr == nil {
			status.UpdatedAt = t
		}
	}

	return status, nil
}

// IncrementSyncProgress atomically increments the synced/skipped counters.
func (p *RedisProducer) IncrementSyncProgress(ctx context.Context, jobID int64, synced, skipped int) error {
	key := fmt.Sprintf("%s%d", syncStatusKeyPrefix, jobID)

	if synced > 0 {
		if err := p.client.HIncrBy(ctx, key, "emails_synced", int64(synced)).Err(); err != nil {
			return fmt.Errorf("failed to increment emails_synced: %w", err)
		}
	}
	if skipped > 0 {
		if err := p.client.HIncrBy(ctx, key, "emails_skipped", int64(skipped)).Err(); err != nil {
			return fmt.Errorf("failed to increment emails_skipped: %w", err)
		}
	}

	return nil
}

// publish publishes a job to a stream as a single JSON "data" field.
func (p *RedisProducer) publish(ctx context.Context, stream string, job interface{}) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}

	return nil
}
