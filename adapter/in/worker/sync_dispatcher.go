package worker

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"mailsync_server/adapter/out/messaging"
	"mailsync_server/core/port/in"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/logger"
)

// Handler routes messages to the sync engine.
type Handler struct {
	syncService in.SyncService
}

// NewHandler creates a new job handler.
func NewHandler(syncService in.SyncService) *Handler {
	return &Handler{syncService: syncService}
}

// Process executes a single message.
func (h *Handler) Process(ctx context.Context, msg *Message) error {
	logger.Debug("Processing message: %s", msg.Type)

	switch msg.Type {
	case JobSyncRun:
		payload, err := ParsePayload[SyncRunPayload](msg)
		if err != nil {
			return fmt.Errorf("invalid sync.run payload: %w", err)
		}
		return h.syncService.RunSyncJob(ctx, payload.JobID)

	default:
		logger.Warn("Unknown job type: %s", msg.Type)
		return nil
	}
}

// =============================================================================
// Stream bridge
// =============================================================================

// StreamHandler adapts Redis Stream messages into pool jobs. It
// implements messaging.JobHandler.
type StreamHandler struct {
	pool *Pool
}

var _ messaging.JobHandler = (*StreamHandler)(nil)

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(pool *Pool) *StreamHandler {
	return &StreamHandler{pool: pool}
}

// Handle converts a raw stream message into a pool job. Returning an
// error leaves the message pending so the consumer can retry it.
func (h *StreamHandler) Handle(ctx context.Context, stream string, data []byte) error {
	switch stream {
	case messaging.StreamSyncRun:
		var job out.SyncRunJob
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("invalid sync run message: %w", err)
		}

		msg := NewMessage(JobSyncRun, map[string]any{
			"job_id":   job.JobID,
			"user_id":  job.UserID,
			"job_type": job.JobType,
		})

		if !h.pool.Submit(msg) {
			return fmt.Errorf("pool rejected job %d", job.JobID)
		}
		return nil

	default:
		logger.Warn("Message on unexpected stream: %s", stream)
		return nil
	}
}
