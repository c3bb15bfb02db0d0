package http

import (
	"mailsync_server/core/domain"
	"mailsync_server/core/port/in"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// SyncHandler handles sync job requests.
type SyncHandler struct {
	syncService in.SyncService
	producer    out.JobProducer
	events      out.SyncEventStore
}

// NewSyncHandler creates a new sync handler. producer and events may be
// nil; the status and history endpoints then fall back or 404.
func NewSyncHandler(syncService in.SyncService, producer out.JobProducer, events out.SyncEventStore) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		producer:    producer,
		events:      events,
	}
}

// Register registers sync routes.
func (h *SyncHandler) Register(router fiber.Router) {
	sync := router.Group("/sync")

	sync.Post("/jobs", h.StartJob)
	sync.Get("/jobs", h.ListJobs)
	sync.Get("/jobs/active", h.GetActiveJob)
	sync.Get("/jobs/:id", h.GetJob)
	sync.Get("/jobs/:id/status", h.GetJobStatus)
	sync.Get("/jobs/:id/events", h.GetJobEvents)
	sync.Post("/jobs/:id/cancel", h.CancelJob)
}

// StartJobRequest represents a start sync request.
type StartJobRequest struct {
	JobType string `json:"job_type"`
}

// StartJob creates and enqueues a new sync job.
func (h *SyncHandler) StartJob(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return apperr.Unauthorized("authentication required")
	}

	var req StartJobRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return apperr.BadRequest("invalid request body")
	}

	jobType := domain.JobTypeFullSync
	switch req.JobType {
	case "", string(domain.JobTypeFullSync):
	case string(domain.JobTypeIncrementalSync):
		jobType = domain.JobTypeIncrementalSync
	default:
		return apperr.InvalidInput("job_type", "must be FULL_SYNC or INCREMENTAL_SYNC")
	}

	job, err := h.syncService.StartSyncJob(c.Context(), userID, jobType)
	if err != nil {
		return err
	}

	return response.Created(c, job)
}

// ListJobs returns the user's sync job history.
func (h *SyncHandler) ListJobs(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return apperr.Unauthorized("authentication required")
	}

	p := response.GetPagination(c, 20, 100)

	jobs, total, err := h.syncService.ListJobs(c.Context(), userID, p.Limit, p.Offset)
	if err != nil {
		return err
	}

	return response.OKWithMeta(c, jobs, &response.Meta{
		Total:    total,
		PageSize: p.Limit,
		HasMore:  p.Offset+len(jobs) < total,
	})
}

// GetActiveJob returns the currently PENDING or RUNNING job, if any.
func (h *SyncHandler) GetActiveJob(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return apperr.Unauthorized("authentication required")
	}

	job, err := h.syncService.GetActiveJob(c.Context(), userID)
	if err != nil {
		return err
	}

	// No active job is a normal state, not an error
	return response.OK(c, job)
}

// GetJob returns a single sync job.
func (h *SyncHandler) GetJob(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return apperr.Unauthorized("authentication required")
	}

	jobID, err := ParamID(c, "id")
	if err != nil {
		return err
	}

	job, err := h.syncService.GetJob(c.Context(), jobID, userID)
	if err != nil {
		return err
	}

	return response.OK(c, job)
}

// GetJobStatus returns the live progress mirror for a job. Falls back
// to the database row when the Redis mirror has expired.
func (h *SyncHandler) GetJobStatus(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return apperr.Unauthorized("authentication required")
	}

	jobID, err := ParamID(c, "id")
	if err != nil {
		return err
	}

	// Ownership check before touching Redis
	job, err := h.syncService.GetJob(c.Context(), jobID, userID)
	if err != nil {
		return err
	}

	if h.producer != nil {
		status, err := h.producer.GetSyncStatus(c.Context(), jobID)
		if err == nil && status != nil {
			return response.OK(c, status)
		}
	}

	return response.OK(c, &out.SyncStatus{
		Status:          string(job.Status),
		StatusMessage:   job.StatusMessage,
		CurrentAccount:  job.CurrentAccount,
		CurrentPage:     job.CurrentPage,
		EmailsSynced:    job.TotalEmailsSynced,
		EmailsSkipped:   job.TotalEmailsSkipped,
		EmailsPerSecond: job.EmailsPerSecond,
		UpdatedAt:       job.UpdatedAt,
	})
}

// GetJobEvents returns the audit history of a job.
func (h *SyncHandler) GetJobEvents(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return apperr.Unauthorized("authentication required")
	}

	jobID, err := ParamID(c, "id")
	if err != nil {
		return err
	}

	if _, err := h.syncService.GetJob(c.Context(), jobID, userID); err != nil {
		return err
	}

	if h.events == nil {
		return apperr.NotFound("sync events")
	}

	events, err := h.events.ListByJob(c.Context(), jobID)
	if err != nil {
		return err
	}

	return response.OK(c, events)
}

// CancelJob requests cancellation of a running job.
func (h *SyncHandler) CancelJob(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return apperr.Unauthorized("authentication required")
	}

	jobID, err := ParamID(c, "id")
	if err != nil {
		return err
	}

	if err := h.syncService.CancelJob(c.Context(), jobID, userID); err != nil {
		return err
	}

	return response.OK(c, fiber.Map{
		"job_id":    jobID,
		"cancelled": true,
	})
}
