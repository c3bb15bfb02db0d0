// Package sync implements the background mailbox sync engine: the job
// state machine, the per-account page walk, dedup, progress tracking
// and cancellation.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/in"
	"mailsync_server/core/port/out"
	"mailsync_server/core/service/auth"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/logger"
	"mailsync_server/pkg/metrics"
	"mailsync_server/pkg/snowflake"
)

const (
	// MaxPagesPerAccount bounds a single run per account; very large
	// mailboxes finish over multiple runs.
	MaxPagesPerAccount = 50

	// PageSize is how many message headers one provider page holds.
	PageSize = 100

	// interPageDelay spaces provider calls so a run never bursts into
	// rate limits.
	interPageDelay = 100 * time.Millisecond
)

// Notifier delivers user-facing sync outcome notifications.
type Notifier interface {
	NotifySyncComplete(ctx context.Context, job *domain.SyncJob) error
	NotifySyncFailed(ctx context.Context, job *domain.SyncJob) error
}

// Engine drives sync jobs from PENDING to a terminal state. The API
// process uses it to start, cancel and read jobs; the worker process
// calls RunSyncJob.
type Engine struct {
	jobs     out.SyncJobRepository
	accounts out.AccountRepository
	mails    out.MailRepository
	registry *Registry
	tokens   *auth.TokenManager

	producer out.JobProducer
	realtime out.RealtimePort
	events   out.SyncEventStore
	notifier Notifier

	// pageDelay is overridable in tests.
	pageDelay time.Duration
}

var _ in.SyncService = (*Engine)(nil)

func NewEngine(
	jobs out.SyncJobRepository,
	accounts out.AccountRepository,
	mails out.MailRepository,
	registry *Registry,
	tokens *auth.TokenManager,
	producer out.JobProducer,
	realtime out.RealtimePort,
	events out.SyncEventStore,
	notifier Notifier,
) *Engine {
	return &Engine{
		jobs:      jobs,
		accounts:  accounts,
		mails:     mails,
		registry:  registry,
		tokens:    tokens,
		producer:  producer,
		realtime:  realtime,
		events:    events,
		notifier:  notifier,
		pageDelay: interPageDelay,
	}
}

// =============================================================================
// Job lifecycle
// =============================================================================

// StartSyncJob creates a PENDING job and enqueues it for the worker.
// The insert is the concurrency gate: at most one PENDING or RUNNING
// job per user, enforced atomically by the repository.
func (e *Engine) StartSyncJob(ctx context.Context, userID uuid.UUID, jobType domain.JobType) (*domain.SyncJob, error) {
	if jobType == "" {
		jobType = domain.JobTypeFullSync
	}

	now := time.Now()
	job := &domain.SyncJob{
		ID:            snowflake.ID(),
		UserID:        userID,
		Status:        domain.JobStatusPending,
		Type:          jobType,
		StatusMessage: "Starting sync...",
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := e.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	logger.WithJob(job.ID).Info("[Engine] Sync job created for user %s (%s)", userID, jobType)

	if e.producer != nil {
		if err := e.producer.PublishSyncRun(ctx, &out.SyncRunJob{
			JobID:   job.ID,
			UserID:  userID.String(),
			JobType: string(jobType),
		}); err != nil {
			// The job row exists but nothing will run it. Fail it so
			// the user's slot is not held by a stuck PENDING job.
			e.failJob(ctx, job, fmt.Errorf("enqueue sync run: %w", err))
			return nil, apperr.InternalWithError(err)
		}
	}

	e.mirrorStatus(ctx, job)
	e.pushProgress(ctx, job)
	e.appendEvent(ctx, job, "started", "", nil)

	return job, nil
}

// RunSyncJob executes a job to a terminal state. Errors from a single
// account are isolated; only failures before the account walk starts
// fail the whole job.
func (e *Engine) RunSyncJob(ctx context.Context, jobID int64) error {
	job, err := e.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		logger.WithJob(jobID).Warn("[Engine] Skipping job in terminal state %s", job.Status)
		return nil
	}

	log := logger.WithJob(jobID)
	log.Info("[Engine] Starting sync run for user %s", job.UserID)

	job.Status = domain.JobStatusRunning
	job.StartedAt = time.Now()
	job.StatusMessage = "Fetching accounts..."
	if err := e.saveProgress(ctx, job); err != nil {
		return err
	}

	accounts, err := e.accounts.FindActiveByUser(ctx, job.UserID)
	if err != nil {
		e.failJob(ctx, job, err)
		return err
	}

	job.TotalAccounts = len(accounts)
	if err := e.saveProgress(ctx, job); err != nil {
		return err
	}

	for _, account := range accounts {
		cancelled, err := e.reloadCancelled(ctx, job)
		if err != nil {
			e.failJob(ctx, job, err)
			return err
		}
		if cancelled {
			log.Info("[Engine] Sync cancelled before account %s", account.EmailAddress)
			e.appendEvent(ctx, job, "cancelled", account.EmailAddress, nil)
			return nil
		}

		if err := e.syncAccount(ctx, job, account); err != nil {
			if apperr.IsCode(err, canceled) {
				e.appendEvent(ctx, job, "cancelled", account.EmailAddress, nil)
				return nil
			}
			// One broken account must not sink the rest of the run.
			log.Error("[Engine] Account %s failed: %v", account.EmailAddress, err)
			if serr := e.accounts.UpdateSyncStatus(ctx, account.ID, domain.AccountStatusError, err.Error()); serr != nil {
				log.Warn("[Engine] Failed to record account error: %v", serr)
			}
			e.appendEvent(ctx, job, "account_failed", account.EmailAddress, map[string]any{"error": err.Error()})
		} else {
			e.appendEvent(ctx, job, "account_done", account.EmailAddress, map[string]any{
				"synced":  job.TotalEmailsSynced,
				"skipped": job.TotalEmailsSkipped,
			})
		}

		job.ProcessedAccounts++
		if err := e.saveProgress(ctx, job); err != nil {
			return err
		}
	}

	job.Status = domain.JobStatusCompleted
	job.ProcessedAccounts = job.TotalAccounts
	job.CompletedAt = time.Now()
	job.CurrentAccount = ""
	job.StatusMessage = "Sync completed successfully"
	if err := e.saveProgress(ctx, job); err != nil {
		return err
	}

	log.WithDuration(job.Duration()).Info("[Engine] Sync completed: %d synced, %d skipped across %d accounts",
		job.TotalEmailsSynced, job.TotalEmailsSkipped, job.TotalAccounts)

	e.appendEvent(ctx, job, "completed", "", map[string]any{
		"synced":  job.TotalEmailsSynced,
		"skipped": job.TotalEmailsSkipped,
	})
	if e.notifier != nil {
		if err := e.notifier.NotifySyncComplete(ctx, job); err != nil {
			log.Warn("[Engine] Completion notification failed: %v", err)
		}
	}
	return nil
}

// CancelJob flips a RUNNING job to CANCELLED. The running engine sees
// the flag on its next job re-read and stops between pages.
func (e *Engine) CancelJob(ctx context.Context, jobID int64, userID uuid.UUID) error {
	job, err := e.jobs.GetByIDForUser(ctx, jobID, userID)
	if err != nil {
		return err
	}
	if job.Status != domain.JobStatusRunning {
		return apperr.SyncNotActive(jobID)
	}

	// The repository re-checks the status inside the update; the read
	// above only gives a fast path for the common non-RUNNING cases.
	if err := e.jobs.Cancel(ctx, jobID, "Cancelled by user"); err != nil {
		return err
	}

	logger.WithJob(jobID).Info("[Engine] Sync cancelled by user %s", userID)

	job.Status = domain.JobStatusCancelled
	job.StatusMessage = "Cancelled by user"
	e.mirrorStatus(ctx, job)
	e.pushProgress(ctx, job)
	return nil
}

func (e *Engine) GetJob(ctx context.Context, jobID int64, userID uuid.UUID) (*domain.SyncJob, error) {
	return e.jobs.GetByIDForUser(ctx, jobID, userID)
}

func (e *Engine) GetActiveJob(ctx context.Context, userID uuid.UUID) (*domain.SyncJob, error) {
	return e.jobs.FindActiveByUser(ctx, userID)
}

func (e *Engine) ListJobs(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.SyncJob, int, error) {
	return e.jobs.ListByUser(ctx, userID, limit, offset)
}

// =============================================================================
// Account walk
// =============================================================================

// canceled is a private code used to unwind the page loop when the
// user cancels mid-account.
const canceled = "SYNC_CANCELLED"

func cancelledErr() error {
	return apperr.New(canceled, "sync cancelled by user", 409)
}

func (e *Engine) syncAccount(ctx context.Context, job *domain.SyncJob, account *domain.EmailAccount) error {
	provider, err := e.registry.Get(account.Provider)
	if err != nil {
		return err
	}

	if err := e.accounts.UpdateSyncStatus(ctx, account.ID, domain.AccountStatusSyncing, ""); err != nil {
		logger.Warn("[Engine] Failed to mark %s syncing: %v", account.EmailAddress, err)
	}

	if err := e.tokens.EnsureFresh(ctx, provider, account); err != nil {
		return err
	}

	job.CurrentAccount = account.EmailAddress

	query := &out.MailQuery{PageSize: PageSize}
	if job.Type == domain.JobTypeIncrementalSync && !account.LastSyncAt.IsZero() {
		query.Since = account.LastSyncAt
	}

	// Throughput is per account: a slow first mailbox must not drag
	// down the rate and ETA reported for the next one.
	accountStart := time.Now()
	accountProcessed := 0
	emptyPages := 0

	for page := 1; page <= MaxPagesPerAccount; page++ {
		cancelled, err := e.reloadCancelled(ctx, job)
		if err != nil {
			return err
		}
		if cancelled {
			return cancelledErr()
		}

		mailPage, err := e.fetchPage(ctx, provider, account, query)
		if err != nil {
			return err
		}

		if page == 1 && mailPage.TotalEstimate > 0 {
			job.EstimatedTotalEmails += int(mailPage.TotalEstimate)
		}

		inserted, skipped, err := e.storePage(ctx, account, mailPage.Messages)
		if err != nil {
			return err
		}

		job.TotalEmailsSynced += inserted
		job.TotalEmailsSkipped += skipped
		job.CurrentPage = page
		accountProcessed += len(mailPage.Messages)
		e.updateRate(job, accountStart, accountProcessed)
		job.StatusMessage = fmt.Sprintf("Syncing %s (page %d) - %d/s",
			account.EmailAddress, page, job.EmailsPerSecond)

		if err := e.saveProgress(ctx, job); err != nil {
			return err
		}
		if e.producer != nil {
			if err := e.producer.IncrementSyncProgress(ctx, job.ID, inserted, skipped); err != nil {
				logger.WithJob(job.ID).Warn("[Engine] Progress mirror update failed: %v", err)
			}
		}

		query.PageToken = mailPage.NextPageToken
		if query.PageToken == "" {
			break
		}
		// One empty page with a token is a legitimate handoff (the
		// archive mailbox continuation); two in a row means the
		// provider is stalling and the loop stops instead of burning
		// the page ceiling.
		if len(mailPage.Messages) == 0 {
			emptyPages++
			if emptyPages >= 2 {
				break
			}
		} else {
			emptyPages = 0
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.pageDelay):
		}
	}

	if err := e.accounts.UpdateSyncStatus(ctx, account.ID, domain.AccountStatusSynced, ""); err != nil {
		logger.Warn("[Engine] Failed to mark %s synced: %v", account.EmailAddress, err)
	}
	return nil
}

// fetchPage lists one provider page, refreshing the token and retrying
// exactly once when the provider rejects the credential mid-run.
func (e *Engine) fetchPage(ctx context.Context, provider out.MailProvider, account *domain.EmailAccount, query *out.MailQuery) (*out.MailPage, error) {
	start := time.Now()
	page, err := provider.FetchPage(ctx, account, query)
	metrics.RecordLatency("provider."+string(provider.Name()), time.Since(start))
	if err == nil {
		return page, nil
	}
	if !apperr.IsCode(err, apperr.CodeTokenExpired) {
		return nil, err
	}

	logger.Info("[Engine] Token rejected for %s, refreshing and retrying", account.EmailAddress)
	if rerr := e.tokens.Refresh(ctx, provider, account); rerr != nil {
		return nil, rerr
	}

	start = time.Now()
	page, err = provider.FetchPage(ctx, account, query)
	metrics.RecordLatency("provider."+string(provider.Name()), time.Since(start))
	return page, err
}

// storePage dedups one page against the store and bulk-inserts the
// new rows. Returns inserted and skipped counts.
func (e *Engine) storePage(ctx context.Context, account *domain.EmailAccount, messages []out.MailMessage) (int, int, error) {
	if len(messages) == 0 {
		return 0, 0, nil
	}

	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.MessageID)
	}

	existing, err := e.mails.FindExistingMessageIDs(ctx, account.ID, ids)
	if err != nil {
		return 0, 0, err
	}

	rows := make([]*domain.EmailMetadata, 0, len(messages))
	for _, msg := range messages {
		if _, ok := existing[msg.MessageID]; ok {
			continue
		}
		rows = append(rows, convertMessage(account, msg))
	}

	inserted := 0
	if len(rows) > 0 {
		inserted, err = e.mails.BulkInsert(ctx, rows)
		if err != nil {
			return 0, 0, err
		}
	}

	// Anything not actually inserted was already present, whether the
	// dedup query saw it or a concurrent writer won the race.
	return inserted, len(messages) - inserted, nil
}

// =============================================================================
// Progress bookkeeping
// =============================================================================

// updateRate recomputes throughput from the current account's counters
// and wall time, then the ETA from the job-wide remaining estimate.
func (e *Engine) updateRate(job *domain.SyncJob, accountStart time.Time, accountProcessed int) {
	job.TotalEmailsProcessed = job.TotalEmailsSynced + job.TotalEmailsSkipped

	elapsedMs := time.Since(accountStart).Milliseconds()
	if elapsedMs > 0 {
		job.EmailsPerSecond = int64(accountProcessed) * 1000 / elapsedMs
	}
	if job.EmailsPerSecond > 0 {
		job.EstimatedSecondsRemaining = job.RemainingEmails() / int(job.EmailsPerSecond)
	}
}

// reloadCancelled re-reads the job row and reports whether the user
// cancelled. The DB row is the cancellation flag; there is no
// in-process channel between API and worker.
func (e *Engine) reloadCancelled(ctx context.Context, job *domain.SyncJob) (bool, error) {
	current, err := e.jobs.GetByID(ctx, job.ID)
	if err != nil {
		return false, err
	}
	if current.IsCancelled() {
		job.Status = domain.JobStatusCancelled
		job.StatusMessage = current.StatusMessage
		return true, nil
	}
	return false, nil
}

// saveProgress persists the job and fans the new state out to the
// Redis mirror and connected clients.
func (e *Engine) saveProgress(ctx context.Context, job *domain.SyncJob) error {
	job.TotalEmailsProcessed = job.TotalEmailsSynced + job.TotalEmailsSkipped
	job.UpdatedAt = time.Now()
	if err := e.jobs.Update(ctx, job); err != nil {
		return err
	}
	e.mirrorStatus(ctx, job)
	e.pushProgress(ctx, job)
	return nil
}

func (e *Engine) failJob(ctx context.Context, job *domain.SyncJob, cause error) {
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = cause.Error()
	job.StatusMessage = "Sync failed: " + cause.Error()
	job.CompletedAt = time.Now()
	if err := e.saveProgress(ctx, job); err != nil {
		logger.WithJob(job.ID).Error("[Engine] Failed to persist FAILED state: %v", err)
	}
	e.appendEvent(ctx, job, "failed", "", map[string]any{"error": cause.Error()})
	if e.notifier != nil {
		if err := e.notifier.NotifySyncFailed(ctx, job); err != nil {
			logger.WithJob(job.ID).Warn("[Engine] Failure notification failed: %v", err)
		}
	}
}

func (e *Engine) mirrorStatus(ctx context.Context, job *domain.SyncJob) {
	if e.producer == nil {
		return
	}
	err := e.producer.SetSyncStatus(ctx, job.ID, &out.SyncStatus{
		Status:          string(job.Status),
		StatusMessage:   job.StatusMessage,
		CurrentAccount:  job.CurrentAccount,
		CurrentPage:     job.CurrentPage,
		EmailsSynced:    job.TotalEmailsSynced,
		EmailsSkipped:   job.TotalEmailsSkipped,
		EmailsPerSecond: job.EmailsPerSecond,
		UpdatedAt:       time.Now(),
	})
	if err != nil {
		logger.WithJob(job.ID).Warn("[Engine] Status mirror write failed: %v", err)
	}
}

func (e *Engine) pushProgress(ctx context.Context, job *domain.SyncJob) {
	if e.realtime == nil {
		return
	}
	event := domain.NewSyncProgressEvent(job)
	if err := e.realtime.Push(ctx, event.UserID, event); err != nil {
		logger.WithJob(job.ID).Debug("[Engine] Realtime push failed: %v", err)
	}
}

func (e *Engine) appendEvent(ctx context.Context, job *domain.SyncJob, event, account string, detail map[string]any) {
	if e.events == nil {
		return
	}
	err := e.events.Append(ctx, &out.SyncEvent{
		JobID:     job.ID,
		UserID:    job.UserID.String(),
		Event:     event,
		Account:   account,
		Detail:    detail,
		CreatedAt: time.Now(),
	})
	if err != nil {
		logger.WithJob(job.ID).Warn("[Engine] History append failed: %v", err)
	}
}
