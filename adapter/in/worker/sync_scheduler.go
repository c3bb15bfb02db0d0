package worker

import (
	"context"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/in"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/logger"
)

// =============================================================================
// IncrementalSyncScheduler
// =============================================================================
//
// Periodically enqueues INCREMENTAL_SYNC jobs for users whose accounts
// have gone stale. Users with a job already in flight are skipped.

const (
	SchedulerCheckInterval = 15 * time.Minute
	SchedulerStaleAfter    = 1 * time.Hour
	SchedulerBatchLimit    = 100

	// Grace period after startup before the first scan
	schedulerStartupDelay = 30 * time.Second
)

type IncrementalSyncScheduler struct {
	accounts      out.AccountRepository
	syncService   in.SyncService
	checkInterval time.Duration
	staleAfter    time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewIncrementalSyncScheduler creates a new scheduler.
func NewIncrementalSyncScheduler(
	accounts out.AccountRepository,
	syncService in.SyncService,
) *IncrementalSyncScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &IncrementalSyncScheduler{
		accounts:      accounts,
		syncService:   syncService,
		checkInterval: SchedulerCheckInterval,
		staleAfter:    SchedulerStaleAfter,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start starts the scheduler.
func (s *IncrementalSyncScheduler) Start() {
	logger.Info("[IncrementalSyncScheduler] Starting...")
	go s.run()
}

// Stop stops the scheduler.
func (s *IncrementalSyncScheduler) Stop() {
	logger.Info("[IncrementalSyncScheduler] Stopping...")
	s.cancel()
}

// run is the main loop.
func (s *IncrementalSyncScheduler) run() {
	select {
	case <-s.ctx.Done():
		return
	case <-time.After(schedulerStartupDelay):
	}

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			logger.Info("[IncrementalSyncScheduler] Stopped")
			return
		case <-ticker.C:
			s.enqueueStaleAccounts()
		}
	}
}

// enqueueStaleAccounts starts incremental jobs for users with stale accounts.
func (s *IncrementalSyncScheduler) enqueueStaleAccounts() {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Minute)
	defer cancel()

	users, err := s.accounts.ListUsersDueForSync(ctx, s.staleAfter, SchedulerBatchLimit)
	if err != nil {
		logger.Error("[IncrementalSyncScheduler] Failed to list stale users: %v", err)
		return
	}

	if len(users) == 0 {
		return
	}

	logger.Info("[IncrementalSyncScheduler] Found %d users due for incremental sync", len(users))

	started := 0
	for _, userID := range users {
		_, err := s.syncService.StartSyncJob(ctx, userID, domain.JobTypeIncrementalSync)
		if err != nil {
			// An in-flight job for the user is expected, not a failure
			if apperr.IsCode(err, apperr.CodeSyncRunning) {
				continue
			}
			logger.Error("[IncrementalSyncScheduler] Failed to start sync for user %s: %v", userID, err)
			continue
		}
		started++
	}

	if started > 0 {
		logger.Info("[IncrementalSyncScheduler] Started %d incremental sync jobs", started)
	}
}

// SetCheckInterval sets the check interval (for testing).
func (s *IncrementalSyncScheduler) SetCheckInterval(interval time.Duration) {
	s.checkInterval = interval
}

// SetStaleAfter sets the staleness window that qualifies an account for
// an incremental sync.
func (s *IncrementalSyncScheduler) SetStaleAfter(staleAfter time.Duration) {
	s.staleAfter = staleAfter
}
