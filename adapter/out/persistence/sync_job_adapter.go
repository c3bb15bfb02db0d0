package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/apperr"
)

// SyncJobAdapter implements out.SyncJobRepository using PostgreSQL.
type SyncJobAdapter struct {
	db *sqlx.DB
}

var _ out.SyncJobRepository = (*SyncJobAdapter)(nil)

func NewSyncJobAdapter(db *sqlx.DB) *SyncJobAdapter {
	return &SyncJobAdapter{db: db}
}

type syncJobRow struct {
	ID                        int64          `db:"id"`
	UserID                    uuid.UUID      `db:"user_id"`
	Status                    string         `db:"status"`
	Type                      string         `db:"job_type"`
	TotalAccounts             int            `db:"total_accounts"`
	ProcessedAccounts         int            `db:"processed_accounts"`
	TotalEmailsSynced         int            `db:"total_emails_synced"`
	TotalEmailsSkipped        int            `db:"total_emails_skipped"`
	TotalEmailsProcessed      int            `db:"total_emails_processed"`
	EstimatedTotalEmails      int            `db:"estimated_total_emails"`
	CurrentAccount            sql.NullString `db:"current_account"`
	CurrentPage               int            `db:"current_page"`
	StatusMessage             sql.NullString `db:"status_message"`
	EmailsPerSecond           int64          `db:"emails_per_second"`
	EstimatedSecondsRemaining int            `db:"estimated_seconds_remaining"`
	StartedAt                 sql.NullTime   `db:"started_at"`
	CompletedAt               sql.NullTime   `db:"completed_at"`
	ErrorMessage              sql.NullString `db:"error_message"`
	CreatedAt                 time.Time      `db:"created_at"`
	UpdatedAt                 time.Time      `db:"updated_at"`
}

func (r *syncJobRow) toDomain() *domain.SyncJob {
	job := &domain.SyncJob{
		ID:                        r.ID,
		UserID:                    r.UserID,
		Status:                    domain.JobStatus(r.Status),
		Type:                      domain.JobType(r.Type),
		TotalAccounts:             r.TotalAccounts,
		ProcessedAccounts:         r.ProcessedAccounts,
		TotalEmailsSynced:         r.TotalEmailsSynced,
		TotalEmailsSkipped:        r.TotalEmailsSkipped,
		TotalEmailsProcessed:      r.TotalEmailsProcessed,
		EstimatedTotalEmails:      r.EstimatedTotalEmails,
		CurrentPage:               r.CurrentPage,
		EmailsPerSecond:           r.EmailsPerSecond,
		EstimatedSecondsRemaining: r.EstimatedSecondsRemaining,
		CreatedAt:                 r.CreatedAt,
		UpdatedAt:                 r.UpdatedAt,
	}
	if r.CurrentAccount.Valid {
		job.CurrentAccount = r.CurrentAccount.String
	}
	if r.StatusMessage.Valid {
		job.StatusMessage = r.StatusMessage.String
	}
	if r.StartedAt.Valid {
		job.StartedAt = r.StartedAt.Time
	}
	if r.CompletedAt.Valid {
		job.CompletedAt = r.CompletedAt.Time
	}
	if r.ErrorMessage.Valid {
		job.ErrorMessage = r.ErrorMessage.String
	}
	return job
}

const syncJobColumns = `id, user_id, status, job_type, total_accounts, processed_accounts,
	total_emails_synced, total_emails_skipped, total_emails_processed, estimated_total_emails,
	current_account, current_page, status_message, emails_per_second, estimated_seconds_remaining,
	started_at, completed_at, error_message, created_at, updated_at`

// Create inserts the job only when the user has no active job. The
// anti-join makes check and insert one atomic statement, so two
// concurrent starts cannot both win.
func (a *SyncJobAdapter) Create(ctx context.Context, job *domain.SyncJob) error {
	res, err := a.db.ExecContext(ctx, `
		INSERT INTO sync_jobs (id, user_id, status, job_type, status_message, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, NOW(), NOW()
		WHERE NOT EXISTS (
			SELECT 1 FROM sync_jobs
			WHERE user_id = $2 AND status IN ('PENDING', 'RUNNING')
		)`,
		job.ID,
		job.UserID,
		string(job.Status),
		string(job.Type),
		nullString(job.StatusMessage),
	)
	if err != nil {
		return apperr.DatabaseError("create sync job", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.SyncAlreadyRunning()
	}
	return nil
}

func (a *SyncJobAdapter) GetByID(ctx context.Context, id int64) (*domain.SyncJob, error) {
	var row syncJobRow
	err := a.db.GetContext(ctx, &row,
		`SELECT `+syncJobColumns+` FROM sync_jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("sync job")
	}
	if err != nil {
		return nil, apperr.DatabaseError("get sync job", err)
	}
	return row.toDomain(), nil
}

func (a *SyncJobAdapter) GetByIDForUser(ctx context.Context, id int64, userID uuid.UUID) (*domain.SyncJob, error) {
	var row syncJobRow
	err := a.db.GetContext(ctx, &row,
		`SELECT `+syncJobColumns+` FROM sync_jobs WHERE id = $1 AND user_id = $2`, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("sync job")
	}
	if err != nil {
		return nil, apperr.DatabaseError("get sync job", err)
	}
	return row.toDomain(), nil
}

// Update writes the full mutable state. A progress write racing a
// cancellation must not resurrect the job, so RUNNING never overwrites
// CANCELLED.
func (a *SyncJobAdapter) Update(ctx context.Context, job *domain.SyncJob) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE sync_jobs SET
			status = CASE WHEN status = 'CANCELLED' AND $2 = 'RUNNING' THEN status ELSE $2 END,
			total_accounts = $3,
			processed_accounts = $4,
			total_emails_synced = $5,
			total_emails_skipped = $6,
			total_emails_processed = $7,
			estimated_total_emails = $8,
			current_account = $9,
			current_page = $10,
			status_message = CASE WHEN status = 'CANCELLED' AND $2 = 'RUNNING' THEN status_message ELSE $11 END,
			emails_per_second = $12,
			estimated_seconds_remaining = $13,
			started_at = $14,
			completed_at = $15,
			error_message = $16,
			updated_at = NOW()
		WHERE id = $1`,
		job.ID,
		string(job.Status),
		job.TotalAccounts,
		job.ProcessedAccounts,
		job.TotalEmailsSynced,
		job.TotalEmailsSkipped,
		job.TotalEmailsProcessed,
		job.EstimatedTotalEmails,
		nullString(job.CurrentAccount),
		job.CurrentPage,
		nullString(job.StatusMessage),
		job.EmailsPerSecond,
		job.EstimatedSecondsRemaining,
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		nullString(job.ErrorMessage),
	)
	if err != nil {
		return apperr.DatabaseError("update sync job", err)
	}
	return nil
}

func (a *SyncJobAdapter) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*domain.SyncJob, error) {
	var row syncJobRow
	err := a.db.GetContext(ctx, &row, `
		SELECT `+syncJobColumns+` FROM sync_jobs
		WHERE user_id = $1 AND status IN ('PENDING', 'RUNNING')
		ORDER BY created_at DESC
		LIMIT 1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.DatabaseError("find active sync job", err)
	}
	return row.toDomain(), nil
}

func (a *SyncJobAdapter) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.SyncJob, int, error) {
	var total int
	if err := a.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM sync_jobs WHERE user_id = $1`, userID); err != nil {
		return nil, 0, apperr.DatabaseError("count sync jobs", err)
	}

	var rows []syncJobRow
	err := a.db.SelectContext(ctx, &rows, `
		SELECT `+syncJobColumns+` FROM sync_jobs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, apperr.DatabaseError("list sync jobs", err)
	}

	jobs := make([]*domain.SyncJob, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, rows[i].toDomain())
	}
	return jobs, total, nil
}

// Cancel transitions RUNNING to CANCELLED. The status predicate makes
// the check and the write one statement; a job that completed in the
// meantime is left alone and the caller gets the conflict.
func (a *SyncJobAdapter) Cancel(ctx context.Context, id int64, statusMessage string) error {
	res, err := a.db.ExecContext(ctx, `
		UPDATE sync_jobs SET
			status = 'CANCELLED',
			status_message = $2,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'RUNNING'`,
		id, nullString(statusMessage))
	if err != nil {
		return apperr.DatabaseError("cancel sync job", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.SyncNotActive(id)
	}
	return nil
}
