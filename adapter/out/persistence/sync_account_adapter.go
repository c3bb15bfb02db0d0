package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/crypto"
	"mailsync_server/pkg/logger"
)

// AccountAdapter implements out.AccountRepository using PostgreSQL.
// OAuth tokens are encrypted at rest and decrypted on read.
type AccountAdapter struct {
	db                *sqlx.DB
	encryptionEnabled bool
}

var _ out.AccountRepository = (*AccountAdapter)(nil)

func NewAccountAdapter(db *sqlx.DB) *AccountAdapter {
	err := crypto.Init()
	if err != nil {
		logger.Warn("Token encryption disabled: %v", err)
	}
	return &AccountAdapter{db: db, encryptionEnabled: err == nil}
}

type accountRow struct {
	ID             int64          `db:"id"`
	UserID         uuid.UUID      `db:"user_id"`
	EmailAddress   string         `db:"email_address"`
	Provider       string         `db:"provider"`
	AccessToken    string         `db:"access_token"`
	RefreshToken   sql.NullString `db:"refresh_token"`
	TokenExpiresAt sql.NullTime   `db:"token_expires_at"`
	SyncStatus     string         `db:"sync_status"`
	LastSyncAt     sql.NullTime   `db:"last_sync_at"`
	LastSyncError  sql.NullString `db:"last_sync_error"`
	IsActive       bool           `db:"is_active"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (a *AccountAdapter) toDomain(r *accountRow) *domain.EmailAccount {
	account := &domain.EmailAccount{
		ID:           r.ID,
		UserID:       r.UserID,
		EmailAddress: r.EmailAddress,
		Provider:     domain.Provider(r.Provider),
		AccessToken:  a.decryptToken(r.AccessToken),
		SyncStatus:   domain.AccountSyncStatus(r.SyncStatus),
		IsActive:     r.IsActive,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.RefreshToken.Valid {
		account.RefreshToken = a.decryptToken(r.RefreshToken.String)
	}
	if r.TokenExpiresAt.Valid {
		account.TokenExpiresAt = r.TokenExpiresAt.Time
	}
	if r.LastSyncAt.Valid {
		account.LastSyncAt = r.LastSyncAt.Time
	}
	if r.LastSyncError.Valid {
		account.LastSyncError = r.LastSyncError.String
	}
	return account
}

const accountColumns = `id, user_id, email_address, provider, access_token, refresh_token,
	token_expires_at, sync_status, last_sync_at, last_sync_error, is_active, created_at, updated_at`

func (a *AccountAdapter) GetByID(ctx context.Context, id int64) (*domain.EmailAccount, error) {
	var row accountRow
	err := a.db.GetContext(ctx, &row,
		`SELECT `+accountColumns+` FROM email_accounts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("account")
	}
	if err != nil {
		return nil, apperr.DatabaseError("get account", err)
	}
	return a.toDomain(&row), nil
}

func (a *AccountAdapter) GetByIDForUser(ctx context.Context, id int64, userID uuid.UUID) (*domain.EmailAccount, error) {
	var row accountRow
	err := a.db.GetContext(ctx, &row,
		`SELECT `+accountColumns+` FROM email_accounts WHERE id = $1 AND user_id = $2`, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("account")
	}
	if err != nil {
		return nil, apperr.DatabaseError("get account", err)
	}
	return a.toDomain(&row), nil
}

func (a *AccountAdapter) FindActiveByUser(ctx context.Context, userID uuid.UUID) ([]*domain.EmailAccount, error) {
	var rows []accountRow
	err := a.db.SelectContext(ctx, &rows,
		`SELECT `+accountColumns+` FROM email_accounts
		 WHERE user_id = $1 AND is_active = TRUE
		 ORDER BY created_at`, userID)
	if err != nil {
		return nil, apperr.DatabaseError("list accounts", err)
	}

	accounts := make([]*domain.EmailAccount, 0, len(rows))
	for i := range rows {
		accounts = append(accounts, a.toDomain(&rows[i]))
	}
	return accounts, nil
}

func (a *AccountAdapter) Create(ctx context.Context, account *domain.EmailAccount) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO email_accounts
			(id, user_id, email_address, provider, access_token, refresh_token,
			 token_expires_at, sync_status, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())`,
		account.ID,
		account.UserID,
		account.EmailAddress,
		string(account.Provider),
		a.encryptToken(account.AccessToken),
		nullString(a.encryptToken(account.RefreshToken)),
		nullTime(account.TokenExpiresAt),
		string(account.SyncStatus),
		account.IsActive,
	)
	if err != nil {
		return apperr.DatabaseError("create account", err)
	}
	return nil
}

func (a *AccountAdapter) Update(ctx context.Context, account *domain.EmailAccount) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE email_accounts SET
			email_address = $2,
			sync_status = $3,
			last_sync_error = $4,
			is_active = $5,
			updated_at = NOW()
		WHERE id = $1`,
		account.ID,
		account.EmailAddress,
		string(account.SyncStatus),
		nullString(account.LastSyncError),
		account.IsActive,
	)
	if err != nil {
		return apperr.DatabaseError("update account", err)
	}
	return nil
}

func (a *AccountAdapter) Delete(ctx context.Context, id int64, userID uuid.UUID) error {
	res, err := a.db.ExecContext(ctx,
		`DELETE FROM email_accounts WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return apperr.DatabaseError("delete account", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("account")
	}
	return nil
}

func (a *AccountAdapter) UpdateTokens(ctx context.Context, accountID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE email_accounts SET
			access_token = $2,
			refresh_token = $3,
			token_expires_at = $4,
			updated_at = NOW()
		WHERE id = $1`,
		accountID,
		a.encryptToken(accessToken),
		nullString(a.encryptToken(refreshToken)),
		nullTime(expiresAt),
	)
	if err != nil {
		return apperr.DatabaseError("update tokens", err)
	}
	return nil
}

// UpdateSyncStatus records the outcome of a sync attempt. Reaching
// SYNCED also stamps last_sync_at.
func (a *AccountAdapter) UpdateSyncStatus(ctx context.Context, accountID int64, status domain.AccountSyncStatus, lastError string) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE email_accounts SET
			sync_status = $2,
			last_sync_error = $3,
			last_sync_at = CASE WHEN $2 = 'SYNCED' THEN NOW() ELSE last_sync_at END,
			updated_at = NOW()
		WHERE id = $1`,
		accountID, string(status), nullString(lastError))
	if err != nil {
		return apperr.DatabaseError("update sync status", err)
	}
	return nil
}

// ListUsersDueForSync finds users whose active accounts have gone
// stale. Accounts mid-sync are excluded so the scheduler does not
// stack runs.
func (a *AccountAdapter) ListUsersDueForSync(ctx context.Context, staleAfter time.Duration, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM email_accounts
		WHERE is_active = TRUE
		  AND sync_status <> 'SYNCING'
		  AND (last_sync_at IS NULL OR last_sync_at < NOW() - $1::interval)
		LIMIT $2`,
		fmt.Sprintf("%d seconds", int(staleAfter.Seconds())), limit)
	if err != nil {
		return nil, apperr.DatabaseError("list users due for sync", err)
	}
	defer rows.Close()

	var users []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.DatabaseError("scan user id", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

func (a *AccountAdapter) encryptToken(token string) string {
	if !a.encryptionEnabled || token == "" {
		return token
	}
	encrypted, err := crypto.EncryptToken(token)
	if err != nil {
		logger.Warn("Failed to encrypt token: %v", err)
		return token
	}
	return encrypted
}

func (a *AccountAdapter) decryptToken(token string) string {
	if token == "" || !crypto.IsEncrypted(token) {
		return token
	}
	decrypted, err := crypto.DecryptToken(token)
	if err != nil {
		// Legacy plaintext token, return as-is.
		return token
	}
	return decrypted
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
