package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/apperr"
)

// NotificationAdapter implements out.NotificationRepository using
// PostgreSQL.
type NotificationAdapter struct {
	db *sqlx.DB
}

var _ out.NotificationRepository = (*NotificationAdapter)(nil)

func NewNotificationAdapter(db *sqlx.DB) *NotificationAdapter {
	return &NotificationAdapter{db: db}
}

type notificationRow struct {
	ID           int64          `db:"id"`
	UserID       uuid.UUID      `db:"user_id"`
	Type         string         `db:"type"`
	Title        string         `db:"title"`
	Message      string         `db:"message"`
	IsRead       bool           `db:"is_read"`
	ActionURL    sql.NullString `db:"action_url"`
	RelatedJobID sql.NullInt64  `db:"related_job_id"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (r *notificationRow) toDomain() *domain.Notification {
	n := &domain.Notification{
		ID:        r.ID,
		UserID:    r.UserID,
		Type:      domain.NotificationType(r.Type),
		Title:     r.Title,
		Message:   r.Message,
		IsRead:    r.IsRead,
		CreatedAt: r.CreatedAt,
	}
	if r.ActionURL.Valid {
		n.ActionURL = r.ActionURL.String
	}
	if r.RelatedJobID.Valid {
		n.RelatedJobID = r.RelatedJobID.Int64
	}
	return n
}

func (a *NotificationAdapter) Create(ctx context.Context, notification *domain.Notification) error {
	var relatedJobID sql.NullInt64
	if notification.RelatedJobID != 0 {
		relatedJobID = sql.NullInt64{Int64: notification.RelatedJobID, Valid: true}
	}

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, is_read, action_url, related_job_id, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7, NOW())`,
		notification.ID,
		notification.UserID,
		string(notification.Type),
		notification.Title,
		notification.Message,
		nullString(notification.ActionURL),
		relatedJobID,
	)
	if err != nil {
		return apperr.DatabaseError("create notification", err)
	}
	return nil
}

func (a *NotificationAdapter) GetByID(ctx context.Context, id int64) (*domain.Notification, error) {
	var row notificationRow
	err := a.db.GetContext(ctx, &row,
		`SELECT * FROM notifications WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("notification")
	}
	if err != nil {
		return nil, apperr.DatabaseError("get notification", err)
	}
	return row.toDomain(), nil
}

func (a *NotificationAdapter) List(ctx context.Context, filter *domain.NotificationFilter) ([]*domain.Notification, int, error) {
	where := "WHERE user_id = $1"
	args := []any{filter.UserID}

	if filter.Type != nil {
		args = append(args, string(*filter.Type))
		where += " AND type = $" + strconv.Itoa(len(args))
	}
	if filter.IsRead != nil {
		args = append(args, *filter.IsRead)
		where += " AND is_read = $" + strconv.Itoa(len(args))
	}

	var total int
	if err := a.db.GetContext(ctx, &total,
		"SELECT COUNT(*) FROM notifications "+where, args...); err != nil {
		return nil, 0, apperr.DatabaseError("count notifications", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, filter.Offset)

	var rows []notificationRow
	query := "SELECT * FROM notifications " + where +
		" ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, apperr.DatabaseError("list notifications", err)
	}

	notifications := make([]*domain.Notification, 0, len(rows))
	for i := range rows {
		notifications = append(notifications, rows[i].toDomain())
	}
	return notifications, total, nil
}

func (a *NotificationAdapter) MarkAsRead(ctx context.Context, id int64, userID uuid.UUID) error {
	res, err := a.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return apperr.DatabaseError("mark notification read", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("notification")
	}
	return nil
}

func (a *NotificationAdapter) MarkAllAsRead(ctx context.Context, userID uuid.UUID) error {
	_, err := a.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND is_read = FALSE`, userID)
	if err != nil {
		return apperr.DatabaseError("mark all notifications read", err)
	}
	return nil
}

func (a *NotificationAdapter) Delete(ctx context.Context, id int64, userID uuid.UUID) error {
	res, err := a.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return apperr.DatabaseError("delete notification", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("notification")
	}
	return nil
}

func (a *NotificationAdapter) CountUnread(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := a.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = FALSE`, userID)
	if err != nil {
		return 0, apperr.DatabaseError("count unread notifications", err)
	}
	return count, nil
}
