package http

import (
	"mailsync_server/core/domain"
	"mailsync_server/core/service/notification"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// NotificationHandler handles notification requests.
type NotificationHandler struct {
	notificationService *notification.Service
}

// NewNotificationHandler creates a new notification handler.
func NewNotificationHandler(notificationService *notification.Service) *NotificationHandler {
	return &NotificationHandler{
		notificationService: notificationService,
	}
}

// Register registers notification routes.
func (h *NotificationHandler) Register(router fiber.Router) {
	notifications := router.Group("/notifications")

	notifications.Get("/", h.ListNotifications)
	notifications.Get("/unread-count", h.GetUnreadCount)
	notifications.Post("/mark-read", h.MarkAsRead)
	notifications.Post("/mark-all-read", h.MarkAllAsRead)
	notifications.Delete("/:id", h.DeleteNotification)
}

// ListNotifications returns a list of notifications.
func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return apperr.Unauthorized("authentication required")
	}

	p := response.GetPagination(c, 50, 100)

	filter := &domain.NotificationFilter{
		Limit:  p.Limit,
		Offset: p.Offset,
	}

	if c.Query("unread_only") == "true" {
		isRead := false
		filter.IsRead = &isRead
	}

	if notifType := c.Query("type"); notifType != "" {
		t := domain.NotificationType(notifType)
		filter.Type = &t
	}

	notifications, total, err := h.notificationService.List(c.Context(), userID, filter)
	if err != nil {
		return err
	}

	return response.OKWithMeta(c, notifications, &response.Meta{
		Total:    total,
		PageSize: p.Limit,
		HasMore:  p.Offset+len(notifications) < total,
	})
}

// GetUnreadCount returns the count of unread notifications.
func (h *NotificationHandler) GetUnreadCount(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return apperr.Unauthorized("authentication required")
	}

	count, err := h.notificationService.GetUnreadCount(c.Context(), userID)
	if err != nil {
		return err
	}

	return response.OK(c, fiber.Map{
		"unread_count": count,
	})
}

// MarkAsReadRequest represents a mark as read request.
type MarkAsReadRequest struct {
	NotificationIDs []int64 `json:"notification_ids"`
}

// MarkAsRead marks notifications as read.
func (h *NotificationHandler) MarkAsRead(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return apperr.Unauthorized("authentication required")
	}

	var req MarkAsReadRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	if len(req.NotificationIDs) == 0 {
		return apperr.MissingField("notification_ids")
	}

	if err := h.notificationService.MarkAsRead(c.Context(), userID, req.NotificationIDs); err != nil {
		return err
	}

	return response.OK(c, fiber.Map{
		"marked": len(req.NotificationIDs),
	})
}

// MarkAllAsRead marks all notifications as read.
func (h *NotificationHandler) MarkAllAsRead(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return apperr.Unauthorized("authentication required")
	}

	if err := h.notificationService.MarkAllAsRead(c.Context(), userID); err != nil {
		return err
	}

	return response.OK(c, fiber.Map{
		"marked_all": true,
	})
}

// DeleteNotification deletes a single notification.
func (h *NotificationHandler) DeleteNotification(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return apperr.Unauthorized("authentication required")
	}

	notificationID, err := ParamID(c, "id")
	if err != nil {
		return err
	}

	if err := h.notificationService.Delete(c.Context(), userID, notificationID); err != nil {
		return err
	}

	return response.NoContent(c)
}
