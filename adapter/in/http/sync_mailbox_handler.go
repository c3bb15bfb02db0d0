package http

import (
	"mailsync_server/core/port/in"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// MailboxHandler handles provider folder and move requests.
type MailboxHandler struct {
	mailboxService in.MailboxService
}

// NewMailboxHandler creates a new mailbox handler.
func NewMailboxHandler(mailboxService in.MailboxService) *MailboxHandler {
	return &MailboxHandler{mailboxService: mailboxService}
}

// Register registers mailbox routes under the account resource.
func (h *MailboxHandler) Register(router fiber.Router) {
	accounts := router.Group("/accounts")

	accounts.Get("/:id/folders", h.ListFolders)
	accounts.Post("/:id/folders", h.GetOrCreateFolder)
	accounts.Post("/:id/messages/move", h.MoveMessages)
}

// ListFolders lists the account's provider folders.
func (h *MailboxHandler) ListFolders(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return apperr.Unauthorized("authentication required")
	}

	accountID, err := ParamID(c, "id")
	if err != nil {
		return err
	}

	folders, err := h.mailboxService.ListFolders(c.Context(), userID, accountID)
	if err != nil {
		return err
	}

	return response.OK(c, folders)
}

// CreateFolderRequest names the folder to create or look up.
type CreateFolderRequest struct {
	Name string `json:"name"`
}

// GetOrCreateFolder returns the named folder, creating it when the
// account has none.
func (h *MailboxHandler) GetOrCreateFolder(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return apperr.Unauthorized("authentication required")
	}

	accountID, err := ParamID(c, "id")
	if err != nil {
		return err
	}

	var req CreateFolderRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	folder, err := h.mailboxService.GetOrCreateFolder(c.Context(), userID, accountID, req.Name)
	if err != nil {
		return err
	}

	return response.OK(c, folder)
}

// MoveMessagesRequest selects the messages and the destination folder.
type MoveMessagesRequest struct {
	FolderID   string   `json:"folder_id"`
	MessageIDs []string `json:"message_ids"`
}

// MoveMessages moves the messages into the folder.
func (h *MailboxHandler) MoveMessages(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return apperr.Unauthorized("authentication required")
	}

	accountID, err := ParamID(c, "id")
	if err != nil {
		return err
	}

	var req MoveMessagesRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	if err := h.mailboxService.MoveMessages(c.Context(), userID, accountID, req.FolderID, req.MessageIDs); err != nil {
		return err
	}

	return response.NoContent(c)
}
