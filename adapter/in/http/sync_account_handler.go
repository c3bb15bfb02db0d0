package http

import (
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/in"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// AccountHandler handles connected mail account requests.
type AccountHandler struct {
	accountService in.AccountService
}

// NewAccountHandler creates a new account handler.
func NewAccountHandler(accountService in.AccountService) *AccountHandler {
	return &AccountHandler{accountService: accountService}
}

// Register registers account routes.
func (h *AccountHandler) Register(router fiber.Router) {
	accounts := router.Group("/accounts")

	accounts.Get("/", h.ListAccounts)
	accounts.Post("/", h.ConnectAccount)
	accounts.Get("/:id", h.GetAccount)
	accounts.Delete("/:id", h.DisconnectAccount)
}

// ListAccounts returns the user's connected accounts.
func (h *AccountHandler) ListAccounts(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return apperr.Unauthorized("authentication required")
	}

	accounts, err := h.accountService.ListAccounts(c.Context(), userID)
	if err != nil {
		return err
	}

	return response.OK(c, accounts)
}

// GetAccount returns a single connected account.
func (h *AccountHandler) GetAccount(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return apperr.Unauthorized("authentication required")
	}

	accountID, err := ParamID(c, "id")
	if err != nil {
		return err
	}

	account, err := h.accountService.GetAccount(c.Context(), accountID, userID)
	if err != nil {
		return err
	}

	return response.OK(c, account)
}

// ConnectAccountRequest represents an account connect request.
type ConnectAccountRequest struct {
	Provider       string    `json:"provider"`
	EmailAddress   string    `json:"email_address"`
	AccessToken    string    `json:"access_token"`
	RefreshToken   string    `json:"refresh_token"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
}

// ConnectAccount registers a new mailbox for syncing. Tokens come from
// the OAuth flow completed by the frontend.
func (h *AccountHandler) ConnectAccount(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return apperr.Unauthorized("authentication required")
	}

	var req ConnectAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	account := &domain.EmailAccount{
		UserID:         userID,
		EmailAddress:   req.EmailAddress,
		Provider:       domain.ParseProvider(req.Provider),
		AccessToken:    req.AccessToken,
		RefreshToken:   req.RefreshToken,
		TokenExpiresAt: req.TokenExpiresAt,
	}

	if err := h.accountService.ConnectAccount(c.Context(), account); err != nil {
		return err
	}

	return response.Created(c, account)
}

// DisconnectAccount removes an account and its synced metadata.
func (h *AccountHandler) DisconnectAccount(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return apperr.Unauthorized("authentication required")
	}

	accountID, err := ParamID(c, "id")
	if err != nil {
		return err
	}

	if err := h.accountService.DisconnectAccount(c.Context(), accountID, userID); err != nil {
		return err
	}

	return response.NoContent(c)
}
