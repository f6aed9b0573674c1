package upstream

import (
	"errors"

	"github.com/emberfed/emberauth/internal/domain/session"
	"github.com/emberfed/emberauth/internal/domain/user"
	"github.com/emberfed/emberauth/internal/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// CallbackResponse tells the frontend where the flow stands.
type CallbackResponse struct {
	LinkID     string `json:"link_id"`
	ProviderID string `json:"provider_id"`
	Status     string `json:"status"`
}

// CompleteRequest binds a verified link to a local account. Leaving
// UserID empty provisions a new account for the upstream subject.
type CompleteRequest struct {
	LinkID string `json:"link_id"`
	UserID string `json:"user_id"`
}

// CompleteResponse carries the opened session.
type CompleteResponse struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// Start opens a link flow and redirects the browser to the provider.
func (h *Handler) Start(c *fiber.Ctx) error {
	providerID := c.Params("provider")

	_, authorizeURL, err := h.service.StartLink(c.Context(), providerID)
	if err != nil {
		return mapError(c, err)
	}
	return c.Redirect(authorizeURL, fiber.StatusFound)
}

// Callback receives the provider's redirect.
func (h *Handler) Callback(c *fiber.Ctx) error {
	if provErr := c.Query("error"); provErr != "" {
		return utils.ErrorResponse(c, "upstream provider returned "+provErr, fiber.StatusBadGateway)
	}

	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		return utils.ErrorResponse(c, "state and code are required", fiber.StatusBadRequest)
	}

	l, err := h.service.HandleCallback(c.Context(), state, code)
	if err != nil {
		return mapError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(&CallbackResponse{
		LinkID:     l.ID.String(),
		ProviderID: l.ProviderID,
		Status:     l.Status,
	})
}

// Complete binds the link to a local account and sets the session
// cookie.
func (h *Handler) Complete(c *fiber.Ctx) error {
	var req CompleteRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusBadRequest)
	}
	if req.LinkID == "" {
		return utils.ErrorResponse(c, "link_id is required", fiber.StatusBadRequest)
	}

	linkID, err := uuid.Parse(req.LinkID)
	if err != nil {
		return utils.ErrorResponse(c, "link_id is not a valid id", fiber.StatusBadRequest)
	}

	var userID *uuid.UUID
	if req.UserID != "" {
		id, err := uuid.Parse(req.UserID)
		if err != nil {
			return utils.ErrorResponse(c, "user_id is not a valid id", fiber.StatusBadRequest)
		}
		userID = &id
	}

	sess, err := h.service.CompleteLink(c.Context(), linkID, userID)
	if err != nil {
		return mapError(c, err)
	}

	c.Cookie(&fiber.Cookie{
		Name:     session.CookieName,
		Value:    sess.ID.String(),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})

	return utils.SuccessResponse(c, &CompleteResponse{
		SessionID: sess.ID.String(),
		UserID:    sess.UserID.String(),
	}, "Upstream identity linked")
}

func mapError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrUnknownProvider):
		return utils.ErrorResponse(c, err.Error(), fiber.StatusNotFound)
	case errors.Is(err, ErrUnknownState), errors.Is(err, ErrInvalidState):
		return utils.ErrorResponse(c, err.Error(), fiber.StatusBadRequest)
	case errors.Is(err, ErrUpstreamProvider):
		return utils.ErrorResponse(c, err.Error(), fiber.StatusBadGateway)
	case errors.Is(err, ErrSubjectAlreadyLinked):
		return utils.ErrorResponse(c, err.Error(), fiber.StatusConflict)
	case errors.Is(err, ErrPolicyDenied):
		return utils.ErrorResponse(c, err.Error(), fiber.StatusForbidden)
	case errors.Is(err, user.ErrUserNotFound), errors.Is(err, user.ErrUsernameTaken):
		return utils.ErrorResponse(c, err.Error(), fiber.StatusConflict)
	default:
		return utils.ErrorResponse(c, "internal_server_error", fiber.StatusInternalServerError)
	}
}
