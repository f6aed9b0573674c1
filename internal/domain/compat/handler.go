package compat

import (
	"errors"

	"github.com/emberfed/emberauth/internal/clock"
	"github.com/emberfed/emberauth/internal/domain/token"
	"github.com/emberfed/emberauth/internal/domain/user"
	"github.com/emberfed/emberauth/internal/ratelimit"
	"github.com/emberfed/emberauth/internal/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type Handler struct {
	service Service
	limiter *ratelimit.Limiter
	clock   clock.Clock
}

func NewHandler(service Service, limiter *ratelimit.Limiter, clk clock.Clock) *Handler {
	return &Handler{service: service, limiter: limiter, clock: clk}
}

type LoginRequest struct {
	DeviceID string `json:"device_id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type LogoutRequest struct {
	CompatSessionID string `json:"compat_session_id"`
}

// SessionResponse is the bridge's token envelope. Legacy clients read
// expires_in in seconds, like the OAuth surface.
type SessionResponse struct {
	CompatSessionID string `json:"compat_session_id"`
	DeviceID        string `json:"device_id"`
	UserID          string `json:"user_id"`
	AccessToken     string `json:"access_token"`
	RefreshToken    string `json:"refresh_token"`
	ExpiresIn       int64  `json:"expires_in"`
}

func (h *Handler) Login(c *fiber.Ctx) error {
	if err := h.limiter.Check(ratelimit.Fingerprint(c.IP())); err != nil {
		return utils.ErrorResponse(c, "too many login attempts", fiber.StatusTooManyRequests)
	}

	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusBadRequest)
	}
	if req.DeviceID == "" || req.Username == "" || req.Password == "" {
		return utils.ErrorResponse(c, "device_id, username and password are required", fiber.StatusBadRequest)
	}

	cs, issued, err := h.service.Login(c.Context(), req.DeviceID, req.Username, req.Password)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(h.sessionResponse(cs, issued))
}

func (h *Handler) Refresh(c *fiber.Ctx) error {
	var req RefreshRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusBadRequest)
	}
	if req.RefreshToken == "" {
		return utils.ErrorResponse(c, "refresh_token is required", fiber.StatusBadRequest)
	}

	cs, issued, err := h.service.Refresh(c.Context(), req.RefreshToken)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(h.sessionResponse(cs, issued))
}

func (h *Handler) Logout(c *fiber.Ctx) error {
	var req LogoutRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusBadRequest)
	}

	id, err := uuid.Parse(req.CompatSessionID)
	if err != nil {
		return utils.ErrorResponse(c, "compat_session_id is not a valid id", fiber.StatusBadRequest)
	}

	if err := h.service.Logout(c.Context(), id); err != nil {
		return h.mapError(c, err)
	}
	return utils.SuccessResponse(c, nil, "Logged out")
}

func (h *Handler) sessionResponse(cs *CompatSession, issued *token.Issued) *SessionResponse {
	return &SessionResponse{
		CompatSessionID: cs.ID.String(),
		DeviceID:        cs.DeviceID,
		UserID:          cs.UserID.String(),
		AccessToken:     issued.AccessToken,
		RefreshToken:    issued.RefreshToken,
		ExpiresIn:       int64(issued.AccessExpiresAt.Sub(h.clock.Now()).Seconds()),
	}
}

func (h *Handler) mapError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, user.ErrInvalidCredentials):
		return utils.ErrorResponse(c, err.Error(), fiber.StatusUnauthorized)
	case errors.Is(err, token.ErrTokenNotFound),
		errors.Is(err, token.ErrTokenExpired),
		errors.Is(err, token.ErrTokenRevoked),
		errors.Is(err, token.ErrTokenReplay),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrSessionExpired):
		return utils.ErrorResponse(c, "invalid_token", fiber.StatusUnauthorized)
	default:
		return utils.ErrorResponse(c, "internal_server_error", fiber.StatusInternalServerError)
	}
}
