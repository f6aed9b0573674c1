package session

import (
	"errors"

	"github.com/emberfed/emberauth/internal/domain/user"
	"github.com/emberfed/emberauth/internal/ratelimit"
	"github.com/emberfed/emberauth/internal/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type Handler struct {
	service Service
	users   user.Service
	limiter *ratelimit.Limiter
}

func NewHandler(service Service, users user.Service, limiter *ratelimit.Limiter) *Handler {
	return &Handler{service: service, users: users, limiter: limiter}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// Login verifies credentials and opens a password session.
func (h *Handler) Login(c *fiber.Ctx) error {
	if err := h.limiter.Check(ratelimit.Fingerprint(c.IP())); err != nil {
		return utils.ErrorResponse(c, "too many login attempts", fiber.StatusTooManyRequests)
	}

	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusBadRequest)
	}
	if req.Username == "" || req.Password == "" {
		return utils.ErrorResponse(c, "username and password are required", fiber.StatusBadRequest)
	}

	u, err := h.users.VerifyCredentials(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, user.ErrInvalidCredentials) {
			return utils.ErrorResponse(c, err.Error(), fiber.StatusUnauthorized)
		}
		return utils.ErrorResponse(c, "internal_server_error", fiber.StatusInternalServerError)
	}

	// Re-authentication over a live session records the method instead
	// of opening a second session.
	sess := h.existingSession(c, u.ID)
	if sess == nil {
		sess, err = h.service.Create(u.ID, MethodPassword)
		if err != nil {
			return utils.ErrorResponse(c, "internal_server_error", fiber.StatusInternalServerError)
		}
	}

	c.Cookie(&fiber.Cookie{
		Name:     CookieName,
		Value:    sess.ID.String(),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})

	return utils.SuccessResponse(c, &LoginResponse{
		SessionID: sess.ID.String(),
		UserID:    u.ID.String(),
	}, "Logged in")
}

// existingSession resolves the session cookie, if any, and returns the
// stepped-up session when it belongs to the given user.
func (h *Handler) existingSession(c *fiber.Ctx, userID uuid.UUID) *Session {
	raw := c.Cookies(CookieName)
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	sess, err := h.service.Get(id)
	if err != nil || sess.UserID != userID {
		return nil
	}
	stepped, err := h.service.StepUp(sess.ID, MethodPassword)
	if err != nil {
		return nil
	}
	return stepped
}

// Logout closes the current session. Requires the session middleware.
func (h *Handler) Logout(c *fiber.Ctx) error {
	sess, ok := FromContext(c)
	if !ok {
		return utils.ErrorResponse(c, "login_required", fiber.StatusUnauthorized)
	}

	if err := h.service.MarkInactive(sess.ID); err != nil {
		return utils.ErrorResponse(c, "internal_server_error", fiber.StatusInternalServerError)
	}

	c.ClearCookie(CookieName)
	return utils.SuccessResponse(c, nil, "Logged out")
}

// Me returns the calling session. Requires the session middleware.
func (h *Handler) Me(c *fiber.Ctx) error {
	sess, ok := FromContext(c)
	if !ok {
		return utils.ErrorResponse(c, "login_required", fiber.StatusUnauthorized)
	}

	return utils.SuccessResponse(c, fiber.Map{
		"session_id":   sess.ID.String(),
		"user_id":      sess.UserID.String(),
		"auth_methods": sess.AuthMethods,
	}, "")
}
