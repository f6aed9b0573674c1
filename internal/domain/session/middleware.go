package session

import (
	"github.com/emberfed/emberauth/internal/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	// CookieName is the browser session cookie.
	CookieName = "emberauth_session"
	// ContextKey is the key the resolved session is stored under in the
	// Fiber context.
	ContextKey = "session"
)

// Middleware returns a Fiber middleware that resolves the caller's
// session from the session cookie (or the X-Session-ID header for
// non-browser callers) and attaches it to the request context. Requests
// without a live session get 401.
func Middleware(svc Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Cookies(CookieName)
		if raw == "" {
			raw = c.Get("X-Session-ID")
		}
		if raw == "" {
			return utils.ErrorResponse(c, "login_required", fiber.StatusUnauthorized)
		}

		id, err := uuid.Parse(raw)
		if err != nil {
			return utils.ErrorResponse(c, "login_required", fiber.StatusUnauthorized)
		}

		sess, err := svc.Get(id)
		if err != nil {
			return utils.ErrorResponse(c, "login_required", fiber.StatusUnauthorized)
		}

		// Activity tracking is advisory.
		_ = svc.Touch(sess.ID)

		c.Locals(ContextKey, sess)
		return c.Next()
	}
}

// FromContext returns the session attached by Middleware.
func FromContext(c *fiber.Ctx) (*Session, bool) {
	sess, ok := c.Locals(ContextKey).(*Session)
	return sess, ok && sess != nil
}
