package token

import (
	"errors"
	"strings"

	"github.com/emberfed/emberauth/internal/domain/client"
	"github.com/emberfed/emberauth/internal/utils"
	"github.com/gofiber/fiber/v2"
)

type Handler struct {
	service Service
	clients client.Service
}

// NewHandler creates a Handler serving the introspection and revocation
// endpoints. Both endpoints require client authentication.
func NewHandler(service Service, clients client.Service) *Handler {
	return &Handler{
		service: service,
		clients: clients,
	}
}

// IntrospectRequest is the RFC 7662 introspection form body.
type IntrospectRequest struct {
	Token        string `form:"token"`
	ClientID     string `form:"client_id"`
	ClientSecret string `form:"client_secret"`
}

// RevokeRequest is the RFC 7009 revocation form body.
type RevokeRequest struct {
	Token        string `form:"token"`
	ClientID     string `form:"client_id"`
	ClientSecret string `form:"client_secret"`
}

// Introspect handles token introspection. Tokens the caller may not see
// come back as {"active": false}, indistinguishable from nonexistent ones.
func (h *Handler) Introspect(c *fiber.Ctx) error {
	var req IntrospectRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.OAuthErrorResponse(c, "invalid_request", err.Error())
	}
	if req.Token == "" {
		return utils.OAuthErrorResponse(c, "invalid_request", "token is required")
	}
	if req.ClientID == "" {
		return utils.OAuthErrorResponse(c, "invalid_client", "client authentication is required", fiber.StatusUnauthorized)
	}

	if _, err := h.clients.Authenticate(client.Credentials{ClientID: req.ClientID, Secret: req.ClientSecret}); err != nil {
		return utils.OAuthErrorResponse(c, "invalid_client", "client authentication failed", fiber.StatusUnauthorized)
	}

	res, err := h.service.Introspect(c.Context(), req.Token, req.ClientID)
	if err != nil {
		return utils.OAuthErrorResponse(c, "server_error", err.Error(), fiber.StatusInternalServerError)
	}

	body := fiber.Map{"active": res.Active}
	if res.Active {
		body["scope"] = strings.Join(res.Scopes, " ")
		body["client_id"] = res.ClientID
		body["sub"] = res.Subject
		body["token_type"] = res.TokenType
		body["exp"] = res.ExpiresAt.Unix()
	}
	return c.Status(fiber.StatusOK).JSON(body)
}

// Revoke handles token revocation. Unknown tokens still return 200 OK.
func (h *Handler) Revoke(c *fiber.Ctx) error {
	var req RevokeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.OAuthErrorResponse(c, "invalid_request", err.Error())
	}
	if req.Token == "" {
		return utils.OAuthErrorResponse(c, "invalid_request", "token is required")
	}
	if req.ClientID == "" {
		return utils.OAuthErrorResponse(c, "invalid_client", "client authentication is required", fiber.StatusUnauthorized)
	}

	if _, err := h.clients.Authenticate(client.Credentials{ClientID: req.ClientID, Secret: req.ClientSecret}); err != nil {
		if errors.Is(err, client.ErrClientNotActive) {
			return utils.OAuthErrorResponse(c, "invalid_client", "client is not active", fiber.StatusUnauthorized)
		}
		return utils.OAuthErrorResponse(c, "invalid_client", "client authentication failed", fiber.StatusUnauthorized)
	}

	if err := h.service.Revoke(c.Context(), req.Token); err != nil {
		return utils.OAuthErrorResponse(c, "server_error", err.Error(), fiber.StatusInternalServerError)
	}

	// 200 with an empty body, per RFC 7009.
	return c.Status(fiber.StatusOK).Send(nil)
}
