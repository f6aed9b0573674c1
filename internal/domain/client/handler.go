package client

import (
	"errors"
	"strings"

	"github.com/emberfed/emberauth/internal/utils"
	"github.com/gofiber/fiber/v2"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type RegisterRequest struct {
	ClientID      string   `json:"client_id"`
	Name          string   `json:"name"`
	Secret        string   `json:"secret"`
	RedirectURIs  []string `json:"redirect_uris"`
	AllowedScopes []string `json:"allowed_scopes"`
	RequirePKCE   bool     `json:"require_pkce"`
}

// ClientResponse is the public view of a registered client. The secret
// never leaves the registry.
type ClientResponse struct {
	ClientID      string   `json:"client_id"`
	Name          string   `json:"name"`
	RedirectURIs  []string `json:"redirect_uris"`
	AllowedScopes []string `json:"allowed_scopes"`
	RequirePKCE   bool     `json:"require_pkce"`
	Public        bool     `json:"public"`
	Active        bool     `json:"active"`
}

func (h *Handler) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusBadRequest)
	}
	if req.ClientID == "" || len(req.RedirectURIs) == 0 || len(req.AllowedScopes) == 0 {
		return utils.ErrorResponse(c, "client_id, redirect_uris and allowed_scopes are required", fiber.StatusBadRequest)
	}

	cl := &Client{
		ClientID:      req.ClientID,
		Name:          req.Name,
		RedirectURIs:  strings.Join(req.RedirectURIs, " "),
		AllowedScopes: strings.Join(req.AllowedScopes, " "),
		RequirePKCE:   req.RequirePKCE,
		Active:        true,
	}

	if err := h.service.Register(c.Context(), cl, req.Secret); err != nil {
		switch {
		case errors.Is(err, ErrRegistrationDenied):
			return utils.ErrorResponse(c, err.Error(), fiber.StatusForbidden)
		default:
			return utils.ErrorResponse(c, "internal_server_error", fiber.StatusInternalServerError)
		}
	}

	return utils.SuccessResponse(c, clientResponse(cl), "Client registered", fiber.StatusCreated)
}

func (h *Handler) Get(c *fiber.Ctx) error {
	cl, err := h.service.Lookup(c.Params("client_id"))
	if err != nil {
		if errors.Is(err, ErrUnknownClient) {
			return utils.ErrorResponse(c, err.Error(), fiber.StatusNotFound)
		}
		return utils.ErrorResponse(c, "internal_server_error", fiber.StatusInternalServerError)
	}
	return utils.SuccessResponse(c, clientResponse(cl), "")
}

func clientResponse(cl *Client) *ClientResponse {
	return &ClientResponse{
		ClientID:      cl.ClientID,
		Name:          cl.Name,
		RedirectURIs:  cl.RedirectURIList(),
		AllowedScopes: cl.AllowedScopeList(),
		RequirePKCE:   cl.RequirePKCE,
		Public:        cl.Public(),
		Active:        cl.Active,
	}
}
