package grant

import (
	"net/url"
	"strings"

	"github.com/emberfed/emberauth/internal/clock"
	"github.com/emberfed/emberauth/internal/domain/client"
	"github.com/emberfed/emberauth/internal/domain/session"
	"github.com/emberfed/emberauth/internal/domain/token"
	"github.com/emberfed/emberauth/internal/ratelimit"
	"github.com/emberfed/emberauth/internal/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Grant types served by the token endpoint.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
)

type Handler struct {
	service  Service
	limiter  *ratelimit.Limiter
	clock    clock.Clock
	verifyTo string
}

// NewHandler creates the Handler serving the authorization, token, and
// device endpoints. verificationURI is where users type device codes.
func NewHandler(service Service, limiter *ratelimit.Limiter, clk clock.Clock, verificationURI string) *Handler {
	return &Handler{
		service:  service,
		limiter:  limiter,
		clock:    clk,
		verifyTo: verificationURI,
	}
}

// AuthorizeRequest is the authorization endpoint query string.
type AuthorizeRequest struct {
	ResponseType        string `query:"response_type"`
	ClientID            string `query:"client_id"`
	RedirectURI         string `query:"redirect_uri"`
	Scope               string `query:"scope"`
	State               string `query:"state"`
	Nonce               string `query:"nonce"`
	MaxAge              *int   `query:"max_age"`
	CodeChallenge       string `query:"code_challenge"`
	CodeChallengeMethod string `query:"code_challenge_method"`
}

// AuthorizeResponse is the consent context handed to the frontend. The
// raw code travels with it; it stays worthless until the grant is
// fulfilled and is bound to the client and its PKCE challenge.
type AuthorizeResponse struct {
	GrantID  string `json:"grant_id"`
	Code     string `json:"code"`
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
	State    string `json:"state,omitempty"`
}

// ConfirmRequest is the consent decision body.
type ConfirmRequest struct {
	GrantID string `json:"grant_id"`
	Code    string `json:"code"`
	Approve bool   `json:"approve"`
	Scope   string `json:"scope"`
}

// ConfirmResponse carries the redirect back to the relying party.
type ConfirmResponse struct {
	RedirectURI string `json:"redirect_uri"`
}

// TokenRequest is the token endpoint form body.
type TokenRequest struct {
	GrantType    string `form:"grant_type"`
	Code         string `form:"code"`
	RedirectURI  string `form:"redirect_uri"`
	ClientID     string `form:"client_id"`
	ClientSecret string `form:"client_secret"`
	CodeVerifier string `form:"code_verifier"`
	RefreshToken string `form:"refresh_token"`
	DeviceCode   string `form:"device_code"`
	Scope        string `form:"scope"`
}

// TokenResponse is the RFC 6749 §5.1 success body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// DeviceAuthorizationRequest is the RFC 8628 §3.1 form body.
type DeviceAuthorizationRequest struct {
	ClientID     string `form:"client_id"`
	ClientSecret string `form:"client_secret"`
	Scope        string `form:"scope"`
}

// DeviceAuthorizationResponse is the RFC 8628 §3.2 success body.
type DeviceAuthorizationResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// DeviceConsentRequest is the consent decision for a typed user code.
type DeviceConsentRequest struct {
	UserCode string `json:"user_code"`
	Approve  bool   `json:"approve"`
	Scope    string `json:"scope"`
}

// Authorize opens an authorization-code flow. Requires a session; the
// response feeds the consent frontend.
func (h *Handler) Authorize(c *fiber.Ctx) error {
	var req AuthorizeRequest
	if err := c.QueryParser(&req); err != nil {
		return utils.OAuthErrorResponse(c, ErrorCodeInvalidRequest, err.Error())
	}
	if req.ResponseType == "" || req.ClientID == "" || req.RedirectURI == "" || req.Scope == "" {
		return utils.OAuthErrorResponse(c, ErrorCodeInvalidRequest, "response_type, client_id, redirect_uri and scope are required")
	}

	if _, ok := session.FromContext(c); !ok {
		return utils.ErrorResponse(c, "login_required", fiber.StatusUnauthorized)
	}

	g, code, err := h.service.StartAuthorization(c.Context(), &AuthorizeParams{
		ResponseType:        req.ResponseType,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		State:               req.State,
		Nonce:               req.Nonce,
		MaxAge:              req.MaxAge,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
	})
	if err != nil {
		oauthErr := MapErrorToOAuth(err)
		return utils.OAuthErrorResponse(c, oauthErr.Code, oauthErr.Description, oauthErr.StatusCode)
	}

	return c.Status(fiber.StatusOK).JSON(&AuthorizeResponse{
		GrantID:  g.ID.String(),
		Code:     code,
		ClientID: g.ClientID,
		Scope:    g.Scopes,
		State:    g.State,
	})
}

// Confirm records the user's consent decision and hands back the
// redirect to the relying party.
func (h *Handler) Confirm(c *fiber.Ctx) error {
	var req ConfirmRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.OAuthErrorResponse(c, ErrorCodeInvalidRequest, err.Error())
	}
	if req.GrantID == "" || req.Code == "" {
		return utils.OAuthErrorResponse(c, ErrorCodeInvalidRequest, "grant_id and code are required")
	}

	sess, ok := session.FromContext(c)
	if !ok {
		return utils.ErrorResponse(c, "login_required", fiber.StatusUnauthorized)
	}

	grantID, err := uuid.Parse(req.GrantID)
	if err != nil {
		return utils.OAuthErrorResponse(c, ErrorCodeInvalidRequest, "grant_id is not a valid id")
	}

	g, err := h.service.FindAuthorization(grantID)
	if err != nil {
		oauthErr := MapErrorToOAuth(err)
		return utils.OAuthErrorResponse(c, oauthErr.Code, oauthErr.Description, oauthErr.StatusCode)
	}
	if hashCode(req.Code) != g.CodeHash {
		return utils.OAuthErrorResponse(c, ErrorCodeInvalidGrant, "code does not belong to this grant")
	}

	if !req.Approve {
		if err := h.service.CancelAuthorization(c.Context(), grantID); err != nil {
			oauthErr := MapErrorToOAuth(err)
			return utils.OAuthErrorResponse(c, oauthErr.Code, oauthErr.Description, oauthErr.StatusCode)
		}
		return c.Status(fiber.StatusOK).JSON(&ConfirmResponse{
			RedirectURI: buildRedirect(g.RedirectURI, map[string]string{
				"error": ErrorCodeAccessDenied,
				"state": g.State,
			}),
		})
	}

	grantedScopes := strings.Fields(req.Scope)
	if len(grantedScopes) == 0 {
		grantedScopes = g.ScopeList()
	}

	if err := h.service.FulfillAuthorization(c.Context(), grantID, sess.ID, grantedScopes); err != nil {
		oauthErr := MapErrorToOAuth(err)
		return utils.OAuthErrorResponse(c, oauthErr.Code, oauthErr.Description, oauthErr.StatusCode)
	}

	return c.Status(fiber.StatusOK).JSON(&ConfirmResponse{
		RedirectURI: buildRedirect(g.RedirectURI, map[string]string{
			"code":  req.Code,
			"state": g.State,
		}),
	})
}

// Token serves the token endpoint, dispatching on grant_type.
func (h *Handler) Token(c *fiber.Ctx) error {
	if err := h.limiter.Check(ratelimit.Fingerprint(c.IP())); err != nil {
		return utils.OAuthErrorResponse(c, ErrorCodeInvalidRequest, "Too many requests", fiber.StatusTooManyRequests)
	}

	var req TokenRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.OAuthErrorResponse(c, ErrorCodeInvalidRequest, err.Error())
	}
	if req.ClientID == "" {
		return utils.OAuthErrorResponse(c, ErrorCodeInvalidClient, "client_id is required", fiber.StatusUnauthorized)
	}

	creds := client.Credentials{ClientID: req.ClientID, Secret: req.ClientSecret}

	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		if req.Code == "" || req.RedirectURI == "" {
			return utils.OAuthErrorResponse(c, ErrorCodeInvalidRequest, "code and redirect_uri are required")
		}
		issued, err := h.service.ExchangeAuthorizationCode(c.Context(), req.Code, creds, req.RedirectURI, req.CodeVerifier)
		if err != nil {
			oauthErr := MapErrorToOAuth(err)
			return utils.OAuthErrorResponse(c, oauthErr.Code, oauthErr.Description, oauthErr.StatusCode)
		}
		return c.Status(fiber.StatusOK).JSON(h.tokenResponse(issued))

	case GrantTypeRefreshToken:
		if req.RefreshToken == "" {
			return utils.OAuthErrorResponse(c, ErrorCodeInvalidRequest, "refresh_token is required")
		}
		issued, err := h.service.RefreshTokens(c.Context(), creds, req.RefreshToken, strings.Fields(req.Scope))
		if err != nil {
			oauthErr := MapErrorToOAuth(err)
			return utils.OAuthErrorResponse(c, oauthErr.Code, oauthErr.Description, oauthErr.StatusCode)
		}
		return c.Status(fiber.StatusOK).JSON(h.tokenResponse(issued))

	case GrantTypeDeviceCode:
		if req.DeviceCode == "" {
			return utils.OAuthErrorResponse(c, ErrorCodeInvalidRequest, "device_code is required")
		}
		res, err := h.service.PollDeviceCode(c.Context(), req.DeviceCode, creds)
		if err != nil {
			oauthErr := MapErrorToOAuth(err)
			return utils.OAuthErrorResponse(c, oauthErr.Code, oauthErr.Description, oauthErr.StatusCode)
		}
		switch res.Status {
		case PollFulfilled:
			return c.Status(fiber.StatusOK).JSON(h.tokenResponse(res.Tokens))
		case PollAuthorizationPending:
			return utils.OAuthErrorResponse(c, ErrorCodeAuthorizationPending, "The user has not completed the authorization")
		case PollSlowDown:
			return utils.OAuthErrorResponse(c, ErrorCodeSlowDown, "Polling too fast")
		case PollAccessDenied:
			return utils.OAuthErrorResponse(c, ErrorCodeAccessDenied, "The user denied the request", fiber.StatusForbidden)
		default:
			return utils.OAuthErrorResponse(c, ErrorCodeExpiredToken, "The device_code has expired")
		}

	default:
		return utils.OAuthErrorResponse(c, ErrorCodeUnsupportedGrantType, "The authorization grant type is not supported")
	}
}

// DeviceAuthorization opens an RFC 8628 flow.
func (h *Handler) DeviceAuthorization(c *fiber.Ctx) error {
	var req DeviceAuthorizationRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.OAuthErrorResponse(c, ErrorCodeInvalidRequest, err.Error())
	}
	if req.ClientID == "" {
		return utils.OAuthErrorResponse(c, ErrorCodeInvalidClient, "client_id is required", fiber.StatusUnauthorized)
	}

	g, deviceCode, userCode, err := h.service.StartDeviceAuthorization(c.Context(),
		client.Credentials{ClientID: req.ClientID, Secret: req.ClientSecret},
		strings.Fields(req.Scope))
	if err != nil {
		oauthErr := MapErrorToOAuth(err)
		return utils.OAuthErrorResponse(c, oauthErr.Code, oauthErr.Description, oauthErr.StatusCode)
	}

	return c.Status(fiber.StatusOK).JSON(&DeviceAuthorizationResponse{
		DeviceCode:              deviceCode,
		UserCode:                userCode,
		VerificationURI:         h.verifyTo,
		VerificationURIComplete: h.verifyTo + "?user_code=" + url.QueryEscape(userCode),
		ExpiresIn:               int64(g.ExpiresAt.Sub(h.clock.Now()).Seconds()),
		Interval:                g.PollInterval,
	})
}

// DeviceConsent records the user's decision for a typed user code.
func (h *Handler) DeviceConsent(c *fiber.Ctx) error {
	var req DeviceConsentRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.OAuthErrorResponse(c, ErrorCodeInvalidRequest, err.Error())
	}
	if req.UserCode == "" {
		return utils.OAuthErrorResponse(c, ErrorCodeInvalidRequest, "user_code is required")
	}

	sess, ok := session.FromContext(c)
	if !ok {
		return utils.ErrorResponse(c, "login_required", fiber.StatusUnauthorized)
	}

	if err := h.service.SubmitDeviceConsent(c.Context(), req.UserCode, sess.ID, req.Approve, strings.Fields(req.Scope)); err != nil {
		oauthErr := MapErrorToOAuth(err)
		return utils.OAuthErrorResponse(c, oauthErr.Code, oauthErr.Description, oauthErr.StatusCode)
	}

	return utils.SuccessResponse(c, nil, "Consent recorded")
}

func (h *Handler) tokenResponse(issued *token.Issued) *TokenResponse {
	return &TokenResponse{
		AccessToken:  issued.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(issued.AccessExpiresAt.Sub(h.clock.Now()).Seconds()),
		RefreshToken: issued.RefreshToken,
		Scope:        strings.Join(issued.Scopes, " "),
		IDToken:      issued.IDToken,
	}
}

func buildRedirect(base string, params map[string]string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
