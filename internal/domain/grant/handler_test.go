package grant

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/emberfed/emberauth/internal/domain/session"
	"github.com/emberfed/emberauth/internal/domain/token"
	"github.com/emberfed/emberauth/internal/ratelimit"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandlerTestApp(t *testing.T) (*fiber.App, *testEnv) {
	t.Helper()

	e := newTestEnv(t, nil)
	handler := NewHandler(e.svc, ratelimit.New(100, 100), e.clock, "https://auth.emberfed.example/device")

	app := fiber.New()
	withSession := session.Middleware(e.sessions)
	app.Get("/oauth2/authorize", withSession, handler.Authorize)
	app.Post("/oauth2/authorize/confirm", withSession, handler.Confirm)
	app.Post("/oauth2/token", handler.Token)
	app.Post("/oauth2/device_authorization", handler.DeviceAuthorization)
	app.Post("/oauth2/device/consent", withSession, handler.DeviceConsent)
	return app, e
}

func doJSON(t *testing.T, app *fiber.App, method, path, sessionID string, payload any) (int, map[string]any) {
	t.Helper()

	var body io.Reader
	contentType := ""
	switch p := payload.(type) {
	case url.Values:
		body = strings.NewReader(p.Encode())
		contentType = "application/x-www-form-urlencoded"
	case nil:
	default:
		raw, err := json.Marshal(p)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}

	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if sessionID != "" {
		req.Header.Set("X-Session-ID", sessionID)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var parsed map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &parsed))
	}
	return resp.StatusCode, parsed
}

func TestAuthorizeEndpointRequiresSession(t *testing.T) {
	app, _ := newHandlerTestApp(t)

	status, body := doJSON(t, app, "GET",
		"/oauth2/authorize?response_type=code&client_id=web-app&redirect_uri=https%3A%2F%2Fapp.example%2Fcallback&scope=openid", "", nil)
	require.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "login_required", body["error"])
}

func TestAuthorizeConfirmTokenRoundTrip(t *testing.T) {
	app, e := newHandlerTestApp(t)
	sess := e.newSession(t)
	verifier, challenge := pkcePair()

	query := url.Values{
		"response_type":         {"code"},
		"client_id":             {"web-app"},
		"redirect_uri":          {"https://app.example/callback"},
		"scope":                 {"openid profile"},
		"state":                 {"xyz"},
		"nonce":                 {"n-abc"},
		"code_challenge":        {challenge},
		"code_challenge_method": {CodeChallengeMethodS256},
	}
	status, body := doJSON(t, app, "GET", "/oauth2/authorize?"+query.Encode(), sess.ID.String(), nil)
	require.Equal(t, fiber.StatusOK, status)
	grantID := body["grant_id"].(string)
	code := body["code"].(string)
	require.NotEmpty(t, grantID)
	require.True(t, strings.HasPrefix(code, AuthorizationCodePrefix))

	status, body = doJSON(t, app, "POST", "/oauth2/authorize/confirm", sess.ID.String(), &ConfirmRequest{
		GrantID: grantID,
		Code:    code,
		Approve: true,
		Scope:   "openid profile",
	})
	require.Equal(t, fiber.StatusOK, status)
	redirect := body["redirect_uri"].(string)
	assert.Contains(t, redirect, "code="+url.QueryEscape(code))
	assert.Contains(t, redirect, "state=xyz")

	status, body = doJSON(t, app, "POST", "/oauth2/token", "", url.Values{
		"grant_type":    {GrantTypeAuthorizationCode},
		"code":          {code},
		"redirect_uri":  {"https://app.example/callback"},
		"client_id":     {"web-app"},
		"code_verifier": {verifier},
	})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Bearer", body["token_type"])
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["refresh_token"])
	assert.NotEmpty(t, body["id_token"])
	assert.Equal(t, "openid profile", body["scope"])
}

func TestConfirmDenyRedirectsWithAccessDenied(t *testing.T) {
	app, e := newHandlerTestApp(t)
	sess := e.newSession(t)
	_, challenge := pkcePair()
	g, code := startGrant(t, e, challenge)

	status, body := doJSON(t, app, "POST", "/oauth2/authorize/confirm", sess.ID.String(), &ConfirmRequest{
		GrantID: g.ID.String(),
		Code:    code,
		Approve: false,
	})
	require.Equal(t, fiber.StatusOK, status)
	redirect := body["redirect_uri"].(string)
	assert.Contains(t, redirect, "error=access_denied")
	assert.NotContains(t, redirect, "code=")
}

func TestTokenEndpointRejectsUnknownGrantType(t *testing.T) {
	app, _ := newHandlerTestApp(t)

	status, body := doJSON(t, app, "POST", "/oauth2/token", "", url.Values{
		"grant_type": {"password"},
		"client_id":  {"web-app"},
	})
	require.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, ErrorCodeUnsupportedGrantType, body["error"])
}

func TestTokenEndpointInvalidCode(t *testing.T) {
	app, _ := newHandlerTestApp(t)

	status, body := doJSON(t, app, "POST", "/oauth2/token", "", url.Values{
		"grant_type":   {GrantTypeAuthorizationCode},
		"code":         {AuthorizationCodePrefix + "bogus"},
		"redirect_uri": {"https://app.example/callback"},
		"client_id":    {"web-app"},
	})
	require.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, ErrorCodeInvalidGrant, body["error"])
}

func TestDeviceEndpointsRoundTrip(t *testing.T) {
	app, e := newHandlerTestApp(t)

	status, body := doJSON(t, app, "POST", "/oauth2/device_authorization", "", url.Values{
		"client_id": {"tv-app"},
		"scope":     {"openid"},
	})
	require.Equal(t, fiber.StatusOK, status)
	deviceCode := body["device_code"].(string)
	userCode := body["user_code"].(string)
	assert.Equal(t, "https://auth.emberfed.example/device", body["verification_uri"])
	assert.Contains(t, body["verification_uri_complete"], "user_code="+url.QueryEscape(userCode))
	assert.Equal(t, float64(5), body["interval"])

	pollForm := url.Values{
		"grant_type":  {GrantTypeDeviceCode},
		"device_code": {deviceCode},
		"client_id":   {"tv-app"},
	}
	status, body = doJSON(t, app, "POST", "/oauth2/token", "", pollForm)
	require.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, ErrorCodeAuthorizationPending, body["error"])

	sess := e.newSession(t)
	status, _ = doJSON(t, app, "POST", "/oauth2/device/consent", sess.ID.String(), &DeviceConsentRequest{
		UserCode: userCode,
		Approve:  true,
		Scope:    "openid",
	})
	require.Equal(t, fiber.StatusOK, status)

	e.clock.Advance(10 * time.Second)
	status, body = doJSON(t, app, "POST", "/oauth2/token", "", pollForm)
	require.Equal(t, fiber.StatusOK, status)
	assert.NotEmpty(t, body["access_token"])
}

func TestTokenEndpointRefreshUnknownClient(t *testing.T) {
	app, _ := newHandlerTestApp(t)

	status, body := doJSON(t, app, "POST", "/oauth2/token", "", url.Values{
		"grant_type":    {GrantTypeRefreshToken},
		"refresh_token": {token.RefreshTokenPrefix + "test"},
		"client_id":     {"ghost"},
	})
	require.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, ErrorCodeInvalidClient, body["error"])
}

func TestTokenEndpointRateLimited(t *testing.T) {
	e := newTestEnv(t, nil)
	handler := NewHandler(e.svc, ratelimit.New(0, 1), e.clock, "https://auth.emberfed.example/device")
	app := fiber.New()
	app.Post("/oauth2/token", handler.Token)

	form := url.Values{
		"grant_type": {GrantTypeRefreshToken},
		"client_id":  {"web-app"},
	}
	status, _ := doJSON(t, app, "POST", "/oauth2/token", "", form)
	require.Equal(t, fiber.StatusBadRequest, status)

	status, body := doJSON(t, app, "POST", "/oauth2/token", "", form)
	require.Equal(t, fiber.StatusTooManyRequests, status)
	assert.Equal(t, ErrorCodeInvalidRequest, body["error"])
}
