package compat

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/emberfed/emberauth/internal/config"
	"github.com/emberfed/emberauth/internal/ratelimit"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandlerTestApp(t *testing.T, limiter *ratelimit.Limiter) (*fiber.App, *testEnv) {
	t.Helper()

	e := newTestEnv(t, config.CompatConfig{})
	if limiter == nil {
		limiter = ratelimit.New(100, 100)
	}
	h := NewHandler(e.service, limiter, e.clock)

	app := fiber.New()
	app.Post("/compat/login", h.Login)
	app.Post("/compat/refresh", h.Refresh)
	app.Post("/compat/logout", h.Logout)
	return app, e
}

func doPost(t *testing.T, app *fiber.App, path string, payload any) (*http.Response, map[string]any) {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var parsed map[string]any
	if len(body) > 0 {
		require.NoError(t, json.Unmarshal(body, &parsed))
	}
	return resp, parsed
}

func TestLoginEndpointReturnsTokenPair(t *testing.T) {
	app, _ := newHandlerTestApp(t, nil)

	resp, body := doPost(t, app, "/compat/login", LoginRequest{
		DeviceID: "device-1",
		Username: "casey",
		Password: "hunter2",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	assert.Equal(t, "device-1", body["device_id"])
	assert.NotEmpty(t, body["compat_session_id"])
	assert.Contains(t, body["access_token"], "ecat_")
	assert.Contains(t, body["refresh_token"], "ecrt_")
	assert.Equal(t, float64(300), body["expires_in"])
}

func TestLoginEndpointBadCredentials(t *testing.T) {
	app, _ := newHandlerTestApp(t, nil)

	resp, _ := doPost(t, app, "/compat/login", LoginRequest{
		DeviceID: "device-1",
		Username: "casey",
		Password: "wrong",
	})
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestLoginEndpointValidatesInput(t *testing.T) {
	app, _ := newHandlerTestApp(t, nil)

	resp, _ := doPost(t, app, "/compat/login", LoginRequest{Username: "casey"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestLoginEndpointRateLimited(t *testing.T) {
	app, _ := newHandlerTestApp(t, ratelimit.New(0, 1))

	resp, _ := doPost(t, app, "/compat/login", LoginRequest{
		DeviceID: "device-1", Username: "casey", Password: "hunter2",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, _ = doPost(t, app, "/compat/login", LoginRequest{
		DeviceID: "device-1", Username: "casey", Password: "hunter2",
	})
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
}

func TestRefreshEndpointRotates(t *testing.T) {
	app, _ := newHandlerTestApp(t, nil)

	_, login := doPost(t, app, "/compat/login", LoginRequest{
		DeviceID: "device-1", Username: "casey", Password: "hunter2",
	})

	resp, body := doPost(t, app, "/compat/refresh", RefreshRequest{
		RefreshToken: login["refresh_token"].(string),
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotEqual(t, login["refresh_token"], body["refresh_token"])

	// The burnt token now answers 401.
	resp, _ = doPost(t, app, "/compat/refresh", RefreshRequest{
		RefreshToken: login["refresh_token"].(string),
	})
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestLogoutEndpointIdempotent(t *testing.T) {
	app, _ := newHandlerTestApp(t, nil)

	_, login := doPost(t, app, "/compat/login", LoginRequest{
		DeviceID: "device-1", Username: "casey", Password: "hunter2",
	})
	id := login["compat_session_id"].(string)

	resp, _ := doPost(t, app, "/compat/logout", LogoutRequest{CompatSessionID: id})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, _ = doPost(t, app, "/compat/logout", LogoutRequest{CompatSessionID: id})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, _ = doPost(t, app, "/compat/refresh", RefreshRequest{
		RefreshToken: login["refresh_token"].(string),
	})
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
