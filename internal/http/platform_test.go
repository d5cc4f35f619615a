package handlers_test

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/config"
	"storefront/internal/http/handlers"
)

func TestErrorHandlerHidesInternals(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler})
	app.Get("/fiber-500", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusInternalServerError, "db timeout: secret trace")
	})
	app.Get("/plain", func(c *fiber.Ctx) error {
		return errors.New("pq: relation users does not exist")
	})
	app.Get("/teapot", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusTeapot, "short and stout")
	})

	var bodies []string
	entries, _ := captureLogs(t, func() {
		for _, path := range []string{"/fiber-500", "/plain"} {
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
			require.NoError(t, err)
			assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
			b, _ := io.ReadAll(resp.Body)
			bodies = append(bodies, string(b))
		}
	})
	for _, b := range bodies {
		assert.JSONEq(t, `{"detail":"Something went wrong. Please try again."}`, b)
		assert.NotContains(t, b, "secret")
		assert.NotContains(t, b, "relation")
	}

	e, ok := findLog(entries, "server.error")
	require.True(t, ok, "internal errors are logged")
	assert.Equal(t, "error", e.Level)
	assert.Contains(t, e.Err, "secret trace")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/teapot", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, jsonReq(http.MethodGet, "/api/nope", nil, ""))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Not Found", detailOf(t, body))
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, jsonReq(http.MethodGet, "/healthz", nil, ""))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "alice@storefront.test")
	resp, _ := env.loginResp(t, "alice@storefront.test", "wrong-password")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := env.do(t, jsonReq(http.MethodGet, "/metrics", nil, ""))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	text := string(body)
	assert.Contains(t, text, `storefront_login_attempts_total{result="success"} 1`)
	assert.Contains(t, text, `storefront_login_attempts_total{result="failure"} 1`)
}

func TestGlobalRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.GlobalRatePerMin = 3 })

	for i := 0; i < 3; i++ {
		resp, _ := env.do(t, jsonReq(http.MethodGet, "/api/products/", nil, ""))
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i+1)
	}
	resp, body := env.do(t, jsonReq(http.MethodGet, "/api/products/", nil, ""))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "Too many requests", detailOf(t, body))

	resp, _ = env.do(t, jsonReq(http.MethodGet, "/healthz", nil, ""))
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health checks are never limited")
}

func TestOversizedBodyRejected(t *testing.T) {
	env := newTestEnv(t)
	big := bytes.Repeat([]byte("a"), 2<<20)
	req := httptest.NewRequest(http.MethodPost, "/api/users/register", bytes.NewReader(big))
	req.Header.Set("Content-Type", "application/json")

	resp, err := env.app.Test(req, -1)
	if err != nil {
		// fasthttp may drop the connection instead of answering.
		return
	}
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestMalformedJSONBody(t *testing.T) {
	env := newTestEnv(t)
	access := env.login(t, "alice@storefront.test")
	req := httptest.NewRequest(http.MethodPost, "/api/orders/", strings.NewReader(`{"items": [`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+access)

	resp, body := env.do(t, req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid JSON body", detailOf(t, body))
}

func TestLoginFailureLogsNoSecrets(t *testing.T) {
	env := newTestEnv(t)
	encrypted := env.encrypt(t, "Hunter2-secret!")

	entries, raw := captureLogs(t, func() {
		req := jsonReq(http.MethodPost, "/api/users/token", map[string]string{
			"email": "alice@storefront.test", "encrypted_password": encrypted,
		}, "")
		req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		resp, _ := env.do(t, req)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	e, ok := findLog(entries, "auth.login.fail")
	require.True(t, ok)
	assert.Equal(t, "warn", e.Level)
	assert.Equal(t, "alice@storefront.test", e.Fields["email"])
	assert.Equal(t, "Chrome", e.Fields["browser"])
	assert.NotContains(t, raw, "Hunter2-secret!")
	assert.NotContains(t, raw, encrypted)
}

func TestAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice@storefront.test")
	admin := env.login(t, "admin@storefront.test")

	entries, _ := captureLogs(t, func() {
		resp, _ := env.do(t, jsonReq(http.MethodPost, "/api/orders/", items([2]int64{webcamID, 1}), alice))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp, _ = env.do(t, jsonReq(http.MethodPatch, "/api/admin/orders/1/status", map[string]string{"status": "PAID"}, admin))
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	placed, ok := findLog(entries, "order.place")
	require.True(t, ok)
	assert.Equal(t, "audit", placed.Level)
	assert.Equal(t, "1", placed.UserID)
	assert.Equal(t, "9.99", placed.Fields["total"])
	assert.NotEmpty(t, placed.ReqID)

	updated, ok := findLog(entries, "admin.orders.update")
	require.True(t, ok)
	assert.Equal(t, "3", updated.UserID)
	assert.Equal(t, "PAID", updated.Fields["status"])
}
