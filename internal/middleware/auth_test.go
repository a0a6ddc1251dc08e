package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthApp(t *testing.T, secret string) *fiber.App {
	t.Helper()
	t.Setenv("WEBMUX_AUTH_SECRET", secret)

	app := fiber.New()
	am := NewAuthMiddleware()
	app.Use(am.RequireAuth)
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/v1/sessions", func(c *fiber.Ctx) error { return c.SendString("sessions") })
	return app
}

func TestNoSecretDisablesAuth(t *testing.T) {
	app := newAuthApp(t, "")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthRequiredWithSecret(t *testing.T) {
	app := newAuthApp(t, "test-secret")

	t.Run("rejects missing token", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("health is exempt", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("accepts bearer token", func(t *testing.T) {
		token, err := GenerateToken("cli", time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("accepts query token", func(t *testing.T) {
		token, err := GenerateToken("browser", time.Minute)
		require.NoError(t, err)

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1/sessions?token="+token, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("rejects tampered token", func(t *testing.T) {
		token, err := GenerateToken("cli", time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
		req.Header.Set("Authorization", "Bearer "+token+"x")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestExpiredToken(t *testing.T) {
	app := newAuthApp(t, "test-secret")

	token, err := GenerateToken("cli", -time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
