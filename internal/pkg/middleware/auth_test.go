package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ManuelReschke/PayRelay/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, subject string, ttl time.Duration, roles ...string) string {
	t.Helper()
	claims := OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		Roles: roles,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func newAuthApp(secret string) *fiber.App {
	app := fiber.New()
	app.Get("/admin", RequireOperator(secret, usercontext.RoleAdmin, usercontext.RoleFinance), func(c *fiber.Ctx) error {
		return c.SendString(usercontext.GetOperator(c).Subject)
	})
	return app
}

func TestRequireOperator(t *testing.T) {
	app := newAuthApp(testSecret)
	tests := []struct {
		name   string
		header string
		status int
	}{
		{"finance token", "Bearer " + signToken(t, testSecret, "alice", time.Hour, "finance"), fiber.StatusOK},
		{"admin token", "Bearer " + signToken(t, testSecret, "bob", time.Hour, "admin"), fiber.StatusOK},
		{"missing header", "", fiber.StatusUnauthorized},
		{"not bearer", "Basic abc", fiber.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "other", "alice", time.Hour, "admin"), fiber.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, testSecret, "alice", -time.Minute, "admin"), fiber.StatusUnauthorized},
		{"no subject", "Bearer " + signToken(t, testSecret, "", time.Hour, "admin"), fiber.StatusUnauthorized},
		{"wrong role", "Bearer " + signToken(t, testSecret, "eve", time.Hour, "viewer"), fiber.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set(fiber.HeaderAuthorization, tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestRequireOperatorWithoutSecret(t *testing.T) {
	app := newAuthApp("")
	req := httptest.NewRequest(fiber.MethodGet, "/admin", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+signToken(t, "any", "alice", time.Hour, "admin"))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	app := fiber.New()
	app.Get("/metrics", MetricsAuth("ops", string(hash)), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	req := httptest.NewRequest(fiber.MethodGet, "/metrics", nil)
	req.SetBasicAuth("ops", "s3cret")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(fiber.MethodGet, "/metrics", nil)
	req.SetBasicAuth("ops", "wrong")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	closed := fiber.New()
	closed.Get("/metrics", MetricsAuth("", ""), func(c *fiber.Ctx) error { return c.SendString("ok") })
	req = httptest.NewRequest(fiber.MethodGet, "/metrics", nil)
	req.SetBasicAuth("", "")
	resp, err = closed.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
