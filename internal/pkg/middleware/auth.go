package middleware

import (
	"errors"
	"strings"

	"github.com/ManuelReschke/PayRelay/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/golang-jwt/jwt/v5"
)

// OperatorClaims are the claims of an admin API token. The subject is
// recorded as the resolver of reconciliation records.
type OperatorClaims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

var errNoToken = errors.New("missing bearer token")

// RequireOperator accepts HS256 bearer tokens signed with secret whose roles
// contain one of roles. An empty secret disables the admin API.
func RequireOperator(secret string, roles ...string) fiber.Handler {
	if len(roles) == 0 {
		roles = []string{usercontext.RoleAdmin}
	}
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":   "admin_disabled",
				"message": "admin API is not configured",
			})
		}
		claims, err := parseToken(c.Get(fiber.HeaderAuthorization), secret)
		if err != nil {
			log.Debugf("[Auth] Rejected token from %s: %v", c.IP(), err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "valid bearer token required",
			})
		}
		op := usercontext.OperatorContext{Subject: claims.Subject, Roles: claims.Roles}
		allowed := false
		for _, role := range roles {
			if op.HasRole(role) {
				allowed = true
				break
			}
		}
		if !allowed {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   "forbidden",
				"message": "insufficient role",
			})
		}
		usercontext.SetOperator(c, op)
		return c.Next()
	}
}

func parseToken(header, secret string) (*OperatorClaims, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return nil, errNoToken
	}
	claims := &OperatorClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}
