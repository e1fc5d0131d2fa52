package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"golang.org/x/crypto/bcrypt"
)

// MetricsAuth protects the monitor page with one user whose password is
// stored as a bcrypt hash. Without a configured user every request is refused.
func MetricsAuth(user, passwordHash string) fiber.Handler {
	return basicauth.New(basicauth.Config{
		Realm: "PayRelay metrics",
		Authorizer: func(u, p string) bool {
			if user == "" || passwordHash == "" {
				return false
			}
			if subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 {
				return false
			}
			return bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(p)) == nil
		},
	})
}
