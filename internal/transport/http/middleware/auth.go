package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/stackbuild/stackbuild/internal/config"
)

// AdminAuth accepts the admin key in X-Admin-Token, a Bearer header, or a
// token query parameter (browsers cannot set headers on websocket
// upgrades). An empty key disables the check.
func AdminAuth(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := cfg.Auth.AdminAPIKey
		if apiKey == "" {
			return c.Next()
		}

		token := c.Get("X-Admin-Token")
		if token == "" {
			const prefix = "Bearer "
			if auth := c.Get("Authorization"); strings.HasPrefix(auth, prefix) {
				token = auth[len(prefix):]
			}
		}
		if token == "" {
			token = c.Query("token")
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		return c.Next()
	}
}
