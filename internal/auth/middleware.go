package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"forge-backend/internal/engine"
	"forge-backend/internal/metadata"
)

// Middleware validates the bearer token and sets the AuthContext the
// engine's permission manager reads. The token's metadata bag is carried
// as-is, with the subject folded in under the actor key.
func Middleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return engine.UnauthorizedError("Missing auth token")
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return engine.UnauthorizedError("Invalid auth header format")
		}

		claims, err := ParseAccessToken(parts[1], secret)
		if err != nil {
			return engine.UnauthorizedError("Invalid or expired token")
		}

		md := make(map[string]any, len(claims.Metadata)+1)
		for k, v := range claims.Metadata {
			md[k] = v
		}
		md[metadata.ActorKey] = claims.Subject

		c.Locals("auth", &metadata.AuthContext{Metadata: md})
		return c.Next()
	}
}

// RequireRole gates a route group on a role value in the auth metadata.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		auth, ok := c.Locals("auth").(*metadata.AuthContext)
		if !ok || auth == nil {
			return engine.UnauthorizedError("Missing auth token")
		}
		if r, _ := auth.Metadata["role"].(string); r != role {
			return engine.ForbiddenError()
		}
		return c.Next()
	}
}

// GetAuth extracts the AuthContext from a Fiber context.
func GetAuth(c *fiber.Ctx) *metadata.AuthContext {
	auth, _ := c.Locals("auth").(*metadata.AuthContext)
	return auth
}
