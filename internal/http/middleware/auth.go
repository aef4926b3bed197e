package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const userIDKey = "user_id"

// Authenticator resolves a bearer token to a user id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (int64, error)
}

// Authenticate attaches the caller's user id when a bearer token is present.
// Requests without a token pass through anonymously; a bad token is rejected.
func Authenticate(auth Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			return c.Next()
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
			return unauthorized(c, "malformed authorization header")
		}

		userID, err := auth.Authenticate(c.UserContext(), strings.TrimSpace(token))
		if err != nil {
			return unauthorized(c, "invalid or expired token")
		}

		c.Locals(userIDKey, userID)
		return c.Next()
	}
}

// RequireAuth rejects anonymous requests. It must run after Authenticate.
func RequireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if UserID(c) == nil {
			return unauthorized(c, "authentication required")
		}
		return c.Next()
	}
}

// UserID returns the authenticated user of the request, or nil.
func UserID(c *fiber.Ctx) *int64 {
	id, ok := c.Locals(userIDKey).(int64)
	if !ok {
		return nil
	}
	return &id
}

func unauthorized(c *fiber.Ctx, msg string) error {
	c.Set(fiber.HeaderWWWAuthenticate, "Bearer")
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": msg})
}
