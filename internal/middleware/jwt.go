package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/tradefin/walletledger/internal/auth"
	"github.com/tradefin/walletledger/internal/identity"
)

// UserIDKey is the fiber locals key holding the authenticated user id.
const UserIDKey = "user_id"

// ActiveUsers resolves a token subject to an active account.
type ActiveUsers interface {
	FindActive(ctx context.Context, id string) (identity.User, error)
}

// JWTAuth returns a middleware that validates bearer access tokens and requires an active user.
func JWTAuth(verifier *auth.Verifier, users ActiveUsers) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])
		sub, err := verifier.ParseSubject(tokenStr)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}

		if _, err := users.FindActive(c.UserContext(), sub); err != nil {
			return fiber.NewError(http.StatusUnauthorized, "account inactive or unknown")
		}

		c.Locals(UserIDKey, sub)
		return c.Next()
	}
}

// UserID returns the authenticated user id stored by JWTAuth.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(UserIDKey).(string)
	return id
}
