package middleware

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tradefin/walletledger/internal/auth"
	"github.com/tradefin/walletledger/internal/identity"
)

type fakeUsers map[string]bool

func (f fakeUsers) FindActive(_ context.Context, id string) (identity.User, error) {
	active, ok := f[id]
	if !ok {
		return identity.User{}, identity.ErrUserNotFound
	}
	if !active {
		return identity.User{}, identity.ErrInactive
	}
	return identity.User{ID: id, Active: true}, nil
}

func token(t *testing.T, sub string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestJWTAuth(t *testing.T) {
	app := fiber.New()
	app.Use(JWTAuth(auth.NewVerifier("test-secret"), fakeUsers{"active": true, "closed": false}))
	app.Get("/me", func(c *fiber.Ctx) error { return c.SendString(UserID(c)) })

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", fiber.StatusUnauthorized},
		{"not bearer", "Basic abc", fiber.StatusUnauthorized},
		{"bad token", "Bearer nope", fiber.StatusUnauthorized},
		{"inactive user", "Bearer " + token(t, "closed"), fiber.StatusUnauthorized},
		{"unknown user", "Bearer " + token(t, "ghost"), fiber.StatusUnauthorized},
		{"active user", "Bearer " + token(t, "active"), fiber.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
		if tc.header != "" {
			req.Header.Set(fiber.HeaderAuthorization, tc.header)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("%s: app.Test: %v", tc.name, err)
		}
		if resp.StatusCode != tc.status {
			t.Fatalf("%s: expected %d got %d", tc.name, tc.status, resp.StatusCode)
		}
	}
}
