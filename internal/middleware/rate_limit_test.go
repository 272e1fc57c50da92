package middleware

import (
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tradefin/walletledger/internal/logging"
)

func TestWriteRateLimit(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(UserIDKey, c.Get("X-Test-User"))
		return c.Next()
	})
	app.Use(WriteRateLimit(cache, 2, logging.Discard()))
	app.All("/w", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	send := func(method, user string) int {
		req := httptest.NewRequest(method, "/w", nil)
		req.Header.Set("X-Test-User", user)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		return resp.StatusCode
	}

	for i := 0; i < 2; i++ {
		if status := send(fiber.MethodPost, "u1"); status != fiber.StatusOK {
			t.Fatalf("request %d: expected 200 got %d", i, status)
		}
	}
	if status := send(fiber.MethodPost, "u1"); status != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", status)
	}
	if status := send(fiber.MethodGet, "u1"); status != fiber.StatusOK {
		t.Fatalf("reads must not be limited, got %d", status)
	}
	if status := send(fiber.MethodPost, "u2"); status != fiber.StatusOK {
		t.Fatalf("other users must not be limited, got %d", status)
	}
}

func TestWriteRateLimitFailsOpen(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer cache.Close()
	mr.Close()

	app := fiber.New()
	app.Use(WriteRateLimit(cache, 1, logging.Discard()))
	app.Post("/w", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/w", nil))
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("expected fail-open 200 got %d", resp.StatusCode)
		}
	}
}
