package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// WriteRateLimit limits unsafe requests per authenticated user (or IP) per minute using
// Redis. It is a no-op without Redis and fails open on cache errors.
func WriteRateLimit(cache *redis.Client, maxPerMin int, logger *slog.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 60
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		subject := UserID(c)
		if subject == "" {
			subject = c.IP()
		}
		window := time.Now().UTC().Unix() / 60
		key := "rl:write:" + subject + ":" + strconv.FormatInt(window, 10)

		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			logger.Warn("rate limit check skipped", slog.String("subject", subject), slog.Any("error", err))
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		remaining := int64(maxPerMin) - cnt
		if remaining < 0 {
			remaining = 0
		}
		c.Set("X-RateLimit-Limit", strconv.Itoa(maxPerMin))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if cnt > int64(maxPerMin) {
			c.Set(fiber.HeaderRetryAfter, "60")
			return fiber.NewError(http.StatusTooManyRequests, "too many requests, try again later")
		}
		return c.Next()
	}
}
