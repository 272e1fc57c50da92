package middleware

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Audit logs one structured record per request. Server errors log at error level,
// client errors at warn, everything else at info.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		var ferr *fiber.Error
		if err != nil {
			status = fiber.StatusInternalServerError
			if errors.As(err, &ferr) {
				status = ferr.Code
			}
		}

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		}
		if requestID := RequestIDFrom(c); requestID != "" {
			attrs = append(attrs, slog.String("request_id", requestID))
		}
		if userID := UserID(c); userID != "" {
			attrs = append(attrs, slog.String("user_id", userID))
		}
		if key := c.Get(IdempotencyKeyHeader); key != "" {
			attrs = append(attrs, slog.String("idempotency_key", key))
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
		}

		switch {
		case status >= fiber.StatusInternalServerError:
			logger.Error("request completed", attrs...)
		case status >= fiber.StatusBadRequest:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
		return err
	}
}
