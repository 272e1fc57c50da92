package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the correlation id of a request.
	RequestIDHeader = "X-Request-ID"

	maxRequestIDLength = 128
)

// RequestID accepts a caller-supplied correlation id or generates one, echoes it on the
// response and stores it in locals for logging.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID := c.Get(RequestIDHeader)
		if reqID == "" || len(reqID) > maxRequestIDLength {
			reqID = uuid.NewString()
		}
		c.Set(RequestIDHeader, reqID)
		c.Locals(RequestIDHeader, reqID)

		return c.Next()
	}
}

// RequestIDFrom returns the correlation id stored by RequestID.
func RequestIDFrom(c *fiber.Ctx) string {
	id, _ := c.Locals(RequestIDHeader).(string)
	return id
}
