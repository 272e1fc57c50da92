package notification

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultInboxLimit = 20
	maxInboxLimit     = 100
)

// Inbox lists persisted messages for a user.
type Inbox interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]Message, error)
}

// Handler serves the authenticated user's notification history.
type Handler struct {
	inbox Inbox
}

// NewHandler builds a notification HTTP handler.
func NewHandler(inbox Inbox) *Handler {
	return &Handler{inbox: inbox}
}

type messageView struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// List returns the most recent notifications, newest first. ?limit caps the page at 100.
func (h *Handler) List(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	limit := c.QueryInt("limit", defaultInboxLimit)
	if limit <= 0 {
		limit = defaultInboxLimit
	}
	if limit > maxInboxLimit {
		limit = maxInboxLimit
	}

	msgs, err := h.inbox.ListByUser(c.UserContext(), userID, limit)
	if err != nil {
		return fiber.NewError(http.StatusServiceUnavailable, "notifications unavailable")
	}
	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		meta := m.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		views = append(views, messageView{
			ID:        m.ID,
			Kind:      m.Kind,
			Title:     m.Title,
			Body:      m.Body,
			Metadata:  meta,
			CreatedAt: m.CreatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"notifications": views})
}
