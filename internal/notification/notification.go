package notification

import (
	"context"
	"log/slog"
	"time"
)

const (
	// KindPayment tags ledger events (credits, debits, transfers).
	KindPayment = "payment"
)

// Message describes a notification payload addressed to one user.
type Message struct {
	ID        string
	UserID    string
	Kind      string
	Title     string
	Body      string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("user_id", message.UserID),
		slog.String("title", message.Title),
		slog.String("body", message.Body),
	)
	return nil
}
