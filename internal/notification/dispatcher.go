package notification

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrQueueFull is returned by Dispatcher.Send when the message was dropped.
var ErrQueueFull = errors.New("notification queue full")

// ErrDispatcherClosed is returned by Send after Close.
var ErrDispatcherClosed = errors.New("notification dispatcher closed")

const deliveryTimeout = 5 * time.Second

// Dispatcher fans messages out to sinks on background workers. Send never blocks the
// caller; a failing sink is logged and does not affect the others.
type Dispatcher struct {
	sinks  []Notifier
	queue  chan Message
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts workers goroutines draining a queue of queueSize messages.
func NewDispatcher(logger *slog.Logger, workers, queueSize int, sinks ...Notifier) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &Dispatcher{
		sinks:  sinks,
		queue:  make(chan Message, queueSize),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

// Send enqueues the message. It returns ErrQueueFull instead of waiting for capacity.
func (d *Dispatcher) Send(_ context.Context, message Message) error {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- message:
		return nil
	default:
		d.logger.Warn("notification dropped", slog.String("user_id", message.UserID), slog.String("title", message.Title))
		return ErrQueueFull
	}
}

// Close stops accepting messages and waits until queued ones are delivered or ctx ends.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for message := range d.queue {
		d.deliver(message)
	}
}

func (d *Dispatcher) deliver(message Message) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()
	for _, sink := range d.sinks {
		if err := sink.Send(ctx, message); err != nil {
			d.logger.Error("notification delivery failed",
				slog.String("notification_id", message.ID),
				slog.String("user_id", message.UserID),
				slog.Any("error", err))
		}
	}
}
