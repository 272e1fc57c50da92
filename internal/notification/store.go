package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists delivered messages in the notifications table.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed notification sink.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Send inserts the message. A repeated message ID is ignored.
func (s *PostgresStore) Send(ctx context.Context, m Message) error {
	m = withDefaults(m)
	metadata := m.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	_, err := s.db.Exec(ctx, `INSERT INTO notifications (id, user_id, kind, title, body, metadata, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (id) DO NOTHING`,
		m.ID, m.UserID, m.Kind, m.Title, m.Body, metadata, m.CreatedAt)
	return err
}

// ListByUser returns the user's most recent messages, newest first.
func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]Message, error) {
	rows, err := s.db.Query(ctx, `SELECT id, user_id, kind, title, body, metadata, created_at
        FROM notifications WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.UserID, &m.Kind, &m.Title, &m.Body, &m.Metadata, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MemoryStore keeps delivered messages in memory.
type MemoryStore struct {
	mu       sync.RWMutex
	messages []Message
}

// NewMemoryStore creates an empty in-memory notification sink.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Send records the message.
func (s *MemoryStore) Send(_ context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, withDefaults(m))
	return nil
}

// ListByUser returns up to limit of the user's messages, newest first.
func (s *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for i := len(s.messages) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.messages[i].UserID == userID {
			out = append(out, s.messages[i])
		}
	}
	return out, nil
}

func withDefaults(m Message) Message {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return m
}
