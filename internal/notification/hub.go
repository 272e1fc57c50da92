package notification

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// TokenVerifier resolves a bearer token to a user ID.
type TokenVerifier interface {
	ParseSubject(token string) (string, error)
}

type event struct {
	Type      string         `json:"type"`
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Hub pushes messages to the websocket connections of their recipients.
type Hub struct {
	verifier TokenVerifier
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]map[*websocket.Conn]struct{}
}

// NewHub constructs a websocket hub that authenticates clients with verifier.
func NewHub(verifier TokenVerifier, logger *slog.Logger) *Hub {
	return &Hub{
		verifier: verifier,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades an authenticated request and holds the connection until the client leaves.
// The token is read from the "token" query parameter or a bearer Authorization header.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	userID, err := h.verifier.ParseSubject(token)
	if err != nil || userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	h.register(userID, conn)
	defer h.unregister(userID, conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Send writes the message to every open connection of its recipient. Users without
// connections are skipped.
func (h *Hub) Send(_ context.Context, m Message) error {
	payload, err := json.Marshal(event{
		Type:      "notification",
		ID:        m.ID,
		Kind:      m.Kind,
		Title:     m.Title,
		Body:      m.Body,
		Metadata:  m.Metadata,
		CreatedAt: m.CreatedAt,
	})
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients[m.UserID] {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Warn("websocket write failed", slog.String("user_id", m.UserID), slog.Any("error", err))
			conn.Close()
			delete(h.clients[m.UserID], conn)
		}
	}
	if len(h.clients[m.UserID]) == 0 {
		delete(h.clients, m.UserID)
	}
	return nil
}

// Connections reports how many sockets are open for userID.
func (h *Hub) Connections(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[userID])
}

func (h *Hub) register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*websocket.Conn]struct{})
	}
	h.clients[userID][conn] = struct{}{}
}

func (h *Hub) unregister(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.clients[userID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.clients, userID)
		}
	}
	conn.Close()
}
