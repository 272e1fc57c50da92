package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/tradefin/walletledger/internal/logging"
)

type staticVerifier map[string]string

func (v staticVerifier) ParseSubject(token string) (string, error) {
	if sub, ok := v[token]; ok {
		return sub, nil
	}
	return "", errors.New("invalid token")
}

func TestHubDeliversToConnectedUser(t *testing.T) {
	hub := NewHub(staticVerifier{"good": "u1"}, logging.Discard())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=good"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Connections("u1") == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Send(context.Background(), Message{
		ID:     "n1",
		UserID: "u1",
		Kind:   KindPayment,
		Title:  "Transfer received",
		Body:   "You received 10.00 USD",
	}))
	require.NoError(t, hub.Send(context.Background(), Message{UserID: "someone-else", Title: "ignored"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(payload, &got))
	require.Equal(t, "notification", got["type"])
	require.Equal(t, "n1", got["id"])
	require.Equal(t, "Transfer received", got["title"])
}

func TestHubRejectsInvalidToken(t *testing.T) {
	hub := NewHub(staticVerifier{}, logging.Discard())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=bad"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
