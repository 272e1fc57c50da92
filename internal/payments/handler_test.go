package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tradefin/walletledger/internal/identity"
	"github.com/tradefin/walletledger/internal/ledger"
	"github.com/tradefin/walletledger/internal/middleware"
)

type env struct {
	app    *fiber.App
	ledger *ledger.Service
	ids    *identity.Service
	alice  identity.User
	bob    identity.User
}

func setup(t *testing.T) env {
	t.Helper()
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	ids := identity.NewService(identity.NewMemoryRepository(), nil)
	svc := ledger.NewService(store, ids, nil)

	alice, _, err := ids.Register(ctx, identity.Registration{Email: "alice@example.com", Password: "password1", FullName: "Alice"})
	require.NoError(t, err)
	bob, _, err := ids.Register(ctx, identity.Registration{Email: "bob@example.com", Password: "password1", FullName: "Bob", CompanyName: "Bob Co"})
	require.NoError(t, err)

	aw, err := svc.ProvisionWallet(ctx, alice.ID, "USD")
	require.NoError(t, err)
	ledger.SeedWallet(store, aw.ID, decimal.NewFromInt(1000), decimal.Zero)
	bw, err := svc.ProvisionWallet(ctx, bob.ID, "USD")
	require.NoError(t, err)
	ledger.SeedWallet(store, bw.ID, decimal.NewFromInt(200), decimal.Zero)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(middleware.UserIDKey, c.Get("X-Test-User"))
		return c.Next()
	})
	app.Post("/transfer", NewHandler(svc).Transfer)
	return env{app: app, ledger: svc, ids: ids, alice: alice, bob: bob}
}

func (e env) transfer(t *testing.T, sender, body, key string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/transfer", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set("X-Test-User", sender)
	if key != "" {
		req.Header.Set(middleware.IdempotencyKeyHeader, key)
	}
	resp, err := e.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (e env) balance(t *testing.T, userID string) string {
	t.Helper()
	w, err := e.ledger.GetBalance(context.Background(), userID, "USD")
	require.NoError(t, err)
	return w.Balance.StringFixed(2)
}

func TestTransferEndpoint(t *testing.T) {
	e := setup(t)

	resp, body := e.transfer(t, e.alice.ID, `{"recipient_email":"bob@example.com","amount":"300","currency":"USD"}`, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "700.00", body["new_balance"])
	require.Equal(t, "Bob Co", body["recipient_name"])
	require.Equal(t, "completed", body["status"])
	require.NotEmpty(t, body["reference"])

	require.Equal(t, "700.00", e.balance(t, e.alice.ID))
	require.Equal(t, "500.00", e.balance(t, e.bob.ID))
}

func TestTransferEndpointErrors(t *testing.T) {
	e := setup(t)

	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"insufficient", `{"recipient_email":"bob@example.com","amount":"1000.01"}`, http.StatusBadRequest, "insufficient_balance"},
		{"unknown recipient", `{"recipient_email":"carol@example.com","amount":"1"}`, http.StatusNotFound, "recipient_not_found"},
		{"wrong currency", `{"recipient_email":"bob@example.com","amount":"1","currency":"EUR"}`, http.StatusNotFound, "wallet_not_found"},
		{"self", `{"recipient_email":"alice@example.com","amount":"1"}`, http.StatusBadRequest, "validation_error"},
		{"zero", `{"recipient_email":"bob@example.com","amount":"0"}`, http.StatusBadRequest, "validation_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := e.transfer(t, e.alice.ID, tc.body, "")
			require.Equal(t, tc.status, resp.StatusCode)
			require.Equal(t, tc.code, body["code"])
		})
	}
	require.Equal(t, "1000.00", e.balance(t, e.alice.ID))
	require.Equal(t, "200.00", e.balance(t, e.bob.ID))
}

func TestTransferEndpointRecipientWithoutWallet(t *testing.T) {
	e := setup(t)
	_, _, err := e.ids.Register(context.Background(), identity.Registration{Email: "carol@example.com", Password: "password1", FullName: "Carol"})
	require.NoError(t, err)

	resp, body := e.transfer(t, e.alice.ID, `{"recipient_email":"carol@example.com","amount":"1","currency":"USD"}`, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "recipient_wallet_not_found", body["code"])
	require.Equal(t, "1000.00", e.balance(t, e.alice.ID))
}

func TestTransferEndpointIdempotency(t *testing.T) {
	e := setup(t)
	payload := `{"recipient_email":"bob@example.com","amount":"50"}`

	resp, first := e.transfer(t, e.alice.ID, payload, "t-1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, second := e.transfer(t, e.alice.ID, payload, "t-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "true", resp.Header.Get(middleware.ReplayedHeader))
	require.Equal(t, first["reference"], second["reference"])

	require.Equal(t, "950.00", e.balance(t, e.alice.ID))
	require.Equal(t, "250.00", e.balance(t, e.bob.ID))
}

func TestTransferEndpointRejectsKeyOfEarlierCredit(t *testing.T) {
	e := setup(t)
	_, err := e.ledger.RecordTransaction(context.Background(), ledger.RecordInput{
		UserID: e.alice.ID, Kind: ledger.KindCredit, Amount: decimal.NewFromInt(5), IdempotencyKey: "k-1",
	})
	require.NoError(t, err)

	resp, body := e.transfer(t, e.alice.ID, `{"recipient_email":"bob@example.com","amount":"300"}`, "k-1")
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, "idempotency_key_reused", body["code"])
	require.Empty(t, resp.Header.Get(middleware.ReplayedHeader))

	require.Equal(t, "1005.00", e.balance(t, e.alice.ID))
	require.Equal(t, "200.00", e.balance(t, e.bob.ID))
}
