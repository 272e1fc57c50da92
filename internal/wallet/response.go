package wallet

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/tradefin/walletledger/internal/ledger"
	"github.com/tradefin/walletledger/internal/middleware"
)

const moneyScale = 2

// BalanceView is the JSON shape of a wallet balance.
type BalanceView struct {
	WalletID         string    `json:"wallet_id"`
	Currency         string    `json:"currency"`
	Balance          string    `json:"balance"`
	FrozenBalance    string    `json:"frozen_balance"`
	AvailableBalance string    `json:"available_balance"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewBalanceView renders w with two fractional digits.
func NewBalanceView(w ledger.Wallet) BalanceView {
	return BalanceView{
		WalletID:         w.ID,
		Currency:         w.Currency,
		Balance:          w.Balance.StringFixed(moneyScale),
		FrozenBalance:    w.FrozenBalance.StringFixed(moneyScale),
		AvailableBalance: w.Available().StringFixed(moneyScale),
		UpdatedAt:        w.UpdatedAt,
	}
}

// TransactionView is the JSON shape of a transaction.
type TransactionView struct {
	ID          string         `json:"id"`
	WalletID    string         `json:"wallet_id"`
	Type        string         `json:"type"`
	Amount      string         `json:"amount"`
	Currency    string         `json:"currency"`
	Description string         `json:"description"`
	Reference   string         `json:"reference"`
	Status      string         `json:"status"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewTransactionView renders t.
func NewTransactionView(t ledger.Transaction) TransactionView {
	metadata := t.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return TransactionView{
		ID:          t.ID,
		WalletID:    t.WalletID,
		Type:        string(t.Kind),
		Amount:      t.Amount.StringFixed(moneyScale),
		Currency:    t.Currency,
		Description: t.Description,
		Reference:   t.Reference,
		Status:      string(t.Status),
		Metadata:    metadata,
		CreatedAt:   t.CreatedAt,
	}
}

// NewTransactionViews renders txs, never returning nil.
func NewTransactionViews(txs []ledger.Transaction) []TransactionView {
	out := make([]TransactionView, 0, len(txs))
	for _, t := range txs {
		out = append(out, NewTransactionView(t))
	}
	return out
}

type errorResponse struct {
	Error            string `json:"error"`
	Code             string `json:"code"`
	Field            string `json:"field,omitempty"`
	AvailableBalance string `json:"available_balance,omitempty"`
	Currency         string `json:"currency,omitempty"`
}

// WriteError renders a ledger error with its HTTP status. Unknown errors become fiber
// errors for the app's error handler.
func WriteError(c *fiber.Ctx, err error) error {
	var (
		verr *ledger.ValidationError
		ierr *ledger.InsufficientBalanceError
	)
	switch {
	case errors.As(err, &verr):
		return c.Status(http.StatusBadRequest).JSON(errorResponse{
			Error: verr.Error(), Code: "validation_error", Field: verr.Field,
		})
	case errors.As(err, &ierr):
		return c.Status(http.StatusBadRequest).JSON(errorResponse{
			Error:            "insufficient balance",
			Code:             "insufficient_balance",
			AvailableBalance: ierr.Available.StringFixed(moneyScale),
			Currency:         ierr.Currency,
		})
	case errors.Is(err, ledger.ErrRecipientNotFound):
		return c.Status(http.StatusNotFound).JSON(errorResponse{Error: "recipient not found", Code: "recipient_not_found"})
	case errors.Is(err, ledger.ErrRecipientWalletNotFound):
		return c.Status(http.StatusNotFound).JSON(errorResponse{Error: "recipient wallet not found", Code: "recipient_wallet_not_found"})
	case errors.Is(err, ledger.ErrWalletNotFound):
		return c.Status(http.StatusNotFound).JSON(errorResponse{Error: "wallet not found", Code: "wallet_not_found"})
	case errors.Is(err, ledger.ErrTransactionNotFound):
		return c.Status(http.StatusNotFound).JSON(errorResponse{Error: "transaction not found", Code: "transaction_not_found"})
	case errors.Is(err, ledger.ErrIdempotencyKeyReused):
		return c.Status(http.StatusUnprocessableEntity).JSON(errorResponse{
			Error: "idempotency key already used for a different operation", Code: "idempotency_key_reused", Field: "idempotency_key",
		})
	case errors.Is(err, ledger.ErrStoreUnavailable):
		return c.Status(http.StatusServiceUnavailable).JSON(errorResponse{
			Error: "ledger temporarily unavailable, query by reference before retrying", Code: "store_unavailable",
		})
	default:
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}

// Replayed marks the response as the stored result of an earlier request and returns
// the status to send.
func Replayed(c *fiber.Ctx) int {
	c.Set(middleware.ReplayedHeader, "true")
	return http.StatusOK
}
