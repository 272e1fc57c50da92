package payments

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/tradefin/walletledger/internal/ledger"
	"github.com/tradefin/walletledger/internal/middleware"
	"github.com/tradefin/walletledger/internal/wallet"
)

// Handler exposes payment endpoints.
type Handler struct {
	ledger *ledger.Service
}

// NewHandler constructs a payment handler.
func NewHandler(svc *ledger.Service) *Handler {
	return &Handler{ledger: svc}
}

type transferRequest struct {
	RecipientEmail string          `json:"recipient_email"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Description    string          `json:"description"`
}

type transferResponse struct {
	Reference     string                 `json:"reference"`
	Amount        string                 `json:"amount"`
	Currency      string                 `json:"currency"`
	Description   string                 `json:"description"`
	RecipientName string                 `json:"recipient_name"`
	Status        string                 `json:"status"`
	Transaction   wallet.TransactionView `json:"transaction"`
	NewBalance    string                 `json:"new_balance"`
	NewAvailable  string                 `json:"available_balance"`
}

// Transfer moves funds from the caller's wallet to the wallet of the recipient email.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	res, err := h.ledger.TransferFunds(c.UserContext(), ledger.TransferInput{
		SenderID:       middleware.UserID(c),
		RecipientEmail: req.RecipientEmail,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Description:    req.Description,
		IdempotencyKey: c.Get(middleware.IdempotencyKeyHeader),
	})
	status := http.StatusCreated
	switch {
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		status = wallet.Replayed(c)
	case err != nil:
		return wallet.WriteError(c, err)
	}

	return c.Status(status).JSON(transferResponse{
		Reference:     res.Reference,
		Amount:        res.Amount.StringFixed(2),
		Currency:      res.Currency,
		Description:   res.Description,
		RecipientName: res.RecipientName,
		Status:        string(res.Outgoing.Status),
		Transaction:   wallet.NewTransactionView(res.Outgoing),
		NewBalance:    res.SenderBalance.StringFixed(2),
		NewAvailable:  res.SenderAvailable.StringFixed(2),
	})
}
