package wallet

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/tradefin/walletledger/internal/ledger"
	"github.com/tradefin/walletledger/internal/middleware"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	ledger *ledger.Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(svc *ledger.Service) *Handler {
	return &Handler{ledger: svc}
}

type recordRequest struct {
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	Reference   string          `json:"reference"`
	Metadata    map[string]any  `json:"metadata"`
}

type recordResponse struct {
	Transaction TransactionView `json:"transaction"`
	Balance     BalanceView     `json:"balance"`
}

type pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"total_pages"`
}

type listResponse struct {
	Transactions []TransactionView `json:"transactions"`
	Pagination   pagination        `json:"pagination"`
}

type kindTotalView struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
	Total string `json:"total"`
}

type statsResponse struct {
	Wallet             BalanceView       `json:"wallet"`
	TransactionCount   int64             `json:"transaction_count"`
	ByType             []kindTotalView   `json:"by_type"`
	RecentTransactions []TransactionView `json:"recent_transactions"`
}

// Balance returns the caller's wallet balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	w, err := h.ledger.GetBalance(c.UserContext(), middleware.UserID(c), c.Query("currency"))
	if err != nil {
		return WriteError(c, err)
	}
	return c.Status(http.StatusOK).JSON(NewBalanceView(w))
}

// Transactions lists the caller's transactions, newest first.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	page, err := h.ledger.ListTransactions(c.UserContext(), ledger.TransactionFilter{
		UserID:   middleware.UserID(c),
		Kind:     ledger.Kind(c.Query("type")),
		Currency: c.Query("currency"),
		Page:     c.QueryInt("page", 1),
		Limit:    c.QueryInt("limit", 0),
	})
	if err != nil {
		return WriteError(c, err)
	}
	var pages int64
	if page.Limit > 0 {
		pages = (page.Total + int64(page.Limit) - 1) / int64(page.Limit)
	}
	return c.Status(http.StatusOK).JSON(listResponse{
		Transactions: NewTransactionViews(page.Transactions),
		Pagination:   pagination{Page: page.Page, Limit: page.Limit, Total: page.Total, TotalPages: pages},
	})
}

// Record applies a credit, debit, transfer or payment to the caller's wallet.
func (h *Handler) Record(c *fiber.Ctx) error {
	var req recordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.ledger.RecordTransaction(c.UserContext(), ledger.RecordInput{
		UserID:         middleware.UserID(c),
		Kind:           ledger.Kind(req.Type),
		Amount:         req.Amount,
		Currency:       req.Currency,
		Description:    req.Description,
		Reference:      req.Reference,
		Metadata:       req.Metadata,
		IdempotencyKey: c.Get(middleware.IdempotencyKeyHeader),
	})
	status := http.StatusCreated
	switch {
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		status = Replayed(c)
	case err != nil:
		return WriteError(c, err)
	}
	return c.Status(status).JSON(recordResponse{
		Transaction: NewTransactionView(res.Transaction),
		Balance:     NewBalanceView(res.Wallet),
	})
}

// Stats returns aggregate activity of the caller's wallet.
func (h *Handler) Stats(c *fiber.Ctx) error {
	stats, err := h.ledger.GetStats(c.UserContext(), middleware.UserID(c), c.Query("currency"))
	if err != nil {
		return WriteError(c, err)
	}
	byType := make([]kindTotalView, 0, len(stats.ByKind))
	for _, kt := range stats.ByKind {
		byType = append(byType, kindTotalView{Type: string(kt.Kind), Count: kt.Count, Total: kt.Total.StringFixed(moneyScale)})
	}
	return c.Status(http.StatusOK).JSON(statsResponse{
		Wallet:             NewBalanceView(stats.Wallet),
		TransactionCount:   stats.TransactionCount,
		ByType:             byType,
		RecentTransactions: NewTransactionViews(stats.Recent),
	})
}

// ByReference returns every transaction sharing a correlation reference with one of the
// caller's transactions.
func (h *Handler) ByReference(c *fiber.Ctx) error {
	reference := c.Params("reference")
	txs, err := h.ledger.TransactionsByReference(c.UserContext(), middleware.UserID(c), reference)
	if err != nil {
		return WriteError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"reference":    reference,
		"transactions": NewTransactionViews(txs),
	})
}
