package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tradefin/walletledger/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Get("/wallet/balance", h.Balance)
	r.Get("/wallet/transactions", h.Transactions)
	r.Post("/wallet/transactions", h.Record)
	r.Get("/wallet/transactions/reference/:reference", h.ByReference)
	r.Get("/wallet/stats", h.Stats)
}
