package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tradefin/walletledger/internal/payments"
)

// RegisterPaymentRoutes wires payment endpoints.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler) {
	r.Post("/wallet/transfer", h.Transfer)
}
