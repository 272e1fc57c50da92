package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tradefin/walletledger/internal/identity"
)

// RegisterIdentityRoutes wires public account endpoints.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler) {
	r.Post("/users/register", h.Register)
}

// RegisterProfileRoutes wires endpoints acting on the authenticated account.
func RegisterProfileRoutes(r fiber.Router, h *identity.Handler) {
	r.Get("/users/me", h.Me)
	r.Delete("/users/me", h.Deactivate)
}
