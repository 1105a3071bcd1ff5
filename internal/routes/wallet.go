package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/dpay/wallet-ledger/internal/wallet"
)

// RegisterWalletRoutes wires wallet setup, lookup and transact endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Post("/setup", h.Setup)
	r.Post("/transact/:walletId", h.Transact)
	r.Get("/wallet/:id", h.Get)
}
