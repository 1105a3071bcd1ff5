package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/dpay/wallet-ledger/internal/history"
)

// RegisterHistoryRoutes wires the transaction history endpoint.
func RegisterHistoryRoutes(r fiber.Router, h *history.Handler) {
	r.Get("/transactions", h.List)
}
