package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/dpay/wallet-ledger/internal/ledger"
)

// RegisterHealthRoutes adds a readiness endpoint covering the ledger store
// and, when configured, Redis.
func RegisterHealthRoutes(app *fiber.App, d Deps, store ledger.Store) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		checks := fiber.Map{"store": "ok"}
		healthy := true
		if err := store.Ping(ctx); err != nil {
			checks["store"] = err.Error()
			healthy = false
		}
		if d.Cache != nil {
			checks["redis"] = "ok"
			if err := d.Cache.Ping(ctx).Err(); err != nil {
				checks["redis"] = err.Error()
				healthy = false
			}
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    checks,
			"backend":   d.Cfg.StoreBackend,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
