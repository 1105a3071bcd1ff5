package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/dpay/wallet-ledger/internal/config"
	"github.com/dpay/wallet-ledger/internal/infra"
	"github.com/dpay/wallet-ledger/internal/response"
	"github.com/dpay/wallet-ledger/internal/routes"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app  *fiber.App
	cfg  config.Config
	conn *infra.Connections
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, conn *infra.Connections, logger *slog.Logger) (*Server, error) {
	app := NewApp(cfg, logger)

	deps := routes.Deps{
		Cfg:    cfg,
		DB:     conn.DB,
		Mongo:  conn.Mongo,
		Cache:  conn.Cache,
		Logger: logger,
	}
	if conn.AMQP != nil {
		deps.Events = conn.AMQP.Channel
	}
	if err := routes.Setup(app, deps); err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, conn: conn}, nil
}

// NewApp builds the Fiber application with the structured error handler.
// Request values are immutable copies since wallet ids outlive the handler
// as lock keys and store entries.
func NewApp(cfg config.Config, logger *slog.Logger) *fiber.App {
	return fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		Immutable:    true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: response.ErrorHandler(logger),
	})
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
