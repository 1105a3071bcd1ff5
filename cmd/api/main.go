package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dpay/wallet-ledger/internal/config"
	"github.com/dpay/wallet-ledger/internal/infra"
	"github.com/dpay/wallet-ledger/internal/logging"
	"github.com/dpay/wallet-ledger/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.Error("ledger server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := infra.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect %s backend: %w", cfg.StoreBackend, err)
	}
	defer conn.Close(context.Background(), logger)

	srv, err := server.New(cfg, conn, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("ledger server listening", "address", cfg.Address(), "backend", cfg.StoreBackend)
		listenErr <- srv.Listen()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
