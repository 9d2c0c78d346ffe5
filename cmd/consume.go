package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/rayadhanush/infrapilot-kb/internal/app"
	"github.com/rayadhanush/infrapilot-kb/internal/config"
	"github.com/rayadhanush/infrapilot-kb/internal/ingest"
)

// runConsume starts the provisioning result consumer. It blocks on the
// result queue until interrupted.
func runConsume() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err = cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()
	logger.Info("starting result consumer", "version", Version, "queue", cfg.ResultQueue)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	if err := a.Consumer.Run(ctx); err != nil {
		if errors.Is(err, ingest.ErrConsumerRunning) {
			return fmt.Errorf("another consumer holds the lock at %s", cfg.LockPath)
		}
		return fmt.Errorf("running consumer: %w", err)
	}
	logger.Info("result consumer stopped")
	return nil
}
