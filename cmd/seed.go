package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/rayadhanush/infrapilot-kb/internal/app"
	"github.com/rayadhanush/infrapilot-kb/internal/config"
	"github.com/rayadhanush/infrapilot-kb/internal/knowledge"
)

// runSeed embeds and upserts the intent and template catalog. Safe to
// re-run; rows are upserted by label.
func runSeed() error {
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

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	for _, intent := range knowledge.SeedIntents() {
		if err := a.Knowledge.SeedIntent(ctx, intent); err != nil {
			return fmt.Errorf("seeding intent %q: %w", intent, err)
		}
	}
	for _, tpl := range knowledge.SeedTemplates() {
		if err := a.Knowledge.SeedTemplate(ctx, tpl); err != nil {
			return fmt.Errorf("seeding template %q: %w", tpl.Intent, err)
		}
	}

	slog.Info("catalog seeded",
		"intents", len(knowledge.SeedIntents()),
		"templates", len(knowledge.SeedTemplates()),
	)
	return nil
}
