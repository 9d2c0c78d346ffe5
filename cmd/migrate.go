package cmd

import (
	"fmt"
	"log/slog"

	"github.com/rayadhanush/infrapilot-kb/db"
	"github.com/rayadhanush/infrapilot-kb/internal/config"
)

// runMigrate applies pending database migrations and exits. app.Setup
// runs migrations too; this command exists for deploy pipelines that
// migrate before rolling the server.
func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("migrations applied", "database", cfg.PostgresDBName)
	return nil
}
