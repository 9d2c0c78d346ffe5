// Package app assembles the application: configuration in, fully wired
// collaborators out. Commands own their lifecycle; App owns construction
// and teardown.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/rayadhanush/infrapilot-kb/internal/config"
	"github.com/rayadhanush/infrapilot-kb/internal/dialog"
	"github.com/rayadhanush/infrapilot-kb/internal/indexer"
	"github.com/rayadhanush/infrapilot-kb/internal/ingest"
	"github.com/rayadhanush/infrapilot-kb/internal/knowledge"
	"github.com/rayadhanush/infrapilot-kb/internal/rag"
	"github.com/rayadhanush/infrapilot-kb/internal/session"
)

// App holds the wired application components.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Pool   *pgxpool.Pool
	Redis  *redis.Client
	Genkit *genkit.Genkit

	Knowledge *knowledge.Store
	Sessions  *session.Store
	Keys      *session.KeyMap
	Engine    *dialog.Engine
	Generator *rag.Generator
	Resources *ingest.ResourceStore
	Indexer   *indexer.Indexer
	Consumer  *ingest.Consumer

	otelShutdown func(context.Context) error
}

// Close releases resources in reverse construction order. The dialogue
// engine is drained first so in-flight background dispatches can still
// reach the stores.
func (a *App) Close() {
	if a.Engine != nil {
		a.Engine.Close()
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil {
			a.Logger.Warn("failed to shutdown tracer provider", "error", err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("failed to close redis client", "error", err)
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
