package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/rayadhanush/infrapilot-kb/db"
	"github.com/rayadhanush/infrapilot-kb/internal/config"
	"github.com/rayadhanush/infrapilot-kb/internal/dialog"
	"github.com/rayadhanush/infrapilot-kb/internal/fulfill"
	"github.com/rayadhanush/infrapilot-kb/internal/indexer"
	"github.com/rayadhanush/infrapilot-kb/internal/ingest"
	"github.com/rayadhanush/infrapilot-kb/internal/intent"
	"github.com/rayadhanush/infrapilot-kb/internal/knowledge"
	"github.com/rayadhanush/infrapilot-kb/internal/observability"
	"github.com/rayadhanush/infrapilot-kb/internal/provision"
	"github.com/rayadhanush/infrapilot-kb/internal/rag"
	"github.com/rayadhanush/infrapilot-kb/internal/session"
)

// Setup wires the full application from configuration. Construction
// order matters: tracing before Genkit, migrations before the pool is
// used, stores before the engine.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := fulfill.Validate(knowledge.SeedTemplates(), intent.FreeForm); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger}

	otelShutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Environment: cfg.Environment,
		ServiceName: cfg.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	a.otelShutdown = otelShutdown

	pool, err := newPool(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Pool = pool

	a.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.Redis.Ping(pingCtx).Err(); err != nil {
		a.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	g, err := newGenkit(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Genkit = g
	embedder := newEmbedder(a.Genkit, cfg)

	a.Knowledge = knowledge.New(knowledge.NewPgQuerier(pool), embedder, logger)
	a.Sessions = session.NewStore(a.Redis, cfg.SessionTTL, logger)
	a.Keys = session.NewKeyMap(pool, logger)
	a.Resources = ingest.NewResourceStore(pool, logger)
	a.Indexer = indexer.New(a.Knowledge, "", logger)
	a.Consumer = ingest.NewConsumer(a.Redis, cfg.ResultQueue, a.Keys, a.Resources, cfg.LockPath, logger)

	client := provision.NewClient(provision.Config{
		BaseURL:  cfg.ProvisionBaseURL,
		Username: cfg.ProvisionUsername,
		Password: cfg.ProvisionPassword,
		Insecure: cfg.ProvisionInsecure,
	}, logger)

	a.Generator = rag.NewGenerator(
		a.Knowledge,
		rag.NewGenkitGenerate(a.Genkit, cfg.FullModelName()),
		cfg.DocsTopK,
		logger,
	)

	var validators dialog.Validators
	if cfg.StrictSlotValidation {
		validators = dialog.StrictValidators()
	}
	a.Engine = dialog.NewEngine(dialog.Deps{
		Resolver:    intent.NewResolver(a.Knowledge, cfg.IntentThreshold, logger),
		Registry:    intent.NewRegistry(a.Knowledge),
		Sessions:    a.Sessions,
		Keys:        a.Keys,
		Client:      client,
		Synthesizer: a.Generator,
		Validators:  validators,
		Logger:      logger,
	})

	return a, nil
}

// newGenkit initializes Genkit with the configured AI provider plugin.
func newGenkit(ctx context.Context, cfg *config.Config) (*genkit.Genkit, error) {
	var g *genkit.Genkit
	switch cfg.Provider {
	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
	default: // gemini
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
	}
	return g, nil
}

// newEmbedder looks up the embedder registered by the provider plugin.
// Gemini embedders come from a plugin helper; OpenAI auto-registers its
// embedders in Init() and is looked up by name.
func newEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	if cfg.Provider == config.ProviderOpenAI {
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	}
	return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
}

// newPool runs migrations, then opens and verifies the connection pool.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}
