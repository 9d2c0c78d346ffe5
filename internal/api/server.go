// Package api exposes the conversational broker over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/rayadhanush/infrapilot-kb/internal/indexer"
	"github.com/rayadhanush/infrapilot-kb/internal/ingest"
)

const (
	readTimeout     = 30 * time.Second
	writeTimeout    = 5 * time.Minute
	idleTimeout     = 2 * time.Minute
	shutdownTimeout = 15 * time.Second
)

// Converser runs one conversation turn, implemented by dialog.Engine.
type Converser interface {
	Turn(ctx context.Context, userID, sessionID, message string) (string, error)
}

// ResourceLister serves a user's provisioned resources, implemented by
// ingest.ResourceStore.
type ResourceLister interface {
	ByUser(ctx context.Context, userID string) ([]ingest.StoredResource, error)
}

// PushProcessor indexes documentation pushes, implemented by
// indexer.Indexer.
type PushProcessor interface {
	ProcessPush(ctx context.Context, ev indexer.PushEvent) indexer.Summary
}

// ServerConfig contains everything the HTTP server depends on.
type ServerConfig struct {
	Logger    *slog.Logger
	Engine    Converser
	Resources ResourceLister
	Indexer   PushProcessor
	Pool      *pgxpool.Pool // readiness probe; may be nil in tests
	Redis     *redis.Client // readiness probe; may be nil in tests
	RateRPS   float64       // requests per second across all clients; <= 0 disables limiting
	RateBurst int
}

// Server is the HTTP front of the broker.
type Server struct {
	mux     *http.ServeMux
	logger  *slog.Logger
	limiter *rate.Limiter
}

// NewServer creates a Server with all routes registered.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}

	mux := http.NewServeMux()
	s := &Server{
		mux:    mux,
		logger: cfg.Logger,
	}
	if cfg.RateRPS > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateRPS)
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateRPS), burst)
	}

	mux.HandleFunc("POST /api/converse", s.handleConverse(cfg.Engine))
	mux.HandleFunc("GET /api/notifications", s.handleNotifications(cfg.Resources))
	mux.HandleFunc("POST /api/webhooks/docs", s.handleDocsWebhook(cfg.Indexer))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady(cfg.Pool, cfg.Redis))

	return s, nil
}

// ServeHTTP applies the middleware stack:
// Recovery -> Logging -> CORS -> RateLimit -> Routes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var handler http.Handler = s.mux
	handler = RateLimitMiddleware(s.limiter)(handler)
	handler = CORSMiddleware(handler)
	handler = LoggingMiddleware(s.logger)(handler)
	handler = RecoveryMiddleware(s.logger)(handler)
	handler.ServeHTTP(w, r)
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	s.logger.Info("http server stopped")
	return <-errCh
}
