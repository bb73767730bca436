// Package app wires configuration into the components shared by the
// chunkstream binaries.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/earthring/chunkstream/internal/api"
	"github.com/earthring/chunkstream/internal/auth"
	"github.com/earthring/chunkstream/internal/config"
	"github.com/earthring/chunkstream/internal/database"
	"github.com/earthring/chunkstream/internal/generation"
	"github.com/earthring/chunkstream/internal/performance"
	"github.com/earthring/chunkstream/internal/streaming"
)

// StreamingConfig converts the environment settings into manager limits.
func StreamingConfig(c config.StreamingConfig) streaming.Config {
	return streaming.Config{
		Radius:                 c.Radius,
		Watermark:              c.Watermark,
		ChunksPerFrame:         c.ChunksPerFrame,
		Workers:                c.Workers,
		RetryBaseFrames:        c.RetryBaseFrames,
		MaxAttempts:            c.MaxAttempts,
		TransparentBackToFront: c.TransparentBackToFront,
	}
}

// LoadParams returns the terrain params from GEN_PARAMS_FILE, or the defaults
// for GEN_SEED when no file is set.
func LoadParams(c config.GenerationConfig) (generation.Params, error) {
	if c.ParamsFile == "" {
		return generation.DefaultParams(c.Seed), nil
	}
	p, err := generation.LoadParams(c.ParamsFile, c.Seed)
	if err != nil {
		return p, fmt.Errorf("failed to load generation params: %w", err)
	}
	return p, nil
}

// ServiceTokens returns the token service for subject, or nil when no secret
// is configured.
func ServiceTokens(cfg *config.Config, subject string, scopes ...string) *auth.ServiceTokens {
	if cfg.Procedural.TokenSecret == "" {
		return nil
	}
	return auth.NewServiceTokens(cfg.Procedural, subject, scopes...)
}

// Generator builds the local terrain generator or a client for a remote
// chunkgen-server, depending on GEN_SOURCE. A remote service must answer its
// health check before the frame loop starts.
func Generator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (generation.Generator, error) {
	if cfg.Generation.Source != "remote" {
		return generation.NewTerrain(), nil
	}

	var tokens generation.TokenSource
	if t := ServiceTokens(cfg, "chunkstream-client", auth.ScopeGenerate); t != nil {
		tokens = t
	}
	remote := generation.NewRemoteGenerator(generation.RemoteOptions{
		BaseURL:    cfg.Procedural.BaseURL,
		Timeout:    cfg.Procedural.Timeout,
		RetryCount: cfg.Procedural.RetryCount,
		Format:     cfg.Procedural.Format,
		Tokens:     tokens,
		Logger:     logger.With("component", "remote_generator"),
	})

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := remote.HealthCheck(hctx); err != nil {
		return nil, fmt.Errorf("generation service at %s: %w", cfg.Procedural.BaseURL, err)
	}
	logger.Info("using remote generation service", "url", cfg.Procedural.BaseURL)
	return remote, nil
}

// Ledger opens the failure ledger when DB_ENABLED is set. The returned close
// function is never nil.
func Ledger(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*database.FailureStorage, func(), error) {
	if !cfg.Enabled {
		return nil, func() {}, nil
	}
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, func() {}, err
	}
	storage := database.NewFailureStorage(db)
	if err := storage.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, func() {}, err
	}
	logger.Info("failure ledger connected", "host", cfg.Host, "database", cfg.Database)
	return storage, closeDB(db, logger), nil
}

func closeDB(db *sql.DB, logger *slog.Logger) func() {
	return func() {
		if err := db.Close(); err != nil {
			logger.Warn("failed to close database", "error", err)
		}
	}
}

// ManagerOptions returns the options shared by the sim and the viewer.
func ManagerOptions(logger *slog.Logger, profiler *performance.Profiler, ledger *database.FailureStorage) []streaming.Option {
	opts := []streaming.Option{
		streaming.WithLogger(logger),
		streaming.WithProfiler(profiler),
	}
	if ledger != nil {
		opts = append(opts, streaming.WithFailureRecorder(ledger))
	}
	return opts
}

// StatsServer serves the stats endpoints and the stats stream for a running
// manager. The hub's Run loop is started on ctx.
type StatsServer struct {
	Hub    *api.StatsHub
	server *http.Server
	logger *slog.Logger
}

// NewStatsServer builds the stats HTTP server. ledger may be nil.
func NewStatsServer(ctx context.Context, cfg *config.Config, source api.FrameSource, profiler *performance.Profiler, ledger *database.FailureStorage, logger *slog.Logger) *StatsServer {
	tokens := ServiceTokens(cfg, "chunkstream-stats", auth.ScopeStats)
	hub := api.NewStatsHub(tokens, api.DefaultAllowedOrigins, logger)
	go hub.Run(ctx)

	var failureLedger api.FailureLedger
	if ledger != nil {
		failureLedger = ledger
	}

	mux := http.NewServeMux()
	api.SetupStatsRoutes(mux, api.NewStatsHandlers(source, profiler, failureLedger), hub, tokens)

	var handler http.Handler = mux
	if cfg.Server.RateLimit > 0 {
		handler = api.RateLimitMiddleware(cfg.Server.RateLimit, cfg.Server.RateWindow, logger)(handler)
	}
	handler = api.CORSMiddleware(api.DefaultAllowedOrigins)(handler)
	handler = auth.SecurityHeaders(cfg.Server.IsProduction())(handler)

	return &StatsServer{
		Hub: hub,
		server: &http.Server{
			Addr:         cfg.Server.Addr(),
			Handler:      handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
		logger: logger,
	}
}

// Start listens in the background.
func (s *StatsServer) Start() {
	go func() {
		s.logger.Info("stats server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("stats server failed", "error", err)
		}
	}()
}

// Shutdown stops the server, waiting up to timeout for open requests.
func (s *StatsServer) Shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("stats server shutdown", "error", err)
	}
}

// Fatal logs err and exits.
func Fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
