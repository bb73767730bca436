// Command chunkgen-server serves chunk generation over HTTP for remote
// chunkstream clients.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/earthring/chunkstream/internal/api"
	"github.com/earthring/chunkstream/internal/app"
	"github.com/earthring/chunkstream/internal/auth"
	"github.com/earthring/chunkstream/internal/config"
	"github.com/earthring/chunkstream/internal/generation"
	"github.com/earthring/chunkstream/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, closer, err := logging.New(cfg.Logging, "chunkgen-server")
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer closer.Close()

	params, err := app.LoadParams(cfg.Generation)
	if err != nil {
		app.Fatal(logger, "invalid generation params", err)
	}

	tokens := app.ServiceTokens(cfg, "chunkgen-server")
	if tokens == nil {
		logger.Warn("PROCEDURAL_TOKEN_SECRET not set, generation endpoint is unauthenticated")
	}

	handlers := api.NewGenerationHandlers(generation.NewTerrain(), params, cfg.Procedural.Timeout, logger)
	mux := http.NewServeMux()
	api.SetupGenerationRoutes(mux, handlers, tokens, cfg.Server.RateLimit, cfg.Server.RateWindow, logger)

	var handler http.Handler = mux
	handler = api.CORSMiddleware(api.DefaultAllowedOrigins)(handler)
	handler = auth.SecurityHeaders(cfg.Server.IsProduction())(handler)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("chunkgen-server listening",
			"addr", server.Addr,
			"environment", cfg.Server.Environment,
			"seed", params.Seed,
			"version", api.ServiceVersion,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Fatal(logger, "server failed", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
