package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/earthring/chunkstream/internal/auth"
)

// SetupGenerationRoutes registers the generation service endpoints. The
// generate endpoint requires a service token with the generate scope when
// tokens is non-nil, and is rate limited per caller.
func SetupGenerationRoutes(mux *http.ServeMux, handlers *GenerationHandlers, tokens *auth.ServiceTokens, limit int64, window time.Duration, logger *slog.Logger) {
	mux.HandleFunc("/health", handlers.Health)

	generate := auth.RequireServiceToken(tokens, auth.ScopeGenerate)(
		RateLimitMiddleware(limit, window, logger)(http.HandlerFunc(handlers.GenerateChunk)),
	)
	mux.Handle("/api/v1/chunks/generate", generate)
}
