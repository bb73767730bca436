package api

import (
	"net/http"

	"github.com/earthring/chunkstream/internal/auth"
)

// SetupStatsRoutes registers the stats, failure ledger and stats stream
// endpoints. HTTP endpoints require the stats scope when tokens is non-nil;
// the websocket checks its own token because browsers cannot set headers on
// upgrade requests.
func SetupStatsRoutes(mux *http.ServeMux, handlers *StatsHandlers, hub *StatsHub, tokens *auth.ServiceTokens) {
	requireStats := auth.RequireServiceToken(tokens, auth.ScopeStats)
	mux.Handle("/api/v1/stats", requireStats(http.HandlerFunc(handlers.GetStats)))
	mux.Handle("/api/v1/failures", requireStats(http.HandlerFunc(handlers.Failures)))
	if hub != nil {
		mux.HandleFunc("/ws/stats", hub.HandleWebSocket)
	}
}
