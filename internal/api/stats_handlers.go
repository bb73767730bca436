package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/earthring/chunkstream/internal/chunkcoord"
	"github.com/earthring/chunkstream/internal/database"
	"github.com/earthring/chunkstream/internal/performance"
	"github.com/earthring/chunkstream/internal/streaming"
)

// FrameSource exposes the latest frame stats of a running manager.
type FrameSource interface {
	Snapshot() streaming.FrameStats
}

// FailureLedger lists and clears permanently failed coordinates.
type FailureLedger interface {
	ListFailures(ctx context.Context, limit int) ([]database.Failure, error)
	ClearFailures(ctx context.Context, coords []chunkcoord.Coord) (int64, error)
}

// StatsResponse is the body of GET /api/v1/stats.
type StatsResponse struct {
	Frame   streaming.FrameStats    `json:"frame"`
	Profile *performance.ReportJSON `json:"profile,omitempty"`
}

// ClearFailuresRequest is the body of DELETE /api/v1/failures.
type ClearFailuresRequest struct {
	Chunks []string `json:"chunks"`
}

// StatsHandlers serves streaming stats and the failure ledger.
type StatsHandlers struct {
	source   FrameSource
	profiler *performance.Profiler
	ledger   FailureLedger
}

// NewStatsHandlers creates stats handlers. profiler and ledger may be nil.
func NewStatsHandlers(source FrameSource, profiler *performance.Profiler, ledger FailureLedger) *StatsHandlers {
	return &StatsHandlers{source: source, profiler: profiler, ledger: ledger}
}

// GetStats handles GET /api/v1/stats.
func (h *StatsHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}
	resp := StatsResponse{Frame: h.source.Snapshot()}
	if h.profiler != nil && h.profiler.IsEnabled() {
		report := h.profiler.JSON()
		resp.Profile = &report
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// Failures handles GET and DELETE /api/v1/failures.
func (h *StatsHandlers) Failures(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet, http.MethodDelete) {
		return
	}
	if h.ledger == nil {
		respondWithError(w, http.StatusNotFound, "Failure ledger not configured")
		return
	}
	if r.Method == http.MethodDelete {
		h.clearFailures(w, r)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			respondWithError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	failures, err := h.ledger.ListFailures(r.Context(), limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list failures")
		return
	}
	if failures == nil {
		failures = []database.Failure{}
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"failures": failures,
		"count":    len(failures),
	})
}

func (h *StatsHandlers) clearFailures(w http.ResponseWriter, r *http.Request) {
	var req ClearFailuresRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Chunks) == 0 || len(req.Chunks) > 1000 {
		respondWithError(w, http.StatusBadRequest, "chunks must list between 1 and 1000 ids")
		return
	}

	coords := make([]chunkcoord.Coord, 0, len(req.Chunks))
	for _, id := range req.Chunks {
		c, err := chunkcoord.Parse(id)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		coords = append(coords, c)
	}

	n, err := h.ledger.ClearFailures(r.Context(), coords)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to clear failures")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int64{"cleared": n})
}
