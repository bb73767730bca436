package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/earthring/chunkstream/internal/chunkcoord"
	"github.com/earthring/chunkstream/internal/compression"
	"github.com/earthring/chunkstream/internal/generation"
	"github.com/earthring/chunkstream/internal/logging"
	"github.com/go-playground/validator/v10"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "1.0.0"

// GenerationHandlers serves chunk content from a local generator.
type GenerationHandlers struct {
	gen       generation.Generator
	defaults  generation.Params
	timeout   time.Duration
	validator *validator.Validate
	logger    *slog.Logger
}

// NewGenerationHandlers creates handlers that answer with gen. Requests
// without params use defaults.
func NewGenerationHandlers(gen generation.Generator, defaults generation.Params, timeout time.Duration, logger *slog.Logger) *GenerationHandlers {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GenerationHandlers{
		gen:       gen,
		defaults:  defaults,
		timeout:   timeout,
		validator: validator.New(),
		logger:    logging.OrNop(logger).With("component", "api"),
	}
}

// Health handles GET /health.
func (h *GenerationHandlers) Health(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}
	respondWithJSON(w, http.StatusOK, generation.HealthResponse{
		Status:  "ok",
		Service: "chunkgen-server",
		Version: ServiceVersion,
	})
}

// GenerateChunk handles POST /api/v1/chunks/generate.
func (h *GenerationHandlers) GenerateChunk(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodPost) {
		return
	}

	var req generation.GenerateChunkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		respondWithValidationError(w, err)
		return
	}

	params := h.defaults.Clone()
	if req.Params != nil {
		params = req.Params.Clone()
	}
	format := req.Format
	if format == "" {
		format = compression.FormatZstd
	}
	coord := chunkcoord.Coord{X: req.X, Y: req.Y, Z: req.Z}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	start := time.Now()
	data, err := h.gen.Generate(ctx, coord, params)
	if err != nil {
		h.generationFailed(w, coord, err)
		return
	}

	resp, err := generation.PackChunk(data, format)
	if err != nil {
		h.logger.Error("failed to pack chunk", "chunk", coord.String(), "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to encode chunk")
		return
	}

	h.logger.Debug("chunk generated",
		"chunk", coord.String(),
		"format", format,
		"bytes", resp.Blocks.Size,
		"empty", resp.Empty,
		"duration", time.Since(start),
	)
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *GenerationHandlers) generationFailed(w http.ResponseWriter, coord chunkcoord.Coord, err error) {
	message := err.Error()
	body := generation.GenerateChunkResponse{
		Success: false,
		ChunkID: coord.String(),
		Message: &message,
	}

	switch {
	case generation.IsPermanent(err):
		h.logger.Warn("chunk generation rejected", "chunk", coord.String(), "error", err)
		respondWithJSON(w, http.StatusUnprocessableEntity, body)
	case errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn("chunk generation timed out", "chunk", coord.String())
		respondWithJSON(w, http.StatusGatewayTimeout, body)
	default:
		h.logger.Error("chunk generation failed", "chunk", coord.String(), "error", err)
		respondWithJSON(w, http.StatusServiceUnavailable, body)
	}
}
