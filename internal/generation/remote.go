package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/earthring/chunkstream/internal/chunkcoord"
	"github.com/earthring/chunkstream/internal/compression"
)

// TokenSource supplies the bearer token attached to generation requests.
type TokenSource interface {
	Token() (string, error)
}

// RemoteGenerator requests chunk content from a chunkgen-server over HTTP.
type RemoteGenerator struct {
	baseURL    string
	timeout    time.Duration
	retryCount int
	format     string
	tokens     TokenSource
	client     *http.Client
	logger     *slog.Logger
}

// RemoteOptions configures a RemoteGenerator.
type RemoteOptions struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	Format     string // compression.FormatGzip or compression.FormatZstd
	Tokens     TokenSource
	Logger     *slog.Logger
}

// NewRemoteGenerator creates a new generation service client.
func NewRemoteGenerator(opts RemoteOptions) *RemoteGenerator {
	format := opts.Format
	if format == "" {
		format = compression.FormatZstd
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteGenerator{
		baseURL:    opts.BaseURL,
		timeout:    opts.Timeout,
		retryCount: opts.RetryCount,
		format:     format,
		tokens:     opts.Tokens,
		client: &http.Client{
			Timeout: opts.Timeout,
		},
		logger: logger,
	}
}

// GenerateChunkRequest represents a request to generate a chunk.
type GenerateChunkRequest struct {
	X      int32   `json:"x"`
	Y      int32   `json:"y"`
	Z      int32   `json:"z"`
	Format string  `json:"format,omitempty" validate:"omitempty,oneof=binary_gzip binary_zstd"`
	Params *Params `json:"params,omitempty"`
}

// GenerateChunkResponse represents the response from chunk generation.
type GenerateChunkResponse struct {
	Success bool                          `json:"success"`
	ChunkID string                        `json:"chunk_id"`
	Blocks  *compression.CompressedBlocks `json:"blocks,omitempty"`
	Empty   bool                          `json:"empty"`
	Message *string                       `json:"message,omitempty"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// PackChunk compresses generated content into a response body.
func PackChunk(data *ChunkData, format string) (*GenerateChunkResponse, error) {
	blocks := make([]byte, len(data.Blocks))
	for i, b := range data.Blocks {
		blocks[i] = byte(b)
	}
	packed, err := compression.CompressAndFormatBlocks(data.Coord, blocks, format)
	if err != nil {
		return nil, fmt.Errorf("failed to compress chunk %s: %w", data.Coord, err)
	}
	return &GenerateChunkResponse{
		Success: true,
		ChunkID: data.Coord.String(),
		Blocks:  packed,
		Empty:   data.Empty(),
	}, nil
}

// UnpackChunk rebuilds chunk content from a response body.
func UnpackChunk(resp *GenerateChunkResponse) (*ChunkData, error) {
	coord, blocks, err := resp.Blocks.Unpack()
	if err != nil {
		return nil, err
	}
	if len(blocks) != BlockCount {
		return nil, fmt.Errorf("chunk %s has %d blocks, want %d", coord, len(blocks), BlockCount)
	}
	data := NewChunkData(coord)
	for i, b := range blocks {
		if int(b) > int(Glass) {
			return nil, fmt.Errorf("chunk %s has unknown block id %d", coord, b)
		}
		data.Blocks[i] = BlockID(b)
	}
	return data, nil
}

// HealthCheck checks if the generation service is healthy.
func (g *RemoteGenerator) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health", g.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			g.logger.Warn("failed to close health response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode health response: %w", err)
	}

	if health.Status != "ok" {
		return fmt.Errorf("service reported unhealthy status: %s", health.Status)
	}

	return nil
}

// Generate requests one chunk from the service. Responses with a 4xx status
// other than 429 are not retried and come back as permanent failures.
func (g *RemoteGenerator) Generate(ctx context.Context, coord chunkcoord.Coord, params Params) (*ChunkData, error) {
	url := fmt.Sprintf("%s/api/v1/chunks/generate", g.baseURL)

	request := GenerateChunkRequest{
		X:      coord.X,
		Y:      coord.Y,
		Z:      coord.Z,
		Format: g.format,
		Params: &params,
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, &GenerationError{Coord: coord, Permanent: true, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	var lastErr error
	for attempt := 0; attempt <= g.retryCount; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 100ms, 200ms, 400ms
			backoff := time.Duration(100*(1<<uint(attempt-1))) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, &GenerationError{Coord: coord, Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}

		data, err := g.generateOnce(ctx, url, coord, body)
		if err == nil {
			return data, nil
		}
		if IsPermanent(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, &GenerationError{Coord: coord, Err: ctx.Err()}
		}
		lastErr = err
		g.logger.Debug("generation attempt failed", "chunk", coord.String(), "attempt", attempt+1, "error", err)
	}

	return nil, &GenerationError{
		Coord: coord,
		Err:   fmt.Errorf("generation failed after %d attempts: %w", g.retryCount+1, lastErr),
	}
}

func (g *RemoteGenerator) generateOnce(ctx context.Context, url string, coord chunkcoord.Coord, body []byte) (*ChunkData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &GenerationError{Coord: coord, Permanent: true, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	if g.tokens != nil {
		token, err := g.tokens.Token()
		if err != nil {
			return nil, &GenerationError{Coord: coord, Permanent: true, Err: fmt.Errorf("failed to get service token: %w", err)}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if closeErr := resp.Body.Close(); closeErr != nil {
		g.logger.Warn("failed to close generation response body", "error", closeErr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("generation failed with status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, &GenerationError{Coord: coord, Permanent: true, Err: statusErr}
		}
		return nil, statusErr
	}

	var response GenerateChunkResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if !response.Success {
		msg := "no message"
		if response.Message != nil {
			msg = *response.Message
		}
		return nil, errors.New("generation failed: " + msg)
	}

	data, err := UnpackChunk(&response)
	if err != nil {
		return nil, &GenerationError{Coord: coord, Permanent: true, Err: err}
	}
	if data.Coord != coord {
		return nil, &GenerationError{Coord: coord, Permanent: true, Err: fmt.Errorf("service answered for chunk %s", data.Coord)}
	}
	return data, nil
}
