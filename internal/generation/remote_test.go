package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/earthring/chunkstream/internal/chunkcoord"
	"github.com/earthring/chunkstream/internal/compression"
)

type staticToken string

func (s staticToken) Token() (string, error) { return string(s), nil }

func newTestRemote(url string, retries int) *RemoteGenerator {
	return NewRemoteGenerator(RemoteOptions{
		BaseURL:    url,
		Timeout:    5 * time.Second,
		RetryCount: retries,
		Format:     compression.FormatGzip,
		Tokens:     staticToken("secret"),
	})
}

func TestRemoteGenerator_Generate(t *testing.T) {
	coord := chunkcoord.Coord{X: 2, Y: -1, Z: 4}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/chunks/generate" {
			t.Errorf("Expected path /api/v1/chunks/generate, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("Expected bearer token, got %q", r.Header.Get("Authorization"))
		}

		var req GenerateChunkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Format != compression.FormatGzip || req.Params == nil || req.Params.Seed != 5 {
			t.Errorf("unexpected request: %+v", req)
		}

		data := NewChunkData(chunkcoord.Coord{X: req.X, Y: req.Y, Z: req.Z})
		data.Set(1, 2, 3, Grass)
		resp, err := PackChunk(data, req.Format)
		if err != nil {
			t.Fatalf("PackChunk failed: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	data, err := newTestRemote(server.URL, 0).Generate(context.Background(), coord, DefaultParams(5))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if data.Coord != coord {
		t.Errorf("Expected coord %v, got %v", coord, data.Coord)
	}
	if data.Get(1, 2, 3) != Grass {
		t.Errorf("Expected grass at (1,2,3), got %d", data.Get(1, 2, 3))
	}
}

func TestRemoteGenerator_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		var req GenerateChunkRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp, _ := PackChunk(NewChunkData(chunkcoord.Coord{X: req.X, Y: req.Y, Z: req.Z}), req.Format)
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	if _, err := newTestRemote(server.URL, 2).Generate(context.Background(), chunkcoord.Coord{}, DefaultParams(1)); err != nil {
		t.Fatalf("Expected success on third attempt, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 calls, got %d", calls.Load())
	}
}

func TestRemoteGenerator_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad params", http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := newTestRemote(server.URL, 3).Generate(context.Background(), chunkcoord.Coord{}, DefaultParams(1))
	if err == nil {
		t.Fatal("Expected error")
	}
	if !IsPermanent(err) {
		t.Errorf("Expected permanent error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected no retries, got %d calls", calls.Load())
	}
}

func TestRemoteGenerator_ExhaustedRetriesAreTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestRemote(server.URL, 1).Generate(context.Background(), chunkcoord.Coord{}, DefaultParams(1))
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("Expected GenerationError, got %v", err)
	}
	if genErr.Permanent {
		t.Error("Expected transient error after exhausting retries")
	}
}

func TestRemoteGenerator_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newTestRemote(url, 0).Generate(context.Background(), chunkcoord.Coord{}, DefaultParams(1))
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
}

func TestRemoteGenerator_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("Expected path /health, got %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(HealthResponse{Status: "ok", Service: "chunkgen", Version: "0.1.0"})
	}))
	defer server.Close()

	if err := newTestRemote(server.URL, 0).HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}

func TestRemoteGenerator_HealthCheck_Unhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(HealthResponse{Status: "error"})
	}))
	defer server.Close()

	if err := newTestRemote(server.URL, 0).HealthCheck(context.Background()); err == nil {
		t.Error("Expected error for unhealthy service")
	}
}

func TestUnpackChunkRejectsUnknownBlocks(t *testing.T) {
	blocks := make([]byte, BlockCount)
	blocks[0] = 200
	packed, err := compression.CompressAndFormatBlocks(chunkcoord.Coord{}, blocks, compression.FormatZstd)
	if err != nil {
		t.Fatalf("CompressAndFormatBlocks failed: %v", err)
	}
	if _, err := UnpackChunk(&GenerateChunkResponse{Success: true, Blocks: packed}); err == nil {
		t.Error("Expected error for unknown block id")
	}
}
