package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/earthring/chunkstream/internal/auth"
	"github.com/earthring/chunkstream/internal/chunkcoord"
	"github.com/earthring/chunkstream/internal/compression"
	"github.com/earthring/chunkstream/internal/config"
	"github.com/earthring/chunkstream/internal/generation"
	"github.com/earthring/chunkstream/internal/testutil"
)

func stoneGenerator() generation.Generator {
	return generation.GeneratorFunc(func(ctx context.Context, coord chunkcoord.Coord, p generation.Params) (*generation.ChunkData, error) {
		data := generation.NewChunkData(coord)
		data.Set(0, 0, 0, generation.Stone)
		return data, nil
	})
}

func newGenerationMux(gen generation.Generator, tokens *auth.ServiceTokens) *http.ServeMux {
	mux := http.NewServeMux()
	handlers := NewGenerationHandlers(gen, generation.DefaultParams(1), time.Second, nil)
	SetupGenerationRoutes(mux, handlers, tokens, 100, time.Minute, nil)
	return mux
}

func TestHealth(t *testing.T) {
	helper := testutil.NewHTTPTestHelper(newGenerationMux(stoneGenerator(), nil))

	rr := helper.MakeRequest(http.MethodGet, "/health", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	var health generation.HealthResponse
	testutil.DecodeJSON(t, rr, &health)
	if health.Status != "ok" {
		t.Errorf("Expected status ok, got %s", health.Status)
	}

	rr = helper.MakeRequest(http.MethodPost, "/health", nil)
	testutil.AssertStatus(t, rr, http.StatusMethodNotAllowed)
}

func TestGenerateChunk(t *testing.T) {
	helper := testutil.NewHTTPTestHelper(newGenerationMux(stoneGenerator(), nil))

	tests := []struct {
		name   string
		body   interface{}
		status int
	}{
		{"default format", generation.GenerateChunkRequest{X: 1, Y: -2, Z: 3}, http.StatusOK},
		{"gzip", generation.GenerateChunkRequest{X: 1, Format: compression.FormatGzip}, http.StatusOK},
		{"bad format", generation.GenerateChunkRequest{Format: "binary_lz4"}, http.StatusBadRequest},
		{"bad params", generation.GenerateChunkRequest{Params: &generation.Params{Octaves: 0}}, http.StatusBadRequest},
		{"malformed json", "{", http.StatusBadRequest},
		{"unknown field", `{"x":1,"floor":2}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := helper.MakeRequest(http.MethodPost, "/api/v1/chunks/generate", tt.body)
			testutil.AssertStatus(t, rr, tt.status)
		})
	}

	rr := helper.MakeRequest(http.MethodPost, "/api/v1/chunks/generate", generation.GenerateChunkRequest{X: 1, Y: -2, Z: 3})
	var resp generation.GenerateChunkResponse
	testutil.DecodeJSON(t, rr, &resp)
	if !resp.Success || resp.ChunkID != "1_-2_3" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Blocks.Format != compression.FormatZstd {
		t.Errorf("Expected zstd by default, got %s", resp.Blocks.Format)
	}
	data, err := generation.UnpackChunk(&resp)
	if err != nil {
		t.Fatalf("UnpackChunk failed: %v", err)
	}
	if data.Get(0, 0, 0) != generation.Stone || data.Get(1, 0, 0) != generation.Air {
		t.Error("Expected unpacked chunk to match generated content")
	}
}

func TestGenerateChunkFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"permanent", &generation.GenerationError{Permanent: true, Err: errors.New("out of world")}, http.StatusUnprocessableEntity},
		{"transient", errors.New("noise backend busy"), http.StatusServiceUnavailable},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := generation.GeneratorFunc(func(ctx context.Context, coord chunkcoord.Coord, p generation.Params) (*generation.ChunkData, error) {
				return nil, tt.err
			})
			helper := testutil.NewHTTPTestHelper(newGenerationMux(gen, nil))
			rr := helper.MakeRequest(http.MethodPost, "/api/v1/chunks/generate", generation.GenerateChunkRequest{})
			testutil.AssertStatus(t, rr, tt.status)

			var resp generation.GenerateChunkResponse
			testutil.DecodeJSON(t, rr, &resp)
			if resp.Success || resp.Message == nil {
				t.Errorf("Expected failure body with message, got %+v", resp)
			}
		})
	}
}

func TestGenerateChunkRequiresToken(t *testing.T) {
	tokens := auth.NewServiceTokens(config.ProceduralConfig{
		TokenSecret: "test_service_secret_key_32_bytes!!",
		TokenTTL:    time.Minute,
	}, "sim")
	helper := testutil.NewHTTPTestHelper(newGenerationMux(stoneGenerator(), tokens))

	rr := helper.MakeRequest(http.MethodPost, "/api/v1/chunks/generate", generation.GenerateChunkRequest{})
	testutil.AssertStatus(t, rr, http.StatusUnauthorized)

	token, _ := tokens.Token()
	rr = helper.WithBearer(token).MakeRequest(http.MethodPost, "/api/v1/chunks/generate", generation.GenerateChunkRequest{})
	testutil.AssertStatus(t, rr, http.StatusOK)

	// health stays open
	rr = helper.MakeRequest(http.MethodGet, "/health", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
}

func TestRemoteGeneratorAgainstService(t *testing.T) {
	tokens := auth.NewServiceTokens(config.ProceduralConfig{
		TokenSecret: "test_service_secret_key_32_bytes!!",
		TokenTTL:    time.Minute,
	}, "sim")
	server := httptest.NewServer(newGenerationMux(generation.NewTerrain(), tokens))
	defer server.Close()

	remote := generation.NewRemoteGenerator(generation.RemoteOptions{
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
		Tokens:  tokens,
	})
	ctx := context.Background()
	if err := remote.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}

	coord := chunkcoord.Coord{X: 2, Y: 0, Z: -1}
	params := generation.DefaultParams(42)
	got, err := remote.Generate(ctx, coord, params)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	want, err := generation.NewTerrain().Generate(ctx, coord, params)
	if err != nil {
		t.Fatalf("local Generate failed: %v", err)
	}
	for i := range want.Blocks {
		if got.Blocks[i] != want.Blocks[i] {
			t.Fatalf("block %d: Expected %d, got %d", i, want.Blocks[i], got.Blocks[i])
		}
	}
}
