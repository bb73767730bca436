package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/earthring/chunkstream/internal/chunkcoord"
	"github.com/earthring/chunkstream/internal/generation"
)

func solidGenerator() generation.Generator {
	return generation.GeneratorFunc(func(ctx context.Context, coord chunkcoord.Coord, params generation.Params) (*generation.ChunkData, error) {
		data := generation.NewChunkData(coord)
		data.Set(0, 0, 0, generation.Stone)
		return data, nil
	})
}

func newTestPool(t *testing.T, workers, capacity int, gen generation.Generator) *Pool {
	t.Helper()
	p, err := New(context.Background(), Config{Workers: workers, Capacity: capacity}, gen, generation.DefaultParams(1), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

// waitPending polls until n results are ready
func waitPending(t *testing.T, p *Pool, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for p.Pending() < n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d pending results, got %d", n, p.Pending())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		gen  generation.Generator
	}{
		{"no workers", Config{Workers: 0, Capacity: 1}, solidGenerator()},
		{"no capacity", Config{Workers: 1, Capacity: 0}, solidGenerator()},
		{"no generator", Config{Workers: 1, Capacity: 1}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(context.Background(), tt.cfg, tt.gen, generation.Params{}, nil); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestPoolGeneratesPayloads(t *testing.T) {
	p := newTestPool(t, 4, 16, solidGenerator())

	for i := 0; i < 10; i++ {
		if err := p.Submit(Job{Coord: chunkcoord.Coord{X: int32(i)}}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	waitPending(t, p, 10)

	seen := make(map[chunkcoord.Coord]bool)
	for _, r := range p.Drain(100) {
		if r.Err != nil {
			t.Fatalf("unexpected error: %v", r.Err)
		}
		if r.Payload.Data.Coord != r.Job.Coord {
			t.Errorf("Expected payload for %v, got %v", r.Job.Coord, r.Payload.Data.Coord)
		}
		if r.Payload.Opaque == nil || r.Payload.Transparent != nil {
			t.Errorf("Expected only opaque geometry for %v", r.Job.Coord)
		}
		seen[r.Job.Coord] = true
	}
	if len(seen) != 10 {
		t.Errorf("Expected 10 distinct results, got %d", len(seen))
	}

	stats := p.Stats()
	if stats.Submitted != 10 || stats.Finished != 10 || stats.Failed != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestSubmitQueueFull(t *testing.T) {
	release := make(chan struct{})
	blocking := generation.GeneratorFunc(func(ctx context.Context, coord chunkcoord.Coord, params generation.Params) (*generation.ChunkData, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return generation.NewChunkData(coord), nil
	})
	p := newTestPool(t, 1, 2, blocking)
	defer close(release)

	// one job is picked up by the worker, two fill the queue
	if err := p.Submit(Job{Coord: chunkcoord.Coord{X: 0}}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for p.Stats().Busy != 1 {
		if time.Now().After(deadline) {
			t.Fatal("worker never picked up the first job")
		}
		time.Sleep(time.Millisecond)
	}
	for i := 1; i <= 2; i++ {
		if err := p.Submit(Job{Coord: chunkcoord.Coord{X: int32(i)}}); err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
	}
	if err := p.Submit(Job{Coord: chunkcoord.Coord{X: 3}}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}
}

func TestDrainRespectsMax(t *testing.T) {
	p := newTestPool(t, 2, 8, solidGenerator())
	for i := 0; i < 5; i++ {
		p.Submit(Job{Coord: chunkcoord.Coord{Z: int32(i)}})
	}
	waitPending(t, p, 5)

	if got := len(p.Drain(3)); got != 3 {
		t.Errorf("Expected 3 results, got %d", got)
	}
	if p.Pending() != 2 {
		t.Errorf("Expected 2 results left queued, got %d", p.Pending())
	}
	if _, ok := p.TryRecv(); !ok {
		t.Error("Expected TryRecv to return a result")
	}
	if got := len(p.Drain(3)); got != 1 {
		t.Errorf("Expected 1 result, got %d", got)
	}
	if _, ok := p.TryRecv(); ok {
		t.Error("Expected empty queue")
	}
}

func TestGeneratorErrorIsForwarded(t *testing.T) {
	failing := generation.GeneratorFunc(func(ctx context.Context, coord chunkcoord.Coord, params generation.Params) (*generation.ChunkData, error) {
		return nil, &generation.GenerationError{Coord: coord, Permanent: true, Err: errors.New("bad region")}
	})
	p := newTestPool(t, 1, 1, failing)

	p.Submit(Job{Coord: chunkcoord.Coord{Y: 1}, Attempt: 2})
	waitPending(t, p, 1)

	r, _ := p.TryRecv()
	var genErr *generation.GenerationError
	if !errors.As(r.Err, &genErr) {
		t.Fatalf("Expected GenerationError, got %v", r.Err)
	}
	if !genErr.Permanent || genErr.Attempt != 2 {
		t.Errorf("Expected permanent failure on attempt 2, got %+v", genErr)
	}
	if r.Payload != nil {
		t.Error("Expected no payload on failure")
	}
}

func TestPanickingWorkerIsRespawned(t *testing.T) {
	var calls atomic.Int32
	flaky := generation.GeneratorFunc(func(ctx context.Context, coord chunkcoord.Coord, params generation.Params) (*generation.ChunkData, error) {
		if calls.Add(1) == 1 {
			panic("corrupt noise table")
		}
		return generation.NewChunkData(coord), nil
	})
	p := newTestPool(t, 1, 4, flaky)

	p.Submit(Job{Coord: chunkcoord.Coord{X: 1}})
	p.Submit(Job{Coord: chunkcoord.Coord{X: 2}})
	waitPending(t, p, 2)

	results := p.Drain(2)
	if results[0].Err == nil || generation.IsPermanent(results[0].Err) {
		t.Errorf("Expected transient failure from panic, got %v", results[0].Err)
	}
	if results[1].Err != nil {
		t.Errorf("Expected respawned worker to succeed, got %v", results[1].Err)
	}
	if p.Stats().Restarts != 1 {
		t.Errorf("Expected 1 restart, got %d", p.Stats().Restarts)
	}
}

func TestWorkersGetPrivateParams(t *testing.T) {
	var mu sync.Mutex
	seeds := make(map[int64]int)
	gen := generation.GeneratorFunc(func(ctx context.Context, coord chunkcoord.Coord, params generation.Params) (*generation.ChunkData, error) {
		mu.Lock()
		seeds[params.Seed]++
		mu.Unlock()
		params.Seed = -1 // must not leak to other jobs
		return generation.NewChunkData(coord), nil
	})
	p := newTestPool(t, 3, 16, gen)
	for i := 0; i < 12; i++ {
		p.Submit(Job{Coord: chunkcoord.Coord{X: int32(i)}})
	}
	waitPending(t, p, 12)

	mu.Lock()
	defer mu.Unlock()
	if seeds[1] != 12 {
		t.Errorf("Expected every job to see seed 1, got %v", seeds)
	}
}

func TestCloseJoinsWorkers(t *testing.T) {
	started := make(chan struct{}, 1)
	gen := generation.GeneratorFunc(func(ctx context.Context, coord chunkcoord.Coord, params generation.Params) (*generation.ChunkData, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	p, err := New(context.Background(), Config{Workers: 1, Capacity: 1}, gen, generation.Params{}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p.Submit(Job{})
	<-started

	done := make(chan struct{})
	go func() {
		p.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}

	if err := p.Submit(Job{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if p.Stats().Busy != 0 {
		t.Errorf("Expected no busy workers after Close, got %d", p.Stats().Busy)
	}
	p.Close()
}
