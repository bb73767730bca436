package database

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/earthring/chunkstream/internal/chunkcoord"
	"github.com/earthring/chunkstream/internal/streaming"
	"github.com/earthring/chunkstream/internal/testutil"
)

var _ streaming.FailureRecorder = (*FailureStorage)(nil)

func setupFailureStorage(t *testing.T) *FailureStorage {
	t.Helper()
	db := testutil.SetupTestDB(t)
	testutil.CloseDB(t, db)

	testutil.CleanupTestDB(t, db)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })
	storage := NewFailureStorage(db)
	if err := storage.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	return storage
}

func TestFailureStorage_RecordAndGet(t *testing.T) {
	storage := setupFailureStorage(t)
	ctx := context.Background()
	coord := chunkcoord.Coord{X: 3, Y: -1, Z: 7}

	t.Run("returns nil for unknown chunk", func(t *testing.T) {
		f, err := storage.GetFailure(ctx, coord)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if f != nil {
			t.Errorf("Expected nil, got %+v", f)
		}
	})

	t.Run("records a failure", func(t *testing.T) {
		if err := storage.RecordFailure(ctx, coord, 3, errors.New("generator timeout")); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
		f, err := storage.GetFailure(ctx, coord)
		if err != nil {
			t.Fatalf("GetFailure failed: %v", err)
		}
		if f == nil {
			t.Fatal("Expected failure row")
		}
		if f.Coord != coord || f.Attempts != 3 || f.Cause != "generator timeout" || f.Occurrences != 1 {
			t.Errorf("unexpected row %+v", f)
		}
	})

	t.Run("repeat failure bumps occurrences", func(t *testing.T) {
		if err := storage.RecordFailure(ctx, coord, 1, errors.New("bad request")); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
		f, _ := storage.GetFailure(ctx, coord)
		if f.Occurrences != 2 {
			t.Errorf("Expected 2 occurrences, got %d", f.Occurrences)
		}
		if f.Attempts != 1 || f.Cause != "bad request" {
			t.Errorf("Expected latest attempt and cause, got %+v", f)
		}
		if f.LastFailedAt.Before(f.FirstFailedAt) {
			t.Error("Expected last_failed_at >= first_failed_at")
		}
	})

	t.Run("rejects zero attempts", func(t *testing.T) {
		if err := storage.RecordFailure(ctx, coord, 0, nil); err == nil {
			t.Error("Expected error for zero attempts")
		}
	})

	t.Run("truncates long causes", func(t *testing.T) {
		other := chunkcoord.Coord{X: 100}
		long := errors.New(strings.Repeat("x", 4000))
		if err := storage.RecordFailure(ctx, other, 2, long); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
		f, _ := storage.GetFailure(ctx, other)
		if len(f.Cause) != maxCauseLength {
			t.Errorf("Expected cause length %d, got %d", maxCauseLength, len(f.Cause))
		}
	})
}

func TestFailureStorage_ListAndClear(t *testing.T) {
	storage := setupFailureStorage(t)
	ctx := context.Background()

	coords := []chunkcoord.Coord{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: -4, Y: 1, Z: 4}}
	for _, c := range coords {
		if err := storage.RecordFailure(ctx, c, 3, errors.New("boom")); err != nil {
			t.Fatalf("RecordFailure(%s) failed: %v", c, err)
		}
	}

	failures, err := storage.ListFailures(ctx, 0)
	if err != nil {
		t.Fatalf("ListFailures failed: %v", err)
	}
	if len(failures) != 3 {
		t.Fatalf("Expected 3 failures, got %d", len(failures))
	}

	limited, _ := storage.ListFailures(ctx, 2)
	if len(limited) != 2 {
		t.Errorf("Expected 2 failures with limit, got %d", len(limited))
	}

	n, err := storage.ClearFailures(ctx, []chunkcoord.Coord{coords[0], coords[2], {X: 99}})
	if err != nil {
		t.Fatalf("ClearFailures failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 rows cleared, got %d", n)
	}

	remaining, _ := storage.ListFailures(ctx, 10)
	if len(remaining) != 1 || remaining[0].Coord != coords[1] {
		t.Errorf("Expected only %s to remain, got %+v", coords[1], remaining)
	}

	if n, err := storage.ClearFailures(ctx, nil); err != nil || n != 0 {
		t.Errorf("Expected empty clear to be a no-op, got %d %v", n, err)
	}
}
