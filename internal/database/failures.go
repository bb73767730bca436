package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/earthring/chunkstream/internal/chunkcoord"
	"github.com/lib/pq"
)

// maxCauseLength bounds the stored error text
const maxCauseLength = 1024

// FailureStorage is the ledger of coordinates whose generation failed
// permanently.
type FailureStorage struct {
	db *sql.DB
}

// NewFailureStorage creates a new failure storage instance.
func NewFailureStorage(db *sql.DB) *FailureStorage {
	return &FailureStorage{db: db}
}

// Failure is one ledger row.
type Failure struct {
	Coord         chunkcoord.Coord `json:"coord"`
	Attempts      int              `json:"attempts"`
	Cause         string           `json:"cause"`
	Occurrences   int              `json:"occurrences"`
	FirstFailedAt time.Time        `json:"first_failed_at"`
	LastFailedAt  time.Time        `json:"last_failed_at"`
}

// EnsureSchema creates the ledger table if it does not exist.
func (s *FailureStorage) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS chunk_failures (
			x               INTEGER     NOT NULL,
			y               INTEGER     NOT NULL,
			z               INTEGER     NOT NULL,
			attempts        INTEGER     NOT NULL,
			cause           TEXT        NOT NULL,
			occurrences     INTEGER     NOT NULL DEFAULT 1,
			first_failed_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_failed_at  TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (x, y, z)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create chunk_failures table: %w", err)
	}
	return nil
}

// RecordFailure inserts or updates the ledger row for coord. A coordinate
// that fails again after re-entering the retention volume bumps its
// occurrence count.
func (s *FailureStorage) RecordFailure(ctx context.Context, coord chunkcoord.Coord, attempts int, cause error) error {
	if attempts < 1 {
		return fmt.Errorf("invalid attempts: %d (must be >= 1)", attempts)
	}
	text := "unknown"
	if cause != nil {
		text = cause.Error()
	}
	if len(text) > maxCauseLength {
		text = text[:maxCauseLength]
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chunk_failures (x, y, z, attempts, cause)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (x, y, z)
		DO UPDATE SET
			attempts = $4,
			cause = $5,
			occurrences = chunk_failures.occurrences + 1,
			last_failed_at = CURRENT_TIMESTAMP
	`, coord.X, coord.Y, coord.Z, attempts, text)
	if err != nil {
		return fmt.Errorf("failed to record failure for chunk %s: %w", coord, err)
	}
	return nil
}

// GetFailure returns the ledger row for coord, or nil if there is none.
func (s *FailureStorage) GetFailure(ctx context.Context, coord chunkcoord.Coord) (*Failure, error) {
	var f Failure
	err := s.db.QueryRowContext(ctx, `
		SELECT x, y, z, attempts, cause, occurrences, first_failed_at, last_failed_at
		FROM chunk_failures
		WHERE x = $1 AND y = $2 AND z = $3
	`, coord.X, coord.Y, coord.Z).Scan(
		&f.Coord.X, &f.Coord.Y, &f.Coord.Z,
		&f.Attempts, &f.Cause, &f.Occurrences,
		&f.FirstFailedAt, &f.LastFailedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query failure for chunk %s: %w", coord, err)
	}
	return &f, nil
}

// ListFailures returns the most recently failed coordinates first.
func (s *FailureStorage) ListFailures(ctx context.Context, limit int) ([]Failure, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT x, y, z, attempts, cause, occurrences, first_failed_at, last_failed_at
		FROM chunk_failures
		ORDER BY last_failed_at DESC, x, y, z
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}
	defer rows.Close()

	var failures []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(
			&f.Coord.X, &f.Coord.Y, &f.Coord.Z,
			&f.Attempts, &f.Cause, &f.Occurrences,
			&f.FirstFailedAt, &f.LastFailedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate failures: %w", err)
	}
	return failures, nil
}

// ClearFailures removes the given coordinates from the ledger and returns how
// many rows were deleted. An empty list clears nothing.
func (s *FailureStorage) ClearFailures(ctx context.Context, coords []chunkcoord.Coord) (int64, error) {
	if len(coords) == 0 {
		return 0, nil
	}
	xs := make([]int64, len(coords))
	ys := make([]int64, len(coords))
	zs := make([]int64, len(coords))
	for i, c := range coords {
		xs[i], ys[i], zs[i] = int64(c.X), int64(c.Y), int64(c.Z)
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM chunk_failures f
		USING unnest($1::int[], $2::int[], $3::int[]) AS d(x, y, z)
		WHERE f.x = d.x AND f.y = d.y AND f.z = d.z
	`, pq.Array(xs), pq.Array(ys), pq.Array(zs))
	if err != nil {
		return 0, fmt.Errorf("failed to clear failures: %w", err)
	}
	return res.RowsAffected()
}
