// Package store defines how the pull path reads records and persists its checkpoint.
// Implementations: OpenSearch (internal/opensearch), DuckDB (internal/duckdb) and
// a JSON file checkpoint in this package.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rawlogs/rawlogs/internal/types"
)

// ErrCheckpointRegression is returned when a save would move the checkpoint backwards.
var ErrCheckpointRegression = errors.New("checkpoint would move backwards")

// Searcher runs a bounded time-range query with server-side pagination.
type Searcher interface {
	// Search starts a query for records with time in w. Pages hold at most pageSize records.
	Search(ctx context.Context, w types.Window, pageSize int) (Cursor, error)
}

// Cursor iterates over the pages of one query.
type Cursor interface {
	// Next returns the next page. An empty page means the query is exhausted.
	Next(ctx context.Context) ([]types.Record, error)
	// Close releases server-side pagination state.
	Close(ctx context.Context) error
}

// Checkpoints reads and writes the singleton checkpoint.
type Checkpoints interface {
	// Load returns the checkpoint; ok is false if none has been written yet.
	Load(ctx context.Context) (cp types.Checkpoint, ok bool, err error)
	Save(ctx context.Context, cp types.Checkpoint) error
}

// CheckAdvance returns ErrCheckpointRegression if next is before prev.
func CheckAdvance(prev types.Checkpoint, havePrev bool, next types.Checkpoint) error {
	if havePrev && next.LastProcessedEnd.Before(prev.LastProcessedEnd) {
		return fmt.Errorf("%w: %d < %d", ErrCheckpointRegression, next.Millis(), prev.Millis())
	}
	return nil
}

// Drain calls fn with every non-empty page of c until the cursor is exhausted,
// ctx is done or fn fails. It does not close c.
func Drain(ctx context.Context, c Cursor, fn func(page []types.Record) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := c.Next(ctx)
		if err != nil {
			return fmt.Errorf("next page: %w", err)
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
	}
}
