package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/rawlogs/rawlogs/internal/store"
	"github.com/rawlogs/rawlogs/internal/types"
)

const checkpointRow = 1

// Checkpoints implements store.Checkpoints with a one-row table.
type Checkpoints struct {
	db *DB
	mu sync.Mutex
}

// NewCheckpoints returns the checkpoint store in db.
func NewCheckpoints(db *DB) *Checkpoints {
	return &Checkpoints{db: db}
}

// Load implements store.Checkpoints.
func (c *Checkpoints) Load(ctx context.Context) (types.Checkpoint, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx)
}

func (c *Checkpoints) load(ctx context.Context) (types.Checkpoint, bool, error) {
	var ms int64
	err := c.db.sql.QueryRowContext(ctx,
		`SELECT last_processed_end FROM checkpoint WHERE id = ?`, checkpointRow,
	).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Checkpoint{}, false, nil
	}
	if err != nil {
		return types.Checkpoint{}, false, fmt.Errorf("load checkpoint: %w", err)
	}
	return types.CheckpointFromMillis(ms), true, nil
}

// Save implements store.Checkpoints.
func (c *Checkpoints) Save(ctx context.Context, cp types.Checkpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok, err := c.load(ctx)
	if err != nil {
		return err
	}
	if err := store.CheckAdvance(prev, ok, cp); err != nil {
		return err
	}
	_, err = c.db.sql.ExecContext(ctx,
		`INSERT INTO checkpoint (id, last_processed_end) VALUES (?, ?)
		 ON CONFLICT (id) DO UPDATE SET last_processed_end = excluded.last_processed_end`,
		checkpointRow, cp.Millis(),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}
