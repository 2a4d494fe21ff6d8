package duckdb

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/rawlogs/rawlogs/internal/store"
	"github.com/rawlogs/rawlogs/internal/types"
)

// Searcher implements store.Searcher over the records table.
type Searcher struct {
	db *DB
}

// NewSearcher returns a Searcher reading from db.
func NewSearcher(db *DB) *Searcher {
	return &Searcher{db: db}
}

// Search implements store.Searcher. Pages are keyed on the insertion sequence,
// so no server-side state is held between pages.
func (s *Searcher) Search(ctx context.Context, w types.Window, pageSize int) (store.Cursor, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", pageSize)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &cursor{db: s.db, from: w.StartMillis(), to: w.EndMillis(), size: pageSize}, nil
}

type cursor struct {
	db       *DB
	from, to int64
	size     int
	after    int64
	done     bool
}

// Next implements store.Cursor.
func (c *cursor) Next(ctx context.Context) ([]types.Record, error) {
	if c.done {
		return nil, nil
	}
	rows, err := c.db.sql.QueryContext(ctx,
		`SELECT seq, id, doc FROM records
		 WHERE time_ms >= ? AND time_ms < ? AND seq > ?
		 ORDER BY seq LIMIT `+strconv.Itoa(c.size),
		c.from, c.to, c.after,
	)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()
	var out []types.Record
	for rows.Next() {
		var seq int64
		var id, doc string
		if err := rows.Scan(&seq, &id, &doc); err != nil {
			return nil, err
		}
		rec := types.Record{}
		dec := json.NewDecoder(bytes.NewReader([]byte(doc)))
		dec.UseNumber()
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode record %d: %w", seq, err)
		}
		if id != "" {
			rec[types.FieldID] = id
		}
		out = append(out, rec)
		c.after = seq
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) < c.size {
		c.done = true
	}
	return out, nil
}

// Close implements store.Cursor.
func (c *cursor) Close(context.Context) error {
	c.done = true
	return nil
}
