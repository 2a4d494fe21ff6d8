// Package duckdb keeps log records and the pull-path checkpoint in an
// embedded DuckDB database. It backs the extractor in development and tests
// when no OpenSearch cluster is available.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/goccy/go-json"

	"github.com/rawlogs/rawlogs/internal/types"
)

// DB is an open DuckDB database with migrations applied.
// Use Open to create; call Close when done.
type DB struct {
	sql *sql.DB
}

// Open opens or creates a DuckDB database at path and runs migrations.
// Path can be a file path (e.g. "rawlogs.duckdb") or "" for in-memory.
func Open(path string) (*DB, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	sqlDB, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, err
	}
	db := &DB{sql: sqlDB}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate %q: %w", dsn, err)
	}
	return db, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.sql.Close()
}

func (db *DB) migrate() error {
	stmts := []string{
		`CREATE SEQUENCE IF NOT EXISTS records_seq START 1`,
		// records: append-only; seq orders pages, time_ms is the range key
		`CREATE TABLE IF NOT EXISTS records (
			seq BIGINT PRIMARY KEY DEFAULT nextval('records_seq'),
			id VARCHAR NOT NULL DEFAULT '',
			time_ms BIGINT NOT NULL,
			doc VARCHAR NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoint (
			id INTEGER PRIMARY KEY,
			last_processed_end BIGINT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.sql.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// AppendRecord stores rec as indexed at the given instant. The record's _id,
// if any, is kept in its own column and returned as the hit ID on search.
func (db *DB) AppendRecord(ctx context.Context, at time.Time, rec types.Record) error {
	doc := rec.Clone()
	id := doc.ID()
	delete(doc, types.FieldID)
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	_, err = db.sql.ExecContext(ctx,
		`INSERT INTO records (id, time_ms, doc) VALUES (?, ?, ?)`,
		id, at.UnixMilli(), string(b),
	)
	return err
}

// Count returns the number of stored records.
func (db *DB) Count(ctx context.Context) (int64, error) {
	var n int64
	err := db.sql.QueryRowContext(ctx, `SELECT count(*) FROM records`).Scan(&n)
	return n, err
}
