package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rawlogs/rawlogs/internal/config"
	"github.com/rawlogs/rawlogs/internal/duckdb"
	"github.com/rawlogs/rawlogs/internal/store"
)

func TestRun_UnknownMode(t *testing.T) {
	err := run(context.Background(), options{mode: "sideways"})
	if err == nil || !strings.Contains(err.Error(), "unknown mode") {
		t.Errorf("err = %v", err)
	}
}

func TestOpenStore_DuckDBWithFileCheckpoint(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = config.BackendDuckDB
	cfg.Store.Checkpoint = config.BackendFile
	cfg.Store.CheckpointPath = filepath.Join(t.TempDir(), "checkpoint.json")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	b, err := openStore(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer b.close(logger)
	if b.client != nil {
		t.Error("opensearch client created though no component uses it")
	}
	if _, ok := b.searcher.(*duckdb.Searcher); !ok {
		t.Errorf("searcher = %T", b.searcher)
	}
	if _, ok := b.checkpoints.(*store.FileCheckpoints); !ok {
		t.Errorf("checkpoints = %T", b.checkpoints)
	}
}

func TestOpenTransport_Kafka(t *testing.T) {
	cfg := config.Default()
	cfg.Transport.Backend = config.BackendKafka
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr, err := openTransport(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.close(logger)
	if got := tr.MaxPayload(); got != 1<<20-256 {
		t.Errorf("MaxPayload = %d", got)
	}
}
