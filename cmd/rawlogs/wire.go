package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	opensearchgo "github.com/opensearch-project/opensearch-go/v2"

	"github.com/rawlogs/rawlogs/internal/config"
	"github.com/rawlogs/rawlogs/internal/duckdb"
	"github.com/rawlogs/rawlogs/internal/opensearch"
	"github.com/rawlogs/rawlogs/internal/publish"
	"github.com/rawlogs/rawlogs/internal/store"
	"github.com/rawlogs/rawlogs/internal/transport"
)

type storeBackend struct {
	searcher    store.Searcher
	checkpoints store.Checkpoints
	client      *opensearchgo.Client
	db          *duckdb.DB
}

func (b *storeBackend) close(logger *slog.Logger) {
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			logger.Warn("close duckdb", "error", err)
		}
	}
}

// openStore builds the searcher and checkpoint store named in cfg, sharing
// one client or database between them.
func openStore(cfg *config.Config, logger *slog.Logger) (*storeBackend, error) {
	b := &storeBackend{}
	uses := func(backend string) bool {
		return cfg.Store.Backend == backend || cfg.CheckpointBackend() == backend
	}
	if uses(config.BackendOpenSearch) {
		client, err := opensearch.NewClient(opensearch.Config{
			Endpoint:           cfg.OpenSearch.Endpoint,
			Username:           cfg.OpenSearch.Username,
			Password:           cfg.OpenSearch.Password,
			InsecureSkipVerify: cfg.OpenSearch.InsecureSkipVerify,
			MaxRetries:         cfg.OpenSearch.MaxRetries,
			Timeout:            cfg.OpenSearch.Timeout,
		})
		if err != nil {
			return nil, err
		}
		b.client = client
	}
	if uses(config.BackendDuckDB) {
		db, err := duckdb.Open(cfg.DuckDB.Path)
		if err != nil {
			return nil, fmt.Errorf("open duckdb: %w", err)
		}
		b.db = db
	}

	switch cfg.Store.Backend {
	case config.BackendOpenSearch:
		b.searcher = opensearch.NewSearcher(b.client, cfg.OpenSearch.Index, cfg.OpenSearch.Scroll, logger)
	case config.BackendDuckDB:
		b.searcher = duckdb.NewSearcher(b.db)
	}
	switch cfg.CheckpointBackend() {
	case config.BackendOpenSearch:
		b.checkpoints = opensearch.NewCheckpoints(b.client, cfg.OpenSearch.CheckpointIndex)
	case config.BackendDuckDB:
		b.checkpoints = duckdb.NewCheckpoints(b.db)
	case config.BackendFile:
		b.checkpoints = store.NewFileCheckpoints(cfg.Store.CheckpointPath)
	}
	logger.Info("store ready", "backend", cfg.Store.Backend, "checkpoint", cfg.CheckpointBackend())
	return b, nil
}

type transportHandle struct {
	publish.Transport
	flushFn func(context.Context) error
	closeFn func() error
}

func (t *transportHandle) close(logger *slog.Logger) {
	if t.flushFn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := t.flushFn(ctx); err != nil {
			logger.Warn("flush transport", "error", err)
		}
	}
	if err := t.closeFn(); err != nil {
		logger.Warn("close transport", "error", err)
	}
}

func openTransport(cfg *config.Config, logger *slog.Logger) (*transportHandle, error) {
	switch cfg.Transport.Backend {
	case config.BackendNATS:
		nc, err := transport.DialNATS(transport.NATSConfig{
			URL:           cfg.NATS.URL,
			Username:      cfg.NATS.Username,
			Password:      cfg.NATS.Password,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			Timeout:       cfg.NATS.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return &transportHandle{Transport: nc, flushFn: nc.Flush, closeFn: nc.Close}, nil
	case config.BackendKafka:
		k := transport.NewKafka(transport.KafkaConfig{
			Brokers:         cfg.Kafka.Brokers,
			MaxMessageBytes: cfg.Kafka.MaxMessageBytes,
			Compression:     cfg.Kafka.Compression,
			RequiredAcks:    cfg.Kafka.RequiredAcks,
			MaxAttempts:     cfg.Kafka.MaxAttempts,
		})
		logger.Info("kafka writer ready", "brokers", cfg.Kafka.Brokers, "max_payload", k.MaxPayload())
		return &transportHandle{Transport: k, closeFn: k.Close}, nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport.Backend)
}
