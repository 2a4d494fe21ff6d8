// Package receiver is the push path: an HTTP endpoint that accepts JSON log
// records, answers immediately and publishes them in the background.
package receiver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/rawlogs/rawlogs/internal/enrich"
	"github.com/rawlogs/rawlogs/internal/metrics"
	"github.com/rawlogs/rawlogs/internal/publish"
	"github.com/rawlogs/rawlogs/internal/types"
)

const path = "push"

// Defaults for zero Config fields.
const (
	DefaultMaxBodyBytes   = 16 << 20
	DefaultPublishTimeout = 30 * time.Second
)

// RequestIDHeader carries the ID assigned to each ingest request.
const RequestIDHeader = "X-Request-Id"

// Publisher emits an enriched batch.
type Publisher interface {
	Publish(ctx context.Context, records []types.Record) (publish.Report, error)
}

// Enricher shapes a raw batch for publishing.
type Enricher interface {
	Enrich(in []types.Record) enrich.Result
}

// Config tunes the receiver.
type Config struct {
	MaxBodyBytes   int64
	PublishTimeout time.Duration
	Logger         *slog.Logger
}

// Receiver handles ingest requests. Use Handler to mount it and Wait during
// shutdown for background publishes to finish.
type Receiver struct {
	publisher Publisher
	enricher  Enricher
	maxBody   int64
	timeout   time.Duration
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// New returns a receiver publishing through pub.
func New(cfg Config, pub Publisher, enr Enricher) *Receiver {
	r := &Receiver{
		publisher: pub,
		enricher:  enr,
		maxBody:   cfg.MaxBodyBytes,
		timeout:   cfg.PublishTimeout,
		logger:    cfg.Logger,
	}
	if r.maxBody <= 0 {
		r.maxBody = DefaultMaxBodyBytes
	}
	if r.timeout <= 0 {
		r.timeout = DefaultPublishTimeout
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Handler returns the router: POST / ingests, GET /healthz reports liveness.
func (r *Receiver) Handler() http.Handler {
	router := httprouter.New()
	router.POST("/", r.ingest)
	router.GET("/healthz", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "ok")
	})
	return router
}

// Wait blocks until every background publish has returned or ctx is done.
func (r *Receiver) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Receiver) ingest(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	id := uuid.NewString()
	w.Header().Set(RequestIDHeader, id)
	logger := r.logger.With("request_id", id)

	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, r.maxBody))
	if err != nil {
		r.reject(w, logger, fmt.Errorf("read body: %w", err))
		return
	}
	records, err := decode(body)
	if err != nil {
		r.reject(w, logger, err)
		return
	}
	metrics.IngestRequests.WithLabelValues(strconv.Itoa(http.StatusOK)).Inc()
	w.WriteHeader(http.StatusOK)
	if len(records) == 0 {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.publish(logger, records)
	}()
}

func (r *Receiver) publish(logger *slog.Logger, records []types.Record) {
	metrics.RecordsReceived.WithLabelValues(path).Add(float64(len(records)))
	res := r.enricher.Enrich(records)
	if len(res.Rejected) > 0 {
		metrics.RecordsRejected.WithLabelValues(path).Add(float64(len(res.Rejected)))
		for _, rej := range res.Rejected {
			logger.Warn("dropping record", "index", rej.Index, "error", rej.Err)
		}
	}
	if len(res.Records) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	report, err := r.publisher.Publish(ctx, res.Records)
	if err != nil {
		logger.Error("publish failed", "published", report.Published(), "failed_chunks", len(report.Failed()), "error", err)
		return
	}
	logger.Info(fmt.Sprintf("Published %d logs", report.Published()), "chunks", len(report.Chunks), "dropped", len(report.Dropped))
}

func (r *Receiver) reject(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Warn("rejecting ingest request", "error", err)
	metrics.IngestRequests.WithLabelValues(strconv.Itoa(http.StatusNotFound)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(map[string]string{
		"detail": fmt.Sprintf("Something wrong with request: %v", err),
	})
}

var errNotRecords = errors.New("body must be a JSON object or an array of objects")

// decode accepts one JSON object or an array of objects. Numbers keep their
// digits so epoch timestamps survive untouched.
func decode(body []byte) ([]types.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	if dec.More() {
		return nil, errors.New("decode body: trailing data after JSON value")
	}
	switch t := v.(type) {
	case map[string]any:
		return []types.Record{t}, nil
	case []any:
		out := make([]types.Record, 0, len(t))
		for i, e := range t {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("element %d: %w", i, errNotRecords)
			}
			out = append(out, m)
		}
		return out, nil
	}
	return nil, errNotRecords
}
