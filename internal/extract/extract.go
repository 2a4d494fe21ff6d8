// Package extract runs the pull path: it walks fixed-width time windows over
// a store, publishes every page it reads and advances a durable checkpoint
// only once a whole window went out.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rawlogs/rawlogs/internal/enrich"
	"github.com/rawlogs/rawlogs/internal/metrics"
	"github.com/rawlogs/rawlogs/internal/publish"
	"github.com/rawlogs/rawlogs/internal/store"
	"github.com/rawlogs/rawlogs/internal/types"
)

const path = "pull"

// Defaults for zero Config fields.
const (
	DefaultPeriod       = 10 * time.Second
	DefaultCatchUpSpan  = time.Hour
	DefaultPageSize     = 2000
	DefaultDrainTimeout = 10 * time.Second
)

// State is the extractor's position in its window cycle.
type State int

const (
	Idle State = iota
	Resuming
	Querying
	Paginating
	Checkpointing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Resuming:
		return "RESUMING"
	case Querying:
		return "QUERYING"
	case Paginating:
		return "PAGINATING"
	case Checkpointing:
		return "CHECKPOINTING"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Publisher emits an enriched batch.
type Publisher interface {
	Publish(ctx context.Context, records []types.Record) (publish.Report, error)
}

// Enricher shapes a raw page for publishing.
type Enricher interface {
	Enrich(in []types.Record) enrich.Result
}

// Config tunes the extractor.
type Config struct {
	// Period is the width of a steady-state window.
	Period time.Duration
	// Lookback places the first window at now-Lookback; defaults to Period.
	Lookback time.Duration
	// CatchUpSpan caps the width of one catch-up window.
	CatchUpSpan time.Duration
	PageSize    int
	// PagesPerSecond limits page requests; 0 means unlimited.
	PagesPerSecond float64
	// DrainTimeout bounds publishes still running after cancellation.
	DrainTimeout time.Duration
	Logger       *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Period <= 0 {
		c.Period = DefaultPeriod
	}
	if c.Lookback <= 0 {
		c.Lookback = c.Period
	}
	if c.CatchUpSpan <= 0 {
		c.CatchUpSpan = DefaultCatchUpSpan
	}
	if c.CatchUpSpan < c.Period {
		c.CatchUpSpan = c.Period
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Extractor is the windowed pull loop. Start must be called once before Step.
// Step is not safe for concurrent use; State may be read from any goroutine.
type Extractor struct {
	cfg         Config
	searcher    store.Searcher
	checkpoints store.Checkpoints
	publisher   Publisher
	enricher    Enricher
	limiter     *rate.Limiter
	logger      *slog.Logger

	mu      sync.Mutex
	state   State
	next    time.Time
	started bool
}

// New returns an extractor reading from s, checkpointing to cps and publishing through pub.
func New(cfg Config, s store.Searcher, cps store.Checkpoints, pub Publisher, enr Enricher) *Extractor {
	cfg = cfg.withDefaults()
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.PagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.PagesPerSecond), 1)
	}
	return &Extractor{
		cfg:         cfg,
		searcher:    s,
		checkpoints: cps,
		publisher:   pub,
		enricher:    enr,
		limiter:     limiter,
		logger:      cfg.Logger,
	}
}

// State returns the current state.
func (e *Extractor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// NextStart returns where the next window begins.
func (e *Extractor) NextStart() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.next
}

func (e *Extractor) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Start loads the checkpoint and catches up to now-Lookback in windows of at
// most CatchUpSpan, checkpointing each one. Without a checkpoint the first
// window starts at now-Lookback. If a catch-up window fails, Start returns
// its error and Step resumes from that window.
func (e *Extractor) Start(ctx context.Context) error {
	e.setState(Resuming)
	defer e.setState(Idle)

	cp, ok, err := e.checkpoints.Load(ctx)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	horizon := e.cfg.Now().Add(-e.cfg.Lookback)
	e.mu.Lock()
	e.started = true
	if ok {
		e.next = cp.LastProcessedEnd
	} else {
		e.next = horizon
	}
	next := e.next
	e.mu.Unlock()
	if !ok {
		e.logger.Info("no checkpoint, starting fresh", "next_window_start", next)
		return nil
	}
	metrics.SetCheckpoint(cp.LastProcessedEnd)
	e.logger.Info("resuming from checkpoint", "last_processed_end", cp.LastProcessedEnd, "horizon", horizon)

	for next.Before(horizon) {
		end := next.Add(e.cfg.CatchUpSpan)
		if end.After(horizon) {
			end = horizon
		}
		w := types.Window{Start: next, End: end}
		e.logger.Info("catching up", "window", w.String())
		if err := e.process(ctx, w); err != nil {
			return fmt.Errorf("catch up %s: %w", w, err)
		}
		next = end
	}
	return nil
}

// Step processes the window starting at NextStart. It is Period wide unless
// the extractor is more than a period behind now-Lookback, in which case it
// widens up to CatchUpSpan. On failure the checkpoint and NextStart are left
// unchanged so the same window is retried.
func (e *Extractor) Step(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return errors.New("extractor not started")
	}
	next := e.next
	e.mu.Unlock()

	width := e.cfg.Period
	if behind := e.cfg.Now().Add(-e.cfg.Lookback).Sub(next); behind > width {
		width = min(behind, e.cfg.CatchUpSpan)
	}
	defer e.setState(Idle)
	return e.process(ctx, types.NewWindow(next, width))
}

// process queries w, publishes every page and checkpoints w.End.
func (e *Extractor) process(ctx context.Context, w types.Window) (err error) {
	began := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.WindowsProcessed.WithLabelValues(status).Inc()
		metrics.WindowDuration.Observe(time.Since(began).Seconds())
	}()

	e.setState(Querying)
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	cur, err := e.searcher.Search(ctx, w, e.cfg.PageSize)
	if err != nil {
		return fmt.Errorf("query %s: %w", w, err)
	}
	defer func() {
		if cerr := cur.Close(context.WithoutCancel(ctx)); cerr != nil {
			e.logger.Warn("close cursor", "window", w.String(), "error", cerr)
		}
	}()

	e.setState(Paginating)
	var pubErrs []error
	total, page := 0, 0
	err = store.Drain(ctx, cur, func(recs []types.Record) error {
		n, err := e.publishPage(ctx, w, recs)
		total += n
		if err != nil {
			pubErrs = append(pubErrs, fmt.Errorf("page %d: %w", page, err))
		}
		page++
		return e.limiter.Wait(ctx)
	})
	if err != nil {
		return fmt.Errorf("window %s page %d: %w", w, page, err)
	}
	if err := errors.Join(pubErrs...); err != nil {
		return fmt.Errorf("publish window %s: %w", w, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.setState(Checkpointing)
	if err := e.checkpoints.Save(ctx, types.Checkpoint{LastProcessedEnd: w.End}); err != nil {
		return fmt.Errorf("checkpoint %s: %w", w, err)
	}
	metrics.SetCheckpoint(w.End)
	e.mu.Lock()
	e.next = w.End
	e.mu.Unlock()
	e.logger.Debug("window done", "window", w.String(), "published", total)
	return nil
}

// publishPage enriches and publishes one page. The publish runs on a context
// detached from ctx and bounded by DrainTimeout, so a page already read is
// still delivered during shutdown.
func (e *Extractor) publishPage(ctx context.Context, w types.Window, page []types.Record) (int, error) {
	metrics.RecordsReceived.WithLabelValues(path).Add(float64(len(page)))
	res := e.enricher.Enrich(page)
	if len(res.Rejected) > 0 {
		metrics.RecordsRejected.WithLabelValues(path).Add(float64(len(res.Rejected)))
		for _, r := range res.Rejected {
			e.logger.Warn("dropping record", "window", w.String(), "index", r.Index, "id", r.Record.ID(), "error", r.Err)
		}
	}
	if len(res.Records) == 0 {
		return 0, nil
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.DrainTimeout)
	defer cancel()
	report, err := e.publisher.Publish(pubCtx, res.Records)
	e.logger.Info(fmt.Sprintf("Published %d logs", report.Published()), "window", w.String(), "chunks", len(report.Chunks), "dropped", len(report.Dropped))
	return report.Published(), err
}
