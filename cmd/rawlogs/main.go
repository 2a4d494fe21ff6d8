package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/rawlogs/rawlogs/internal/config"
	"github.com/rawlogs/rawlogs/internal/enrich"
	"github.com/rawlogs/rawlogs/internal/extract"
	"github.com/rawlogs/rawlogs/internal/metrics"
	"github.com/rawlogs/rawlogs/internal/opensearch"
	"github.com/rawlogs/rawlogs/internal/publish"
	"github.com/rawlogs/rawlogs/internal/receiver"
	"github.com/rawlogs/rawlogs/internal/schedule"
)

const shutdownTimeout = 15 * time.Second

// Run modes.
const (
	modeAll     = "all"
	modeFetch   = "fetch"
	modeReceive = "receive"
)

type options struct {
	configPath string
	mode       string
	logLevel   string
}

func main() {
	var opts options
	pflag.StringVarP(&opts.configPath, "config", "c", "", "Path to config YAML (defaults and environment only when empty)")
	pflag.StringVar(&opts.mode, "mode", modeAll, "What to run: all, fetch (pull from the store) or receive (HTTP ingest)")
	pflag.StringVar(&opts.logLevel, "log-level", "", "Override log_level: debug, info, warn, error")
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "rawlogs: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	switch opts.mode {
	case modeAll, modeFetch, modeReceive:
	default:
		return fmt.Errorf("unknown mode %q", opts.mode)
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	tr, err := openTransport(cfg, logger)
	if err != nil {
		return err
	}
	defer tr.close(logger)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		serve(gctx, g, metrics.NewServer(cfg.MetricsAddr), "metrics", logger, nil)
	}

	if opts.mode == modeAll || opts.mode == modeFetch {
		backend, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer backend.close(logger)
		pub := publish.New(tr.Transport,
			publish.WithSubject(cfg.Transport.Subject),
			publish.WithLogger(logger.With("path", "pull")),
			publish.WithPath("pull"))
		ext := extract.New(extract.Config{
			Period:         cfg.Extract.Period,
			Lookback:       cfg.Extract.Lookback,
			CatchUpSpan:    cfg.Extract.CatchUpSpan,
			PageSize:       cfg.Extract.PageSize,
			PagesPerSecond: cfg.Extract.PagesPerSecond,
			DrainTimeout:   cfg.Extract.DrainTimeout,
			Logger:         logger.With("component", "extract"),
		}, backend.searcher, backend.checkpoints, pub, &enrich.Enricher{KeepStoreID: true})
		g.Go(func() error {
			return runPull(gctx, cfg, backend, ext, logger)
		})
	}

	if opts.mode == modeAll || opts.mode == modeReceive {
		pub := publish.New(tr.Transport,
			publish.WithSubject(cfg.Transport.Subject),
			publish.WithLogger(logger.With("path", "push")),
			publish.WithPath("push"))
		rcv := receiver.New(receiver.Config{
			MaxBodyBytes:   cfg.Receiver.MaxBodyBytes,
			PublishTimeout: cfg.Receiver.PublishTimeout,
			Logger:         logger.With("component", "receiver"),
		}, pub, &enrich.Enricher{})
		srv := &http.Server{
			Addr:              cfg.Receiver.Addr,
			Handler:           rcv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		serve(gctx, g, srv, "ingest", logger, rcv.Wait)
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("shut down")
	return err
}

// runPull waits for the source index, then drives the extractor from the
// scheduler. The first tick loads the checkpoint and catches up; later ticks
// process one window each.
func runPull(ctx context.Context, cfg *config.Config, backend *storeBackend, ext *extract.Extractor, logger *slog.Logger) error {
	if backend.client != nil && cfg.Store.Backend == config.BackendOpenSearch && cfg.OpenSearch.WaitForIndex {
		if err := opensearch.WaitForIndex(ctx, backend.client, cfg.OpenSearch.Index, cfg.OpenSearch.WaitInterval, logger); err != nil {
			return err
		}
	}
	sched := &schedule.Scheduler{Period: cfg.Extract.Period, Logger: logger.With("component", "schedule")}
	return sched.Run(ctx, func(ctx context.Context) error {
		if ext.NextStart().IsZero() {
			return ext.Start(ctx)
		}
		return ext.Step(ctx)
	})
}

// serve runs srv until ctx is done, then shuts it down. drain, if set, runs
// after shutdown with the same deadline.
func serve(ctx context.Context, g *errgroup.Group, srv *http.Server, name string, logger *slog.Logger, drain func(context.Context) error) {
	g.Go(func() error {
		logger.Info("listening", "server", name, "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn("server shutdown", "server", name, "error", err)
		}
		if drain != nil {
			if err := drain(sctx); err != nil {
				logger.Warn("in-flight publishes did not finish", "server", name, "error", err)
			}
		}
		return nil
	})
}
