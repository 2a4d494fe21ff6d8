// Package schedule paces the pull loop at a fixed period, subtracting the
// time each tick took.
package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/rawlogs/rawlogs/internal/metrics"
)

// Delay is how long to sleep after a tick of duration d so ticks start every
// period. It is never negative.
func Delay(period, d time.Duration) time.Duration {
	if d >= period {
		return 0
	}
	return period - d
}

// Scheduler runs a tick function back to back, sleeping Delay between runs.
type Scheduler struct {
	Period time.Duration
	Logger *slog.Logger
	// Now and Sleep default to the wall clock; tests replace them.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Run calls tick immediately and then once per period until ctx is done.
// Tick errors are logged and do not stop the loop. Run returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context, tick func(context.Context) error) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := s.Now
	if now == nil {
		now = time.Now
	}
	sleep := s.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		began := now()
		err := tick(ctx)
		d := now().Sub(began)
		if err != nil && ctx.Err() == nil {
			logger.Error("tick failed", "duration", d, "error", err)
		}
		lag := d - s.Period
		if lag > 0 {
			logger.Warn("tick overran period", "period", s.Period, "duration", d, "lag", lag)
			metrics.SchedulerLag.Set(lag.Seconds())
		} else {
			metrics.SchedulerLag.Set(0)
		}
		if err := sleep(ctx, Delay(s.Period, d)); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
