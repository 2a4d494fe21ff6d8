package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rawlogs/rawlogs/internal/metrics"
)

func TestDelay(t *testing.T) {
	tests := []struct {
		period, d, want time.Duration
	}{
		{10 * time.Second, 0, 10 * time.Second},
		{10 * time.Second, 3 * time.Second, 7 * time.Second},
		{10 * time.Second, 10 * time.Second, 0},
		{10 * time.Second, 25 * time.Second, 0},
	}
	for _, tt := range tests {
		if got := Delay(tt.period, tt.d); got != tt.want {
			t.Errorf("Delay(%v, %v) = %v, want %v", tt.period, tt.d, got, tt.want)
		}
	}
}

// fakeClock advances only when a tick reports its duration or the scheduler sleeps.
type fakeClock struct {
	now    time.Time
	slept  []time.Duration
	ticks  []time.Duration // duration of each tick, in order
	cancel context.CancelFunc
	limit  int
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	if len(c.slept) >= c.limit {
		c.cancel()
	}
	return ctx.Err()
}

func TestScheduler_SleepsRemainderOfPeriod(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := &fakeClock{
		now:    time.Unix(0, 0),
		ticks:  []time.Duration{2 * time.Second, 10 * time.Second, 14 * time.Second, 0},
		cancel: cancel,
		limit:  4,
	}
	var starts []time.Time
	s := &Scheduler{
		Period: 10 * time.Second,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    clock.Now,
		Sleep:  clock.Sleep,
	}
	n := 0
	err := s.Run(ctx, func(context.Context) error {
		starts = append(starts, clock.now)
		clock.now = clock.now.Add(clock.ticks[n])
		n++
		if n == 2 {
			return errors.New("query failed")
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v", err)
	}
	want := []time.Duration{8 * time.Second, 0, 0, 10 * time.Second}
	if diff := cmp.Diff(want, clock.slept); diff != "" {
		t.Errorf("sleeps (-want +got):\n%s", diff)
	}
	if len(starts) != 4 || !starts[0].Equal(time.Unix(0, 0)) {
		t.Errorf("first tick should run immediately, starts = %v", starts)
	}
}

func TestScheduler_PublishesLag(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := &fakeClock{now: time.Unix(0, 0), cancel: cancel, limit: 1}
	s := &Scheduler{
		Period: time.Second,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    clock.Now,
		Sleep:  clock.Sleep,
	}
	_ = s.Run(ctx, func(context.Context) error {
		clock.now = clock.now.Add(3 * time.Second)
		return nil
	})
	if got := promtest.ToFloat64(metrics.SchedulerLag); got != 2 {
		t.Errorf("lag gauge = %v, want 2", got)
	}
}

func TestScheduler_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := (&Scheduler{Period: time.Second}).Run(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Errorf("err = %v, called = %v", err, called)
	}
}

func TestSleepCtx(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepCtx(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
	if err := sleepCtx(context.Background(), time.Millisecond); err != nil {
		t.Errorf("err = %v", err)
	}
}
