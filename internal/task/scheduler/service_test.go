package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "remindbot/pkg/logx"
)

func TestEveryFiresAndSkipsOverlap(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	var (
		running atomic.Int32
		overlap atomic.Bool
		runs    atomic.Int32
	)
	if err := s.Every("poll", time.Second, func(ctx context.Context) {
		if running.Add(1) > 1 {
			overlap.Store(true)
		}
		defer running.Add(-1)
		runs.Add(1)
		// Longer than the interval: the next activation must be skipped.
		select {
		case <-ctx.Done():
		case <-time.After(1500 * time.Millisecond):
		}
	}); err != nil {
		t.Fatalf("Every: %v", err)
	}
	s.Start()
	time.Sleep(3500 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Stop(ctx)

	if runs.Load() == 0 {
		t.Fatal("trigger never fired")
	}
	if overlap.Load() {
		t.Fatal("runs overlapped")
	}
}

func TestEveryReplacesAndRemoves(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	noop := func(context.Context) {}
	if err := s.Every("housekeeping", time.Minute, noop); err != nil {
		t.Fatalf("Every: %v", err)
	}
	if err := s.Every("housekeeping", 2*time.Minute, noop); err != nil {
		t.Fatalf("Every replace: %v", err)
	}
	if got := s.Interval("housekeeping"); got != 2*time.Minute {
		t.Fatalf("Interval = %v, want 2m", got)
	}
	if names := s.Names(); len(names) != 1 {
		t.Fatalf("Names = %v, want one entry", names)
	}
	if !s.Remove("housekeeping") || s.Remove("housekeeping") {
		t.Fatal("Remove should succeed exactly once")
	}
	if err := s.Every("", time.Second, noop); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := s.Every("x", 0, noop); err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestIntervalScheduleSpread(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	sched, jitter := intervalSchedule(10*time.Second, now, 30*time.Second, "poll")
	if jitter < 0 || jitter >= 10*time.Second {
		t.Fatalf("jitter %v out of range", jitter)
	}
	first := sched.Next(now)
	if want := now.Add(10*time.Second + jitter); !first.Equal(want) {
		t.Fatalf("first = %v, want %v", first, want)
	}

	plain, j := intervalSchedule(10*time.Second, now, 0, "poll")
	if j != 0 {
		t.Fatalf("jitter = %v, want 0", j)
	}
	if got := plain.Next(now); !got.Equal(now.Add(10 * time.Second)) {
		t.Fatalf("Next = %v", got)
	}
}
