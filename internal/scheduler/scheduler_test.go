package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amois3/matrixwatcher/internal/scheduler"
	"github.com/amois3/matrixwatcher/internal/telemetry/metrics"
)

func TestNoOverlap(t *testing.T) {
	s := scheduler.New(metrics.NewNoopProvider())
	var running atomic.Int32
	var maxSeen atomic.Int32

	s.Register("slow", func(ctx context.Context) error {
		n := running.Add(1)
		for {
			old := maxSeen.Load()
			if n <= old || maxSeen.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(150 * time.Millisecond)
		running.Add(-1)
		return nil
	}, 100*time.Millisecond, scheduler.PriorityHigh)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(400 * time.Millisecond)
	cancel()
	s.Stop(time.Second)

	require.Equal(t, int32(1), maxSeen.Load())
}

func TestPauseResume(t *testing.T) {
	s := scheduler.New(metrics.NewNoopProvider())
	var count atomic.Int32
	s.Register("t", func(ctx context.Context) error {
		count.Add(1)
		return nil
	}, 50*time.Millisecond, scheduler.PriorityMedium)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	time.Sleep(120 * time.Millisecond)
	s.Pause("t")
	seenAfterPause := count.Load()
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, seenAfterPause, count.Load())

	s.Resume("t")
	time.Sleep(120 * time.Millisecond)
	require.Greater(t, count.Load(), seenAfterPause)
	s.Stop(time.Second)
}

func TestErrorsDoNotStopScheduler(t *testing.T) {
	s := scheduler.New(metrics.NewNoopProvider())
	var count atomic.Int32
	s.Register("failer", func(ctx context.Context) error {
		count.Add(1)
		return context.DeadlineExceeded
	}, 50*time.Millisecond, scheduler.PriorityLow)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(250 * time.Millisecond)
	cancel()
	s.Stop(time.Second)

	stats := s.Stats()["failer"]
	require.Greater(t, stats.ErrorCount, int64(0))
	require.Greater(t, stats.RunCount, int64(0))
}

func TestIntervalClampedAndDriftRecorded(t *testing.T) {
	s := scheduler.New(metrics.NewNoopProvider())
	s.Register("fast", func(ctx context.Context) error { return nil }, 1*time.Millisecond, scheduler.PriorityHigh)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(150 * time.Millisecond)
	cancel()
	s.Stop(time.Second)

	stats := s.Stats()["fast"]
	require.Greater(t, stats.RunCount, int64(0))
}
