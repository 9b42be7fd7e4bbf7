// Package scheduler drives all periodic work (C2, spec §4.2): priority
// ordered, non-overlapping task dispatch with drift accounting and a global
// concurrency cap. Grounded on the internal/pipeline worker-pool idiom
// (context-cancellable goroutines, sync.WaitGroup draining, atomic running
// flags) generalized from a fixed multi-stage pipeline to a named,
// registrable task table.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amois3/matrixwatcher/internal/telemetry/metrics"
)

// Priority orders dispatch within a tick: high before medium before low (§4.2).
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

const (
	minInterval = 100 * time.Millisecond
	maxInterval = 3600 * time.Second
	defaultConcurrency = 10
	defaultDispatchWait = time.Second
)

// TaskFunc is the user callback; ctx carries the task's deadline (§5).
type TaskFunc func(ctx context.Context) error

// TaskState mirrors the PENDING/RUNNING/PAUSED lifecycle (§4.2).
type TaskState int

const (
	StatePending TaskState = iota
	StateRunning
	StatePaused
)

// TaskStats is the per-task view returned by Stats() (§4.2).
type TaskStats struct {
	Name                string
	RunCount            int64
	ErrorCount          int64
	AvgDurationMs       float64
	LastDriftMs         float64
	NextRun             time.Time
	ConsecutiveFailures int64
	State               TaskState
}

type task struct {
	name     string
	fn       TaskFunc
	interval time.Duration
	priority Priority
	timeout  time.Duration
	order    int // registration order, for same-priority tie-break

	running atomic.Bool
	state   atomic.Int32

	mu            sync.Mutex
	nextRun       time.Time
	runCount      int64
	errorCount    int64
	totalDuration time.Duration
	lastDriftMs   float64
	consecutive   int64
}

func (t *task) snapshot() TaskStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	avg := 0.0
	if t.runCount > 0 {
		avg = float64(t.totalDuration.Milliseconds()) / float64(t.runCount)
	}
	return TaskStats{
		Name:                t.name,
		RunCount:            t.runCount,
		ErrorCount:          t.errorCount,
		AvgDurationMs:       avg,
		LastDriftMs:         t.lastDriftMs,
		NextRun:             t.nextRun,
		ConsecutiveFailures: t.consecutive,
		State:               TaskState(t.state.Load()),
	}
}

// Scheduler is the C2 contract.
type Scheduler struct {
	mu    sync.RWMutex
	tasks map[string]*task
	order int

	slots chan struct{}

	logger *slog.Logger

	provider  metrics.Provider
	mRuns     metrics.Counter
	mErrors   metrics.Counter
	mDrift    metrics.Histogram
	mSkipped  metrics.Counter

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  atomic.Bool
}

// Option configures a Scheduler at construction.
type Option func(*Scheduler)

// WithConcurrency overrides the default global concurrency cap of 10 (§4.2).
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.slots = make(chan struct{}, n)
		}
	}
}

// WithLogger sets the scheduler's structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New constructs a Scheduler. provider may be metrics.NewNoopProvider().
func New(provider metrics.Provider, opts ...Option) *Scheduler {
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	s := &Scheduler{
		tasks:  make(map[string]*task),
		slots:  make(chan struct{}, defaultConcurrency),
		logger: slog.Default(),
		stopCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.provider = provider
	s.mRuns = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "sentinel", Subsystem: "scheduler", Name: "task_runs_total", Help: "Total task invocations", Labels: []string{"task"}}})
	s.mErrors = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "sentinel", Subsystem: "scheduler", Name: "task_errors_total", Help: "Total task failures", Labels: []string{"task"}}})
	s.mDrift = provider.NewHistogram(metrics.HistogramOpts{CommonOpts: metrics.CommonOpts{Namespace: "sentinel", Subsystem: "scheduler", Name: "drift_ms", Help: "Dispatch drift in milliseconds", Labels: []string{"task"}}})
	s.mSkipped = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "sentinel", Subsystem: "scheduler", Name: "dispatch_skipped_total", Help: "Dispatches skipped (overlap or saturated concurrency)", Labels: []string{"task", "reason"}}})
	return s
}

func clampInterval(d time.Duration) time.Duration {
	if d < minInterval {
		return minInterval
	}
	if d > maxInterval {
		return maxInterval
	}
	return d
}

// Register adds a periodic task (§4.2). Interval is clamped to [0.1s, 3600s].
func (s *Scheduler) Register(name string, fn TaskFunc, interval time.Duration, priority Priority) {
	s.mu.Lock()
	defer s.mu.Unlock()
	interval = clampInterval(interval)
	s.order++
	t := &task{
		name:     name,
		fn:       fn,
		interval: interval,
		priority: priority,
		timeout:  interval * 2,
		order:    s.order,
	}
	t.nextRun = time.Now()
	s.tasks[name] = t
	t.state.Store(int32(StatePending))
}

// Unregister removes a task by name.
func (s *Scheduler) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, name)
}

// Pause suspends a task; Resume sets its next run to now (§4.2).
func (s *Scheduler) Pause(name string) bool {
	s.mu.RLock()
	t, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	t.state.Store(int32(StatePaused))
	return true
}

func (s *Scheduler) Resume(name string) bool {
	s.mu.RLock()
	t, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	t.mu.Lock()
	t.nextRun = time.Now()
	t.mu.Unlock()
	t.state.Store(int32(StatePending))
	return true
}

// Start begins the dispatch loop on its own goroutine, ticking every 50ms.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick dispatches every ready task in priority order, registration order
// within a priority (§4.2).
func (s *Scheduler) tick(ctx context.Context) {
	s.mu.RLock()
	ready := make([]*task, 0, len(s.tasks))
	now := time.Now()
	for _, t := range s.tasks {
		if TaskState(t.state.Load()) != StatePending {
			continue
		}
		t.mu.Lock()
		due := !now.Before(t.nextRun)
		t.mu.Unlock()
		if due {
			ready = append(ready, t)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].priority != ready[j].priority {
			return ready[i].priority < ready[j].priority
		}
		return ready[i].order < ready[j].order
	})

	for _, t := range ready {
		s.dispatch(ctx, t)
	}
}

// dispatch runs a task on its own goroutine honoring the no-overlap rule and
// the global concurrency cap (§4.2, §5).
func (s *Scheduler) dispatch(ctx context.Context, t *task) {
	if !t.running.CompareAndSwap(false, true) {
		return // already running: skipped, not queued (§4.2)
	}

	select {
	case s.slots <- struct{}{}:
	case <-time.After(defaultDispatchWait):
		t.running.Store(false)
		s.mSkipped.Inc(1, t.name, "concurrency_saturated")
		s.logger.Warn("dispatch skipped: concurrency cap saturated", "task", t.name)
		return
	}

	t.mu.Lock()
	scheduled := t.nextRun
	t.state.Store(int32(StateRunning))
	t.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.slots }()
		defer t.running.Store(false)

		start := time.Now()
		drift := start.Sub(scheduled).Seconds() * 1000
		taskCtx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()

		err := s.runOne(taskCtx, t)
		duration := time.Since(start)

		t.mu.Lock()
		t.runCount++
		t.totalDuration += duration
		t.lastDriftMs = drift
		t.nextRun = time.Now().Add(t.interval)
		if err != nil {
			t.errorCount++
			t.consecutive++
		} else {
			t.consecutive = 0
		}
		if TaskState(t.state.Load()) == StateRunning {
			t.state.Store(int32(StatePending))
		}
		t.mu.Unlock()

		s.mRuns.Inc(1, t.name)
		s.mDrift.Observe(drift, t.name)
		if err != nil {
			s.mErrors.Inc(1, t.name)
			s.logger.Warn("task failed", "task", t.name, "error", err)
		}
	}()
}

func (s *Scheduler) runOne(ctx context.Context, t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoveredError(r)
		}
	}()
	return t.fn(ctx)
}

// Stop is cooperative: signals the loop to stop, waits up to timeout for
// in-flight tasks, then returns (§5). Partially-run tasks at timeout still
// count as whatever their last recorded outcome was.
func (s *Scheduler) Stop(timeout time.Duration) {
	s.stopOnce.Do(func() { close(s.stopCh) })
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

// Stats returns a snapshot of every registered task's counters (§4.2).
func (s *Scheduler) Stats() map[string]TaskStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]TaskStats, len(s.tasks))
	for name, t := range s.tasks {
		out[name] = t.snapshot()
	}
	return out
}
