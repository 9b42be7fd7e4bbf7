package sensor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/amois3/matrixwatcher/internal/model"
)

// HealthState is the per-source view the health endpoint reports (§6, §7
// "Sensor auto-disable policy").
type HealthState struct {
	Disabled            bool
	DisabledReason      string
	ConsecutiveFailures int
	TotalSuccesses      int64
	TotalFailures       int64
	LastSuccess         time.Time
	LastError           string
}

const defaultFailureThreshold = 3

// Publisher is the minimal bus surface SafeCollect needs — satisfied by
// *bus.Bus without this package importing bus (bus already imports model,
// and sensor is a leaf package sensors/* implementations depend on).
type Publisher interface {
	Publish(ev model.Event) int
}

// Health is the minimal health-monitor surface SafeCollect reports into.
type Health interface {
	RecordSuccess(source string)
	RecordFailure(source string, err error)
	State(source string) HealthState
}

// SafeCollect wraps a Source with retry (delay RetryDelay × attempt), an ERROR event
// and unhealthy marking on final failure, and a DATA publish on success
// (§4.3). It honors ctx cancellation between retries (§5 "every external-I/O
// call ... is a suspension point").
func SafeCollect(ctx context.Context, src Source, bus Publisher, health Health, logger *slog.Logger) error {
	cfg := src.Config()
	if !cfg.Enabled {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		collectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		reading, err := src.Collect(collectCtx)
		cancel()

		if err == nil {
			health.RecordSuccess(src.Name())
			bus.Publish(model.Event{
				Timestamp: reading.Timestamp,
				Source:    reading.Source,
				Type:      model.EventTypeData,
				Severity:  model.SeverityInfo,
				Payload:   reading.Data,
				Metadata:  reading.Metadata,
			})
			return nil
		}

		var rl *RateLimitedError
		if errors.As(err, &rl) {
			// Rate-limited: not a failure, no retry, no DATA publish (§7).
			return nil
		}

		lastErr = err

		var perm *PermanentError
		if errors.As(err, &perm) {
			break
		}

		if attempt < cfg.MaxRetries {
			delay := cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	health.RecordFailure(src.Name(), lastErr)
	if logger != nil {
		logger.Warn("sensor collection failed", "source", src.Name(), "error", lastErr)
	}
	bus.Publish(model.Event{
		Timestamp: model.Now(),
		Source:    src.Name(),
		Type:      model.EventTypeError,
		Severity:  model.SeverityWarning,
		Payload:   map[string]any{"error": lastErr.Error()},
	})
	return lastErr
}

// Monitor is the default Health implementation: per-source consecutive
// failure counting with an auto-disable policy (§7). Re-enable is a manual
// operator action via Enable.
type Monitor struct {
	mu               sync.Mutex
	states           map[string]*HealthState
	failureThreshold int
	onDisable        func(source, reason string)
}

// NewMonitor constructs a Monitor; failureThreshold<=0 uses the spec default
// of 3 (§7).
func NewMonitor(failureThreshold int, onDisable func(source, reason string)) *Monitor {
	if failureThreshold <= 0 {
		failureThreshold = defaultFailureThreshold
	}
	return &Monitor{
		states:           make(map[string]*HealthState),
		failureThreshold: failureThreshold,
		onDisable:        onDisable,
	}
}

func (m *Monitor) get(source string) *HealthState {
	s, ok := m.states[source]
	if !ok {
		s = &HealthState{}
		m.states[source] = s
	}
	return s
}

func (m *Monitor) RecordSuccess(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(source)
	s.ConsecutiveFailures = 0
	s.TotalSuccesses++
	s.LastSuccess = time.Now()
	s.LastError = ""
}

func (m *Monitor) RecordFailure(source string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(source)
	s.ConsecutiveFailures++
	s.TotalFailures++
	if err != nil {
		s.LastError = err.Error()
	}
	if s.ConsecutiveFailures >= m.failureThreshold && !s.Disabled {
		s.Disabled = true
		s.DisabledReason = "consecutive failure threshold reached"
		if m.onDisable != nil {
			m.onDisable(source, s.DisabledReason)
		}
	}
}

// Enable clears a source's disabled flag (manual operator action, §7).
func (m *Monitor) Enable(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(source)
	s.Disabled = false
	s.DisabledReason = ""
	s.ConsecutiveFailures = 0
}

func (m *Monitor) State(source string) HealthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.get(source)
}

// Restore seeds the monitor's per-source state from a previously persisted
// snapshot (e.g. the health package's badger-backed store), so a restart
// does not re-derive consecutive-failure counts from scratch.
func (m *Monitor) Restore(states map[string]HealthState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for source, state := range states {
		s := state
		m.states[source] = &s
	}
}

// Snapshot returns every known source's health state.
func (m *Monitor) Snapshot() map[string]HealthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]HealthState, len(m.states))
	for k, v := range m.states {
		out[k] = *v
	}
	return out
}
