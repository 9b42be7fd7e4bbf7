// Package system implements a sample source collecting local host metrics
// (goroutine count, heap usage, process uptime, loop drift) via runtime/os
// only — no cgo or external agent — grounded on
// original_source/src/sensors/system_sensor.py's loop-timing/drift and
// process metrics, substituting Go's runtime memory stats for psutil's
// CPU/RAM percentages since the core does not shell out to a system agent.
package system

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/amois3/matrixwatcher/internal/sensor"
)

type Source struct {
	cfg              sensor.Config
	processStart     time.Time
	lastCollect      time.Time
	expectedInterval time.Duration
}

func New(cfg sensor.Config) *Source {
	return &Source{cfg: cfg, processStart: time.Now(), expectedInterval: cfg.Interval}
}

func (s *Source) Name() string          { return "system" }
func (s *Source) Config() sensor.Config { return s.cfg }

func (s *Source) Schema() map[string]sensor.FieldType {
	return map[string]sensor.FieldType{
		"loop_interval_ms":        sensor.FieldNumber,
		"loop_drift_ms":           sensor.FieldNumber,
		"heap_alloc_bytes":        sensor.FieldNumber,
		"goroutine_count":         sensor.FieldNumber,
		"process_pid":             sensor.FieldNumber,
		"process_uptime_seconds":  sensor.FieldNumber,
	}
}

func (s *Source) Collect(ctx context.Context) (sensor.Reading, error) {
	now := time.Now()

	var loopIntervalMs, driftMs float64
	if !s.lastCollect.IsZero() {
		actual := now.Sub(s.lastCollect)
		loopIntervalMs = float64(actual.Milliseconds())
		driftMs = float64((actual - s.expectedInterval).Milliseconds())
	}
	s.lastCollect = now

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return sensor.Reading{
		Timestamp: float64(now.UnixNano()) / 1e9,
		Source:    s.Name(),
		Data: map[string]any{
			"loop_interval_ms":       loopIntervalMs,
			"loop_drift_ms":          driftMs,
			"heap_alloc_bytes":       float64(mem.HeapAlloc),
			"goroutine_count":        float64(runtime.NumGoroutine()),
			"process_pid":            float64(os.Getpid()),
			"process_uptime_seconds": now.Sub(s.processStart).Seconds(),
		},
	}, nil
}
