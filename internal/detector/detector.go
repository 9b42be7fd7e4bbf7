// Package detector implements the threshold detector (C4, spec §4.4): it
// turns DATA bus events into ANOMALY bus events against a static, optionally
// calibration-overridden rule set, and reports every check — triggered or
// not — to a calibration tracker.
package detector

import (
	"log/slog"
	"sync"

	"github.com/amois3/matrixwatcher/internal/model"
)

// ruleSpec is model.ThresholdRule under a shorter local name.
type ruleSpec = model.ThresholdRule

// ThresholdHit is one evaluation outcome, destined for the calibration
// tracker's threshold_hits stream (§4.5).
type ThresholdHit struct {
	Timestamp      float64
	ThresholdName  string
	Value          float64
	ThresholdValue float64
	Triggered      bool
	Metadata       map[string]any
}

// CalibrationLogger is the minimal surface the detector needs from C5; the
// calibration package's Tracker satisfies it.
type CalibrationLogger interface {
	LogThresholdHit(hit ThresholdHit)
	LogValueSample(timestamp float64, parameter string, value float64, metadata map[string]any)
}

// noopCalibrationLogger discards everything; used when no tracker is wired.
type noopCalibrationLogger struct{}

func (noopCalibrationLogger) LogThresholdHit(ThresholdHit)                       {}
func (noopCalibrationLogger) LogValueSample(float64, string, float64, map[string]any) {}

// Publisher is the bus surface the detector publishes ANOMALY events to.
type Publisher interface {
	Publish(ev model.Event) int
}

// Detector evaluates DATA events against a rule set (§4.4). It is driven by
// a single bus subscriber and is not required to be safe for concurrent
// callers beyond that (mirrors the cluster detector's concurrency note,
// §4.6), though its internal state is still mutex-guarded since rule
// overrides can be applied from a config-reload goroutine.
type Detector struct {
	mu      sync.Mutex
	rules   []ruleSpec
	windows map[string]*slidingWindow

	bus        Publisher
	tracker    CalibrationLogger
	logger     *slog.Logger
	anomalyCnt int64
}

// New constructs a Detector with the given rule set (DefaultRules() for the
// static catalog). tracker and logger may be nil.
func New(rules []ruleSpec, bus Publisher, tracker CalibrationLogger, logger *slog.Logger) *Detector {
	if tracker == nil {
		tracker = noopCalibrationLogger{}
	}
	return &Detector{
		rules:   rules,
		windows: make(map[string]*slidingWindow),
		bus:     bus,
		tracker: tracker,
		logger:  logger,
	}
}

// ApplyCalibratedThresholds overrides rule predicate values in place, keyed
// by `{parameterPattern}.{suffix}`. The calibration tracker names thresholds
// after the concrete parameter key (`{source}.{field}.{suffix}`), so its
// names only match rules whose pattern has no wildcard. Unknown names are
// ignored. C4 reads this file on startup per §4.5.
func (d *Detector) ApplyCalibratedThresholds(values map[string]float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.rules {
		r := &d.rules[i]
		if v, ok := values[r.ParameterPattern+".max"]; ok {
			r.MaxAbsolute = &v
		}
		if v, ok := values[r.ParameterPattern+".min"]; ok {
			r.MinAbsolute = &v
		}
		if v, ok := values[r.ParameterPattern+".trigger_above"]; ok {
			r.TriggerAbove = &v
		}
		if v, ok := values[r.ParameterPattern+".change_pct"]; ok {
			r.MinChangePercent = &v
		}
	}
}

// AddRule appends a custom rule (§4.4 "rule authoring is static ... with
// optional override").
func (d *Detector) AddRule(r ruleSpec) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rules = append(d.rules, r)
}

// HandleEvent is the bus subscriber callback: flattens a DATA event's
// payload and evaluates every matching rule against each numeric field.
// Nested maps (e.g. the blockchain sensor's per-network "networks" field)
// are flattened to dotted keys so rule patterns can address one level per
// "*" segment, matching C8's own "{source}.{field}" convention (§4.4).
func (d *Detector) HandleEvent(ev model.Event) {
	if ev.Type != model.EventTypeData {
		return
	}
	flat := make(map[string]any, len(ev.Payload))
	flattenPayload("", ev.Payload, flat)
	for field, raw := range flat {
		func() {
			defer func() {
				if r := recover(); r != nil && d.logger != nil {
					d.logger.Warn("detector: field evaluation panicked", "field", field, "recover", r)
				}
			}()
			d.evaluateField(ev, field, raw)
		}()
	}
}

// flattenPayload walks data depth-first, joining map keys with "." and
// writing every leaf (non-map) value into out under its full dotted path.
func flattenPayload(prefix string, data map[string]any, out map[string]any) {
	for k, v := range data {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenPayload(key, nested, out)
			continue
		}
		out[key] = v
	}
}

func (d *Detector) evaluateField(ev model.Event, field string, raw any) {
	value, ok := toFloat(raw)
	if !ok {
		d.tracker.LogValueSample(ev.Timestamp, ev.Source+"."+field, 0, map[string]any{
			"source":      ev.Source,
			"non_numeric": true,
		})
		return
	}

	paramKey := ev.Source + "." + field
	d.tracker.LogValueSample(ev.Timestamp, paramKey, value, map[string]any{"source": ev.Source})

	d.mu.Lock()
	window, ok := d.windows[paramKey]
	if !ok {
		window = newSlidingWindow(1000)
		d.windows[paramKey] = window
	}
	window.add(ev.Timestamp, value)
	rules := d.rules
	d.mu.Unlock()

	for _, rule := range rules {
		if !matchGlob(rule.ParameterPattern, paramKey) {
			continue
		}
		eval, present := evaluateRule(rule, value, window, ev.Timestamp)
		if !present {
			continue
		}

		d.tracker.LogThresholdHit(ThresholdHit{
			Timestamp:      ev.Timestamp,
			ThresholdName:  paramKey + "." + string(eval.kind),
			Value:          eval.observed,
			ThresholdValue: eval.thresholdValue,
			Triggered:      eval.triggered,
			Metadata:       map[string]any{"rule": rule.Description, "source": ev.Source},
		})

		if !eval.triggered {
			continue
		}

		d.publishAnomaly(ev, paramKey, value, eval, rule)
		return // at most one anomaly per parameter per event (§4.4 step 4)
	}
}

func (d *Detector) publishAnomaly(ev model.Event, paramKey string, value float64, eval evaluation, rule ruleSpec) {
	severity := severityForRatio(excessRatio(eval))

	d.mu.Lock()
	d.anomalyCnt++
	d.mu.Unlock()

	anomaly := model.AnomalyEvent{
		Timestamp:    ev.Timestamp,
		Parameter:    paramKey,
		Value:        value,
		Mean:         0,
		Std:          1,
		ZScore:       zScoreBySeverity[severity],
		SensorSource: ev.Source,
		Metadata: model.AnomalyMetadata{
			Reason:   rule.Description,
			Severity: model.AnomalySeverity(severity),
			Extra: map[string]any{
				"detection_method": "threshold",
				"threshold_kind":   string(eval.kind),
			},
		},
	}

	if d.logger != nil {
		d.logger.Info("anomaly detected", "parameter", paramKey, "severity", severity, "rule", rule.Description)
	}

	if d.bus == nil {
		return
	}
	d.bus.Publish(model.Event{
		Timestamp: ev.Timestamp,
		Source:    ev.Source,
		Type:      model.EventTypeAnomaly,
		Severity:  severityToEventSeverity(severity),
		Payload: map[string]any{
			"parameter": paramKey,
			"value":     value,
			"severity":  severity,
		},
		Metadata: map[string]any{"anomaly": anomaly},
	})
}

func severityToEventSeverity(s string) model.Severity {
	switch s {
	case "critical", "high":
		return model.SeverityCritical
	case "medium":
		return model.SeverityWarning
	default:
		return model.SeverityInfo
	}
}

// AnomalyCount returns the total number of anomalies published since
// construction.
func (d *Detector) AnomalyCount() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.anomalyCnt
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}
