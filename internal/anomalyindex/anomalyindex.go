// Package anomalyindex implements the anomaly-index aggregator (C7, spec
// §4.7): it rolls a list of recent anomalies into a 0-100 score against a
// rolling 24h baseline.
package anomalyindex

import (
	"sync"

	"github.com/amois3/matrixwatcher/internal/model"
)

const (
	defaultBaselineWindowHours = 24
	snapshotDequeCap           = 10000
	defaultBaseline            = 15.0
	baselineRefreshInterval     = 3600 // seconds, wall-clock
	baselineMinSnapshots        = 10
)

// knownSources is the fixed list of seven sensor names the index normalizes
// against. It includes "weather", which no sample source in this module
// emits, and does not include "system". Every source carries
// equal weight — the original calculator's comment is explicit that
// per-sensor weighting needs months of validated data it does not have yet.
var knownSources = []string{
	"quantum_rng", "earthquake", "crypto", "space_weather", "blockchain", "weather", "news",
}

var severityScore = map[string]float64{
	"low":      10,
	"medium":   30,
	"high":     50,
	"critical": 100,
}

// Calculator computes AnomalyIndexSnapshots (§4.7).
type Calculator struct {
	mu                  sync.Mutex
	baselineWindowSecs  float64
	history             []model.AnomalyIndexSnapshot
	baseline            float64
	lastBaselineUpdate  float64
}

// New constructs a Calculator with the §4.7 default 24h baseline window.
func New() *Calculator {
	return &Calculator{
		baselineWindowSecs: defaultBaselineWindowHours * 3600,
		baseline:           defaultBaseline,
	}
}

// Calculate produces a snapshot from the given recent anomalies, evaluated
// at wall-clock now (unix seconds).
func (c *Calculator) Calculate(now float64, recentAnomalies []model.AnomalyEvent) model.AnomalyIndexSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now-c.lastBaselineUpdate > baselineRefreshInterval {
		c.updateBaseline(now)
	}

	breakdown := computeBreakdown(recentAnomalies)

	var total float64
	for _, score := range breakdown {
		total += score
	}
	maxPossible := float64(len(knownSources)) * 100
	index := total / maxPossible * 100
	if index > 100 {
		index = 100
	}

	baselineRatio := 1.0
	if c.baseline > 0 {
		baselineRatio = index / c.baseline
	}

	status := determineStatus(index, baselineRatio)

	snapshot := model.AnomalyIndexSnapshot{
		Timestamp:       now,
		Index:           index,
		Breakdown:       breakdown,
		BaselineRatio:   baselineRatio,
		Status:          status,
		ActiveAnomalies: len(recentAnomalies),
	}

	c.history = append(c.history, snapshot)
	if len(c.history) > snapshotDequeCap {
		c.history = c.history[len(c.history)-snapshotDequeCap:]
	}
	return snapshot
}

func computeBreakdown(anomalies []model.AnomalyEvent) map[string]float64 {
	bySource := make(map[string]float64)
	for _, a := range anomalies {
		sev := resolveSeverity(a)
		bySource[a.SensorSource] += severityScore[sev]
	}
	for source, score := range bySource {
		if score > 100 {
			bySource[source] = 100
		}
	}
	return bySource
}

// resolveSeverity prefers metadata.severity, falling back to z-score bands
// (|z|>5 high, |z|>3 medium, else low) per §4.7.
func resolveSeverity(a model.AnomalyEvent) string {
	if a.Metadata.Severity != "" {
		if _, ok := severityScore[string(a.Metadata.Severity)]; ok {
			return string(a.Metadata.Severity)
		}
	}
	z := a.ZScore
	if z < 0 {
		z = -z
	}
	switch {
	case z > 5:
		return "high"
	case z > 3:
		return "medium"
	default:
		return "low"
	}
}

func (c *Calculator) updateBaseline(now float64) {
	cutoff := now - c.baselineWindowSecs
	var recent []model.AnomalyIndexSnapshot
	for _, s := range c.history {
		if s.Timestamp > cutoff {
			recent = append(recent, s)
		}
	}
	if len(recent) < baselineMinSnapshots {
		c.baseline = defaultBaseline
	} else {
		var sum float64
		for _, s := range recent {
			sum += s.Index
		}
		c.baseline = sum / float64(len(recent))
	}
	c.lastBaselineUpdate = now
}

func determineStatus(index, baselineRatio float64) string {
	switch {
	case index >= 80 || baselineRatio >= 3.0:
		return "critical"
	case index >= 60 || baselineRatio >= 2.0:
		return "high"
	case index >= 40 || baselineRatio >= 1.5:
		return "elevated"
	default:
		return "normal"
	}
}

// Stats reports calculator internals.
type Stats struct {
	HistorySize       int
	Baseline          float64
	LastBaselineUpdate float64
}

func (c *Calculator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{HistorySize: len(c.history), Baseline: c.baseline, LastBaselineUpdate: c.lastBaselineUpdate}
}
