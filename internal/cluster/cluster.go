// Package cluster implements the cluster detector (C6, spec §4.6): it maps
// concurrent anomalies across distinct sensor sources into a 5-level
// taxonomy. Level 5 is reserved for 5+ distinct sources within the window;
// no precursor heuristic is permitted to upgrade a lower cluster, to avoid
// false positives before the heuristic has been validated (§4.6).
package cluster

import (
	"sync"

	"github.com/amois3/matrixwatcher/internal/model"
)

const (
	defaultClusterWindowSeconds = 30.0
	dequeCap                    = 1000
)

var clusterDescriptions = map[int]string{
	1: "Single deviation",
	2: "dual correlation",
	3: "triple cluster",
	4: "system-wide disturbance",
	5: "critical synchrony",
}

// qualitativeProbability returns the §4.6 rarity indicator for a level —
// not a calibrated statistical probability, just a qualitative sense of how
// rare a cluster of this size is.
func qualitativeProbability(level int) float64 {
	switch level {
	case 2:
		return 0.10
	case 3:
		return 0.05
	case 4:
		return 0.01
	default:
		return 0.001
	}
}

type entry struct {
	anomaly   model.AnomalyEvent
	timestamp float64
}

// Detector is the C6 cluster detector. It is driven from a single bus
// consumer and is not required to be safe for concurrent callers beyond the
// mutex already held internally for Stats() (§4.6 "not required to be safe
// for parallel callers").
type Detector struct {
	mu            sync.Mutex
	clusterWindow float64
	recent        []entry
}

// New constructs a Detector with the given cluster window in seconds
// (clamped to the §4.6 default of 30s when <= 0).
func New(clusterWindowSeconds float64) *Detector {
	if clusterWindowSeconds <= 0 {
		clusterWindowSeconds = defaultClusterWindowSeconds
	}
	return &Detector{clusterWindow: clusterWindowSeconds}
}

// AddAnomaly appends a new anomaly and returns the resulting Cluster.
func (d *Detector) AddAnomaly(anomaly model.AnomalyEvent) model.Cluster {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.recent = append(d.recent, entry{anomaly: anomaly, timestamp: anomaly.Timestamp})

	cutoff := anomaly.Timestamp - d.clusterWindow*2
	d.recent = trimOlderThan(d.recent, cutoff)
	if len(d.recent) > dequeCap {
		d.recent = d.recent[len(d.recent)-dequeCap:]
	}

	windowStart := anomaly.Timestamp - d.clusterWindow
	inWindow := make([]entry, 0, len(d.recent))
	for _, e := range d.recent {
		if e.timestamp > windowStart {
			inWindow = append(inWindow, e)
		}
	}

	sources := make(map[string]struct{})
	for _, e := range inWindow {
		sources[e.anomaly.SensorSource] = struct{}{}
	}
	level := len(sources)
	if level > 5 {
		level = 5
	}

	anomalies := make([]model.AnomalyRecord, 0, len(inWindow))
	for _, e := range inWindow {
		anomalies = append(anomalies, model.AnomalyRecord{Anomaly: e.anomaly, Timestamp: e.timestamp})
	}
	if level == 1 {
		anomalies = []model.AnomalyRecord{{Anomaly: anomaly, Timestamp: anomaly.Timestamp}}
	}

	probability := 1.0
	if level > 1 {
		probability = qualitativeProbability(level)
	}

	return model.Cluster{
		Level:       level,
		Anomalies:   anomalies,
		Timestamp:   anomaly.Timestamp,
		Probability: probability,
		Description: clusterDescriptions[level],
	}
}

func trimOlderThan(entries []entry, cutoff float64) []entry {
	kept := entries[:0:0]
	for _, e := range entries {
		if e.timestamp > cutoff {
			kept = append(kept, e)
		}
	}
	return kept
}

// Stats reports internal deque sizes and configuration.
type Stats struct {
	RecentAnomalies int
	ClusterWindow   float64
}

func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{RecentAnomalies: len(d.recent), ClusterWindow: d.clusterWindow}
}
