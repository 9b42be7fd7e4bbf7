// Package calibration implements the calibration tracker and auto-calibrator
// (C5, spec §4.5): it persists every threshold check the detector makes,
// analyzes the resulting distributions, and periodically recommends (or
// auto-applies) revised threshold values.
package calibration

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/amois3/matrixwatcher/internal/detector"
	"github.com/amois3/matrixwatcher/internal/jsonutil"
)

// hitRecord is the on-disk shape of one threshold_hits.jsonl line.
type hitRecord struct {
	Timestamp      float64        `json:"timestamp"`
	ThresholdName  string         `json:"threshold_name"`
	Value          float64        `json:"value"`
	ThresholdValue float64        `json:"threshold_value"`
	Triggered      bool           `json:"triggered"`
	Metadata       map[string]any `json:"metadata"`
}

// valueRecord is the on-disk shape of one value_distributions.jsonl line.
type valueRecord struct {
	Timestamp     float64        `json:"timestamp"`
	ParameterName string         `json:"parameter_name"`
	Value         float64        `json:"value"`
	Metadata      map[string]any `json:"metadata"`
}

type trackerMetadata struct {
	StartTime float64 `json:"start_time"`
}

// Tracker persists threshold_hits and value_distributions as append-only
// JSONL streams, plus a tracker_metadata.json carrying the never-overwritten
// start time (§4.5).
type Tracker struct {
	mu         sync.Mutex
	dir        string
	hitsFile   *os.File
	valuesFile *os.File
	startTime  float64
	hitCount   int64
	valueCount int64
}

// NewTracker opens (creating if absent) the calibration log directory and
// its append-only streams.
func NewTracker(dir string) (*Tracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("calibration: create dir: %w", err)
	}
	hits, err := os.OpenFile(filepath.Join(dir, "threshold_hits.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("calibration: open threshold_hits: %w", err)
	}
	values, err := os.OpenFile(filepath.Join(dir, "value_distributions.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		hits.Close()
		return nil, fmt.Errorf("calibration: open value_distributions: %w", err)
	}

	t := &Tracker{dir: dir, hitsFile: hits, valuesFile: values}
	t.startTime = t.loadOrInitStartTime()
	return t, nil
}

func (t *Tracker) metadataPath() string {
	return filepath.Join(t.dir, "tracker_metadata.json")
}

func (t *Tracker) loadOrInitStartTime() float64 {
	if raw, err := os.ReadFile(t.metadataPath()); err == nil {
		var meta trackerMetadata
		if jsonutil.Unmarshal(raw, &meta) == nil && meta.StartTime > 0 {
			return meta.StartTime
		}
	}
	start := float64(time.Now().Unix())
	t.saveStartTime(start)
	return start
}

func (t *Tracker) saveStartTime(start float64) {
	raw, err := jsonutil.Marshal(trackerMetadata{StartTime: start})
	if err != nil {
		return
	}
	_ = os.WriteFile(t.metadataPath(), raw, 0o644)
}

// LogThresholdHit implements detector.CalibrationLogger: it appends every
// evaluation outcome, triggered or not, to threshold_hits.jsonl.
func (t *Tracker) LogThresholdHit(hit detector.ThresholdHit) {
	rec := hitRecord{
		Timestamp:      hit.Timestamp,
		ThresholdName:  hit.ThresholdName,
		Value:          hit.Value,
		ThresholdValue: hit.ThresholdValue,
		Triggered:      hit.Triggered,
		Metadata:       hit.Metadata,
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := writeJSONLine(t.hitsFile, rec); err == nil {
		t.hitCount++
	}
}

// LogValueSample implements detector.CalibrationLogger: it appends every
// numeric sample seen to value_distributions.jsonl.
func (t *Tracker) LogValueSample(timestamp float64, parameter string, value float64, metadata map[string]any) {
	rec := valueRecord{Timestamp: timestamp, ParameterName: parameter, Value: value, Metadata: metadata}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := writeJSONLine(t.valuesFile, rec); err == nil {
		t.valueCount++
	}
}

func writeJSONLine(f *os.File, v any) error {
	raw, err := jsonutil.Marshal(v)
	if err != nil {
		return err
	}
	_, err = f.Write(append(raw, '\n'))
	return err
}

// Stats mirrors the tracker's get_stats() report.
type Stats struct {
	DaysCollecting       float64
	ThresholdHitsLogged  int64
	ValuesLogged         int64
	ReadyForCalibration  bool
}

// Stats reports data-collection progress. 30 days is the §4.5 minDays default.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	days := (float64(time.Now().Unix()) - t.startTime) / 86400
	return Stats{
		DaysCollecting:      days,
		ThresholdHitsLogged: t.hitCount,
		ValuesLogged:        t.valueCount,
		ReadyForCalibration: days >= 30,
	}
}

// Close flushes and closes the underlying log files.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	err1 := t.hitsFile.Close()
	err2 := t.valuesFile.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// HitsPath and ValuesPath expose the log paths for the analyzer (which
// re-reads them from disk, mirroring the original tracker's on-demand
// analysis rather than keeping every hit resident in memory).
func (t *Tracker) HitsPath() string   { return filepath.Join(t.dir, "threshold_hits.jsonl") }
func (t *Tracker) ValuesPath() string { return filepath.Join(t.dir, "value_distributions.jsonl") }
