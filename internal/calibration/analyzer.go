package calibration

import (
	"bufio"
	"os"
	"sort"

	"github.com/amois3/matrixwatcher/internal/jsonutil"
)

// Analysis is the §4.5 analyzer's report for one threshold name.
type Analysis struct {
	ThresholdName    string
	TotalChecks      int
	TriggeredCount   int
	TriggerRate      float64
	Min, Max         float64
	P50, P90, P95, P99 float64
	CurrentThreshold float64
}

// AnalyzeThreshold scans the hits file for every record with the given
// threshold name and computes trigger-rate and value percentiles.
func (t *Tracker) AnalyzeThreshold(thresholdName string) (Analysis, bool) {
	t.mu.Lock()
	path := t.HitsPath()
	t.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return Analysis{}, false
	}
	defer f.Close()

	var values []float64
	var triggeredCount int
	var currentThreshold float64
	total := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec hitRecord
		if jsonutil.Unmarshal(scanner.Bytes(), &rec) != nil {
			continue
		}
		if rec.ThresholdName != thresholdName {
			continue
		}
		total++
		values = append(values, rec.Value)
		if rec.Triggered {
			triggeredCount++
		}
		if total == 1 {
			currentThreshold = rec.ThresholdValue
		}
	}
	if total == 0 {
		return Analysis{}, false
	}

	sort.Float64s(values)
	return Analysis{
		ThresholdName:    thresholdName,
		TotalChecks:      total,
		TriggeredCount:   triggeredCount,
		TriggerRate:      float64(triggeredCount) / float64(total),
		Min:              values[0],
		Max:              values[len(values)-1],
		P50:              percentile(values, 0.50),
		P90:              percentile(values, 0.90),
		P95:              percentile(values, 0.95),
		P99:              percentile(values, 0.99),
		CurrentThreshold: currentThreshold,
	}, true
}

// percentile uses linear interpolation between closest ranks, matching the
// original tracker's percentile() helper.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	k := float64(len(sorted)-1) * p
	lo := int(k)
	frac := k - float64(lo)
	if lo+1 < len(sorted) {
		return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
	}
	return sorted[lo]
}

// KnownThresholdNames scans the hits file once and returns every distinct
// threshold name observed, used by the auto-calibrator to build its
// candidate list.
func (t *Tracker) KnownThresholdNames() []string {
	t.mu.Lock()
	path := t.HitsPath()
	t.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec hitRecord
		if jsonutil.Unmarshal(scanner.Bytes(), &rec) != nil {
			continue
		}
		seen[rec.ThresholdName] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
