package calibration

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/amois3/matrixwatcher/internal/jsonutil"
)

const (
	defaultMinDays         = 30
	defaultMinObservations = 1000
	defaultTargetRate      = 0.02
)

// priorityThresholds are analyzed first when a calibration run happens,
// mirroring the original auto-calibrator's hand-picked critical list.
var priorityThresholds = []string{
	"quantum_rng.randomness_score.min",
	"earthquake.max_magnitude.trigger_above",
	"crypto.btcusdt.price.change_pct",
	"crypto.ethusdt.price.change_pct",
}

// Recommendation is one threshold's calibration suggestion.
type Recommendation struct {
	ThresholdName      string
	CurrentValue       float64
	RecommendedValue   float64
	ChangePercent      float64
	Confidence         string
	Reason             string
	TotalChecks        int
	CurrentTriggerRate float64
}

// Result is the outcome of one CheckAndCalibrate call.
type Result struct {
	Status             string
	Message            string
	ThresholdsAnalyzed int
	Recommendations    []Recommendation
	AutoApplied        []string
	DaysCollecting     float64
}

type calibratedEntry struct {
	Value         float64 `json:"value"`
	AppliedAt     float64 `json:"applied_at"`
	PreviousValue float64 `json:"previous_value"`
	Confidence    string  `json:"confidence"`
}

type historyEntry struct {
	Timestamp  float64 `json:"timestamp"`
	DaysOfData float64 `json:"days_of_data"`
	Result     Result  `json:"results"`
}

// Calibrator is the §4.5 auto-calibrator: invoked at most once per 24h
// wall-clock, additionally gated on minDays since the last calibration.
type Calibrator struct {
	tracker         *Tracker
	dir             string
	minDays         int
	minObservations int
	targetRate      float64
	autoApply       bool

	lastCheck time.Time
	history   []historyEntry
}

// Option configures a Calibrator.
type Option func(*Calibrator)

func WithMinDays(d int) Option             { return func(c *Calibrator) { c.minDays = d } }
func WithMinObservations(n int) Option     { return func(c *Calibrator) { c.minObservations = n } }
func WithTargetTriggerRate(r float64) Option { return func(c *Calibrator) { c.targetRate = r } }
func WithAutoApply(on bool) Option         { return func(c *Calibrator) { c.autoApply = on } }

// NewCalibrator constructs a Calibrator against tracker's log directory and
// loads any existing calibration_history.json.
func NewCalibrator(tracker *Tracker, dir string, opts ...Option) *Calibrator {
	c := &Calibrator{
		tracker:         tracker,
		dir:             dir,
		minDays:         defaultMinDays,
		minObservations: defaultMinObservations,
		targetRate:      defaultTargetRate,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.loadHistory()
	return c
}

func (c *Calibrator) historyPath() string { return filepath.Join(c.dir, "calibration_history.json") }

func (c *Calibrator) loadHistory() {
	raw, err := os.ReadFile(c.historyPath())
	if err != nil {
		return
	}
	var hist []historyEntry
	if jsonutil.Unmarshal(raw, &hist) == nil {
		c.history = hist
	}
}

func (c *Calibrator) saveHistory() {
	raw, err := jsonutil.Marshal(c.history)
	if err != nil {
		return
	}
	_ = os.WriteFile(c.historyPath(), raw, 0o644)
}

// CheckAndCalibrate runs the §4.5 gating logic (once per day, ≥minDays since
// the last run) and, if ready, analyzes every known threshold and writes a
// report.
func (c *Calibrator) CheckAndCalibrate(now time.Time) Result {
	if !c.lastCheck.IsZero() && now.Sub(c.lastCheck) < 24*time.Hour {
		return Result{Status: "skipped", Message: "checked recently"}
	}
	c.lastCheck = now

	if len(c.history) > 0 {
		last := c.history[len(c.history)-1]
		daysSince := (float64(now.Unix()) - last.Timestamp) / 86400
		if daysSince < float64(c.minDays) {
			return Result{
				Status:  "waiting",
				Message: fmt.Sprintf("next calibration in %.1f days", float64(c.minDays)-daysSince),
			}
		}
	}

	stats := c.tracker.Stats()
	if !stats.ReadyForCalibration {
		return Result{
			Status:         "not_ready",
			Message:        fmt.Sprintf("need %.1f more days of data", float64(c.minDays)-stats.DaysCollecting),
			DaysCollecting: stats.DaysCollecting,
		}
	}

	result := c.performCalibration(now)
	c.history = append(c.history, historyEntry{
		Timestamp:  float64(now.Unix()),
		DaysOfData: stats.DaysCollecting,
		Result:     result,
	})
	c.saveHistory()
	return result
}

func (c *Calibrator) performCalibration(now time.Time) Result {
	names := c.thresholdsToCalibrate()
	result := Result{Status: "completed", ThresholdsAnalyzed: len(names)}

	for _, name := range names {
		rec, ok := c.calibrateThreshold(name)
		if !ok {
			continue
		}
		result.Recommendations = append(result.Recommendations, rec)
		if c.autoApply && rec.Confidence == "high" {
			c.applyCalibration(now, rec)
			result.AutoApplied = append(result.AutoApplied, name)
		}
	}

	c.saveReport(now, result)
	return result
}

func (c *Calibrator) thresholdsToCalibrate() []string {
	known := c.tracker.KnownThresholdNames()
	knownSet := make(map[string]struct{}, len(known))
	for _, n := range known {
		knownSet[n] = struct{}{}
	}

	var ordered []string
	seen := make(map[string]struct{})
	for _, p := range priorityThresholds {
		if _, ok := knownSet[p]; ok {
			ordered = append(ordered, p)
			seen[p] = struct{}{}
		}
	}
	for _, n := range known {
		if _, ok := seen[n]; !ok {
			ordered = append(ordered, n)
		}
	}
	return ordered
}

func (c *Calibrator) calibrateThreshold(name string) (Recommendation, bool) {
	analysis, ok := c.tracker.AnalyzeThreshold(name)
	if !ok || analysis.TotalChecks < c.minObservations {
		return Recommendation{}, false
	}

	newValue, reason, ok := c.optimalThreshold(name, analysis)
	if !ok {
		return Recommendation{}, false
	}

	changePercent := 0.0
	if analysis.CurrentThreshold != 0 {
		changePercent = (newValue - analysis.CurrentThreshold) / analysis.CurrentThreshold * 100
	}

	return Recommendation{
		ThresholdName:      name,
		CurrentValue:       analysis.CurrentThreshold,
		RecommendedValue:   newValue,
		ChangePercent:       changePercent,
		Confidence:         c.confidence(analysis),
		Reason:             reason,
		TotalChecks:        analysis.TotalChecks,
		CurrentTriggerRate: analysis.TriggerRate,
	}, true
}

// optimalThreshold implements the §4.5 suffix-dispatch table.
func (c *Calibrator) optimalThreshold(name string, a Analysis) (float64, string, bool) {
	rate := a.TriggerRate
	target := c.targetRate

	switch {
	case strings.HasSuffix(name, ".min"):
		return boundedRaiseLower(rate, target, a, true)
	case strings.HasSuffix(name, ".max"):
		return boundedRaiseLower(rate, target, a, false)
	case strings.HasSuffix(name, ".trigger_above"):
		if rate > target*2 {
			return a.P95, fmt.Sprintf("trigger rate too high (%.1f%%), using P95", rate*100), true
		}
		if rate < target*0.5 {
			return a.P90, fmt.Sprintf("trigger rate too low (%.1f%%), using P90", rate*100), true
		}
		return 0, "", false
	case strings.HasSuffix(name, ".change_pct"):
		if rate > target*2 {
			return a.P95, fmt.Sprintf("trigger rate too high (%.1f%%), using P95", rate*100), true
		}
		if rate < target*0.5 {
			return a.P90, fmt.Sprintf("trigger rate too low (%.1f%%), using P90", rate*100), true
		}
		return 0, "", false
	default:
		return a.P95, "using P95 as safe default", true
	}
}

// boundedRaiseLower implements the shared `.min`/`.max` branch: a too-high
// trigger rate moves the threshold to P95 (P90 when above 5× target), and a
// too-low rate moves it to P99. The choice is the same for both suffixes;
// isMin is not consulted.
func boundedRaiseLower(rate, target float64, a Analysis, isMin bool) (float64, string, bool) {
	_ = isMin // P95/P90/P99 choice is symmetric; direction is implied by the field the caller assigns.
	if rate > target*2 {
		if rate > target*5 {
			return a.P90, fmt.Sprintf("trigger rate too high (%.1f%%), using P90", rate*100), true
		}
		return a.P95, fmt.Sprintf("trigger rate high (%.1f%%), using P95", rate*100), true
	}
	if rate < target*0.5 {
		return a.P99, fmt.Sprintf("trigger rate too low (%.1f%%), using P99", rate*100), true
	}
	return 0, "", false
}

func (c *Calibrator) confidence(a Analysis) string {
	if a.TotalChecks >= 5000 && (a.TriggerRate > 0.05 || a.TriggerRate < 0.005) {
		return "high"
	}
	if a.TotalChecks >= 2000 {
		return "medium"
	}
	return "low"
}

func (c *Calibrator) calibratedPath() string {
	return filepath.Join(c.dir, "calibrated_thresholds.json")
}

func (c *Calibrator) applyCalibration(now time.Time, rec Recommendation) {
	calibrated := make(map[string]calibratedEntry)
	if raw, err := os.ReadFile(c.calibratedPath()); err == nil {
		_ = jsonutil.Unmarshal(raw, &calibrated)
	}
	calibrated[rec.ThresholdName] = calibratedEntry{
		Value:         rec.RecommendedValue,
		AppliedAt:     float64(now.Unix()),
		PreviousValue: rec.CurrentValue,
		Confidence:    rec.Confidence,
	}
	if raw, err := jsonutil.Marshal(calibrated); err == nil {
		_ = os.WriteFile(c.calibratedPath(), raw, 0o644)
	}
}

func (c *Calibrator) saveReport(now time.Time, result Result) {
	path := filepath.Join(c.dir, fmt.Sprintf("calibration_report_%d.json", now.Unix()))
	if raw, err := jsonutil.Marshal(result); err == nil {
		_ = os.WriteFile(path, raw, 0o644)
	}
}

// LoadCalibratedThresholds reads calibrated_thresholds.json (if present) into
// a flat name->value map for C4 to apply at startup (§4.5).
func LoadCalibratedThresholds(dir string) map[string]float64 {
	raw, err := os.ReadFile(filepath.Join(dir, "calibrated_thresholds.json"))
	if err != nil {
		return nil
	}
	var calibrated map[string]calibratedEntry
	if jsonutil.Unmarshal(raw, &calibrated) != nil {
		return nil
	}
	out := make(map[string]float64, len(calibrated))
	for k, v := range calibrated {
		out[k] = v.Value
	}
	return out
}

// Status mirrors get_calibration_status().
type Status struct {
	ReadyForCalibration bool
	DaysCollecting      float64
	DaysNeeded          int
	AutoApplyEnabled    bool
	TotalCalibrations   int
}

// LastCalibrationTime returns the timestamp of the most recent calibration
// run recorded in history, if any.
func (c *Calibrator) LastCalibrationTime() (time.Time, bool) {
	if len(c.history) == 0 {
		return time.Time{}, false
	}
	last := c.history[len(c.history)-1]
	return time.Unix(0, int64(last.Timestamp*float64(time.Second))), true
}

func (c *Calibrator) Status() Status {
	stats := c.tracker.Stats()
	return Status{
		ReadyForCalibration: stats.ReadyForCalibration,
		DaysCollecting:      stats.DaysCollecting,
		DaysNeeded:          c.minDays,
		AutoApplyEnabled:    c.autoApply,
		TotalCalibrations:   len(c.history),
	}
}
