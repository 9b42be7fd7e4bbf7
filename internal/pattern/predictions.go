package pattern

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/amois3/matrixwatcher/internal/jsonutil"
	"github.com/amois3/matrixwatcher/internal/model"
)

// Prediction is one entry of the §6 prediction-sink file contract.
type Prediction struct {
	ID               string  `json:"id"`
	Condition        string  `json:"condition"`
	ConditionLevel   int     `json:"condition_level"`
	ConditionSources []string `json:"condition_sources"`
	Event            string  `json:"event"`
	Description      string  `json:"description"`
	Probability      int     `json:"probability"`
	AvgTimeHours     float64 `json:"avg_time_hours"`
	Observations     int     `json:"observations"`
	Occurrences      int     `json:"occurrences"`
	Category         string  `json:"category"`
	Icon             string  `json:"icon"`
	Color            string  `json:"color"`
	Timestamp        float64 `json:"timestamp"`
}

type predictionFile struct {
	Predictions  []Prediction `json:"predictions"`
	LastUpdate   float64      `json:"last_update"`
	LastUpdateStr string      `json:"last_update_str"`
}

const predictionMaxAge = 24 * 3600.0

var categoryIcons = map[model.EventCategory]string{
	model.CategoryCrypto:       "₿",
	model.CategoryBlockchain:   "⛓",
	model.CategoryEarthquake:   "🌍",
	model.CategorySpaceWeather: "☀",
}

var severityColors = map[model.AnomalySeverity]string{
	model.AnomalyLow:      "#4caf50",
	model.AnomalyMedium:   "#ff9800",
	model.AnomalyHigh:     "#f44336",
	model.AnomalyCritical: "#9c27b0",
}

// BuildPredictions converts a GetProbabilities result into the §6 sink
// shape for a single condition, assigning a stable per-entry id so
// repeated writes of the same (condition, event) pair do not churn ids.
func BuildPredictions(condition model.Condition, infos map[string]ProbabilityInfo, now float64) []Prediction {
	preds := make([]Prediction, 0, len(infos))
	for eventType, info := range infos {
		preds = append(preds, Prediction{
			ID:               fmt.Sprintf("%s:%s", condition.Key(), eventType),
			Condition:        condition.Key(),
			ConditionLevel:   condition.Level,
			ConditionSources: condition.Sources,
			Event:            eventType,
			Description:      info.Description,
			Probability:      int(info.Probability*100 + 0.5),
			AvgTimeHours:     info.AvgTimeHours,
			Observations:     info.Observations,
			Occurrences:      info.Occurrences,
			Category:         string(info.Category),
			Icon:             categoryIcons[info.Category],
			Color:            severityColors[info.Severity],
			Timestamp:        now,
		})
	}
	return preds
}

// WritePredictionSink merges fresh into the existing predictions file at
// path (if any), prunes entries older than 24h and any "earthquake_moderate"
// entry (§6: suppressed from public output per §4.8/§9), then replaces the
// file atomically (write to temp, rename).
func WritePredictionSink(path string, fresh []Prediction, now float64) error {
	existing, _ := readPredictionFile(path)

	merged := map[string]Prediction{}
	for _, p := range existing.Predictions {
		merged[p.ID] = p
	}
	for _, p := range fresh {
		merged[p.ID] = p
	}

	out := make([]Prediction, 0, len(merged))
	for _, p := range merged {
		if now-p.Timestamp >= predictionMaxAge {
			continue
		}
		if p.Event == "earthquake_moderate" {
			continue
		}
		out = append(out, p)
	}

	file := predictionFile{
		Predictions:   out,
		LastUpdate:    now,
		LastUpdateStr: time.Unix(int64(now), 0).UTC().Format(time.RFC3339),
	}

	return writeAtomic(path, file)
}

func readPredictionFile(path string) (predictionFile, error) {
	var f predictionFile
	data, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := jsonutil.Unmarshal(data, &f); err != nil {
		return predictionFile{}, err
	}
	return f, nil
}

func writeAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("pattern: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".predictions-*.tmp")
	if err != nil {
		return fmt.Errorf("pattern: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	enc := jsonutil.NewEncoder(tmp)
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("pattern: encode predictions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("pattern: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("pattern: rename temp file into place: %w", err)
	}
	return nil
}
