package pattern

import (
	"math"
	"os"
	"path/filepath"

	"github.com/amois3/matrixwatcher/internal/jsonutil"
	"github.com/amois3/matrixwatcher/internal/model"
)

const (
	patternsFileName         = "patterns.json"
	recentConditionsFileName = "recent_conditions.json"
)

// patternDTO mirrors model.Pattern for disk serialization, representing the
// "no observation yet" +Inf sentinel as JSON null (min_time_to_event) rather
// than a value no JSON decoder can round-trip.
type patternDTO struct {
	ConditionKey         string           `json:"condition_key"`
	EventType            string           `json:"event_type"`
	ConditionCount       int              `json:"condition_count"`
	EventAfterCount      int              `json:"event_after_count"`
	AvgTimeToEvent       float64          `json:"avg_time_to_event"`
	MinTimeToEvent       *float64         `json:"min_time_to_event"`
	MaxTimeToEvent       float64          `json:"max_time_to_event"`
	PredictedProbability float64          `json:"predicted_probability"`
	ActualProbability    float64          `json:"actual_probability"`
	BrierScore           float64          `json:"brier_score"`
	EventLocations       []model.GeoPoint `json:"event_locations,omitempty"`
}

func toDTO(p *model.Pattern) patternDTO {
	dto := patternDTO{
		ConditionKey:         p.ConditionKey,
		EventType:            p.EventType,
		ConditionCount:       p.ConditionCount,
		EventAfterCount:      p.EventAfterCount,
		AvgTimeToEvent:       p.AvgTimeToEvent,
		MaxTimeToEvent:       p.MaxTimeToEvent,
		PredictedProbability: p.PredictedProbability,
		ActualProbability:    p.ActualProbability,
		BrierScore:           p.BrierScore,
		EventLocations:       p.EventLocations,
	}
	if !math.IsInf(p.MinTimeToEvent, 1) {
		v := p.MinTimeToEvent
		dto.MinTimeToEvent = &v
	}
	return dto
}

func fromDTO(dto patternDTO) *model.Pattern {
	p := &model.Pattern{
		ConditionKey:         dto.ConditionKey,
		EventType:            dto.EventType,
		ConditionCount:       dto.ConditionCount,
		EventAfterCount:      dto.EventAfterCount,
		AvgTimeToEvent:       dto.AvgTimeToEvent,
		MaxTimeToEvent:       dto.MaxTimeToEvent,
		PredictedProbability: dto.PredictedProbability,
		ActualProbability:    dto.ActualProbability,
		BrierScore:           dto.BrierScore,
		EventLocations:       dto.EventLocations,
		MinTimeToEvent:       math.Inf(1),
	}
	if dto.MinTimeToEvent != nil {
		p.MinTimeToEvent = *dto.MinTimeToEvent
	}
	return p
}

type conditionDTO struct {
	model.Condition
	MatchedEventTypes []string `json:"matched_event_types,omitempty"`
}

// Save persists patterns.json and recent_conditions.json under dir.
func (t *Tracker) Save(dir string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	patternsOut := map[string]map[string]patternDTO{}
	for key, byEvent := range t.patterns {
		out := map[string]patternDTO{}
		for eventType, p := range byEvent {
			out[eventType] = toDTO(p)
		}
		patternsOut[key] = out
	}
	if err := writeJSON(filepath.Join(dir, patternsFileName), patternsOut); err != nil {
		return err
	}

	conditionsOut := make([]conditionDTO, 0, len(t.recent))
	for _, entry := range t.recent {
		matched := make([]string, 0, len(entry.matchedEvents))
		for eventType := range entry.matchedEvents {
			matched = append(matched, eventType)
		}
		conditionsOut = append(conditionsOut, conditionDTO{Condition: entry.condition, MatchedEventTypes: matched})
	}
	return writeJSON(filepath.Join(dir, recentConditionsFileName), conditionsOut)
}

// Load restores patterns.json and recent_conditions.json from dir if
// present, pruning condition instances older than the 72h match lookback
// (§4.8) so a restart doesn't resurrect a buffer full of stale joins.
func (t *Tracker) Load(dir string, now float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var patternsIn map[string]map[string]patternDTO
	if err := readJSON(filepath.Join(dir, patternsFileName), &patternsIn); err != nil {
		return err
	}
	if patternsIn != nil {
		t.patterns = map[string]map[string]*model.Pattern{}
		for key, byEvent := range patternsIn {
			out := map[string]*model.Pattern{}
			for eventType, dto := range byEvent {
				out[eventType] = fromDTO(dto)
			}
			t.patterns[key] = out
		}
	}

	var conditionsIn []conditionDTO
	if err := readJSON(filepath.Join(dir, recentConditionsFileName), &conditionsIn); err != nil {
		return err
	}
	if conditionsIn != nil {
		t.recent = t.recent[:0]
		for _, dto := range conditionsIn {
			if now-dto.Condition.Timestamp >= matchLookbackSeconds {
				continue
			}
			matched := map[string]bool{}
			for _, eventType := range dto.MatchedEventTypes {
				matched[eventType] = true
			}
			t.recent = append(t.recent, conditionEntry{condition: dto.Condition, matchedEvents: matched})
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := jsonutil.NewEncoder(f)
	return enc.Encode(v)
}

// readJSON leaves dest untouched (nil map/slice) when the file does not
// exist yet — the tracker's first run has nothing to load.
func readJSON(path string, dest any) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	dec := jsonutil.NewDecoder(f)
	return dec.Decode(dest)
}
