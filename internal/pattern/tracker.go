// Package pattern implements the historical pattern tracker (C8, spec §4.8):
// it accumulates an empirical condition -> named-event table, keeps it
// idempotent per condition instance, and reports calibrated probabilities.
package pattern

import (
	"math"
	"sort"
	"sync"

	"github.com/amois3/matrixwatcher/internal/model"
)

const (
	recentConditionsCap  = 5000
	matchLookbackSeconds = 72 * 3600
	geoLocationsCap      = 1000
	defaultMinObservations = 5
	earthquakeWindowHours  = 12.0
)

type conditionEntry struct {
	condition     model.Condition
	matchedEvents map[string]bool
}

// Tracker owns the named-event catalog, per-coin price history, the
// condition -> pattern table, and the recent-conditions join buffer.
type Tracker struct {
	mu         sync.Mutex
	catalog    map[string]eventDefinition
	prices     map[string]*priceHistory
	patterns   map[string]map[string]*model.Pattern
	recent     []conditionEntry
}

// NewTracker constructs a Tracker with the default named-event catalog
// (§4.8).
func NewTracker() *Tracker {
	return &Tracker{
		catalog:  defaultCatalog(),
		prices:   map[string]*priceHistory{"btcusdt": {}, "ethusdt": {}},
		patterns: map[string]map[string]*model.Pattern{},
	}
}

func (t *Tracker) priceAt(coin string, target float64) (float64, bool) {
	h, ok := t.prices[coin]
	if !ok {
		return 0, false
	}
	return h.atOrBefore(target)
}

func (t *Tracker) ingestPrice(r Reading) {
	if r.Source != "crypto" {
		return
	}
	for _, coin := range []string{"btcusdt", "ethusdt"} {
		if price, ok := r.float(coin + ".price"); ok {
			t.prices[coin].add(r.Timestamp, price)
		}
	}
}

func (t *Tracker) patternFor(conditionKey, eventType string) *model.Pattern {
	byEvent, ok := t.patterns[conditionKey]
	if !ok {
		byEvent = map[string]*model.Pattern{}
		t.patterns[conditionKey] = byEvent
	}
	p, ok := byEvent[eventType]
	if !ok {
		p = &model.Pattern{
			ConditionKey:         conditionKey,
			EventType:            eventType,
			MinTimeToEvent:       math.Inf(1),
			PredictedProbability: qualitativeProbability(levelFromKey(conditionKey)),
		}
		byEvent[eventType] = p
	}
	return p
}

// levelFromKey extracts the leading "L{n}" level from a condition key, used
// only to seed a pattern's predicted probability before any observations
// exist; parse failure yields the conservative single-anomaly prior.
func levelFromKey(key string) int {
	if len(key) < 2 || key[0] != 'L' {
		return 1
	}
	n := 0
	i := 1
	for i < len(key) && key[i] >= '0' && key[i] <= '9' {
		n = n*10 + int(key[i]-'0')
		i++
	}
	if n == 0 {
		return 1
	}
	return n
}

// RecordCondition registers a new condition instance (emitted jointly by C6
// and C7, §3) against every catalog eventType, incrementing conditionCount
// and recomputing each pattern's actual probability.
func (t *Tracker) RecordCondition(condition model.Condition) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := conditionEntry{condition: condition, matchedEvents: map[string]bool{}}
	t.recent = append(t.recent, entry)
	if len(t.recent) > recentConditionsCap {
		t.recent = t.recent[len(t.recent)-recentConditionsCap:]
	}

	key := condition.Key()
	for eventType := range t.catalog {
		p := t.patternFor(key, eventType)
		p.ConditionCount++
		p.RecomputeActualProbability()
	}
}

// CheckEvents evaluates the catalog's predicates against a reading, records
// any crypto price sample for future pump/dump lookups, emits the named
// events that fired, and joins each against recent conditions via match.
func (t *Tracker) CheckEvents(r Reading) []model.NamedEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ingestPrice(r)

	names := make([]string, 0, len(t.catalog))
	for name := range t.catalog {
		names = append(names, name)
	}
	sort.Strings(names)

	var fired []model.NamedEvent
	for _, name := range names {
		def := t.catalog[name]
		if !def.Check(t, r) {
			continue
		}
		ev := model.NamedEvent{
			Timestamp: r.Timestamp,
			EventType: name,
			Category:  def.Category,
			Severity:  def.Severity,
			HasLoc:    r.HasLoc,
			Lat:       r.Lat,
			Lon:       r.Lon,
		}
		fired = append(fired, ev)
		t.match(ev)
	}
	return fired
}

// match joins a newly fired named event against every recent condition
// instance within a 72h lookback, skipping any instance that has already
// matched this eventType (the idempotence invariant, §4.8/§8 P2).
func (t *Tracker) match(ev model.NamedEvent) {
	for i := range t.recent {
		entry := &t.recent[i]
		diff := ev.Timestamp - entry.condition.Timestamp
		if diff <= 0 || diff >= matchLookbackSeconds {
			continue
		}
		if entry.matchedEvents[ev.EventType] {
			continue
		}
		key := entry.condition.Key()
		p, ok := t.patterns[key][ev.EventType]
		if !ok {
			p = t.patternFor(key, ev.EventType)
		}

		p.EventAfterCount++
		if ev.HasLoc {
			p.EventLocations = append(p.EventLocations, model.GeoPoint{Lat: ev.Lat, Lon: ev.Lon, Timestamp: ev.Timestamp})
			if len(p.EventLocations) > geoLocationsCap {
				p.EventLocations = p.EventLocations[len(p.EventLocations)-geoLocationsCap:]
			}
		}
		if diff < p.MinTimeToEvent {
			p.MinTimeToEvent = diff
		}
		if diff > p.MaxTimeToEvent {
			p.MaxTimeToEvent = diff
		}
		n := float64(p.EventAfterCount)
		p.AvgTimeToEvent = p.AvgTimeToEvent + (diff-p.AvgTimeToEvent)/n
		p.RecomputeActualProbability()

		entry.matchedEvents[ev.EventType] = true
	}
}

// ProbabilityInfo is one entry of GetProbabilities' result (§4.8).
type ProbabilityInfo struct {
	EventType      string
	Probability    float64
	AvgTimeHours   float64
	MinTimeHours   float64
	MaxTimeHours   float64
	HasTimeBounds  bool
	Observations   int
	Occurrences    int
	Description    string
	Severity       model.AnomalySeverity
	Category       model.EventCategory
}

// GetProbabilities returns the calibrated probability table for a condition,
// filtering out "other"-category bookkeeping events, the intentionally
// suppressed earthquake_moderate event (too frequent to be informative),
// patterns below minObservations, zero-probability patterns, and — for
// earthquake events — patterns whose min/max time-to-event spread is 12h or
// wider (too unstable a window to report). An optional category restricts
// the result further.
func (t *Tracker) GetProbabilities(condition model.Condition, minObservations int, category *model.EventCategory) map[string]ProbabilityInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	if minObservations <= 0 {
		minObservations = defaultMinObservations
	}

	result := map[string]ProbabilityInfo{}
	byEvent, ok := t.patterns[condition.Key()]
	if !ok {
		return result
	}

	for eventType, p := range byEvent {
		def, known := t.catalog[eventType]
		if !known || def.Category == model.CategoryOther {
			continue
		}
		if eventType == "earthquake_moderate" {
			continue
		}
		if category != nil && def.Category != *category {
			continue
		}
		if p.ConditionCount < minObservations || p.ActualProbability <= 0 {
			continue
		}

		hasBounds := !math.IsInf(p.MinTimeToEvent, 1) && p.MaxTimeToEvent > 0
		if def.Category == model.CategoryEarthquake && hasBounds {
			if (p.MaxTimeToEvent-p.MinTimeToEvent)/3600 >= earthquakeWindowHours {
				continue
			}
		}

		info := ProbabilityInfo{
			EventType:     eventType,
			Probability:   p.ActualProbability,
			AvgTimeHours:  p.AvgTimeToEvent / 3600,
			HasTimeBounds: hasBounds,
			Observations:  p.ConditionCount,
			Occurrences:   p.EventAfterCount,
			Description:   def.Description,
			Severity:      def.Severity,
			Category:      def.Category,
		}
		if hasBounds {
			info.MinTimeHours = p.MinTimeToEvent / 3600
			info.MaxTimeHours = p.MaxTimeToEvent / 3600
		}
		result[eventType] = info
	}
	return result
}

// CalibrationStats summarizes how well-calibrated the tracked patterns are
// (§4.8): well-calibrated means Brier score below 0.1 with at least 5
// observations.
type CalibrationStats struct {
	TotalPatterns         int
	AvgBrierScore         float64
	WellCalibratedPercent float64
}

func (t *Tracker) CalibrationStats() CalibrationStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var (
		total         int
		brierSum      float64
		wellCalibrated int
	)
	for _, byEvent := range t.patterns {
		for _, p := range byEvent {
			if p.ConditionCount < defaultMinObservations {
				continue
			}
			p.BrierScore = (p.PredictedProbability - p.ActualProbability) * (p.PredictedProbability - p.ActualProbability)
			total++
			brierSum += p.BrierScore
			if p.BrierScore < 0.1 {
				wellCalibrated++
			}
		}
	}
	stats := CalibrationStats{TotalPatterns: total}
	if total > 0 {
		stats.AvgBrierScore = brierSum / float64(total)
		stats.WellCalibratedPercent = float64(wellCalibrated) / float64(total) * 100
	}
	return stats
}

// qualitativeProbability mirrors the cluster detector's rarity prior (§4.6),
// used only to seed a pattern's predicted probability before calibration.
func qualitativeProbability(level int) float64 {
	switch level {
	case 2:
		return 0.10
	case 3:
		return 0.05
	case 4:
		return 0.01
	case 5:
		return 0.001
	default:
		return 1.0
	}
}
