// Package model holds the data types shared across the pipeline: the bus
// Event envelope, sensor readings, anomaly events, conditions, named events,
// patterns, threshold rules and sliding windows. Types here are immutable
// after construction unless a method's doc states otherwise, mirroring the
// teacher's engine/models convention of small, JSON-tagged value types
// passed by pointer between components.
package model

import "time"

// Severity orders INFO < WARNING < CRITICAL for bus filtering (§4.1).
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "WARNING"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "INFO"
	}
}

// ParseSeverity maps a case-insensitive name back to a Severity; unknown
// names fall back to INFO.
func ParseSeverity(s string) Severity {
	switch s {
	case "WARNING", "warning":
		return SeverityWarning
	case "CRITICAL", "critical":
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// EventType enumerates the bus Event's type field (§3).
type EventType string

const (
	EventTypeData    EventType = "DATA"
	EventTypeAnomaly EventType = "ANOMALY"
	EventTypeError   EventType = "ERROR"
	EventTypeHealth  EventType = "HEALTH"
	EventTypeAlert   EventType = "ALERT"
)

// Event is the bus's immutable envelope (§3, §4.1). Timestamp is Unix
// seconds (float64) per §3's "all timestamps are double-precision Unix
// seconds" rule.
type Event struct {
	Timestamp float64                `json:"timestamp"`
	Source    string                 `json:"source"`
	Type      EventType              `json:"type"`
	Severity  Severity               `json:"severity"`
	Payload   map[string]any         `json:"payload"`
	Metadata  map[string]any         `json:"metadata,omitempty"`
}

// SensorReading is what a sample source produces (§4.3); the bus client
// lifts it into a DATA Event.
type SensorReading struct {
	Timestamp float64                `json:"timestamp"`
	Source    string                 `json:"source"`
	Data      map[string]any         `json:"data"`
	Metadata  map[string]any         `json:"metadata,omitempty"`
}

// ToEvent lifts a SensorReading into a DATA Event (§4.1 dataflow).
func (r SensorReading) ToEvent() Event {
	return Event{
		Timestamp: r.Timestamp,
		Source:    r.Source,
		Type:      EventTypeData,
		Severity:  SeverityInfo,
		Payload:   r.Data,
		Metadata:  r.Metadata,
	}
}

// AnomalySeverity is the qualitative severity band C4 assigns (§3).
type AnomalySeverity string

const (
	AnomalyLow      AnomalySeverity = "low"
	AnomalyMedium   AnomalySeverity = "medium"
	AnomalyHigh     AnomalySeverity = "high"
	AnomalyCritical AnomalySeverity = "critical"
)

// AnomalyEvent is derived by C4 from a DATA event and never mutated (§3).
type AnomalyEvent struct {
	Timestamp    float64         `json:"timestamp"`
	Parameter    string          `json:"parameter"` // dotted "source.field"
	Value        float64         `json:"value"`
	Mean         float64         `json:"mean"`
	Std          float64         `json:"std"`
	ZScore       float64         `json:"z_score"`
	SensorSource string          `json:"sensor_source"`
	Metadata     AnomalyMetadata `json:"metadata"`
}

// AnomalyMetadata carries the human reason and the severity band (§3).
type AnomalyMetadata struct {
	Reason   string          `json:"reason"`
	Severity AnomalySeverity `json:"severity"`
	Extra    map[string]any  `json:"extra,omitempty"`
}

// Condition is emitted by C6+C7 together (§3). Sources is sorted and
// deduplicated. Key is the canonical "L{level}_{sources joined by '_'}".
type Condition struct {
	Timestamp     float64  `json:"timestamp"`
	Level         int      `json:"level"`
	Sources       []string `json:"sources"`
	AnomalyIndex  float64  `json:"anomaly_index"`
	BaselineRatio float64  `json:"baseline_ratio"`
	// MatchedEvents records, per this condition instance, which eventTypes
	// have already been joined via C8's Match (idempotence, §4.8/§8 P2).
	MatchedEvents map[string]bool `json:"matched_events,omitempty"`
}

// Key returns the canonical condition key "L{level}_{sources}" (§3).
func (c *Condition) Key() string {
	key := "L" + itoa(c.Level)
	for _, s := range c.Sources {
		key += "_" + s
	}
	return key
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// EventCategory groups the named-event catalog (§3).
type EventCategory string

const (
	CategoryCrypto        EventCategory = "crypto"
	CategoryBlockchain    EventCategory = "blockchain"
	CategoryEarthquake    EventCategory = "earthquake"
	CategorySpaceWeather  EventCategory = "space_weather"
	CategoryOther         EventCategory = "other"
)

// NamedEvent is C8's tracked event concept, distinct from the bus Event (§3).
type NamedEvent struct {
	Timestamp float64         `json:"timestamp"`
	EventType string          `json:"event_type"`
	Category  EventCategory   `json:"category"`
	Severity  AnomalySeverity `json:"severity"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	HasLoc    bool            `json:"-"`
	Lat       float64         `json:"lat,omitempty"`
	Lon       float64         `json:"lon,omitempty"`
}

// Pattern is keyed by (conditionKey, eventType) (§3).
type Pattern struct {
	ConditionKey         string  `json:"condition_key"`
	EventType            string  `json:"event_type"`
	ConditionCount       int     `json:"condition_count"`
	EventAfterCount      int     `json:"event_after_count"`
	AvgTimeToEvent       float64 `json:"avg_time_to_event"`
	MinTimeToEvent       float64 `json:"min_time_to_event"` // +Inf sentinel: no observation yet
	MaxTimeToEvent       float64 `json:"max_time_to_event"`
	PredictedProbability float64 `json:"predicted_probability"`
	ActualProbability    float64 `json:"actual_probability"`
	BrierScore           float64 `json:"brier_score"`
	EventLocations       []GeoPoint `json:"event_locations,omitempty"`
}

// GeoPoint is a (lat, lon, timestamp) triple recorded in a Pattern's
// EventLocations (capped at 1000, §3).
type GeoPoint struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Timestamp float64 `json:"timestamp"`
}

// RecomputeActualProbability applies the §3 invariant
// actualProbability = min(1, eventAfterCount/conditionCount).
func (p *Pattern) RecomputeActualProbability() {
	if p.ConditionCount <= 0 {
		p.ActualProbability = 0
		return
	}
	ratio := float64(p.EventAfterCount) / float64(p.ConditionCount)
	if ratio > 1 {
		ratio = 1
	}
	p.ActualProbability = ratio
}

// ThresholdRule is the §3 glob-based rule shape consumed by C4.
type ThresholdRule struct {
	Name             string  `json:"name"`
	ParameterPattern string  `json:"parameter_pattern"`
	MinChangePercent *float64 `json:"min_change_percent,omitempty"`
	MinAbsolute      *float64 `json:"min_absolute,omitempty"`
	MaxAbsolute      *float64 `json:"max_absolute,omitempty"`
	TriggerAbove     *float64 `json:"trigger_above,omitempty"`
	LookbackSeconds  float64 `json:"lookback_seconds"`
	Description      string  `json:"description"`
}

// AnomalyIndexSnapshot is C7's periodic output (§3).
type AnomalyIndexSnapshot struct {
	Timestamp       float64            `json:"timestamp"`
	Index           float64            `json:"index"`
	Breakdown       map[string]float64 `json:"breakdown"`
	BaselineRatio   float64            `json:"baseline_ratio"`
	Status          string             `json:"status"`
	ActiveAnomalies int                `json:"active_anomalies"`
}

// Cluster is C6's output (§4.6).
type Cluster struct {
	Level       int             `json:"level"`
	Anomalies   []AnomalyRecord `json:"anomalies"`
	Timestamp   float64         `json:"timestamp"`
	Probability float64         `json:"probability"`
	Description string          `json:"description"`
}

// AnomalyRecord is one entry of the cluster detector's deque (§4.6).
type AnomalyRecord struct {
	Anomaly   AnomalyEvent `json:"anomaly"`
	Timestamp float64      `json:"timestamp"`
}

// Now returns the current time as a Unix-seconds float64, the representation
// every timestamp field in this package uses (§3).
func Now() float64 { return float64(time.Now().UnixNano()) / 1e9 }
