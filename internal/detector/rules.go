package detector

import "strings"

// matchGlob implements the §4.4 glob syntax: '.' is a literal separator, '*'
// matches any non-empty substring up to the next '.'.
func matchGlob(pattern, key string) bool {
	pSegs := strings.Split(pattern, ".")
	kSegs := strings.Split(key, ".")
	if len(pSegs) != len(kSegs) {
		return false
	}
	for i, p := range pSegs {
		if p == "*" {
			if kSegs[i] == "" {
				return false
			}
			continue
		}
		if p != kSegs[i] {
			return false
		}
	}
	return true
}

// predicateKind names which ThresholdRule field an evaluation came from, used
// to build the threshold-name suffix the calibration tracker keys on (§4.5).
type predicateKind string

const (
	predicateMaxAbsolute  predicateKind = "max"
	predicateMinAbsolute  predicateKind = "min"
	predicateTriggerAbove predicateKind = "trigger_above"
	predicateChangePct    predicateKind = "change_pct"
)

type evaluation struct {
	kind           predicateKind
	triggered      bool
	observed       float64
	thresholdValue float64
}

// evaluateRule runs the single highest-priority predicate present on rule, in
// the fixed order maxAbsolute -> minAbsolute -> triggerAbove ->
// minChangePercent (§4.4 step 3), and reports whether any predicate field was
// present to evaluate at all.
func evaluateRule(rule ruleSpec, value float64, window *slidingWindow, now float64) (evaluation, bool) {
	switch {
	case rule.MaxAbsolute != nil:
		return evaluation{
			kind:           predicateMaxAbsolute,
			triggered:      value > *rule.MaxAbsolute,
			observed:       value,
			thresholdValue: *rule.MaxAbsolute,
		}, true

	case rule.MinAbsolute != nil:
		return evaluation{
			kind:           predicateMinAbsolute,
			triggered:      value < *rule.MinAbsolute,
			observed:       value,
			thresholdValue: *rule.MinAbsolute,
		}, true

	case rule.TriggerAbove != nil:
		return evaluation{
			kind:           predicateTriggerAbove,
			triggered:      value >= *rule.TriggerAbove,
			observed:       value,
			thresholdValue: *rule.TriggerAbove,
		}, true

	case rule.MinChangePercent != nil:
		lookback := rule.LookbackSeconds
		if lookback <= 0 {
			lookback = 60
		}
		old, found := window.earliestSince(now - lookback)
		if !found || old.value == 0 {
			return evaluation{}, false
		}
		changePct := (value - old.value) / old.value * 100
		if changePct < 0 {
			changePct = -changePct
		}
		return evaluation{
			kind:           predicateChangePct,
			triggered:      changePct >= *rule.MinChangePercent,
			observed:       changePct,
			thresholdValue: *rule.MinChangePercent,
		}, true
	}
	return evaluation{}, false
}

// severityForRatio bands the excess ratio (observed/threshold) per §4.4 step 4.
func severityForRatio(ratio float64) string {
	switch {
	case ratio >= 3.0:
		return "critical"
	case ratio >= 2.0:
		return "high"
	case ratio >= 1.5:
		return "medium"
	default:
		return "low"
	}
}

// excessRatio computes "observed ÷ threshold" for the predicate kind that
// fired; for a minAbsolute breach it is "threshold ÷ observed".
func excessRatio(e evaluation) float64 {
	switch e.kind {
	case predicateMinAbsolute:
		if e.observed == 0 {
			return 0
		}
		return e.thresholdValue / e.observed
	default:
		if e.thresholdValue == 0 {
			return 0
		}
		return e.observed / e.thresholdValue
	}
}

var zScoreBySeverity = map[string]float64{
	"low":      5.0,
	"medium":   7.0,
	"high":     10.0,
	"critical": 15.0,
}
