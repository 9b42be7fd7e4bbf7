package pattern

import (
	"strconv"

	"github.com/amois3/matrixwatcher/internal/model"
)

// Reading is the flattened sensor snapshot C8 evaluates each named event's
// predicate against, mirroring the "{source}.{field}" convention C4 uses for
// threshold rules (§4.4, §4.8).
type Reading struct {
	Timestamp float64
	Source    string
	Data      map[string]any
	Lat       float64
	Lon       float64
	HasLoc    bool
}

func (r Reading) float(key string) (float64, bool) {
	v, ok := r.Data[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// eventDefinition is one entry of the ~25-entry named-event catalog (§4.8).
type eventDefinition struct {
	Category    model.EventCategory
	Severity    model.AnomalySeverity
	Description string
	Check       func(t *Tracker, r Reading) bool
}

const (
	btcPumpThreshold1h  = 2.0
	btcPumpThreshold4h  = 4.0
	btcPumpThreshold24h = 7.0

	ethPumpThreshold1h  = 2.5
	ethPumpThreshold4h  = 5.0
	ethPumpThreshold24h = 10.0
)

func pumpDumpCheck(coin string, hours float64, threshold float64, dump bool) func(t *Tracker, r Reading) bool {
	return func(t *Tracker, r Reading) bool {
		if r.Source != "crypto" {
			return false
		}
		price, ok := r.float(coin + ".price")
		if !ok {
			return false
		}
		old, found := t.priceAt(coin, r.Timestamp-hours*3600)
		if !found || old == 0 {
			return false
		}
		changePct := (price - old) / old * 100
		if dump {
			return changePct <= -threshold
		}
		return changePct >= threshold
	}
}

func btcVolatilityCheck(threshold float64) func(t *Tracker, r Reading) bool {
	return func(t *Tracker, r Reading) bool {
		if r.Source != "crypto" {
			return false
		}
		v, ok := r.float("btcusdt.price_change_24h_percent")
		if !ok {
			return false
		}
		if v < 0 {
			v = -v
		}
		return v >= threshold
	}
}

func blockchainAnomalyCheck(t *Tracker, r Reading) bool {
	if r.Source != "blockchain" {
		return false
	}
	networks, ok := r.Data["networks"].(map[string]any)
	if !ok {
		return false
	}
	for _, v := range networks {
		n, ok := v.(map[string]any)
		if !ok {
			continue
		}
		blockTime, ok1 := asFloat(n["block_time_seconds"])
		expected, ok2 := asFloat(n["expected_block_time"])
		if ok1 && ok2 && expected > 0 && blockTime >= 2*expected {
			return true
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func earthquakeMagnitudeCheck(minMagnitude float64) func(t *Tracker, r Reading) bool {
	return func(t *Tracker, r Reading) bool {
		if r.Source != "earthquake" {
			return false
		}
		m, ok := r.float("max_magnitude")
		return ok && m >= minMagnitude
	}
}

func solarStormCheck(minKp float64, minWindSpeed float64) func(t *Tracker, r Reading) bool {
	return func(t *Tracker, r Reading) bool {
		if r.Source != "space_weather" {
			return false
		}
		if kp, ok := r.float("kp_index"); ok && kp >= minKp {
			return true
		}
		if minWindSpeed > 0 {
			if speed, ok := r.float("solar_wind_speed"); ok && speed >= minWindSpeed {
				return true
			}
		}
		return false
	}
}

func newsSpikeCheck(t *Tracker, r Reading) bool {
	if r.Source != "news" {
		return false
	}
	count, ok := r.float("headline_count_1h")
	return ok && count >= 3
}

func quantumAnomalyCheck(t *Tracker, r Reading) bool {
	if r.Source != "quantum_rng" {
		return false
	}
	score, ok := r.float("randomness_score")
	return ok && score < 0.2
}

// defaultCatalog returns the ~25 named-event definitions (§4.8), directly
// grounded on the original pattern tracker's event-definition table: paired
// pump/dump checks at 1h/4h/24h for BTC and ETH, BTC volatility tiers,
// blockchain block-time anomaly, earthquake magnitude tiers, solar storm
// tiers, and a handful of "other"-category bookkeeping events that never
// surface through GetProbabilities but still accumulate condition/event
// statistics.
func defaultCatalog() map[string]eventDefinition {
	cat := map[string]eventDefinition{}

	type pumpSpec struct {
		suffix    string
		hours     float64
		threshold float64
	}
	pumpsByCoin := map[string][]pumpSpec{
		"btc": {
			{"1h", 1, btcPumpThreshold1h},
			{"4h", 4, btcPumpThreshold4h},
			{"24h", 24, btcPumpThreshold24h},
		},
		"eth": {
			{"1h", 1, ethPumpThreshold1h},
			{"4h", 4, ethPumpThreshold4h},
			{"24h", 24, ethPumpThreshold24h},
		},
	}
	for _, coin := range []string{"btc", "eth"} {
		symbol := coin + "usdt"
		for _, p := range pumpsByCoin[coin] {
			cat[coin+"_pump_"+p.suffix] = eventDefinition{
				Category:    model.CategoryCrypto,
				Severity:    model.AnomalyMedium,
				Description: coin + " price up " + formatPct(p.threshold) + "%+ in " + p.suffix,
				Check:       pumpDumpCheck(symbol, p.hours, p.threshold, false),
			}
			cat[coin+"_dump_"+p.suffix] = eventDefinition{
				Category:    model.CategoryCrypto,
				Severity:    model.AnomalyMedium,
				Description: coin + " price down " + formatPct(p.threshold) + "%+ in " + p.suffix,
				Check:       pumpDumpCheck(symbol, p.hours, p.threshold, true),
			}
		}
	}

	cat["btc_volatility_high"] = eventDefinition{
		Category:    model.CategoryCrypto,
		Severity:    model.AnomalyHigh,
		Description: "BTC 24h change exceeds 2.5%",
		Check:       btcVolatilityCheck(2.5),
	}
	cat["btc_volatility_medium"] = eventDefinition{
		Category:    model.CategoryCrypto,
		Severity:    model.AnomalyMedium,
		Description: "BTC 24h change exceeds 1.5%",
		Check:       btcVolatilityCheck(1.5),
	}

	cat["blockchain_anomaly"] = eventDefinition{
		Category:    model.CategoryBlockchain,
		Severity:    model.AnomalyHigh,
		Description: "block time at least 2x expected on a tracked network",
		Check:       blockchainAnomalyCheck,
	}

	cat["earthquake_moderate"] = eventDefinition{
		Category:    model.CategoryEarthquake,
		Severity:    model.AnomalyMedium,
		Description: "magnitude 5.0+ earthquake",
		Check:       earthquakeMagnitudeCheck(5.0),
	}
	cat["earthquake_strong"] = eventDefinition{
		Category:    model.CategoryEarthquake,
		Severity:    model.AnomalyHigh,
		Description: "magnitude 6.0+ earthquake",
		Check:       earthquakeMagnitudeCheck(6.0),
	}
	cat["earthquake_major"] = eventDefinition{
		Category:    model.CategoryEarthquake,
		Severity:    model.AnomalyCritical,
		Description: "magnitude 7.0+ earthquake",
		Check:       earthquakeMagnitudeCheck(7.0),
	}
	// earthquake_significant is a magnitude 5.5+ tier under the "other"
	// category, kept only for condition/event bookkeeping parity with the
	// source it was transcribed from; it never surfaces through
	// GetProbabilities.
	cat["earthquake_significant"] = eventDefinition{
		Category:    model.CategoryOther,
		Severity:    model.AnomalyHigh,
		Description: "magnitude 5.5+ earthquake (bookkeeping only)",
		Check:       earthquakeMagnitudeCheck(5.5),
	}

	cat["solar_storm_moderate"] = eventDefinition{
		Category:    model.CategorySpaceWeather,
		Severity:    model.AnomalyMedium,
		Description: "Kp index 5+ or solar wind 700+ km/s",
		Check:       solarStormCheck(5.0, 700.0),
	}
	cat["solar_storm_strong"] = eventDefinition{
		Category:    model.CategorySpaceWeather,
		Severity:    model.AnomalyHigh,
		Description: "Kp index 7+",
		Check:       solarStormCheck(7.0, 0),
	}
	cat["solar_storm_extreme"] = eventDefinition{
		Category:    model.CategorySpaceWeather,
		Severity:    model.AnomalyCritical,
		Description: "Kp index 9+",
		Check:       solarStormCheck(9.0, 0),
	}
	cat["space_weather_storm"] = eventDefinition{
		Category:    model.CategoryOther,
		Severity:    model.AnomalyHigh,
		Description: "solar storm bookkeeping event",
		Check:       solarStormCheck(6.0, 600.0),
	}

	cat["news_spike"] = eventDefinition{
		Category:    model.CategoryOther,
		Severity:    model.AnomalyMedium,
		Description: "3+ matching headlines within an hour",
		Check:       newsSpikeCheck,
	}
	cat["quantum_anomaly"] = eventDefinition{
		Category:    model.CategoryOther,
		Severity:    model.AnomalyMedium,
		Description: "randomness score below 0.2",
		Check:       quantumAnomalyCheck,
	}

	return cat
}

func formatPct(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
