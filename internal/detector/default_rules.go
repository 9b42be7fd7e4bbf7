package detector

func f(v float64) *float64 { return &v }

// DefaultRules returns the static rule catalog (§4.4 "rule authoring is
// static"), covering every sample-source family in the supplemented
// reference implementations (SPEC_FULL §4).
func DefaultRules() []ruleSpec {
	return []ruleSpec{
		{
			ParameterPattern: "crypto.*.price",
			MinChangePercent: f(1.0),
			LookbackSeconds:  60,
			Description:      "Sharp cryptocurrency price movement",
		},
		{
			ParameterPattern: "crypto.*.volume_24h",
			MinChangePercent: f(50.0),
			LookbackSeconds:  300,
			Description:      "Trading volume spike",
		},
		{
			ParameterPattern: "crypto.*.price_change_24h_percent",
			TriggerAbove:     f(2.5),
			Description:      "High 24h price volatility",
		},
		{
			ParameterPattern: "network.*.latency_ms",
			MaxAbsolute:      f(1000.0),
			Description:      "High network latency",
		},
		{
			ParameterPattern: "network.avg_latency_ms",
			MinChangePercent: f(100.0),
			LookbackSeconds:  30,
			Description:      "Sudden network latency increase",
		},
		{
			ParameterPattern: "time_drift.diff_local_ntp_ms",
			MinChangePercent: f(150.0),
			LookbackSeconds:  60,
			Description:      "Sudden clock drift change",
		},
		{
			ParameterPattern: "time_drift.diff_local_ntp_ms",
			MaxAbsolute:      f(500.0),
			Description:      "Extreme clock desynchronization",
		},
		{
			ParameterPattern: "time_drift.diff_local_ntp_ms",
			MinAbsolute:      f(-500.0),
			Description:      "Extreme clock desynchronization",
		},
		{
			ParameterPattern: "news.headline_count",
			MinChangePercent: f(100.0),
			LookbackSeconds:  300,
			Description:      "News headline spike",
		},
		{
			ParameterPattern: "blockchain.networks.*.block_time_seconds",
			MinChangePercent: f(50.0),
			LookbackSeconds:  600,
			Description:      "Unusual block time",
		},
		{
			ParameterPattern: "weather.temperature",
			MinChangePercent: f(10.0),
			LookbackSeconds:  300,
			Description:      "Rapid temperature change",
		},
		{
			ParameterPattern: "weather.pressure",
			MinChangePercent: f(2.0),
			LookbackSeconds:  300,
			Description:      "Rapid pressure change",
		},
		{
			ParameterPattern: "random.mean",
			MinAbsolute:      f(0.45),
			Description:      "Random number generator bias",
		},
		{
			ParameterPattern: "random.mean",
			MaxAbsolute:      f(0.55),
			Description:      "Random number generator bias",
		},
		{
			ParameterPattern: "quantum_rng.randomness_score",
			MinAbsolute:      f(0.85),
			Description:      "Below-normal quantum randomness",
		},
		{
			ParameterPattern: "earthquake.max_magnitude",
			TriggerAbove:     f(4.5),
			Description:      "Significant earthquake",
		},
		{
			ParameterPattern: "earthquake.count",
			TriggerAbove:     f(2),
			Description:      "Multiple earthquakes",
		},
		{
			ParameterPattern: "space_weather.kp_index",
			TriggerAbove:     f(5.0),
			Description:      "Geomagnetic storm",
		},
		{
			ParameterPattern: "space_weather.kp_index",
			MinChangePercent: f(50.0),
			LookbackSeconds:  3600,
			Description:      "Rapid geomagnetic activity increase",
		},
		{
			ParameterPattern: "space_weather.flare_count",
			TriggerAbove:     f(0.5),
			Description:      "Solar flare",
		},
	}
}
