package pattern_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amois3/matrixwatcher/internal/model"
	"github.com/amois3/matrixwatcher/internal/pattern"
)

func condition(ts float64, level int, sources ...string) model.Condition {
	return model.Condition{Timestamp: ts, Level: level, Sources: sources}
}

func TestRecordConditionSeedsAllCatalogPatterns(t *testing.T) {
	tr := pattern.NewTracker()
	c := condition(1000, 2, "crypto", "earthquake")
	tr.RecordCondition(c)

	probs := tr.GetProbabilities(c, 0, nil)
	// Nothing has matched yet, so every pattern has zero actual probability
	// and is filtered out.
	require.Empty(t, probs)
}

func TestMatchIsIdempotentPerConditionInstance(t *testing.T) {
	tr := pattern.NewTracker()
	c := condition(1000, 1, "earthquake")
	for i := 0; i < 10; i++ {
		tr.RecordCondition(c)
	}

	fired := tr.CheckEvents(pattern.Reading{
		Timestamp: 1000 + 3600,
		Source:    "earthquake",
		Data:      map[string]any{"max_magnitude": 6.5},
	})
	require.NotEmpty(t, fired)

	// Firing the same magnitude again later must not double-count against
	// the same 10 condition instances already joined.
	tr.CheckEvents(pattern.Reading{
		Timestamp: 1000 + 7200,
		Source:    "earthquake",
		Data:      map[string]any{"max_magnitude": 6.5},
	})

	probs := tr.GetProbabilities(c, 1, nil)
	info, ok := probs["earthquake_strong"]
	require.True(t, ok)
	require.Equal(t, 10, info.Occurrences)
	require.InDelta(t, 1.0, info.Probability, 1e-9)
}

func TestProbabilityBoundedAtOne(t *testing.T) {
	tr := pattern.NewTracker()
	c := condition(1000, 1, "earthquake")
	tr.RecordCondition(c)

	tr.CheckEvents(pattern.Reading{Timestamp: 1000 + 60, Source: "earthquake", Data: map[string]any{"max_magnitude": 7.5}})

	probs := tr.GetProbabilities(c, 1, nil)
	info, ok := probs["earthquake_major"]
	require.True(t, ok)
	require.LessOrEqual(t, info.Probability, 1.0)
}

func TestGetProbabilitiesSkipsEarthquakeModerateAndOtherCategory(t *testing.T) {
	tr := pattern.NewTracker()
	c := condition(1000, 1, "earthquake")
	tr.RecordCondition(c)

	tr.CheckEvents(pattern.Reading{Timestamp: 1000 + 60, Source: "earthquake", Data: map[string]any{"max_magnitude": 5.6}})

	probs := tr.GetProbabilities(c, 1, nil)
	_, hasModerate := probs["earthquake_moderate"]
	require.False(t, hasModerate)
	_, hasOther := probs["earthquake_significant"]
	require.False(t, hasOther)
}

func TestGetProbabilitiesCategoryFilter(t *testing.T) {
	tr := pattern.NewTracker()
	c := condition(1000, 1, "crypto")
	tr.RecordCondition(c)

	tr.CheckEvents(pattern.Reading{
		Timestamp: 1000,
		Source:    "crypto",
		Data:      map[string]any{"btcusdt.price": 60000},
	})
	tr.CheckEvents(pattern.Reading{
		Timestamp: 1000 + 3600,
		Source:    "crypto",
		Data:      map[string]any{"btcusdt.price": 62000},
	})

	eq := model.CategoryEarthquake
	probs := tr.GetProbabilities(c, 1, &eq)
	require.Empty(t, probs)
}

func TestBtcPumpDetectedFromPriceHistory(t *testing.T) {
	tr := pattern.NewTracker()

	fired := tr.CheckEvents(pattern.Reading{Timestamp: 0, Source: "crypto", Data: map[string]any{"btcusdt.price": 60000.0}})
	require.Empty(t, fired)

	fired = tr.CheckEvents(pattern.Reading{Timestamp: 3600, Source: "crypto", Data: map[string]any{"btcusdt.price": 61500.0}})
	found := false
	for _, ev := range fired {
		if ev.EventType == "btc_pump_1h" {
			found = true
		}
	}
	require.True(t, found)
}

func TestCalibrationStatsIgnoresLowObservationPatterns(t *testing.T) {
	tr := pattern.NewTracker()
	c := condition(1000, 1, "earthquake")
	tr.RecordCondition(c)
	tr.CheckEvents(pattern.Reading{Timestamp: 1000 + 60, Source: "earthquake", Data: map[string]any{"max_magnitude": 7.5}})

	stats := tr.CalibrationStats()
	require.Equal(t, 0, stats.TotalPatterns)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	tr := pattern.NewTracker()
	c := condition(1000, 1, "earthquake")
	for i := 0; i < 6; i++ {
		tr.RecordCondition(c)
	}
	tr.CheckEvents(pattern.Reading{Timestamp: 1000 + 60, Source: "earthquake", Data: map[string]any{"max_magnitude": 7.5}})

	require.NoError(t, tr.Save(dir))

	restored := pattern.NewTracker()
	require.NoError(t, restored.Load(dir, 1000+120))

	probs := restored.GetProbabilities(c, 1, nil)
	info, ok := probs["earthquake_major"]
	require.True(t, ok)
	require.Equal(t, 6, info.Occurrences)
}

func TestLoadPrunesConditionsOlderThanLookback(t *testing.T) {
	dir := t.TempDir()
	tr := pattern.NewTracker()
	c := condition(0, 1, "earthquake")
	tr.RecordCondition(c)
	require.NoError(t, tr.Save(dir))

	restored := pattern.NewTracker()
	require.NoError(t, restored.Load(dir, 73*3600))

	restored.CheckEvents(pattern.Reading{Timestamp: 73*3600 + 10, Source: "earthquake", Data: map[string]any{"max_magnitude": 7.5}})
	probs := restored.GetProbabilities(c, 1, nil)
	require.Empty(t, probs)
}
