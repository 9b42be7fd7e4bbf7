package anomalyindex_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amois3/matrixwatcher/internal/anomalyindex"
	"github.com/amois3/matrixwatcher/internal/model"
)

func TestEmptyAnomaliesYieldsNormalStatus(t *testing.T) {
	c := anomalyindex.New()
	snap := c.Calculate(1000, nil)
	require.Equal(t, 0.0, snap.Index)
	require.Equal(t, "normal", snap.Status)
}

func TestCriticalSeverityAnomalyRaisesIndex(t *testing.T) {
	c := anomalyindex.New()
	snap := c.Calculate(1000, []model.AnomalyEvent{
		{SensorSource: "earthquake", Metadata: model.AnomalyMetadata{Severity: "critical"}},
	})
	require.InDelta(t, 100.0/7.0, snap.Index, 0.5)
}

func TestIndexCappedAt100(t *testing.T) {
	c := anomalyindex.New()
	var anomalies []model.AnomalyEvent
	for _, s := range []string{"quantum_rng", "earthquake", "crypto", "space_weather", "blockchain", "weather", "news"} {
		anomalies = append(anomalies, model.AnomalyEvent{SensorSource: s, Metadata: model.AnomalyMetadata{Severity: "critical"}})
	}
	snap := c.Calculate(1000, anomalies)
	require.LessOrEqual(t, snap.Index, 100.0)
	require.InDelta(t, 100.0, snap.Index, 0.01)
}

func TestZScoreFallbackSeverity(t *testing.T) {
	c := anomalyindex.New()
	snap := c.Calculate(1000, []model.AnomalyEvent{
		{SensorSource: "crypto", ZScore: 6.0},
	})
	require.Greater(t, snap.Index, 0.0)
}

func TestDefaultBaselineBeforeEnoughSnapshots(t *testing.T) {
	c := anomalyindex.New()
	snap := c.Calculate(1000, []model.AnomalyEvent{{SensorSource: "crypto", Metadata: model.AnomalyMetadata{Severity: "low"}}})
	require.InDelta(t, snap.Index/15.0, snap.BaselineRatio, 0.01)
}
