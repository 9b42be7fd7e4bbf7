package cluster_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amois3/matrixwatcher/internal/cluster"
	"github.com/amois3/matrixwatcher/internal/model"
)

func anomaly(source string, ts float64) model.AnomalyEvent {
	return model.AnomalyEvent{Timestamp: ts, SensorSource: source}
}

func TestSingleAnomalyIsLevel1(t *testing.T) {
	d := cluster.New(30)
	c := d.AddAnomaly(anomaly("crypto", 100))
	require.Equal(t, 1, c.Level)
	require.InDelta(t, 1.0, c.Probability, 1e-9)
}

func TestTwoDistinctSourcesIsLevel2(t *testing.T) {
	d := cluster.New(30)
	d.AddAnomaly(anomaly("crypto", 100))
	c := d.AddAnomaly(anomaly("earthquake", 105))
	require.Equal(t, 2, c.Level)
	require.InDelta(t, 0.10, c.Probability, 1e-9)
}

func TestFivePlusSourcesClampsToLevel5(t *testing.T) {
	d := cluster.New(30)
	sources := []string{"crypto", "earthquake", "space_weather", "blockchain", "quantum_rng", "network"}
	var last model.Cluster
	for i, s := range sources {
		last = d.AddAnomaly(anomaly(s, float64(100+i)))
	}
	require.Equal(t, 5, last.Level)
	require.InDelta(t, 0.001, last.Probability, 1e-9)
}

func TestOutsideWindowDoesNotCluster(t *testing.T) {
	d := cluster.New(30)
	d.AddAnomaly(anomaly("crypto", 100))
	c := d.AddAnomaly(anomaly("earthquake", 200))
	require.Equal(t, 1, c.Level)
}

func TestSameSourceRepeatedStaysLevel1(t *testing.T) {
	d := cluster.New(30)
	d.AddAnomaly(anomaly("crypto", 100))
	c := d.AddAnomaly(anomaly("crypto", 105))
	require.Equal(t, 1, c.Level)
}
