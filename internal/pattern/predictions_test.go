package pattern_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amois3/matrixwatcher/internal/model"
	"github.com/amois3/matrixwatcher/internal/pattern"
)

type predictionFileDTO struct {
	Predictions []pattern.Prediction `json:"predictions"`
}

func TestWritePredictionSinkPrunesStaleAndSuppressed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "current.json")

	cond := model.Condition{Timestamp: 1000, Level: 3, Sources: []string{"crypto", "earthquake", "quantum_rng"}}
	now := 1_700_000_000.0

	fresh := []pattern.Prediction{
		{ID: "a", Event: "btc_pump_1h", Probability: 42, Timestamp: now},
		{ID: "b", Event: "earthquake_moderate", Probability: 10, Timestamp: now},
		{ID: "c", Event: "solar_storm_moderate", Probability: 5, Timestamp: now - 25*3600},
	}
	require.NoError(t, pattern.WritePredictionSink(path, fresh, now))

	second := []pattern.Prediction{{ID: "d", Event: "btc_dump_1h", Probability: 7, Timestamp: now}}
	require.NoError(t, pattern.WritePredictionSink(path, second, now))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var f predictionFileDTO
	require.NoError(t, json.Unmarshal(data, &f))
	require.Len(t, f.Predictions, 2)
	ids := map[string]bool{}
	for _, p := range f.Predictions {
		ids[p.ID] = true
	}
	require.True(t, ids["a"])
	require.True(t, ids["d"])
	require.False(t, ids["b"])
	require.False(t, ids["c"])

	_ = cond
}
