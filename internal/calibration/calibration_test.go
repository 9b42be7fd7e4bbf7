package calibration_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amois3/matrixwatcher/internal/calibration"
	"github.com/amois3/matrixwatcher/internal/detector"
)

func newTestTracker(t *testing.T) *calibration.Tracker {
	t.Helper()
	dir := t.TempDir()
	tr, err := calibration.NewTracker(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestLogThresholdHitAndAnalyze(t *testing.T) {
	tr := newTestTracker(t)

	for i := 0; i < 100; i++ {
		triggered := i%10 == 0
		tr.LogThresholdHit(detector.ThresholdHit{
			Timestamp: float64(i), ThresholdName: "x.max", Value: float64(i),
			ThresholdValue: 50, Triggered: triggered,
		})
	}

	analysis, ok := tr.AnalyzeThreshold("x.max")
	require.True(t, ok)
	require.Equal(t, 100, analysis.TotalChecks)
	require.Equal(t, 10, analysis.TriggeredCount)
	require.InDelta(t, 0.10, analysis.TriggerRate, 1e-9)
	require.Equal(t, 0.0, analysis.Min)
	require.Equal(t, 99.0, analysis.Max)
}

func TestAnalyzeUnknownThresholdReturnsFalse(t *testing.T) {
	tr := newTestTracker(t)
	_, ok := tr.AnalyzeThreshold("nonexistent")
	require.False(t, ok)
}

func TestStatsReflectsStartTimePersistence(t *testing.T) {
	dir := t.TempDir()
	tr1, err := calibration.NewTracker(dir)
	require.NoError(t, err)
	s1 := tr1.Stats()
	require.NoError(t, tr1.Close())

	tr2, err := calibration.NewTracker(dir)
	require.NoError(t, err)
	defer tr2.Close()
	s2 := tr2.Stats()

	require.InDelta(t, s1.DaysCollecting, s2.DaysCollecting, 0.01)
}

func TestCalibratorNotReadyBeforeMinDays(t *testing.T) {
	tr := newTestTracker(t)
	cal := calibration.NewCalibrator(tr, t.TempDir(), calibration.WithMinDays(30))

	result := cal.CheckAndCalibrate(time.Now())
	require.Equal(t, "not_ready", result.Status)
}

func TestCalibratorSkipsWhenCheckedRecently(t *testing.T) {
	tr := newTestTracker(t)
	cal := calibration.NewCalibrator(tr, t.TempDir())

	first := cal.CheckAndCalibrate(time.Now())
	require.NotEqual(t, "skipped", first.Status)
	second := cal.CheckAndCalibrate(time.Now())
	require.Equal(t, "skipped", second.Status)
}
