package detector_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amois3/matrixwatcher/internal/detector"
	"github.com/amois3/matrixwatcher/internal/model"
)

type recordingBus struct{ events []model.Event }

func (b *recordingBus) Publish(ev model.Event) int { b.events = append(b.events, ev); return 1 }

type recordingTracker struct {
	hits    []detector.ThresholdHit
	samples int
}

func (t *recordingTracker) LogThresholdHit(h detector.ThresholdHit) { t.hits = append(t.hits, h) }
func (t *recordingTracker) LogValueSample(ts float64, param string, value float64, meta map[string]any) {
	t.samples++
}

func floatPtr(v float64) *float64 { return &v }

func TestMaxAbsoluteTriggersCriticalSeverity(t *testing.T) {
	bus := &recordingBus{}
	tracker := &recordingTracker{}
	d := detector.New([]model.ThresholdRule{
		{ParameterPattern: "network.*.latency_ms", MaxAbsolute: floatPtr(1000.0), Description: "latency"},
	}, bus, tracker, nil)

	d.HandleEvent(model.Event{
		Timestamp: 1000, Source: "network", Type: model.EventTypeData,
		Payload: map[string]any{"api.latency_ms": 5000.0},
	})

	require.Len(t, bus.events, 1)
	require.Equal(t, model.EventTypeAnomaly, bus.events[0].Type)
	require.Equal(t, "critical", bus.events[0].Payload["severity"])
	require.Len(t, tracker.hits, 1)
	require.True(t, tracker.hits[0].Triggered)
}

func TestNonTriggeringCheckStillLogged(t *testing.T) {
	bus := &recordingBus{}
	tracker := &recordingTracker{}
	d := detector.New([]model.ThresholdRule{
		{ParameterPattern: "network.*.latency_ms", MaxAbsolute: floatPtr(1000.0), Description: "latency"},
	}, bus, tracker, nil)

	d.HandleEvent(model.Event{
		Timestamp: 1000, Source: "network", Type: model.EventTypeData,
		Payload: map[string]any{"api.latency_ms": 10.0},
	})

	require.Empty(t, bus.events)
	require.Len(t, tracker.hits, 1)
	require.False(t, tracker.hits[0].Triggered)
}

func TestMinChangePercentUsesLookbackWindow(t *testing.T) {
	bus := &recordingBus{}
	tracker := &recordingTracker{}
	d := detector.New([]model.ThresholdRule{
		{ParameterPattern: "crypto.*.price", MinChangePercent: floatPtr(2.0), LookbackSeconds: 3600, Description: "pump"},
	}, bus, tracker, nil)

	d.HandleEvent(model.Event{Timestamp: 0, Source: "crypto", Type: model.EventTypeData, Payload: map[string]any{"btcusdt.price": 100.0}})
	d.HandleEvent(model.Event{Timestamp: 1800, Source: "crypto", Type: model.EventTypeData, Payload: map[string]any{"btcusdt.price": 101.0}})
	require.Empty(t, bus.events)

	d.HandleEvent(model.Event{Timestamp: 3600, Source: "crypto", Type: model.EventTypeData, Payload: map[string]any{"btcusdt.price": 105.0}})
	require.Len(t, bus.events, 1)
}

func TestNonNumericFieldSkippedButSampled(t *testing.T) {
	bus := &recordingBus{}
	tracker := &recordingTracker{}
	d := detector.New(nil, bus, tracker, nil)

	d.HandleEvent(model.Event{
		Timestamp: 1, Source: "news", Type: model.EventTypeData,
		Payload: map[string]any{"headline": "some text"},
	})

	require.Empty(t, bus.events)
	require.Equal(t, 1, tracker.samples)
}

func TestAtMostOneAnomalyPerParameterPerEvent(t *testing.T) {
	bus := &recordingBus{}
	d := detector.New([]model.ThresholdRule{
		{ParameterPattern: "x.v", MaxAbsolute: floatPtr(1.0), Description: "a"},
		{ParameterPattern: "x.v", MinAbsolute: floatPtr(100.0), Description: "b"},
	}, bus, nil, nil)

	d.HandleEvent(model.Event{Timestamp: 1, Source: "x", Type: model.EventTypeData, Payload: map[string]any{"v": 50.0}})
	require.Len(t, bus.events, 1)
}

func TestNestedPayloadIsFlattenedForMatching(t *testing.T) {
	bus := &recordingBus{}
	d := detector.New([]model.ThresholdRule{
		{ParameterPattern: "blockchain.networks.*.block_time_seconds", MinAbsolute: floatPtr(100.0), Description: "slow block"},
	}, bus, nil, nil)

	d.HandleEvent(model.Event{
		Timestamp: 1, Source: "blockchain", Type: model.EventTypeData,
		Payload: map[string]any{
			"networks": map[string]any{
				"ethereum": map[string]any{"block_time_seconds": 50.0, "expected_block_time": 12.0},
			},
		},
	})
	require.Len(t, bus.events, 1)
	require.Equal(t, "blockchain.networks.ethereum.block_time_seconds", bus.events[0].Payload["parameter"])
}

func TestGlobMatchLiteralDot(t *testing.T) {
	bus := &recordingBus{}
	d := detector.New([]model.ThresholdRule{
		{ParameterPattern: "space_weather.kp_index", TriggerAbove: floatPtr(5.0), Description: "storm"},
	}, bus, nil, nil)

	// Different field name entirely must not match.
	d.HandleEvent(model.Event{Timestamp: 1, Source: "space_weather", Type: model.EventTypeData, Payload: map[string]any{"other_field": 9.0}})
	require.Empty(t, bus.events)

	d.HandleEvent(model.Event{Timestamp: 2, Source: "space_weather", Type: model.EventTypeData, Payload: map[string]any{"kp_index": 9.0}})
	require.Len(t, bus.events, 1)
}
