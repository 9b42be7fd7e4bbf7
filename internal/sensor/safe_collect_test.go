package sensor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amois3/matrixwatcher/internal/model"
	"github.com/amois3/matrixwatcher/internal/sensor"
)

type fakeSource struct {
	name    string
	cfg     sensor.Config
	fail    int // number of times to fail before succeeding
	calls   int
	permErr bool
}

func (f *fakeSource) Name() string                          { return f.name }
func (f *fakeSource) Config() sensor.Config                  { return f.cfg }
func (f *fakeSource) Schema() map[string]sensor.FieldType    { return nil }
func (f *fakeSource) Collect(ctx context.Context) (sensor.Reading, error) {
	f.calls++
	if f.calls <= f.fail {
		if f.permErr {
			return sensor.Reading{}, &sensor.PermanentError{Err: errors.New("bad config")}
		}
		return sensor.Reading{}, &sensor.TransientError{Err: errors.New("timeout")}
	}
	return sensor.Reading{Timestamp: model.Now(), Source: f.name, Data: map[string]any{"x": 1.0}}, nil
}

type fakeBus struct{ published []model.Event }

func (b *fakeBus) Publish(ev model.Event) int { b.published = append(b.published, ev); return 1 }

func TestSafeCollectRetriesThenSucceeds(t *testing.T) {
	src := &fakeSource{name: "crypto", fail: 2, cfg: sensor.Config{Enabled: true, MaxRetries: 3, RetryDelay: time.Millisecond, Timeout: time.Second}}
	b := &fakeBus{}
	mon := sensor.NewMonitor(3, nil)

	err := sensor.SafeCollect(context.Background(), src, b, mon, nil)
	require.NoError(t, err)
	require.Len(t, b.published, 1)
	require.Equal(t, model.EventTypeData, b.published[0].Type)
}

func TestSafeCollectPermanentStopsRetrying(t *testing.T) {
	src := &fakeSource{name: "x", fail: 10, permErr: true, cfg: sensor.Config{Enabled: true, MaxRetries: 3, RetryDelay: time.Millisecond, Timeout: time.Second}}
	b := &fakeBus{}
	mon := sensor.NewMonitor(3, nil)

	err := sensor.SafeCollect(context.Background(), src, b, mon, nil)
	require.Error(t, err)
	require.Equal(t, 1, src.calls) // no retry on permanent error
	require.Len(t, b.published, 1)
	require.Equal(t, model.EventTypeError, b.published[0].Type)
}

func TestAutoDisableAfterThreshold(t *testing.T) {
	var disabledSource, reason string
	mon := sensor.NewMonitor(2, func(s, r string) { disabledSource = s; reason = r })

	mon.RecordFailure("quantum_rng", errors.New("timeout"))
	require.False(t, mon.State("quantum_rng").Disabled)
	mon.RecordFailure("quantum_rng", errors.New("timeout"))
	require.True(t, mon.State("quantum_rng").Disabled)
	require.Equal(t, "quantum_rng", disabledSource)
	require.NotEmpty(t, reason)

	mon.Enable("quantum_rng")
	require.False(t, mon.State("quantum_rng").Disabled)
}

func TestRateLimitedDoesNotPublishOrFail(t *testing.T) {
	src := &fakeSourceRL{}
	b := &fakeBus{}
	mon := sensor.NewMonitor(3, nil)
	err := sensor.SafeCollect(context.Background(), src, b, mon, nil)
	require.NoError(t, err)
	require.Empty(t, b.published)
}

type fakeSourceRL struct{}

func (f *fakeSourceRL) Name() string                       { return "ratelimited" }
func (f *fakeSourceRL) Config() sensor.Config               { return sensor.Config{Enabled: true, MaxRetries: 3, RetryDelay: time.Millisecond, Timeout: time.Second} }
func (f *fakeSourceRL) Schema() map[string]sensor.FieldType { return nil }
func (f *fakeSourceRL) Collect(ctx context.Context) (sensor.Reading, error) {
	return sensor.Reading{}, &sensor.RateLimitedError{RetryAfter: time.Second}
}
