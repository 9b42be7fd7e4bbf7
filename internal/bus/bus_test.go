package bus_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amois3/matrixwatcher/internal/bus"
	"github.com/amois3/matrixwatcher/internal/model"
	"github.com/amois3/matrixwatcher/internal/telemetry/metrics"
)

func ev(source string, sev model.Severity) model.Event {
	return model.Event{Timestamp: model.Now(), Source: source, Type: model.EventTypeData, Severity: sev}
}

func TestPublishDeliversToMatchingSubscribers(t *testing.T) {
	b := bus.New(metrics.NewNoopProvider(), 10)
	var got []model.Event
	b.Subscribe(func(e model.Event) { got = append(got, e) }, &bus.Filter{Sources: []string{"crypto"}})

	n := b.Publish(ev("crypto", model.SeverityInfo))
	require.Equal(t, 1, n)
	n = b.Publish(ev("earthquake", model.SeverityInfo))
	require.Equal(t, 0, n)
	require.Len(t, got, 1)
}

func TestSeverityFilterOrdering(t *testing.T) {
	b := bus.New(metrics.NewNoopProvider(), 10)
	var got int
	b.Subscribe(func(model.Event) { got++ }, &bus.Filter{MinSeverity: model.SeverityWarning})

	b.Publish(ev("x", model.SeverityInfo))
	b.Publish(ev("x", model.SeverityWarning))
	b.Publish(ev("x", model.SeverityCritical))
	require.Equal(t, 2, got)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := bus.New(metrics.NewNoopProvider(), 10)
	var got int
	id := b.Subscribe(func(model.Event) { got++ }, nil)
	b.Publish(ev("x", model.SeverityInfo))
	require.True(t, b.Unsubscribe(id))
	require.False(t, b.Unsubscribe(id))
	b.Publish(ev("x", model.SeverityInfo))
	require.Equal(t, 1, got)
}

func TestBacklogOverflowDropsOldest(t *testing.T) {
	b := bus.New(metrics.NewNoopProvider(), 2)
	id := b.Subscribe(func(model.Event) { panic("always fails") }, nil)

	b.Publish(model.Event{Timestamp: 1, Source: "x"})
	b.Publish(model.Event{Timestamp: 2, Source: "x"})
	b.Publish(model.Event{Timestamp: 3, Source: "x"})

	stats := b.Stats()
	require.Equal(t, int64(1), stats.TotalDropped)

	_ = id
}

func TestFlushBufferStopsAtFirstFailure(t *testing.T) {
	b := bus.New(metrics.NewNoopProvider(), 10)
	fail := true
	id := b.Subscribe(func(model.Event) {
		if fail {
			panic("nope")
		}
	}, nil)

	b.Publish(model.Event{Timestamp: 1, Source: "x"})
	b.Publish(model.Event{Timestamp: 2, Source: "x"})

	// Still failing: the flush stops at the first event and keeps both.
	require.Equal(t, 0, b.FlushBuffer(id))

	fail = false
	flushed := b.FlushBuffer(id)
	require.Equal(t, 2, flushed)

	flushed = b.FlushBuffer(id)
	require.Equal(t, 0, flushed)
}

// Invariant from spec §8 P6: totalDelivered + totalDropped <= totalPublished * subscriberCount.
func TestDeliveredPlusDroppedInvariant(t *testing.T) {
	b := bus.New(metrics.NewNoopProvider(), 1)
	b.Subscribe(func(model.Event) {}, nil)
	b.Subscribe(func(model.Event) { panic("boom") }, nil)

	for i := 0; i < 5; i++ {
		b.Publish(model.Event{Timestamp: float64(i), Source: "x"})
	}
	stats := b.Stats()
	require.LessOrEqual(t, stats.TotalDelivered+stats.TotalDropped, stats.TotalPublished*stats.SubscriberCount)
}
