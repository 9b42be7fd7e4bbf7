// Package bus implements the single-process event bus (C1, spec §4.1):
// synchronous fan-out of model.Event to filtered subscribers, each with a
// bounded FIFO backlog for when delivery fails. Grounded on
// engine/telemetry/events.Bus (subscriber map guarded by a
// mutex, atomic counters, Subscribe/Unsubscribe/Publish/Stats shape), adapted
// to the spec's filter semantics, backlog buffering and FlushBuffer
// operation, and instrumented through the metrics.Provider facade instead of
// direct Prometheus calls.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/amois3/matrixwatcher/internal/model"
	"github.com/amois3/matrixwatcher/internal/telemetry/metrics"
)

const defaultBacklogCap = 1000

// Filter restricts delivery to a subscriber. A nil/empty field accepts any
// value for that dimension (§4.1).
type Filter struct {
	EventTypes  []model.EventType
	Sources     []string
	MinSeverity model.Severity
}

func (f *Filter) matches(ev model.Event) bool {
	if f == nil {
		return true
	}
	if len(f.EventTypes) > 0 && !containsType(f.EventTypes, ev.Type) {
		return false
	}
	if len(f.Sources) > 0 && !containsString(f.Sources, ev.Source) {
		return false
	}
	if ev.Severity < f.MinSeverity {
		return false
	}
	return true
}

func containsType(s []model.EventType, v model.EventType) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// Callback receives delivered events. It must not block for long; the bus
// calls it synchronously within Publish's caller context (§4.1).
type Callback func(ev model.Event)

// Stats mirrors §4.1's Stats() operation.
type Stats struct {
	SubscriberCount int64
	TotalPublished  int64
	TotalDelivered  int64
	TotalDropped    int64
}

// Bus is the C1 contract.
type Bus struct {
	mu   sync.RWMutex
	subs map[int64]*subscriber
	next int64

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64

	provider    metrics.Provider
	mPublished  metrics.Counter
	mDelivered  metrics.Counter
	mDropped    metrics.Counter
	backlogCap  int
}

// New constructs a Bus. provider may be metrics.NewNoopProvider(); backlogCap
// <= 0 uses the spec's default of 1000 (§4.1).
func New(provider metrics.Provider, backlogCap int) *Bus {
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	if backlogCap <= 0 {
		backlogCap = defaultBacklogCap
	}
	b := &Bus{
		subs:       make(map[int64]*subscriber),
		provider:   provider,
		backlogCap: backlogCap,
	}
	b.mPublished = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "sentinel", Subsystem: "bus", Name: "published_total", Help: "Total events published"}})
	b.mDelivered = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "sentinel", Subsystem: "bus", Name: "delivered_total", Help: "Total events delivered to subscribers"}})
	b.mDropped = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "sentinel", Subsystem: "bus", Name: "dropped_total", Help: "Total backlog events dropped on overflow", Labels: []string{"subscriber"}}})
	return b
}

type subscriber struct {
	id       int64
	filter   *Filter
	callback Callback

	mu      sync.Mutex
	backlog []model.Event
	cap     int
	dropped int64
}

// Subscribe registers callback for events matching filter, returning an
// opaque subscription id (§4.1).
func (b *Bus) Subscribe(callback Callback, filter *Filter) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	b.subs[id] = &subscriber{id: id, filter: filter, callback: callback, cap: b.backlogCap}
	return id
}

// Unsubscribe removes a subscription, returning false if it did not exist.
func (b *Bus) Unsubscribe(id int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[id]; !ok {
		return false
	}
	delete(b.subs, id)
	return true
}

// Publish delivers ev synchronously to every matching subscriber, returning
// the count that accepted it. A panic inside a subscriber callback is
// recovered, the event is appended to that subscriber's backlog (dropping the
// oldest entry on overflow), and delivery continues to the remaining
// subscribers (§4.1, §7 "Consumer failure on the bus").
func (b *Bus) Publish(ev model.Event) int {
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	b.published.Add(1)
	b.mPublished.Inc(1)

	accepted := 0
	for _, s := range subs {
		if !s.filter.matches(ev) {
			continue
		}
		accepted++
		if b.deliverOne(s, ev) {
			b.delivered.Add(1)
			b.mDelivered.Inc(1)
		}
	}
	return accepted
}

// deliverOne invokes s.callback, catching panics and buffering on failure.
// Returns true if the callback ran to completion.
func (b *Bus) deliverOne(s *subscriber, ev model.Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			b.bufferEvent(s, ev)
		}
	}()
	s.callback(ev)
	return true
}

func (b *Bus) bufferEvent(s *subscriber, ev model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.backlog) >= s.cap {
		s.backlog = s.backlog[1:]
		s.dropped++
		b.dropped.Add(1)
		b.mDropped.Inc(1, formatID(s.id))
	}
	s.backlog = append(s.backlog, ev)
}

// FlushBuffer re-delivers a subscriber's buffered events in FIFO order,
// stopping at the first delivery failure (§4.1). Returns the number
// successfully redelivered.
func (b *Bus) FlushBuffer(id int64) int {
	b.mu.RLock()
	s, ok := b.subs[id]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	s.mu.Lock()
	pending := s.backlog
	s.backlog = nil
	s.mu.Unlock()

	flushed := 0
	for i, ev := range pending {
		// Invoke the callback directly rather than via deliverOne, which would
		// re-buffer the failed event on top of the put-back below.
		delivered := func() (done bool) {
			defer func() {
				if recover() != nil {
					done = false
				}
			}()
			s.callback(ev)
			return true
		}()
		if delivered {
			flushed++
			b.delivered.Add(1)
			b.mDelivered.Inc(1)
		} else {
			// put the rest back, including the one that just failed
			s.mu.Lock()
			s.backlog = append(append([]model.Event{}, pending[i:]...), s.backlog...)
			s.mu.Unlock()
			break
		}
	}
	return flushed
}

// Stats returns bus-wide counters (§4.1).
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		SubscriberCount: int64(len(b.subs)),
		TotalPublished:  b.published.Load(),
		TotalDelivered:  b.delivered.Load(),
		TotalDropped:    b.dropped.Load(),
	}
}

func formatID(id int64) string {
	if id == 0 {
		return "0"
	}
	neg := id < 0
	if neg {
		id = -id
	}
	var digits [20]byte
	i := len(digits)
	for id > 0 {
		i--
		digits[i] = byte('0' + (id % 10))
		id /= 10
	}
	if neg {
		i--
		digits[i] = '-'
	}
	return string(digits[i:])
}
