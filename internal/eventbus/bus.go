// Package eventbus implements the orchestrator's Event Bus (C1): a single
// logical channel fanning events out to N live subscribers, each getting
// a full copy of every event published after it subscribed.
//
// The bus never blocks the publisher. A subscriber whose buffer is full
// is marked lagged and silently misses events rather than stalling every
// other subscriber or the engine itself — see §4.1 of the design.
package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/first-fluke/cratos-sub006/pkg/models"
)

// DefaultBufferSize is the default per-subscriber buffer capacity.
const DefaultBufferSize = 256

// Bus is a lossy, non-blocking, multi-subscriber event fan-out.
//
// The subscriber map is guarded by a read-biased lock: Publish (the hot
// path) takes a read lock to snapshot subscriber channels; Subscribe and
// Unsubscribe (rare) take the write lock.
type Bus struct {
	mu         sync.RWMutex
	subs       map[uint64]*subscriber
	nextID     uint64
	bufferSize int
}

type subscriber struct {
	ch     chan models.Event
	lagged uint64 // atomic count of events this subscriber missed
}

// New creates a Bus with the given per-subscriber buffer size. A
// non-positive size falls back to DefaultBufferSize.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{subs: make(map[uint64]*subscriber), bufferSize: bufferSize}
}

// Subscription is a live handle on a bus subscription. Dropping it (via
// Close) immediately releases the subscriber's slot.
type Subscription struct {
	bus    *Bus
	id     uint64
	stream <-chan models.Event
}

// Stream returns the channel of events delivered to this subscription.
func (s *Subscription) Stream() <-chan models.Event { return s.stream }

// Lagged returns the number of events this subscription has missed due to
// a full buffer.
func (s *Subscription) Lagged() uint64 {
	s.bus.mu.RLock()
	defer s.bus.mu.RUnlock()
	if sub, ok := s.bus.subs[s.id]; ok {
		return atomic.LoadUint64(&sub.lagged)
	}
	return 0
}

// Close unsubscribes, releasing the subscriber's slot immediately.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if sub, ok := s.bus.subs[s.id]; ok {
		delete(s.bus.subs, s.id)
		close(sub.ch)
	}
}

// Subscribe registers a new subscriber and returns its subscription. The
// subscriber receives every event published after this call returns.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	sub := &subscriber{ch: make(chan models.Event, b.bufferSize)}
	b.subs[id] = sub
	return &Subscription{bus: b, id: id, stream: sub.ch}
}

// Publish delivers an event to every live subscriber, in publish order per
// publisher. It never blocks: a subscriber whose buffer is full is marked
// lagged and the event is dropped for that subscriber only. With no
// subscribers, the event is discarded silently — publishing has no other
// side effect. Returns the number of subscribers the event was delivered
// to.
func (b *Bus) Publish(e models.Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	delivered := 0
	for _, sub := range b.subs {
		select {
		case sub.ch <- e:
			delivered++
		default:
			atomic.AddUint64(&sub.lagged, 1)
		}
	}
	return delivered
}

// SubscriberCount returns the current number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
