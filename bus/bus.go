// Package bus implements the process-local, single-topic publish/subscribe
// seam (C7 in the spec): bounded per-subscriber queues with drop-oldest
// eviction, and no backpressure on the publisher.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	wc "github.com/fluxline/workflowcore"
	"github.com/fluxline/workflowcore/internal/metrics"
)

// DefaultQueueSize is the default bounded queue depth per subscription.
const DefaultQueueSize = 256

// Subscription is a handle returned from Bus.Subscribe. Its queue is
// bounded; when full, Publish drops the oldest queued event and increments
// Dropped. Per-subscription delivery is FIFO; there is no cross-subscription
// ordering guarantee.
type Subscription struct {
	id     string
	filter wc.EventFilter

	mu      sync.Mutex
	queue   []wc.Event
	cap     int
	dropped atomic.Int64

	closed atomic.Bool
	notify chan struct{}
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string { return s.id }

// Dropped returns the number of events dropped from this subscription's
// queue due to being full when a new event arrived.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Recv blocks until an event is available or the subscription is closed. It
// returns ok=false once the subscription is closed and its queue drained.
func (s *Subscription) Recv() (wc.Event, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			e := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return e, true
		}
		closed := s.closed.Load()
		s.mu.Unlock()
		if closed {
			return wc.Event{}, false
		}
		<-s.notify
	}
}

// TryRecv returns immediately: the next queued event (if any), and whether
// one was available.
func (s *Subscription) TryRecv() (wc.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return wc.Event{}, false
	}
	e := s.queue[0]
	s.queue = s.queue[1:]
	return e, true
}

func (s *Subscription) enqueue(e wc.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) >= s.cap {
		// Drop the oldest event in this subscription's queue; never block
		// the publisher.
		s.queue = s.queue[1:]
		s.dropped.Add(1)
		metrics.BusDropped.WithLabelValues(s.id).Inc()
	}
	s.queue = append(s.queue, e)
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		s.mu.Lock()
		s.wake()
		s.mu.Unlock()
	}
}

// Bus is the concrete, in-process implementation of wc.EventPublisher plus
// subscribe/unsubscribe. The zero value is not usable; use New.
type Bus struct {
	queueSize int

	mu          sync.RWMutex
	subscribers map[string]*Subscription
	stopped     bool
}

// New constructs a Bus whose subscriptions use queueSize as their bound. A
// non-positive queueSize falls back to DefaultQueueSize.
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		queueSize:   queueSize,
		subscribers: make(map[string]*Subscription),
	}
}

// Subscribe returns a new Subscription whose queue starts empty (no
// replay). filter may be nil to accept every event.
func (b *Bus) Subscribe(filter wc.EventFilter) *Subscription {
	sub := &Subscription{
		id:     uuid.NewString(),
		filter: filter,
		cap:    b.queueSize,
		notify: make(chan struct{}, 1),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		sub.close()
		return sub
	}
	b.subscribers[sub.id] = sub
	return sub
}

// Unsubscribe removes sub and closes its queue.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	delete(b.subscribers, sub.id)
	b.mu.Unlock()
	sub.close()
}

// Publish fans e out to every subscription whose filter accepts it. It
// never blocks: a full subscriber queue drops its oldest entry instead.
// Publish is a no-op (not an error) after Shutdown, per §4.7's cancellation
// contract.
func (b *Bus) Publish(e wc.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return
	}
	metrics.BusPublished.WithLabelValues(e.Type).Inc()
	for _, sub := range b.subscribers {
		if sub.filter == nil || sub.filter(e) {
			sub.enqueue(e)
		}
	}
}

// Shutdown closes every subscription and rejects further Publish calls.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	for id, sub := range b.subscribers {
		sub.close()
		delete(b.subscribers, id)
	}
}

var _ wc.EventPublisher = (*Bus)(nil)
