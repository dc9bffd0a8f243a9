// Package events provides the bounded typed channels the host's subsystems
// communicate over. Queues are single-consumer; buses fan out to any number
// of bounded subscribers. Publishing never blocks: a full queue fails the
// sender with ResourceExhausted, a full subscriber drops that delivery and
// counts it.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/beaconkit/beacon/internal/errs"
)

// Queue is a bounded single-consumer channel.
type Queue[T any] struct {
	name string
	ch   chan T
}

// NewQueue creates a bounded queue. Capacity must be positive.
func NewQueue[T any](name string, capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{name: name, ch: make(chan T, capacity)}
}

// Publish enqueues v without blocking. A full queue fails with
// ResourceExhausted rather than applying backpressure upstream.
func (q *Queue[T]) Publish(v T) error {
	select {
	case q.ch <- v:
		return nil
	default:
		return errs.ResourceExhausted("queue " + q.name)
	}
}

// C returns the receive side.
func (q *Queue[T]) C() <-chan T { return q.ch }

// Len returns the number of buffered events.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Bus fans events out to multiple bounded subscribers.
type Bus[T any] struct {
	name    string
	cap     int
	mu      sync.RWMutex
	subs    []chan T
	dropped atomic.Int64
}

// NewBus creates a bus whose subscribers each get a buffer of capacity.
func NewBus[T any](name string, capacity int) *Bus[T] {
	if capacity <= 0 {
		capacity = 16
	}
	return &Bus[T]{name: name, cap: capacity}
}

// Subscribe registers a new bounded subscriber channel.
func (b *Bus[T]) Subscribe() <-chan T {
	ch := make(chan T, b.cap)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish delivers v to every subscriber without blocking. Deliveries to
// full subscribers are dropped and counted; slow consumers never stall the
// publisher.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the number of deliveries dropped due to full subscribers.
func (b *Bus[T]) Dropped() int64 { return b.dropped.Load() }

// Close closes all subscriber channels. Publish must not be called after
// Close.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
