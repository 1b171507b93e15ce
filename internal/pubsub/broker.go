package pubsub

import (
	"context"
	"slices"
	"sync"
	"time"
)

const defaultBufferSize = 64

type subscription[T any] struct {
	ch    chan Event[T]
	types []EventType // empty means all
}

func (s *subscription[T]) wants(t EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// Stats is a snapshot of broker activity.
type Stats struct {
	Subscribers int
	Published   uint64
	Dropped     uint64 // deliveries skipped because a buffer was full
}

// Broker delivers each published event to every matching subscriber. A
// subscriber whose buffer is full misses the event.
type Broker[T any] struct {
	mu      sync.Mutex
	subs    map[*subscription[T]]struct{}
	closed  bool
	bufSize int
	seq     uint64
	dropped uint64
	now     func() time.Time
}

// NewBroker creates a broker with a 64-event buffer per subscriber.
func NewBroker[T any]() *Broker[T] {
	return NewBrokerWithBuffer[T](defaultBufferSize)
}

// NewBrokerWithBuffer creates a broker with the given per-subscriber buffer.
func NewBrokerWithBuffer[T any](size int) *Broker[T] {
	if size < 1 {
		size = 1
	}
	return &Broker[T]{
		subs:    make(map[*subscription[T]]struct{}),
		bufSize: size,
		now:     time.Now,
	}
}

// WithClock replaces the clock used to stamp events.
func (b *Broker[T]) WithClock(now func() time.Time) *Broker[T] {
	b.now = now
	return b
}

// Subscribe registers a subscriber until ctx ends, at which point its
// channel is closed. Subscribing to a closed broker yields a closed channel.
func (b *Broker[T]) Subscribe(ctx context.Context, types ...EventType) <-chan Event[T] {
	sub := &subscription[T]{
		ch:    make(chan Event[T], b.bufSize),
		types: slices.Clone(types),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	context.AfterFunc(ctx, func() { b.unsubscribe(sub) })
	return sub.ch
}

func (b *Broker[T]) unsubscribe(sub *subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return // broker closed it already
	}
	delete(b.subs, sub)
	close(sub.ch)
}

// Publish stamps the event and offers it to each matching subscriber. It
// never blocks.
func (b *Broker[T]) Publish(eventType EventType, payload T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.seq++
	event := Event[T]{Seq: b.seq, Type: eventType, Payload: payload, Timestamp: b.now()}
	for sub := range b.subs {
		if !sub.wants(eventType) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.dropped++
		}
	}
}

// Close closes every subscriber channel. Later publishes are ignored. Close
// is safe to call more than once.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	clear(b.subs)
}

// SubscriberCount returns the number of live subscribers.
func (b *Broker[T]) SubscriberCount() int {
	return b.Stats().Subscribers
}

// Stats returns current counters.
func (b *Broker[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{Subscribers: len(b.subs), Published: b.seq, Dropped: b.dropped}
}
