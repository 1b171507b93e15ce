// Package pubsub fans typed events out to subscribers without ever blocking
// the publisher.
package pubsub

import (
	"context"
	"slices"
	"time"
)

// EventType names what happened to the payload.
type EventType string

const (
	CreatedEvent       EventType = "created"
	UpdatedEvent       EventType = "updated"
	DeletedEvent       EventType = "deleted"
	StatusChangedEvent EventType = "status_changed"
	// InvalidatedEvent means a whole cache namespace was dropped.
	InvalidatedEvent EventType = "invalidated"
)

// AllEventTypes lists every event type in publish-independent order.
func AllEventTypes() []EventType {
	return []EventType{CreatedEvent, UpdatedEvent, DeletedEvent, StatusChangedEvent, InvalidatedEvent}
}

// ParseEventType reports whether s names a known event type.
func ParseEventType(s string) (EventType, bool) {
	t := EventType(s)
	return t, slices.Contains(AllEventTypes(), t)
}

// Event is one delivery. Seq increases by one per publish on a broker, so a
// subscriber that sees a jump knows it lost events.
type Event[T any] struct {
	Seq       uint64    `json:"seq"`
	Type      EventType `json:"type"`
	Payload   T         `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscriber hands out event channels. With no types every event is
// delivered; otherwise only the named types are.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context, types ...EventType) <-chan Event[T]
}

// Publisher accepts events.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
