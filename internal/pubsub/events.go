// Package pubsub provides a generic publish/subscribe event broker.
package pubsub

import (
	"context"
	"time"
)

// EventType names the operation that produced an event.
type EventType string

const (
	// Session status replacements, one per operation that re-queried status.
	InitializedEvent EventType = "initialize"
	LoginEvent       EventType = "login"
	LogoutEvent      EventType = "logout"
	RefreshEvent     EventType = "refresh"

	// LogEvent carries a formatted log line.
	LogEvent EventType = "log"
)

// Event is a published value with its type and publish time.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
