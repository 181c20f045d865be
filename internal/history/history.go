// Package history exports service lifecycle events to external stores.
package history

import (
	"context"
	"time"

	"github.com/loykin/svcman/internal/events"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart EventType = "start"
	EventStop  EventType = "stop"
)

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Service    string    `json:"service"`
	PID        int       `json:"pid"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	Signal     string    `json:"signal,omitempty"`
}

// FromLifecycle converts a bus event.
func FromLifecycle(ev events.LifecycleEvent) Event {
	t := EventStart
	if ev.Kind == events.Stopped {
		t = EventStop
	}
	return Event{
		ID:         ev.ID,
		Type:       t,
		OccurredAt: ev.Timestamp.UTC(),
		Service:    ev.Service,
		PID:        ev.PID,
		ExitCode:   ev.ExitCode,
		Signal:     ev.Signal,
	}
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
