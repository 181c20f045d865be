// Package events carries service log and lifecycle notifications from the
// supervisor to any number of subscribers.
package events

import (
	"time"

	"github.com/google/uuid"
)

// SSE event names used on the wire.
const (
	NameServiceLog     = "service-log"
	NameServiceStarted = "service-started"
	NameServiceStopped = "service-stopped"
)

// Event is implemented by every payload carried on the Bus.
type Event interface {
	// EventName is the SSE event name.
	EventName() string
	// ServiceName is the service the event belongs to.
	ServiceName() string
}

// LogEvent is one chunk of captured service output.
type LogEvent struct {
	ID        string    `json:"id"`
	Service   string    `json:"serviceName"`
	Data      string    `json:"data"`
	IsError   bool      `json:"isError"`
	Timestamp time.Time `json:"timestamp"`
}

func (e LogEvent) EventName() string   { return NameServiceLog }
func (e LogEvent) ServiceName() string { return e.Service }

// LifecycleKind distinguishes started and stopped notifications.
type LifecycleKind string

const (
	Started LifecycleKind = "started"
	Stopped LifecycleKind = "stopped"
)

// LifecycleEvent reports a service process starting or terminating.
// ExitCode and Signal are only set for Stopped.
type LifecycleEvent struct {
	ID        string        `json:"id"`
	Kind      LifecycleKind `json:"kind"`
	Service   string        `json:"serviceName"`
	PID       int           `json:"pid"`
	ExitCode  *int          `json:"exitCode,omitempty"`
	Signal    string        `json:"signal,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

func (e LifecycleEvent) EventName() string {
	if e.Kind == Stopped {
		return NameServiceStopped
	}
	return NameServiceStarted
}

func (e LifecycleEvent) ServiceName() string { return e.Service }

// NewLog builds a LogEvent stamped with a fresh id and the current time.
func NewLog(service, data string, isError bool) LogEvent {
	return LogEvent{ID: uuid.NewString(), Service: service, Data: data, IsError: isError, Timestamp: time.Now()}
}

// NewStarted builds a Started lifecycle event.
func NewStarted(service string, pid int) LifecycleEvent {
	return LifecycleEvent{ID: uuid.NewString(), Kind: Started, Service: service, PID: pid, Timestamp: time.Now()}
}

// NewStopped builds a Stopped lifecycle event.
func NewStopped(service string, pid, exitCode int, signal string) LifecycleEvent {
	code := exitCode
	return LifecycleEvent{
		ID:        uuid.NewString(),
		Kind:      Stopped,
		Service:   service,
		PID:       pid,
		ExitCode:  &code,
		Signal:    signal,
		Timestamp: time.Now(),
	}
}
