package events

import (
	"sync/atomic"

	"github.com/kelindar/event"

	"github.com/loykin/svcman/internal/metrics"
)

const typeServiceEvent uint32 = 1

// envelope is the single type dispatched through kelindar/event. Using one
// type keeps every subscriber on one queue, so logs and lifecycle events are
// delivered in publish order.
type envelope struct {
	ev Event
}

func (envelope) Type() uint32 { return typeServiceEvent }

// Bus wraps a kelindar/event dispatcher. Every subscriber gets its own queue
// and goroutine; Publish never waits on a subscriber.
type Bus struct {
	dispatcher  *event.Dispatcher
	subscribers atomic.Int64
}

// New creates a new event bus
func New() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// Publish delivers ev to every subscriber connected at this moment.
func (b *Bus) Publish(ev Event) {
	if ev == nil {
		return
	}
	metrics.IncEventPublished(ev.EventName())
	event.Publish(b.dispatcher, envelope{ev: ev})
}

// Subscribe registers fn for all future events. fn runs on the subscriber's
// own goroutine, one event at a time. The returned func unsubscribes.
func (b *Bus) Subscribe(fn func(Event)) func() {
	cancel := event.Subscribe(b.dispatcher, func(e envelope) { fn(e.ev) })
	metrics.SetSubscribers(int(b.subscribers.Add(1)))
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			cancel()
			metrics.SetSubscribers(int(b.subscribers.Add(-1)))
		}
	}
}

// SubscribeToChannel forwards events into ch without blocking; events are
// dropped while ch is full.
func (b *Bus) SubscribeToChannel(ch chan<- Event) func() {
	return b.Subscribe(func(e Event) {
		select {
		case ch <- e:
		default:
			metrics.IncEventDropped(e.EventName())
		}
	})
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	return int(b.subscribers.Load())
}
