package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/svcman/internal/events"
)

// DefaultSendTimeout bounds one Send call per sink.
const DefaultSendTimeout = 5 * time.Second

// Recorder forwards lifecycle events from a bus to every sink. Log events
// are ignored. Sink failures are logged and never retried.
type Recorder struct {
	sinks   []Sink
	log     *slog.Logger
	timeout time.Duration

	mu    sync.Mutex
	unsub func()
}

func NewRecorder(log *slog.Logger, sinks ...Sink) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{sinks: sinks, log: log, timeout: DefaultSendTimeout}
}

// Attach subscribes the recorder to bus. Calling it again moves the
// subscription.
func (r *Recorder) Attach(bus *events.Bus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsub != nil {
		r.unsub()
	}
	r.unsub = bus.Subscribe(r.handle)
}

func (r *Recorder) handle(ev events.Event) {
	lc, ok := ev.(events.LifecycleEvent)
	if !ok {
		return
	}
	r.Record(context.Background(), FromLifecycle(lc))
}

// Record sends e to every sink.
func (r *Recorder) Record(ctx context.Context, e Event) {
	for _, s := range r.sinks {
		sctx, cancel := context.WithTimeout(ctx, r.timeout)
		if err := s.Send(sctx, e); err != nil {
			r.log.Warn("history sink failed", "service", e.Service, "type", e.Type, "error", err)
		}
		cancel()
	}
}

// Close unsubscribes and closes sinks that hold resources.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
	r.mu.Unlock()
	var errs []error
	for _, s := range r.sinks {
		if c, ok := s.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
