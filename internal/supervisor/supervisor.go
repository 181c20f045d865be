// Package supervisor owns the name → process table of the managed services.
// All table access happens on one control goroutine; callers talk to it
// through request messages, the same way per-process handlers serialise
// lifecycle operations.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/loykin/svcman/internal/env"
	"github.com/loykin/svcman/internal/events"
	"github.com/loykin/svcman/internal/metrics"
	"github.com/loykin/svcman/internal/portprobe"
	"github.com/loykin/svcman/internal/process"
)

// KillGrace is how long a forceful kill is given to produce the exit event.
const KillGrace = 2 * time.Second

type Options struct {
	Services []Service
	Env      *env.Env            // defaults to env.New()
	Bus      *events.Bus         // defaults to events.New()
	Logger   *slog.Logger        // defaults to slog.Default()
	Spawner  Spawner             // defaults to ExecSpawner
	Probe    func(port int) bool // defaults to portprobe.IsBusy
}

type Supervisor struct {
	services map[string]Service
	order    []string
	env      *env.Env
	bus      *events.Bus
	log      *slog.Logger
	spawner  Spawner
	probe    func(int) bool

	ctrl  chan request
	exits chan exitMsg
	quit  chan struct{}

	// owned by run
	entries map[string]*entry
	closing bool
}

type entry struct {
	name          string
	proc          Proc
	pid           int
	startedAt     time.Time
	stopRequested bool
	done          chan struct{}
}

type reqKind int

const (
	reqStatus reqKind = iota
	reqStatusAll
	reqStart
	reqStop
	reqRunning
	reqShutdown
	reqQuit
)

type request struct {
	kind  reqKind
	name  string
	reply chan response
}

type response struct {
	status   Status
	statuses []Status
	start    StartResult
	stop     StopResult
	stopped  *entry
	pending  []*entry
	running  map[string]int
	err      error
}

type exitMsg struct {
	e  *entry
	st process.ExitStatus
}

// New validates the registry and starts the control loop.
func New(opts Options) (*Supervisor, error) {
	s := &Supervisor{
		services: make(map[string]Service, len(opts.Services)),
		env:      opts.Env,
		bus:      opts.Bus,
		log:      opts.Logger,
		spawner:  opts.Spawner,
		probe:    opts.Probe,
		ctrl:     make(chan request),
		exits:    make(chan exitMsg),
		quit:     make(chan struct{}),
		entries:  make(map[string]*entry),
	}
	for _, svc := range opts.Services {
		if err := svc.Spec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.services[svc.Name()]; dup {
			return nil, fmt.Errorf("duplicate service name %q", svc.Name())
		}
		if svc.Port < 0 || svc.Port > portprobe.MaxPort {
			return nil, fmt.Errorf("service %q: port %d out of range", svc.Name(), svc.Port)
		}
		s.services[svc.Name()] = svc
		s.order = append(s.order, svc.Name())
	}
	if s.env == nil {
		s.env = env.New()
	}
	if s.bus == nil {
		s.bus = events.New()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.spawner == nil {
		s.spawner = ExecSpawner
	}
	if s.probe == nil {
		s.probe = portprobe.IsBusy
	}
	go s.run()
	return s, nil
}

// Bus returns the broadcaster the supervisor publishes to.
func (s *Supervisor) Bus() *events.Bus { return s.bus }

// Services returns the registry in configuration order.
func (s *Supervisor) Services() []Service {
	out := make([]Service, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.services[n])
	}
	return out
}

// Known reports whether name is in the registry.
func (s *Supervisor) Known(name string) bool {
	_, ok := s.services[name]
	return ok
}

// Status reports one service. Unknown names return ErrUnknownService.
func (s *Supervisor) Status(name string) (Status, error) {
	r, err := s.call(context.Background(), reqStatus, name)
	return r.status, err
}

// StatusAll reports every service in registry order.
func (s *Supervisor) StatusAll() ([]Status, error) {
	r, err := s.call(context.Background(), reqStatusAll, "")
	return r.statuses, err
}

// Running returns the pid of every service with a live entry.
func (s *Supervisor) Running() map[string]int {
	r, err := s.call(context.Background(), reqRunning, "")
	if err != nil {
		return map[string]int{}
	}
	return r.running
}

// Start spawns name unless it already has a live entry.
func (s *Supervisor) Start(ctx context.Context, name string) (StartResult, error) {
	r, err := s.call(ctx, reqStart, name)
	return r.start, err
}

// Stop signals graceful termination and clears the entry right away without
// waiting for the process to exit. The Stopped event follows when the exit is
// observed.
func (s *Supervisor) Stop(ctx context.Context, name string) (StopResult, error) {
	r, err := s.call(ctx, reqStop, name)
	return r.stop, err
}

// StopAndWait is Stop followed by waiting for the exit. When ctx ends first
// the process tree is killed and the context error is returned.
func (s *Supervisor) StopAndWait(ctx context.Context, name string) (StopResult, error) {
	r, err := s.call(ctx, reqStop, name)
	if err != nil || r.stopped == nil {
		return r.stop, err
	}
	if err := s.await(ctx, r.stopped); err != nil {
		return r.stop, fmt.Errorf("stop %s: %w", name, err)
	}
	return r.stop, nil
}

// Shutdown stops every managed service, waits for their exits, and ends the
// control loop. Later calls return ErrShuttingDown; Shutdown itself is idempotent.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	r, err := s.call(ctx, reqShutdown, "")
	if errors.Is(err, ErrShuttingDown) {
		return nil
	}
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range r.pending {
		if err := s.await(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", e.name, err))
		}
	}
	_, _ = s.call(context.Background(), reqQuit, "")
	return errors.Join(errs...)
}

func (s *Supervisor) await(ctx context.Context, e *entry) error {
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
	}
	s.log.Warn("graceful stop timed out, killing process tree", "service", e.name, "pid", e.pid)
	if err := e.proc.Kill(); err != nil {
		s.log.Error("kill failed", "service", e.name, "pid", e.pid, "error", err)
	}
	select {
	case <-e.done:
	case <-time.After(KillGrace):
	}
	return ctx.Err()
}

func (s *Supervisor) call(ctx context.Context, kind reqKind, name string) (response, error) {
	req := request{kind: kind, name: name, reply: make(chan response, 1)}
	select {
	case s.ctrl <- req:
	case <-s.quit:
		return response{}, ErrShuttingDown
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
	r := <-req.reply
	return r, r.err
}

func (s *Supervisor) run() {
	defer close(s.quit)
	for {
		select {
		case req := <-s.ctrl:
			if req.kind == reqQuit {
				req.reply <- response{}
				return
			}
			req.reply <- s.handle(req)
		case m := <-s.exits:
			s.handleExit(m)
		}
	}
}

func (s *Supervisor) handle(req request) response {
	switch req.kind {
	case reqStatus:
		st, err := s.statusOf(req.name)
		return response{status: st, err: err}
	case reqStatusAll:
		out := make([]Status, 0, len(s.order))
		for _, n := range s.order {
			st, _ := s.statusOf(n)
			out = append(out, st)
		}
		return response{statuses: out}
	case reqStart:
		res, err := s.handleStart(req.name)
		return response{start: res, err: err}
	case reqStop:
		return s.handleStop(req.name)
	case reqRunning:
		m := make(map[string]int, len(s.entries))
		for n, e := range s.entries {
			m[n] = e.pid
		}
		return response{running: m}
	case reqShutdown:
		return s.handleShutdown()
	}
	return response{err: fmt.Errorf("unsupported request %d", req.kind)}
}

func (s *Supervisor) statusOf(name string) (Status, error) {
	svc, ok := s.services[name]
	if !ok {
		return Status{}, fmt.Errorf("%w: %q", ErrUnknownService, name)
	}
	st := Status{Name: name, Port: svc.Port}
	if e := s.entries[name]; e != nil {
		pid := e.pid
		st.Managed = true
		st.PID = &pid
	}
	st.Running = st.Managed || s.portBusy(svc)
	return st, nil
}

func (s *Supervisor) portBusy(svc Service) bool {
	return svc.ProbePort && svc.Port > 0 && s.probe(svc.Port)
}

func (s *Supervisor) handleStart(name string) (StartResult, error) {
	svc, ok := s.services[name]
	if !ok {
		return StartResult{}, fmt.Errorf("%w: %q", ErrUnknownService, name)
	}
	if s.closing {
		return StartResult{}, ErrShuttingDown
	}
	if e := s.entries[name]; e != nil {
		return StartResult{PID: e.pid, AlreadyRunning: true}, nil
	}
	if s.portBusy(svc) {
		metrics.IncPortConflict(name)
		s.log.Warn("port already in use, not starting", "service", name, "port", svc.Port)
		return StartResult{}, fmt.Errorf("%w: %s port %d", ErrPortOccupied, name, svc.Port)
	}

	proc, err := s.spawner.Spawn(*svc.Spec.DeepCopy(), s.envFor(svc))
	if err != nil {
		metrics.IncSpawnFailure(name)
		s.log.Error("spawn failed", "service", name, "error", err)
		return StartResult{}, fmt.Errorf("%w: %s: %w", ErrSpawnFailed, name, err)
	}
	e := &entry{
		name:      name,
		proc:      proc,
		pid:       proc.PID(),
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	s.entries[name] = e
	metrics.IncStart(name)
	metrics.SetRunning(name, true)
	s.bus.Publish(events.NewStarted(name, e.pid))
	s.log.Info("service started", "service", name, "pid", e.pid)
	go s.pump(e)
	return StartResult{PID: e.pid}, nil
}

func (s *Supervisor) envFor(svc Service) []string {
	per := make([]string, 0, len(svc.Spec.Env)+1)
	if svc.Port > 0 {
		per = append(per, "PORT="+strconv.Itoa(svc.Port))
	}
	per = append(per, svc.Spec.Env...)
	return s.env.Merge(per)
}

// pump forwards output chunks to the bus and hands the exit to the loop.
func (s *Supervisor) pump(e *entry) {
	for ev := range e.proc.Events() {
		if ev.Exit != nil {
			select {
			case s.exits <- exitMsg{e: e, st: *ev.Exit}:
			case <-s.quit:
			}
			continue
		}
		s.bus.Publish(events.NewLog(e.name, ev.Data, ev.IsError))
	}
}

func (s *Supervisor) handleStop(name string) response {
	if _, ok := s.services[name]; !ok {
		return response{err: fmt.Errorf("%w: %q", ErrUnknownService, name)}
	}
	e := s.entries[name]
	if e == nil {
		return response{stop: StopResult{Message: MsgNotRunning}}
	}
	s.terminate(e)
	pid := e.pid
	return response{stop: StopResult{Message: MsgStopped, PID: &pid}, stopped: e}
}

// terminate signals e and removes it from the table without waiting.
func (s *Supervisor) terminate(e *entry) {
	e.stopRequested = true
	if err := e.proc.Terminate(); err != nil {
		s.log.Warn("terminate failed", "service", e.name, "pid", e.pid, "error", err)
	}
	delete(s.entries, e.name)
	metrics.IncStop(e.name)
	metrics.SetRunning(e.name, false)
	s.log.Info("service stop requested", "service", e.name, "pid", e.pid)
}

func (s *Supervisor) handleShutdown() response {
	s.closing = true
	pending := make([]*entry, 0, len(s.entries))
	for _, n := range s.order {
		if e := s.entries[n]; e != nil {
			s.terminate(e)
			pending = append(pending, e)
		}
	}
	return response{pending: pending}
}

func (s *Supervisor) handleExit(m exitMsg) {
	e := m.e
	if cur := s.entries[e.name]; cur == e {
		delete(s.entries, e.name)
		metrics.SetRunning(e.name, false)
	}
	attrs := []any{"service", e.name, "pid", e.pid, "code", m.st.Code, "uptime", time.Since(e.startedAt).Round(time.Millisecond)}
	if m.st.Signal != "" {
		attrs = append(attrs, "signal", m.st.Signal)
	}
	switch {
	case e.stopRequested:
		s.log.Info("service stopped", attrs...)
	case m.st.Code != 0:
		s.log.Warn("service crashed", attrs...)
	default:
		s.log.Info("service exited", attrs...)
	}
	if m.st.Err != nil {
		s.log.Debug("wait error", "service", e.name, "error", m.st.Err)
	}
	metrics.IncExit(e.name, m.st.Code)
	s.bus.Publish(events.NewStopped(e.name, e.pid, m.st.Code, m.st.Signal))
	close(e.done)
}
