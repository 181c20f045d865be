package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loykin/svcman/internal/env"
	"github.com/loykin/svcman/internal/events"
	"github.com/loykin/svcman/internal/process"
)

type fakeProc struct {
	pid        int
	ch         chan process.Event
	ignoreTerm bool
	terms      atomic.Int32
	kills      atomic.Int32
	once       sync.Once
}

func newFakeProc(pid int) *fakeProc {
	return &fakeProc{pid: pid, ch: make(chan process.Event, 64)}
}

func (p *fakeProc) PID() int                     { return p.pid }
func (p *fakeProc) Events() <-chan process.Event { return p.ch }

func (p *fakeProc) Terminate() error {
	p.terms.Add(1)
	if !p.ignoreTerm {
		p.exit(process.ExitStatus{Code: -1, Signal: "terminated"})
	}
	return nil
}

func (p *fakeProc) Kill() error {
	p.kills.Add(1)
	p.exit(process.ExitStatus{Code: -1, Signal: "killed"})
	return nil
}

func (p *fakeProc) output(data string, isErr bool) {
	p.ch <- process.Event{Data: data, IsError: isErr}
}

// exit emits the terminal event once and closes the stream.
func (p *fakeProc) exit(st process.ExitStatus) {
	p.once.Do(func() {
		p.ch <- process.Event{Exit: &st}
		close(p.ch)
	})
}

type fakeSpawner struct {
	mu         sync.Mutex
	nextPID    int
	procs      []*fakeProc
	envs       [][]string
	fail       error
	ignoreTerm bool
}

func (f *fakeSpawner) Spawn(spec process.Spec, env []string) (Proc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.nextPID++
	p := newFakeProc(1000 + f.nextPID)
	p.ignoreTerm = f.ignoreTerm
	f.procs = append(f.procs, p)
	f.envs = append(f.envs, env)
	return p, nil
}

func (f *fakeSpawner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.procs)
}

func (f *fakeSpawner) last() *fakeProc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.procs[len(f.procs)-1]
}

var errSpawn = errors.New("exec: not found")

func testServices() []Service {
	return []Service{
		{Spec: process.Spec{Name: "client", Command: "client-bin"}, Port: 3000, ProbePort: true},
		{Spec: process.Spec{Name: "server", Command: "server-bin", Env: []string{"MODE=test"}}, Port: 5000, ProbePort: true},
		{Spec: process.Spec{Name: "agent", Command: "agent-bin"}, Port: 5001},
	}
}

type harness struct {
	sup   *Supervisor
	spawn *fakeSpawner
	busy  *atomic.Bool
	rec   *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{spawn: &fakeSpawner{}, busy: &atomic.Bool{}, rec: &recorder{}}
	bus := events.New()
	sup, err := New(Options{
		Services: testServices(),
		Env:      env.Isolated(),
		Bus:      bus,
		Spawner:  h.spawn,
		Probe:    func(int) bool { return h.busy.Load() },
	})
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	h.sup = sup
	unsub := bus.Subscribe(h.rec.add)
	t.Cleanup(func() {
		unsub()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})
	return h
}

type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) add(ev events.Event) {
	r.mu.Lock()
	r.evs = append(r.evs, ev)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.evs...)
}

func (r *recorder) lifecycle(kind events.LifecycleKind, service string) []events.LifecycleEvent {
	var out []events.LifecycleEvent
	for _, ev := range r.snapshot() {
		if lc, ok := ev.(events.LifecycleEvent); ok && lc.Kind == kind && lc.Service == service {
			out = append(out, lc)
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
