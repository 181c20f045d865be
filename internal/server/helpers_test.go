package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/svcman/internal/env"
	"github.com/loykin/svcman/internal/process"
	"github.com/loykin/svcman/internal/supervisor"
)

type stubProc struct {
	pid  int
	ch   chan process.Event
	once sync.Once
}

func (p *stubProc) PID() int                     { return p.pid }
func (p *stubProc) Events() <-chan process.Event { return p.ch }
func (p *stubProc) Terminate() error             { p.exit(-1, "terminated"); return nil }
func (p *stubProc) Kill() error                  { p.exit(-1, "killed"); return nil }

func (p *stubProc) exit(code int, sig string) {
	p.once.Do(func() {
		p.ch <- process.Event{Exit: &process.ExitStatus{Code: code, Signal: sig}}
		close(p.ch)
	})
}

type stubSpawner struct {
	mu    sync.Mutex
	procs []*stubProc
}

func (s *stubSpawner) Spawn(process.Spec, []string) (supervisor.Proc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &stubProc{pid: 2000 + len(s.procs), ch: make(chan process.Event, 16)}
	s.procs = append(s.procs, p)
	return p, nil
}

func (s *stubSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

func (s *stubSpawner) last() *stubProc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[len(s.procs)-1]
}

type fixture struct {
	sup   *supervisor.Supervisor
	spawn *stubSpawner
	busy  *atomic.Bool
}

func newFixture(t *testing.T, probe bool, names ...string) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fixture{spawn: &stubSpawner{}, busy: &atomic.Bool{}}
	svcs := make([]supervisor.Service, 0, len(names))
	for i, n := range names {
		svcs = append(svcs, supervisor.Service{
			Spec:      process.Spec{Name: n, Command: n + "-bin"},
			Port:      3000 + i,
			ProbePort: probe,
		})
	}
	sup, err := supervisor.New(supervisor.Options{
		Services: svcs,
		Env:      env.Isolated(),
		Spawner:  f.spawn,
		Probe:    func(int) bool { return f.busy.Load() },
	})
	if err != nil {
		t.Fatal(err)
	}
	f.sup = sup
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})
	return f
}

func doReq(t *testing.T, h http.Handler, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		if s, ok := body.(string); ok {
			rdr = bytes.NewBufferString(s)
		} else {
			b, _ := json.Marshal(body)
			rdr = bytes.NewReader(b)
		}
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}
