//go:build !windows

package supervisor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/loykin/svcman/internal/env"
	"github.com/loykin/svcman/internal/events"
	"github.com/loykin/svcman/internal/process"
)

func newExecSupervisor(t *testing.T, svcs ...Service) (*Supervisor, *recorder) {
	t.Helper()
	sup, err := New(Options{Services: svcs, Env: env.New()})
	if err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	unsub := sup.Bus().Subscribe(rec.add)
	t.Cleanup(func() {
		unsub()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})
	return sup, rec
}

func TestExecOutputAndExit(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}
	sup, rec := newExecSupervisor(t, Service{
		Spec: process.Spec{Name: "echo", Command: "sh", Args: []string{"-c", "echo hello; echo oops 1>&2; exit 2"}},
	})
	if _, err := sup.Start(t.Context(), "echo"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "stopped event", func() bool { return len(rec.lifecycle(events.Stopped, "echo")) == 1 })

	stopped := rec.lifecycle(events.Stopped, "echo")[0]
	if stopped.ExitCode == nil || *stopped.ExitCode != 2 {
		t.Fatalf("exit code = %v", stopped.ExitCode)
	}
	var out, errOut strings.Builder
	for _, ev := range rec.snapshot() {
		if l, ok := ev.(events.LogEvent); ok {
			if l.IsError {
				errOut.WriteString(l.Data)
			} else {
				out.WriteString(l.Data)
			}
		}
	}
	if !strings.Contains(out.String(), "hello") || !strings.Contains(errOut.String(), "oops") {
		t.Fatalf("stdout=%q stderr=%q", out.String(), errOut.String())
	}
	st, _ := sup.Status("echo")
	if st.Managed {
		t.Fatal("exited service still managed")
	}
}

func TestExecStopAndWait(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}
	sup, rec := newExecSupervisor(t, Service{
		Spec: process.Spec{Name: "sleeper", Command: "sleep", Args: []string{"30"}},
	})
	started, err := sup.Start(t.Context(), "sleeper")
	if err != nil {
		t.Fatal(err)
	}
	st, _ := sup.Status("sleeper")
	if !st.Managed || st.PID == nil || *st.PID != started.PID {
		t.Fatalf("status after start: %+v", st)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	if _, err := sup.StopAndWait(ctx, "sleeper"); err != nil {
		t.Fatalf("stop and wait: %v", err)
	}
	stopped := rec.lifecycle(events.Stopped, "sleeper")
	waitFor(t, "stopped event", func() bool {
		stopped = rec.lifecycle(events.Stopped, "sleeper")
		return len(stopped) == 1
	})
	if stopped[0].Signal == "" {
		t.Fatalf("expected a terminating signal, got %+v", stopped[0])
	}
}
