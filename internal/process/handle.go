package process

import (
	"errors"
	"io"
	"os/exec"
	"sync"
	"time"
)

// DefaultWaitDelay bounds how long output is still collected after the child
// exits while a grandchild keeps the pipes open.
const DefaultWaitDelay = 2 * time.Second

const eventBuffer = 256

// ExitStatus describes how a child terminated.
type ExitStatus struct {
	Code   int    // -1 when terminated by a signal
	Signal string // signal name when terminated by a signal
	Err    error  // wait failure other than a non-zero exit
}

// Event is one item of a Handle's stream: an output chunk, or the terminal
// exit notification when Exit is set.
type Event struct {
	Data    string
	IsError bool
	Exit    *ExitStatus
}

// Handle is a running child process and its event stream.
type Handle struct {
	name    string
	pid     int
	cmd     *exec.Cmd
	events  chan Event
	done    chan struct{}
	closers []io.Closer

	mu     sync.Mutex
	closed bool
	exit   ExitStatus
}

// Spawn starts spec with env as its complete environment; an empty env
// inherits the current one. Output chunks arrive on Events in write order per
// stream, followed by exactly one exit event, after which the channel is
// closed. The caller must drain Events: a stalled reader stalls the child's
// output.
func Spawn(spec Spec, env []string) (*Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(env) > 0 {
		cmd.Env = env
	}
	configureSysProcAttr(cmd)
	cmd.WaitDelay = DefaultWaitDelay

	h := &Handle{
		name:   spec.Name,
		cmd:    cmd,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
	var outTee, errTee io.Writer
	if spec.Log.Enabled() {
		ow, ew, err := spec.Log.Writers(spec.Name)
		if err != nil {
			return nil, err
		}
		if ow != nil {
			outTee = ow
			h.closers = append(h.closers, ow)
		}
		if ew != nil {
			errTee = ew
			h.closers = append(h.closers, ew)
		}
	}
	cmd.Stdout = &chunkWriter{h: h, tee: outTee}
	cmd.Stderr = &chunkWriter{h: h, tee: errTee, isErr: true}

	if err := cmd.Start(); err != nil {
		h.closeLogs()
		return nil, err
	}
	h.pid = cmd.Process.Pid
	go h.wait()
	return h, nil
}

func (h *Handle) Name() string { return h.name }

func (h *Handle) PID() int { return h.pid }

// Events returns the per-process stream. It is closed after the exit event.
func (h *Handle) Events() <-chan Event { return h.events }

// Done is closed once the exit event has been emitted.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited returns the exit status once the process has terminated.
func (h *Handle) Exited() (ExitStatus, bool) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.exit, true
	default:
		return ExitStatus{}, false
	}
}

// Terminate requests a graceful shutdown of the process and its group.
// It does not wait for the exit.
func (h *Handle) Terminate() error {
	if _, ok := h.Exited(); ok {
		return nil
	}
	return terminate(h.pid)
}

// Kill forcefully kills the process and all of its descendants.
func (h *Handle) Kill() error {
	if _, ok := h.Exited(); ok {
		return nil
	}
	return forceKill(h.pid)
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	st := ExitStatus{Code: -1}
	if ps := h.cmd.ProcessState; ps != nil {
		st.Code = ps.ExitCode()
		st.Signal = exitSignal(ps)
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		st.Err = err
	}

	h.mu.Lock()
	h.exit = st
	h.events <- Event{Exit: &st}
	h.closed = true
	close(h.events)
	h.mu.Unlock()

	close(h.done)
	h.closeLogs()
}

func (h *Handle) emit(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.events <- ev
}

func (h *Handle) closeLogs() {
	for _, c := range h.closers {
		_ = c.Close()
	}
}

// chunkWriter turns each write from the child's pipe into an Event.
type chunkWriter struct {
	h     *Handle
	tee   io.Writer
	isErr bool
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if w.tee != nil {
		_, _ = w.tee.Write(p)
	}
	w.h.emit(Event{Data: string(p), IsError: w.isErr})
	return len(p), nil
}
