package supervisor

import (
	"errors"

	"github.com/loykin/svcman/internal/process"
)

var (
	ErrUnknownService = errors.New("unknown service")
	ErrPortOccupied   = errors.New("port already in use")
	ErrSpawnFailed    = errors.New("failed to start service")
	ErrShuttingDown   = errors.New("supervisor is shutting down")
)

// Messages returned in StartResult/StopResult-backed responses.
const (
	MsgStarted        = "started"
	MsgAlreadyRunning = "already running"
	MsgStopped        = "stopped"
	MsgNotRunning     = "not running"
)

// Service is one entry of the fixed service registry.
type Service struct {
	Spec      process.Spec
	Port      int  // 0 when the service has no known port
	ProbePort bool // treat a bound Port as running, and refuse to start over it
}

func (s Service) Name() string { return s.Spec.Name }

// Status is the externally visible state of one service.
// Managed is true iff the supervisor holds a live entry; Running additionally
// counts an occupied port when probing is enabled for the service.
type Status struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	Managed bool   `json:"managed"`
	Port    int    `json:"port"`
	PID     *int   `json:"pid"`
}

type StartResult struct {
	PID            int
	AlreadyRunning bool
}

// Message is the human readable outcome of the start request.
func (r StartResult) Message() string {
	if r.AlreadyRunning {
		return MsgAlreadyRunning
	}
	return MsgStarted
}

type StopResult struct {
	Message string
	PID     *int // nil when nothing was running
}

// Proc is a spawned child as seen by the supervisor. Events must deliver
// output chunks followed by exactly one exit event and then close.
type Proc interface {
	PID() int
	Events() <-chan process.Event
	Terminate() error
	Kill() error
}

// Spawner launches service processes.
type Spawner interface {
	Spawn(spec process.Spec, env []string) (Proc, error)
}

// SpawnFunc adapts a function to Spawner.
type SpawnFunc func(spec process.Spec, env []string) (Proc, error)

func (f SpawnFunc) Spawn(spec process.Spec, env []string) (Proc, error) { return f(spec, env) }

// ExecSpawner starts real OS processes through process.Spawn.
var ExecSpawner Spawner = SpawnFunc(func(spec process.Spec, env []string) (Proc, error) {
	h, err := process.Spawn(spec, env)
	if err != nil {
		return nil, err
	}
	return h, nil
})
