// Package svcman supervises a small client/server/agent stack and exposes it
// over HTTP. It is a thin facade over the internal packages for embedding.
package svcman

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/svcman/internal/auth"
	"github.com/loykin/svcman/internal/config"
	"github.com/loykin/svcman/internal/events"
	"github.com/loykin/svcman/internal/history"
	"github.com/loykin/svcman/internal/history/factory"
	"github.com/loykin/svcman/internal/metrics"
	"github.com/loykin/svcman/internal/server"
	"github.com/loykin/svcman/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type Status = supervisor.Status

type StartResult = supervisor.StartResult

type StopResult = supervisor.StopResult

type Event = events.Event

type LogEvent = events.LogEvent

type LifecycleEvent = events.LifecycleEvent

var (
	ErrUnknownService = supervisor.ErrUnknownService
	ErrPortOccupied   = supervisor.ErrPortOccupied
	ErrSpawnFailed    = supervisor.ErrSpawnFailed
	ErrShuttingDown   = supervisor.ErrShuttingDown
)

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Manager runs every configured service behind the manager HTTP API.
type Manager struct {
	cfg       *Config
	log       *slog.Logger
	sup       *supervisor.Supervisor
	recorder  *history.Recorder
	resources *metrics.ResourceCollector
	router    *server.ManagerRouter
	cancel    context.CancelFunc
}

// NewManager builds the supervisor, history recorder and resource collector
// described by cfg. Nothing is started until Autostart or Start is called.
func NewManager(cfg *Config, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	genv, err := cfg.GlobalEnv()
	if err != nil {
		return nil, err
	}
	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	sup, err := supervisor.New(supervisor.Options{
		Services: cfg.ManagerServices(),
		Env:      genv,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	m := &Manager{cfg: cfg, log: log, sup: sup}

	if cfg.History.Enabled && len(cfg.History.Sinks) > 0 {
		sinks, err := factory.NewSinks(cfg.History.Sinks)
		if err != nil {
			_ = sup.Shutdown(context.Background())
			return nil, fmt.Errorf("history sinks: %w", err)
		}
		m.recorder = history.NewRecorder(log, sinks...)
		m.recorder.Attach(sup.Bus())
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	if cfg.Metrics.ProcessMetrics {
		m.resources = metrics.NewResourceCollector(metrics.ResourceConfig{
			Enabled:    true,
			Interval:   cfg.Metrics.Interval,
			MaxHistory: cfg.Metrics.MaxHistory,
		})
		if cfg.Metrics.Enabled {
			if err := m.resources.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
				log.Warn("resource metrics not registered", "error", err)
			}
		}
		m.resources.Start(ctx, sup.Running)
	}

	m.router = server.NewManagerRouter(server.ManagerOptions{
		Supervisor: sup,
		BasePath:   cfg.Manager.BasePath,
		Ports: server.Ports{
			Client:  servicePort(cfg, config.ServiceClient),
			Server:  servicePort(cfg, config.ServiceServer),
			Manager: cfg.Manager.Port,
		},
		Resources: m.resources,
		Metrics:   cfg.Metrics.Enabled,
		Logger:    log,
	})
	return m, nil
}

func servicePort(cfg *Config, name string) int {
	for _, sc := range cfg.Services {
		if sc.Name == name {
			return sc.Port
		}
	}
	return 0
}

// Handler returns the manager API handler for mounting in any server/mux.
func (m *Manager) Handler() http.Handler { return m.router.Handler() }

// Autostart starts the services listed under manager.autostart.
func (m *Manager) Autostart(ctx context.Context) error {
	var errs []error
	for _, name := range m.cfg.Manager.Autostart {
		res, err := m.sup.Start(ctx, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		m.log.Info("autostart", "service", name, "pid", res.PID, "already_running", res.AlreadyRunning)
	}
	return errors.Join(errs...)
}

func (m *Manager) Start(ctx context.Context, name string) (StartResult, error) {
	return m.sup.Start(ctx, name)
}

func (m *Manager) Stop(ctx context.Context, name string) (StopResult, error) {
	return m.sup.Stop(ctx, name)
}

// StopAndWait stops name and waits up to wait for the process to exit.
func (m *Manager) StopAndWait(ctx context.Context, name string, wait time.Duration) (StopResult, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return m.sup.StopAndWait(ctx, name)
}

func (m *Manager) Status(name string) (Status, error) { return m.sup.Status(name) }
func (m *Manager) StatusAll() ([]Status, error)       { return m.sup.StatusAll() }

// Subscribe registers fn for every log and lifecycle event. The returned
// function unsubscribes.
func (m *Manager) Subscribe(fn func(Event)) func() { return m.sup.Bus().Subscribe(fn) }

// Close stops all services, then the collectors and history sinks.
func (m *Manager) Close(ctx context.Context) error {
	err := m.sup.Shutdown(ctx)
	if m.resources != nil {
		m.resources.Stop()
	}
	m.cancel()
	if m.recorder != nil {
		err = errors.Join(err, m.recorder.Close())
	}
	return err
}

// Agent supervises a single service behind the token-protected agent API.
type Agent struct {
	sup     *supervisor.Supervisor
	service string
	router  *server.AgentRouter
}

// NewAgent builds the agent variant from cfg. A JWT secret is required.
func NewAgent(cfg *Config, log *slog.Logger) (*Agent, error) {
	if log == nil {
		log = slog.Default()
	}
	verifier, err := auth.NewVerifier(cfg.Agent.JWTSecret, cfg.Agent.Role)
	if err != nil {
		return nil, err
	}
	svc, err := cfg.AgentService()
	if err != nil {
		return nil, err
	}
	genv, err := cfg.GlobalEnv()
	if err != nil {
		return nil, err
	}
	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	sup, err := supervisor.New(supervisor.Options{
		Services: []supervisor.Service{svc},
		Env:      genv,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	return &Agent{
		sup:     sup,
		service: svc.Name(),
		router: server.NewAgentRouter(server.AgentOptions{
			Supervisor: sup,
			Service:    svc.Name(),
			Verifier:   verifier,
			BasePath:   cfg.Agent.BasePath,
			Metrics:    cfg.Metrics.Enabled,
			Logger:     log,
		}),
	}, nil
}

func (a *Agent) Handler() http.Handler { return a.router.Handler() }

// Service is the name of the supervised service.
func (a *Agent) Service() string { return a.service }

func (a *Agent) Status() (Status, error) { return a.sup.Status(a.service) }

func (a *Agent) Close(ctx context.Context) error { return a.sup.Shutdown(ctx) }

// IssueToken mints an ADMIN token accepted by the agent. ttl 0 means no expiry.
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	return auth.IssueToken(secret, auth.RoleAdmin, subject, ttl)
}

// RequireAdmin returns net/http middleware that only admits ADMIN bearer tokens
// signed with secret.
func RequireAdmin(secret string) (func(http.Handler) http.Handler, error) {
	v, err := auth.NewVerifier(secret, auth.RoleAdmin)
	if err != nil {
		return nil, err
	}
	return v.HTTPAuth, nil
}
