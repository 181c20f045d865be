package tui

import (
	"context"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/loykin/svcman/pkg/client"
)

// API is the part of the manager client the dashboard uses.
type API interface {
	Services(ctx context.Context) ([]client.ServiceStatus, error)
	Start(ctx context.Context, service string) (client.StartResponse, error)
	Stop(ctx context.Context, service string, wait time.Duration) (client.StopResponse, error)
}

// TickMsg is sent periodically to refresh the service table.
type TickMsg time.Time

// ServicesMsg carries a fresh service listing.
type ServicesMsg struct {
	Services []client.ServiceStatus
	Err      error
}

// EventMsg carries one streamed event.
type EventMsg client.Event

// ActionMsg reports the outcome of a start or stop.
type ActionMsg struct {
	Text string
	Err  error
}

// StreamClosedMsg is sent when the event stream ends.
type StreamClosedMsg struct{}

// DefaultLogLines is how many output lines are kept per service.
const DefaultLogLines = 500

// Model represents the TUI state.
type Model struct {
	api      API
	endpoint string
	events   <-chan client.Event
	interval time.Duration
	maxLines int

	services []client.ServiceStatus
	cursor   int
	logs     map[string][]logLine
	status   string
	err      error
	streamUp bool

	width  int
	height int

	quitting bool
}

type logLine struct {
	text    string
	isError bool
}

// Config holds TUI configuration.
type Config struct {
	API      API
	Endpoint string              // shown in the header
	Events   <-chan client.Event // optional live event feed
	Interval time.Duration       // refresh interval, defaults to 2s
	MaxLines int                 // per-service log buffer, defaults to DefaultLogLines
}

// New creates a new TUI model.
func New(cfg Config) Model {
	m := Model{
		api:      cfg.API,
		endpoint: cfg.Endpoint,
		events:   cfg.Events,
		interval: cfg.Interval,
		maxLines: cfg.MaxLines,
		logs:     make(map[string][]logLine),
		streamUp: cfg.Events != nil,
		width:    80,
		height:   24,
	}
	if m.interval <= 0 {
		m.interval = 2 * time.Second
	}
	if m.maxLines <= 0 {
		m.maxLines = DefaultLogLines
	}
	return m
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), tickCmd(m.interval), waitForEvent(m.events))
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.services)-1 {
				m.cursor++
			}
		case "s":
			if name := m.Selected(); name != "" {
				m.status = "starting " + name + "..."
				return m, m.startCmd(name)
			}
		case "x":
			if name := m.Selected(); name != "" {
				m.status = "stopping " + name + "..."
				return m, m.stopCmd(name)
			}
		case "c":
			delete(m.logs, m.Selected())
		case "r":
			return m, m.fetchCmd()
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		return m, tea.Batch(m.fetchCmd(), tickCmd(m.interval))

	case ServicesMsg:
		m.err = msg.Err
		if msg.Err == nil {
			m.services = msg.Services
			if m.cursor >= len(m.services) {
				m.cursor = max(0, len(m.services)-1)
			}
		}
		return m, nil

	case ActionMsg:
		m.err = msg.Err
		m.status = msg.Text
		return m, m.fetchCmd()

	case EventMsg:
		m.applyEvent(client.Event(msg))
		return m, waitForEvent(m.events)

	case StreamClosedMsg:
		m.streamUp = false
		return m, nil
	}
	return m, nil
}

func (m *Model) applyEvent(ev client.Event) {
	switch ev.Name {
	case "service-log":
		lines := strings.Split(strings.TrimRight(ev.Data, "\n"), "\n")
		buf := m.logs[ev.ServiceName]
		for _, l := range lines {
			buf = append(buf, logLine{text: l, isError: ev.IsError})
		}
		if over := len(buf) - m.maxLines; over > 0 {
			buf = append([]logLine(nil), buf[over:]...)
		}
		m.logs[ev.ServiceName] = buf
	case "service-started", "service-stopped":
		for i := range m.services {
			if m.services[i].Name != ev.ServiceName {
				continue
			}
			running := ev.Name == "service-started"
			m.services[i].Managed = running
			m.services[i].Running = running
			if running {
				pid := ev.PID
				m.services[i].PID = &pid
			} else {
				m.services[i].PID = nil
			}
		}
	}
}

// Selected returns the name of the highlighted service.
func (m Model) Selected() string {
	if m.cursor < 0 || m.cursor >= len(m.services) {
		return ""
	}
	return m.services[m.cursor].Name
}

// Logs returns the buffered output lines of service.
func (m Model) Logs(service string) []string {
	out := make([]string, 0, len(m.logs[service]))
	for _, l := range m.logs[service] {
		out = append(out, l.text)
	}
	return out
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func waitForEvent(ch <-chan client.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return StreamClosedMsg{}
		}
		return EventMsg(ev)
	}
}

func (m Model) fetchCmd() tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svcs, err := api.Services(ctx)
		return ServicesMsg{Services: svcs, Err: err}
	}
}

func (m Model) startCmd(name string) tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		res, err := api.Start(ctx, name)
		if err != nil {
			return ActionMsg{Err: err}
		}
		return ActionMsg{Text: name + ": " + res.Message}
	}
}

func (m Model) stopCmd(name string) tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		res, err := api.Stop(ctx, name, 5*time.Second)
		if err != nil {
			return ActionMsg{Err: err}
		}
		return ActionMsg{Text: name + ": " + res.Message}
	}
}
