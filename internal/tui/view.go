package tui

import (
	"fmt"
	"strconv"
	"strings"
)

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder

	header := titleStyle.Render("svcman")
	if m.endpoint != "" {
		header += "  " + mutedStyle.Render(m.endpoint)
	}
	if !m.streamUp {
		header += "  " + statusForeign.Render("(no event stream)")
	}
	b.WriteString(header + "\n\n")

	b.WriteString(panelStyle.Render(m.renderServices()) + "\n")
	b.WriteString(m.renderLogs())

	if m.err != nil {
		b.WriteString(errorStyle.Render("error: "+m.err.Error()) + "\n")
	} else if m.status != "" {
		b.WriteString(mutedStyle.Render(m.status) + "\n")
	}
	b.WriteString(mutedStyle.Render("↑/↓ select • s start • x stop • c clear • r refresh • q quit"))
	return b.String()
}

func (m Model) renderServices() string {
	if len(m.services) == 0 {
		return mutedStyle.Render("no services")
	}
	rows := make([]string, 0, len(m.services)+1)
	rows = append(rows, subtitleStyle.Render(fmt.Sprintf("  %-10s %-10s %-8s %s", "SERVICE", "STATE", "PORT", "PID")))
	for i, s := range m.services {
		cursor := "  "
		name := fmt.Sprintf("%-10s", s.Name)
		if i == m.cursor {
			cursor = "> "
			name = selectedStyle.Render(name)
		}
		port := "-"
		if s.Port > 0 {
			port = strconv.Itoa(s.Port)
		}
		pid := "-"
		if s.PID != nil {
			pid = strconv.Itoa(*s.PID)
		}
		rows = append(rows, fmt.Sprintf("%s%s %s %-8s %s", cursor, name, renderState(s.Running, s.Managed), port, pid))
	}
	return strings.Join(rows, "\n")
}

func renderState(running, managed bool) string {
	switch {
	case managed:
		return statusRunning.Render(fmt.Sprintf("%-10s", "running"))
	case running:
		return statusForeign.Render(fmt.Sprintf("%-10s", "external"))
	default:
		return statusStopped.Render(fmt.Sprintf("%-10s", "stopped"))
	}
}

// renderLogs shows the tail of the selected service's output that fits the window.
func (m Model) renderLogs() string {
	name := m.Selected()
	if name == "" {
		return ""
	}
	avail := m.height - len(m.services) - 9
	if avail < 3 {
		avail = 3
	}
	lines := m.logs[name]
	if len(lines) > avail {
		lines = lines[len(lines)-avail:]
	}
	var b strings.Builder
	b.WriteString(subtitleStyle.Render(name+" output") + "\n")
	if len(lines) == 0 {
		b.WriteString(mutedStyle.Render("(no output yet)") + "\n")
	}
	width := m.width - 2
	for _, l := range lines {
		text := l.text
		if width > 0 && len(text) > width {
			text = text[:width]
		}
		if l.isError {
			text = stderrStyle.Render(text)
		}
		b.WriteString(text + "\n")
	}
	return b.String()
}
