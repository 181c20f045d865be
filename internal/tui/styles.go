// Package tui provides a live terminal dashboard for the managed services.
//
// The TUI uses Bubble Tea for the application framework and Lipgloss for styling.
// It shows the service table and the output of the selected service, and
// starts or stops services through the manager API.
package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary   = lipgloss.Color("#7C3AED") // Purple
	colorSecondary = lipgloss.Color("#06B6D4") // Cyan
	colorSuccess   = lipgloss.Color("#10B981") // Green
	colorWarning   = lipgloss.Color("#F59E0B") // Amber
	colorError     = lipgloss.Color("#EF4444") // Red
	colorText      = lipgloss.Color("#E5E7EB") // Light gray
	colorTextMuted = lipgloss.Color("#9CA3AF") // Medium gray
	colorBorder    = lipgloss.Color("#374151") // Border gray
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(colorSecondary).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)

	selectedStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	statusRunning = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	statusForeign = lipgloss.NewStyle().
			Foreground(colorWarning)

	statusStopped = lipgloss.NewStyle().
			Foreground(colorTextMuted)

	stderrStyle = lipgloss.NewStyle().
			Foreground(colorError)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)
)
