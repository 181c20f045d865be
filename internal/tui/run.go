package tui

import (
	"context"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/loykin/svcman/pkg/client"
)

// Run starts the dashboard against c and blocks until the user quits or ctx
// is cancelled.
func Run(ctx context.Context, c *client.Client, endpoint string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan client.Event, 256)
	go func() {
		defer close(events)
		err := c.StreamEvents(ctx, "", func(ev client.Event) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		})
		if err != nil && ctx.Err() == nil {
			slog.Debug("event stream ended", "error", err)
		}
	}()

	p := tea.NewProgram(New(Config{API: c, Endpoint: endpoint, Events: events}),
		tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
