package dashboard

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/amurg-ai/webshell/client/eventbus"
	"github.com/amurg-ai/webshell/client/sessions"
)

// Options configures Run.
type Options struct {
	HubURL string
	State  string // initial channel state
	Store  *sessions.Store
	Bus    *eventbus.Bus
}

// Run shows the dashboard until the user quits or ctx is done. It routes
// every session's output to the dashboard while it runs.
func Run(ctx context.Context, opts Options) error {
	m := NewModel(opts.Store, opts.HubURL, opts.State)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	route := func(id string) {
		opts.Store.SetOutput(id, func(text string) {
			p.Send(OutputMsg{SessionID: id, Text: text})
		})
	}
	for _, sess := range opts.Store.List() {
		route(sess.ID)
	}

	events := opts.Bus.Subscribe()
	defer opts.Bus.Unsubscribe(events)
	go func() {
		for evt := range events {
			if evt.Type == eventbus.SessionCreated {
				var d eventbus.SessionData
				if evt.Decode(&d) == nil {
					route(d.ID)
				}
			}
			p.Send(EventMsg{Type: evt.Type, Data: evt.Data})
		}
	}()

	if _, err := p.Run(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("dashboard: %w", err)
	}
	for _, sess := range opts.Store.List() {
		opts.Store.SetOutput(sess.ID, nil)
	}
	return nil
}
