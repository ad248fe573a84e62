package dashboard

import (
	"encoding/json"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amurg-ai/webshell/client/eventbus"
	"github.com/amurg-ai/webshell/client/sessions"
	"github.com/amurg-ai/webshell/client/tui"
	"github.com/amurg-ai/webshell/pkg/protocol"
)

// Store is the part of the session store the dashboard drives.
type Store interface {
	List() []sessions.Session
	Layout() sessions.Layout
	SetActive(id string) bool
	Connect(id string, size protocol.TermSize) error
	Disconnect(id string) error
	Remove(id string) bool
	UpdateLayout(fn func(*sessions.Layout)) sessions.Layout
}

// Panel identifies which dashboard panel is focused.
type Panel int

const (
	PanelSessions Panel = iota
	PanelOutput
	PanelLogs
)

var keys = struct {
	quit, tab, help, activate, connect, disconnect, remove, layout key.Binding
}{
	quit:       key.NewBinding(key.WithKeys("ctrl+c", "q")),
	tab:        key.NewBinding(key.WithKeys("tab")),
	help:       key.NewBinding(key.WithKeys("?")),
	activate:   key.NewBinding(key.WithKeys("enter")),
	connect:    key.NewBinding(key.WithKeys("c")),
	disconnect: key.NewBinding(key.WithKeys("x")),
	remove:     key.NewBinding(key.WithKeys("D")),
	layout:     key.NewBinding(key.WithKeys("L")),
}

// Model is the root dashboard model.
type Model struct {
	store Store

	header   headerModel
	sessions sessionsModel
	output   outputModel
	logs     logsModel
	help     helpModel

	activePanel Panel
	width       int
	height      int
	quitting    bool
}

// NewModel creates a dashboard for store. hubURL and state seed the header.
func NewModel(store Store, hubURL, state string) Model {
	m := Model{
		store:  store,
		header: headerModel{url: hubURL, state: state},
		output: newOutput(),
		logs:   newLogs(),
	}
	m.refresh()
	return m
}

// EventMsg wraps an event from the bus.
type EventMsg struct {
	Type string
	Data json.RawMessage
}

// OutputMsg carries shell output for one session.
type OutputMsg struct {
	SessionID string
	Text      string
}

// errMsg reports a failed store action.
type errMsg struct{ err error }

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}

	case EventMsg:
		m.handleEvent(msg)
		return m, nil

	case OutputMsg:
		m.output.write(msg.SessionID, msg.Text)
		return m, nil

	case errMsg:
		m.header.lastError = msg.err.Error()
		return m, nil
	}

	var cmd tea.Cmd
	switch m.activePanel {
	case PanelSessions:
		m.sessions, cmd = m.sessions.Update(msg)
	case PanelOutput:
		m.output, cmd = m.output.Update(msg)
	case PanelLogs:
		m.logs, cmd = m.logs.Update(msg)
	}
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, keys.quit):
		m.quitting = true
		return tea.Quit, true
	case key.Matches(msg, keys.help):
		m.help.toggle()
		return nil, true
	case key.Matches(msg, keys.tab):
		m.activePanel = (m.activePanel + 1) % 3
		return nil, true
	case key.Matches(msg, keys.layout):
		m.store.UpdateLayout(func(l *sessions.Layout) { l.Type = nextLayout(l.Type) })
		m.refresh()
		return nil, true
	}

	if m.activePanel != PanelSessions {
		return nil, false
	}
	sel, ok := m.sessions.selected()
	if !ok {
		return nil, false
	}
	switch {
	case key.Matches(msg, keys.activate):
		m.store.SetActive(sel.ID)
		m.refresh()
		return nil, true
	case key.Matches(msg, keys.connect):
		size := m.termSize()
		return func() tea.Msg {
			if err := m.store.Connect(sel.ID, size); err != nil {
				return errMsg{err}
			}
			return nil
		}, true
	case key.Matches(msg, keys.disconnect):
		return func() tea.Msg {
			if err := m.store.Disconnect(sel.ID); err != nil {
				return errMsg{err}
			}
			return nil
		}, true
	case key.Matches(msg, keys.remove):
		m.store.Remove(sel.ID)
		m.output.forget(sel.ID)
		m.refresh()
		return nil, true
	}
	return nil, false
}

func (m *Model) handleEvent(msg EventMsg) {
	evt := eventbus.Event{Type: msg.Type, Data: msg.Data}
	switch msg.Type {
	case eventbus.ChannelState:
		var d eventbus.ChannelStateData
		if evt.Decode(&d) == nil {
			m.header.state = d.State
			m.header.attempt = d.Attempt
			if d.State == "connected" {
				m.header.lastError = ""
			}
		}
	case eventbus.ChannelError:
		var d eventbus.MessageData
		if evt.Decode(&d) == nil {
			m.header.lastError = d.Message
		}
	case eventbus.SessionCreated, eventbus.SessionState, eventbus.SessionRemoved, eventbus.LayoutChanged:
		m.refresh()
	case eventbus.LogEntry:
		m.logs.addEntry(msg.Data)
	}
}

// refresh reloads sessions and layout from the store.
func (m *Model) refresh() {
	m.sessions.update(m.store.List(), m.store.Layout())
	m.output.setLayout(m.sessions.layout)
}

func (m *Model) resize() {
	w := max(m.width-4, 10)
	m.output.setSize(w, m.outputHeight())
	m.logs.SetSize(w, logsHeight)
}

// termSize is the size requested for new shells: the output pane.
func (m Model) termSize() protocol.TermSize {
	size := protocol.TermSize{Rows: m.output.height, Cols: m.output.paneWidth()}
	return size.OrDefault()
}

func (m Model) View() string {
	if m.help.visible {
		return m.help.View()
	}

	panel := func(title string, p Panel, body string) string {
		style := lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(tui.ColorMuted).
			Width(max(m.width-2, 20))
		if m.activePanel == p {
			style = style.BorderForeground(tui.ColorPrimary)
		}
		return style.Render(tui.Subtitle.Render(" "+title) + "\n" + body)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.header.View(m.width),
		panel("Sessions", PanelSessions, m.sessions.View()),
		panel("Output ("+string(m.sessions.layout.Type)+")", PanelOutput, m.output.View()),
		panel("Logs", PanelLogs, m.logs.View()),
		m.help.bar(),
	)
}

// Quitting reports whether the user quit.
func (m Model) Quitting() bool { return m.quitting }

const logsHeight = 6

func (m Model) outputHeight() int {
	// Header, sessions, logs, help bar and borders.
	used := 4 + m.sessions.height() + 2 + logsHeight + 3 + 1 + 2
	return max(m.height-used, 3)
}

func nextLayout(t sessions.LayoutType) sessions.LayoutType {
	switch t {
	case sessions.LayoutTabs:
		return sessions.LayoutSplitHorizontal
	case sessions.LayoutSplitHorizontal:
		return sessions.LayoutSplitVertical
	default:
		return sessions.LayoutTabs
	}
}
