// Package setup is the interactive first-run wizard that writes the client
// configuration.
package setup

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amurg-ai/webshell/client/config"
	"github.com/amurg-ai/webshell/client/tui"
	"github.com/amurg-ai/webshell/pkg/protocol"
)

// DefaultHubURL is offered when the hub URL is left empty.
const DefaultHubURL = "ws://localhost:8080/ws"

type step int

const (
	stepHub step = iota
	stepHost
	stepConfirm
)

// Data collects the answers from every step.
type Data struct {
	HubURL     string
	Token      string
	Host       *config.HostConfig // nil when no host was added
	OutputPath string
}

// Result is returned when the wizard completes.
type Result struct {
	Path      string
	Cancelled bool
}

// Model is the root wizard model.
type Model struct {
	step step
	data *Data

	hub     formModel
	host    formModel
	confirm confirmModel

	result Result
	done   bool
}

type (
	stepCompleteMsg struct{}
	stepBackMsg     struct{}
	doneMsg         struct{ result Result }
)

// NewModel creates a wizard writing to outputPath.
func NewModel(outputPath string) Model {
	data := &Data{OutputPath: outputPath}
	m := Model{
		data:    data,
		hub:     newHubForm(data),
		host:    newHostForm(data),
		confirm: confirmModel{data: data, actions: []string{"Write config", "Cancel"}},
	}
	m.hub, _ = m.hub.activate()
	return m
}

func newHubForm(data *Data) formModel {
	return formModel{
		title: "Hub Connection",
		intro: "The WebSocket endpoint of your webshell hub.",
		fields: []field{
			newField("Hub URL", DefaultHubURL, false),
			newField("Access token", "optional", true),
		},
		submit: func(v []string) error {
			hubURL := v[0]
			if hubURL == "" {
				hubURL = DefaultHubURL
			}
			if err := validHubURL(hubURL); err != nil {
				return err
			}
			data.HubURL, data.Token = hubURL, v[1]
			return nil
		},
	}
}

func newHostForm(data *Data) formModel {
	return formModel{
		title: "Saved Host",
		intro: "Optionally save an SSH host. Leave Host empty to skip.",
		fields: []field{
			newField("Name", "prod", false),
			newField("Host", "example.com", false),
			newField("Port", strconv.Itoa(protocol.DefaultPort), false),
			newField("Username", "root", false),
			newField("Private key file", "optional", false),
		},
		submit: func(v []string) error {
			h, err := hostFromValues(v)
			if err != nil {
				return err
			}
			data.Host = h
			return nil
		},
	}
}

func validHubURL(s string) error {
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return errors.New("hub URL must start with ws:// or wss://")
	}
	return nil
}

// hostFromValues builds a saved host from the form. An empty host means
// none.
func hostFromValues(v []string) (*config.HostConfig, error) {
	name, host, portStr, user, keyFile := v[0], v[1], v[2], v[3], v[4]
	if host == "" {
		return nil, nil
	}
	if user == "" {
		return nil, errors.New("username is required")
	}
	if name == "" {
		name = host
	}
	port := protocol.DefaultPort
	if portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil || p < 1 || p > 65535 {
			return nil, fmt.Errorf("invalid port %q", portStr)
		}
		port = p
	}
	return &config.HostConfig{Name: name, Host: host, Port: port, Username: user, PrivateKeyFile: keyFile}, nil
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, key.NewBinding(key.WithKeys("ctrl+c"))) {
			m.result.Cancelled = true
			m.done = true
			return m, tea.Quit
		}
	case stepCompleteMsg:
		switch m.step {
		case stepHub:
			m.step = stepHost
			var cmd tea.Cmd
			m.host, cmd = m.host.activate()
			return m, cmd
		case stepHost:
			m.step = stepConfirm
			return m, nil
		}
		return m, nil
	case stepBackMsg:
		switch m.step {
		case stepHost:
			m.step = stepHub
			var cmd tea.Cmd
			m.hub, cmd = m.hub.activate()
			return m, cmd
		case stepConfirm:
			m.step = stepHost
			var cmd tea.Cmd
			m.host, cmd = m.host.activate()
			return m, cmd
		}
		return m, nil
	case doneMsg:
		m.result = msg.result
		m.done = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	switch m.step {
	case stepHub:
		m.hub, cmd = m.hub.Update(msg)
	case stepHost:
		m.host, cmd = m.host.Update(msg)
	case stepConfirm:
		m.confirm, cmd = m.confirm.Update(msg)
	}
	return m, cmd
}

func (m Model) View() string {
	var body string
	switch m.step {
	case stepHub:
		body = m.hub.View()
	case stepHost:
		body = m.host.View()
	case stepConfirm:
		body = m.confirm.View()
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		"",
		tui.Title.Render("webshell setup"),
		m.progress(),
		"",
		body,
		"",
		tui.Help.Render("ctrl+c quit"),
	)
}

// Done reports whether the wizard finished.
func (m Model) Done() bool { return m.done }

// Result returns the wizard result.
func (m Model) Result() Result { return m.result }

func (m Model) progress() string {
	names := []string{"Hub", "Host", "Confirm"}
	parts := make([]string, 0, len(names)*2)
	for i, name := range names {
		if i > 0 {
			parts = append(parts, "  ")
		}
		switch {
		case step(i) == m.step:
			parts = append(parts, tui.Selected.Render("● "+name))
		case step(i) < m.step:
			parts = append(parts, tui.Success.Render("✓ "+name))
		default:
			parts = append(parts, tui.Dimmed.Render("○ "+name))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}
