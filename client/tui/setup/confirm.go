package setup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amurg-ai/webshell/client/config"
	"github.com/amurg-ai/webshell/client/tui"
)

type confirmModel struct {
	data    *Data
	cursor  int
	actions []string
	err     string
}

func (m confirmModel) Update(msg tea.Msg) (confirmModel, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.actions)-1 {
				m.cursor++
			}
		case "esc":
			return m, func() tea.Msg { return stepBackMsg{} }
		case "enter":
			if m.cursor == 1 {
				return m, func() tea.Msg { return doneMsg{Result{Cancelled: true}} }
			}
			path, err := WriteConfig(m.data)
			if err != nil {
				m.err = err.Error()
				return m, nil
			}
			return m, func() tea.Msg { return doneMsg{Result{Path: path}} }
		}
	}
	return m, nil
}

func (m confirmModel) View() string {
	var sb strings.Builder
	sb.WriteString(tui.Subtitle.Render("Configuration Summary") + "\n\n")
	sb.WriteString(row("Hub", m.data.HubURL))
	token := "none"
	if m.data.Token != "" {
		token = "set"
	}
	sb.WriteString(row("Token", token))
	if h := m.data.Host; h != nil {
		sb.WriteString(row("Host", fmt.Sprintf("%s (%s@%s:%d)", h.Name, h.Username, h.Host, h.Port)))
	} else {
		sb.WriteString(row("Host", "none"))
	}
	sb.WriteString("\n" + row("Output", m.data.OutputPath))

	if m.err != "" {
		sb.WriteString("\n  " + tui.ErrorStyle.Render("Error: "+m.err) + "\n")
	}
	sb.WriteString("\n")
	for i, action := range m.actions {
		cursor, style := "  ", tui.Dimmed
		if m.cursor == i {
			cursor, style = tui.Selected.Render("> "), tui.Selected
		}
		sb.WriteString(cursor + style.Render(action) + "\n")
	}
	sb.WriteString("\n" + tui.Help.Render("  ↑/↓ navigate • enter select • esc back"))
	return sb.String()
}

func row(label, value string) string {
	return "  " + lipgloss.NewStyle().Foreground(tui.ColorSubtle).Width(10).Render(label) + value + "\n"
}

// WriteConfig writes the collected answers with owner-only permissions and
// loads the result back to validate it.
func WriteConfig(d *Data) (string, error) {
	cfg := config.Config{
		Server: config.ServerConfig{
			URL:         d.HubURL,
			Token:       d.Token,
			DialTimeout: config.Duration{Duration: 10 * time.Second},
		},
		Reconnect: config.ReconnectConfig{
			BaseDelay:   config.Duration{Duration: time.Second},
			MaxAttempts: 5,
		},
		Logging: config.LoggingConfig{Level: "info"},
	}
	if d.Host != nil {
		cfg.Hosts = []config.HostConfig{*d.Host}
	}

	path := d.OutputPath
	if path == "" {
		path = config.DefaultPath()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("create config directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	if _, err := config.Load(path); err != nil {
		return path, fmt.Errorf("written config is invalid: %w", err)
	}
	return path, nil
}
