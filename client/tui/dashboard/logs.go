package dashboard

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/amurg-ai/webshell/client/eventbus"
	"github.com/amurg-ai/webshell/client/tui"
)

const maxLogLines = 1000

type logsModel struct {
	viewport   viewport.Model
	lines      []string
	autoScroll bool
}

func newLogs() logsModel {
	return logsModel{
		viewport:   viewport.New(80, logsHeight),
		autoScroll: true,
	}
}

func (l *logsModel) SetSize(width, height int) {
	l.viewport.Width = width
	l.viewport.Height = height
}

func (l *logsModel) addEntry(data json.RawMessage) {
	l.lines = append(l.lines, formatEntry(time.Now(), data))
	if len(l.lines) > maxLogLines {
		l.lines = l.lines[len(l.lines)-maxLogLines:]
	}
	l.viewport.SetContent(strings.Join(l.lines, "\n"))
	if l.autoScroll {
		l.viewport.GotoBottom()
	}
}

func formatEntry(ts time.Time, data json.RawMessage) string {
	stamp := ts.Format("15:04:05")

	var entry eventbus.LogData
	if err := json.Unmarshal(data, &entry); err != nil || entry.Message == "" {
		return fmt.Sprintf("  %s %s", stamp, tui.Dimmed.Render(string(data)))
	}

	line := fmt.Sprintf("  %s %s  %s", stamp,
		tui.LogLevelStyle(entry.Level).Render(fmt.Sprintf("%-5s", entry.Level)), entry.Message)
	if len(entry.Attrs) > 0 {
		keys := make([]string, 0, len(entry.Attrs))
		for k := range entry.Attrs {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		attrs := make([]string, len(keys))
		for i, k := range keys {
			attrs[i] = fmt.Sprintf("%s=%v", k, entry.Attrs[k])
		}
		line += "  " + tui.Dimmed.Render(strings.Join(attrs, " "))
	}
	return line
}

func (l logsModel) Update(msg tea.Msg) (logsModel, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "G":
			l.autoScroll = true
			l.viewport.GotoBottom()
			return l, nil
		case "g":
			l.autoScroll = false
			l.viewport.GotoTop()
			return l, nil
		case "j", "down", "k", "up":
			l.autoScroll = false
		}
	}
	var cmd tea.Cmd
	l.viewport, cmd = l.viewport.Update(msg)
	return l, cmd
}

func (l logsModel) View() string {
	return l.viewport.View()
}
