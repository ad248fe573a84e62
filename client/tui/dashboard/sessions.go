package dashboard

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amurg-ai/webshell/client/sessions"
	"github.com/amurg-ai/webshell/client/tui"
)

type sessionsModel struct {
	items  []sessions.Session
	layout sessions.Layout
	cursor int
}

func (s *sessionsModel) update(items []sessions.Session, layout sessions.Layout) {
	s.items = items
	s.layout = layout
	if s.cursor >= len(s.items) {
		s.cursor = max(0, len(s.items)-1)
	}
}

func (s sessionsModel) selected() (sessions.Session, bool) {
	if s.cursor < 0 || s.cursor >= len(s.items) {
		return sessions.Session{}, false
	}
	return s.items[s.cursor], true
}

func (s sessionsModel) Update(msg tea.Msg) (sessionsModel, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "j", "down":
			if s.cursor < len(s.items)-1 {
				s.cursor++
			}
		case "k", "up":
			if s.cursor > 0 {
				s.cursor--
			}
		case "G":
			s.cursor = max(0, len(s.items)-1)
		case "g":
			s.cursor = 0
		}
	}
	return s, nil
}

func (s sessionsModel) View() string {
	if len(s.items) == 0 {
		return tui.Dimmed.Render("  No sessions")
	}

	headerStyle := lipgloss.NewStyle().Foreground(tui.ColorSubtle).Bold(true)
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("    %-28s %-14s %-6s %s\n",
		headerStyle.Render("TITLE"),
		headerStyle.Render("STATUS"),
		headerStyle.Render("IDLE"),
		headerStyle.Render("DETAIL"),
	))

	for i, sess := range s.items {
		cursor := "  "
		style := lipgloss.NewStyle()
		if i == s.cursor {
			cursor = tui.Selected.Render("> ")
			style = style.Bold(true)
		}
		marker := " "
		if sess.ID == s.layout.Active {
			marker = tui.Selected.Render("*")
		}

		status := string(sess.Status)
		sb.WriteString(fmt.Sprintf("%s%s %-28s %s %-12s %-6s %s\n",
			cursor,
			marker,
			style.Render(truncate(sess.Title, 28)),
			tui.StatusDot(status),
			tui.StatusStyle(status).Render(status),
			style.Render(formatAge(sess.LastActive)),
			tui.ErrorStyle.Render(sess.Err),
		))
	}
	return sb.String()
}

func (s sessionsModel) height() int {
	return min(len(s.items)+2, 10)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
