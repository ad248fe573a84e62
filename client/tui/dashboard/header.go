package dashboard

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/amurg-ai/webshell/client/tui"
)

type headerModel struct {
	url       string
	state     string
	attempt   int
	lastError string
}

func (h headerModel) View(width int) string {
	left := tui.Title.Render("webshell")

	status := h.state
	if status == "" {
		status = "disconnected"
	}
	label := status
	if status == "reconnecting" && h.attempt > 0 {
		label = fmt.Sprintf("%s (attempt %d)", status, h.attempt)
	}
	right := fmt.Sprintf("%s  %s %s", h.url, tui.StatusDot(status), tui.StatusStyle(status).Render(label))

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(tui.ColorPrimary).
		Width(max(width-2, 20)).
		Padding(0, 1)

	gap := max(width-lipgloss.Width(left)-lipgloss.Width(right)-6, 1)
	row := lipgloss.JoinHorizontal(lipgloss.Top, left, lipgloss.NewStyle().Width(gap).Render(""), right)

	info := tui.Description.Render("  no errors")
	if h.lastError != "" {
		info = tui.ErrorStyle.Render("  " + h.lastError)
	}
	return style.Render(row + "\n" + info)
}
