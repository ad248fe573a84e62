package dashboard

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/amurg-ai/webshell/client/tui"
)

type helpModel struct {
	visible bool
}

func (h *helpModel) toggle() {
	h.visible = !h.visible
}

func (h helpModel) bar() string {
	return tui.Help.Render("  q quit  Tab panel  j/k move  Enter focus  c connect  x disconnect  D remove  L layout  ? help")
}

func (h helpModel) View() string {
	binds := []struct {
		key  string
		desc string
	}{
		{"q / Ctrl+C", "Quit"},
		{"Tab", "Cycle Sessions, Output and Logs panels"},
		{"j / k", "Move the cursor or scroll"},
		{"Enter", "Focus the selected session"},
		{"c", "Connect the selected session"},
		{"x", "Disconnect the selected session"},
		{"D", "Remove the selected session"},
		{"L", "Cycle tabs, horizontal and vertical split"},
		{"g / G", "Jump to top or bottom"},
		{"?", "Toggle this help"},
	}

	keyStyle := lipgloss.NewStyle().Foreground(tui.ColorAccent).Bold(true).Width(14)
	descStyle := lipgloss.NewStyle().Foreground(tui.ColorText)

	var sb strings.Builder
	sb.WriteString(tui.Title.Render("Keyboard Shortcuts") + "\n\n")
	for _, b := range binds {
		sb.WriteString("  " + keyStyle.Render(b.key) + descStyle.Render(b.desc) + "\n")
	}
	sb.WriteString("\n" + tui.Help.Render("  Press ? to close"))

	return lipgloss.NewStyle().Padding(1, 2).Render(sb.String())
}
