package setup

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amurg-ai/webshell/client/tui"
)

type field struct {
	label string
	input textinput.Model
}

func newField(label, placeholder string, secret bool) field {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.CharLimit = 256
	ti.Width = 50
	if secret {
		ti.EchoMode = textinput.EchoPassword
	}
	return field{label: label, input: ti}
}

// formModel is a column of text inputs. Enter on the last field submits,
// and submit returns an error to keep the form open.
type formModel struct {
	title  string
	intro  string
	fields []field
	focus  int
	err    string
	submit func(values []string) error
}

// activate focuses the current field when the form is shown.
func (m formModel) activate() (formModel, tea.Cmd) {
	cmd := m.focusCurrent()
	return m, cmd
}

func (m *formModel) focusCurrent() tea.Cmd {
	for i := range m.fields {
		m.fields[i].input.Blur()
	}
	return m.fields[m.focus].input.Focus()
}

func (m formModel) values() []string {
	out := make([]string, len(m.fields))
	for i, f := range m.fields {
		out[i] = strings.TrimSpace(f.input.Value())
	}
	return out
}

func (m formModel) Update(msg tea.Msg) (formModel, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "esc":
			return m, func() tea.Msg { return stepBackMsg{} }
		case "tab", "down":
			m.focus = (m.focus + 1) % len(m.fields)
			return m, m.focusCurrent()
		case "shift+tab", "up":
			m.focus = (m.focus + len(m.fields) - 1) % len(m.fields)
			return m, m.focusCurrent()
		case "enter":
			if m.focus < len(m.fields)-1 {
				m.focus++
				return m, m.focusCurrent()
			}
			if err := m.submit(m.values()); err != nil {
				m.err = err.Error()
				return m, nil
			}
			m.err = ""
			return m, func() tea.Msg { return stepCompleteMsg{} }
		}
	}

	var cmd tea.Cmd
	m.fields[m.focus].input, cmd = m.fields[m.focus].input.Update(msg)
	return m, cmd
}

func (m formModel) View() string {
	labelStyle := lipgloss.NewStyle().Foreground(tui.ColorSubtle).Width(18)

	var sb strings.Builder
	sb.WriteString(tui.Subtitle.Render(m.title) + "\n\n")
	if m.intro != "" {
		sb.WriteString("  " + tui.Description.Render(m.intro) + "\n\n")
	}
	for i, f := range m.fields {
		cursor := "  "
		if i == m.focus {
			cursor = tui.Selected.Render("> ")
		}
		sb.WriteString(cursor + labelStyle.Render(f.label) + f.input.View() + "\n")
	}
	if m.err != "" {
		sb.WriteString("\n  " + tui.ErrorStyle.Render("Error: "+m.err) + "\n")
	}
	sb.WriteString("\n" + tui.Help.Render("  tab next • enter continue • esc back"))
	return sb.String()
}
