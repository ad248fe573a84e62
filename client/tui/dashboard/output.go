package dashboard

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/amurg-ai/webshell/client/sessions"
	"github.com/amurg-ai/webshell/client/tui"
)

const maxOutputLines = 2000

// outputBuffer keeps the tail of a session's output as plain lines. The
// last line may be incomplete.
type outputBuffer struct {
	lines []string
}

func (b *outputBuffer) write(text string) {
	text = strings.ReplaceAll(ansi.Strip(text), "\r", "")
	parts := strings.Split(text, "\n")
	if len(b.lines) == 0 {
		b.lines = []string{""}
	}
	b.lines[len(b.lines)-1] += parts[0]
	b.lines = append(b.lines, parts[1:]...)
	if n := len(b.lines); n > maxOutputLines {
		b.lines = append([]string(nil), b.lines[n-maxOutputLines:]...)
	}
}

func (b *outputBuffer) String() string {
	return strings.Join(b.lines, "\n")
}

func (b *outputBuffer) tail(n int) string {
	lines := b.lines
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// outputModel shows the active session in a scrollable viewport and, in a
// split layout, the tail of the next session beside or below it.
type outputModel struct {
	viewport   viewport.Model
	buffers    map[string]*outputBuffer
	layout     sessions.Layout
	autoScroll bool
	width      int
	height     int
}

func newOutput() outputModel {
	return outputModel{
		viewport:   viewport.New(80, 10),
		buffers:    make(map[string]*outputBuffer),
		autoScroll: true,
	}
}

func (o *outputModel) setSize(width, height int) {
	o.width = width
	o.height = height
	o.viewport.Width = o.paneWidth()
	o.viewport.Height = o.paneHeight()
}

func (o outputModel) paneWidth() int {
	if o.layout.Type == sessions.LayoutSplitVertical {
		return max(o.width/2-1, 1)
	}
	return o.width
}

func (o outputModel) paneHeight() int {
	if o.layout.Type == sessions.LayoutSplitHorizontal {
		return max(o.height/2-1, 1)
	}
	return o.height
}

func (o *outputModel) setLayout(l sessions.Layout) {
	changed := l.Active != o.layout.Active
	o.layout = l
	o.setSize(o.width, o.height)
	if changed {
		o.autoScroll = true
		o.sync()
	}
}

func (o *outputModel) write(id, text string) {
	buf, ok := o.buffers[id]
	if !ok {
		buf = &outputBuffer{}
		o.buffers[id] = buf
	}
	buf.write(text)
	if id == o.layout.Active {
		o.sync()
	}
}

func (o *outputModel) forget(id string) {
	delete(o.buffers, id)
}

// sync loads the active session's buffer into the viewport.
func (o *outputModel) sync() {
	content := ""
	if buf, ok := o.buffers[o.layout.Active]; ok {
		content = buf.String()
	}
	o.viewport.SetContent(content)
	if o.autoScroll {
		o.viewport.GotoBottom()
	}
}

// secondary returns the session shown next to the active one.
func (o outputModel) secondary() string {
	ids := o.layout.Sessions
	for i, id := range ids {
		if id == o.layout.Active && len(ids) > 1 {
			return ids[(i+1)%len(ids)]
		}
	}
	return ""
}

func (o outputModel) Update(msg tea.Msg) (outputModel, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "G":
			o.autoScroll = true
			o.viewport.GotoBottom()
			return o, nil
		case "g":
			o.autoScroll = false
			o.viewport.GotoTop()
			return o, nil
		case "j", "down", "k", "up":
			o.autoScroll = false
		}
	}
	var cmd tea.Cmd
	o.viewport, cmd = o.viewport.Update(msg)
	return o, cmd
}

func (o outputModel) View() string {
	if o.layout.Active == "" {
		return tui.Dimmed.Render("  No active session")
	}
	primary := o.viewport.View()

	other := o.secondary()
	if o.layout.Type == sessions.LayoutTabs || other == "" {
		return primary
	}
	text := ""
	if buf, ok := o.buffers[other]; ok {
		text = buf.tail(o.paneHeight())
	}
	pane := lipgloss.NewStyle().
		Width(o.paneWidth()).
		Height(o.paneHeight()).
		Foreground(tui.ColorSubtle).
		Render(text)

	if o.layout.Type == sessions.LayoutSplitVertical {
		sep := tui.Dimmed.Render(strings.Repeat("│\n", o.paneHeight()))
		return lipgloss.JoinHorizontal(lipgloss.Top, primary, sep, pane)
	}
	sep := tui.Dimmed.Render(strings.Repeat("─", o.paneWidth()))
	return lipgloss.JoinVertical(lipgloss.Left, primary, sep, pane)
}
