package setup

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/amurg-ai/webshell/pkg/cli"
	"github.com/amurg-ai/webshell/pkg/protocol"
)

// ErrCancelled is returned when the user leaves the wizard.
var ErrCancelled = errors.New("setup cancelled")

// Run shows the wizard and returns the path written.
func Run(outputPath string) (string, error) {
	p := tea.NewProgram(NewModel(outputPath), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return "", fmt.Errorf("setup: %w", err)
	}
	res := final.(Model).Result()
	if res.Cancelled {
		return "", ErrCancelled
	}
	return res.Path, nil
}

// RunPlain asks the same questions line by line, for pipes and terminals
// the full-screen wizard cannot drive.
func RunPlain(in io.Reader, out io.Writer, outputPath string) (string, error) {
	p := &cli.Prompter{In: in, Out: out}
	d := &Data{OutputPath: outputPath}

	d.HubURL = p.AskValid("Hub URL", DefaultHubURL, validHubURL)
	d.Token = p.AskPassword("Access token (optional)")

	if p.Confirm("Save an SSH host?", false) {
		values := []string{"", "", "", "", ""}
		values[1] = p.Ask("Host", "")
		values[0] = p.Ask("Name", values[1])
		values[2] = strconv.Itoa(p.AskInt("Port", protocol.DefaultPort))
		values[3] = p.Ask("Username", "root")
		values[4] = p.Ask("Private key file (optional)", "")
		h, err := hostFromValues(values)
		if err != nil {
			return "", err
		}
		d.Host = h
	}

	path, err := WriteConfig(d)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(out, "Config written to %s\n", path)
	return path, nil
}
