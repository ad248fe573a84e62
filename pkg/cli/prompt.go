// Package cli provides terminal prompt helpers shared by the hub setup
// wizard and the client.
package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// Prompter reads answers line by line from In and writes questions to Out.
type Prompter struct {
	In      io.Reader
	Out     io.Writer
	scanner *bufio.Scanner
}

// DefaultPrompter returns a Prompter connected to stdin/stdout.
func DefaultPrompter() *Prompter {
	return &Prompter{In: os.Stdin, Out: os.Stdout}
}

func (p *Prompter) readLine() string {
	if p.scanner == nil {
		p.scanner = bufio.NewScanner(p.In)
	}
	if p.scanner.Scan() {
		return strings.TrimSpace(p.scanner.Text())
	}
	return ""
}

// Ask prints a question and reads one line. An empty answer yields defaultVal.
func (p *Prompter) Ask(question, defaultVal string) string {
	if defaultVal != "" {
		_, _ = fmt.Fprintf(p.Out, "%s [%s]: ", question, defaultVal)
	} else {
		_, _ = fmt.Fprintf(p.Out, "%s: ", question)
	}
	if line := p.readLine(); line != "" {
		return line
	}
	return defaultVal
}

// AskValid repeats the question until valid accepts the answer. It gives up
// after a few attempts and returns defaultVal, so piped input cannot loop
// forever.
func (p *Prompter) AskValid(question, defaultVal string, valid func(string) error) string {
	for range 5 {
		ans := p.Ask(question, defaultVal)
		err := valid(ans)
		if err == nil {
			return ans
		}
		_, _ = fmt.Fprintf(p.Out, "  %v\n", err)
	}
	return defaultVal
}

// AskList reads a comma separated list. Blank items are dropped.
func (p *Prompter) AskList(question string, defaultVal []string) []string {
	ans := p.Ask(question+" (comma separated)", strings.Join(defaultVal, ","))
	var out []string
	for _, item := range strings.Split(ans, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// AskPassword reads a line without echo when In is a terminal and falls
// back to a plain read otherwise.
func (p *Prompter) AskPassword(question string) string {
	_, _ = fmt.Fprintf(p.Out, "%s: ", question)

	if f, ok := p.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(p.Out)
		if err == nil {
			return strings.TrimSpace(string(b))
		}
	}
	return p.readLine()
}

// AskInt asks for a positive integer.
func (p *Prompter) AskInt(question string, defaultVal int) int {
	ans := p.AskValid(question, strconv.Itoa(defaultVal), func(s string) error {
		if n, err := strconv.Atoi(s); err != nil || n <= 0 {
			return fmt.Errorf("please enter a positive number")
		}
		return nil
	})
	n, _ := strconv.Atoi(ans)
	return n
}

// Choose presents a numbered list of options and returns the selected value.
func (p *Prompter) Choose(question string, options []string, defaultIdx int) string {
	_, _ = fmt.Fprintf(p.Out, "%s\n", question)
	for i, opt := range options {
		marker := "  "
		if i == defaultIdx {
			marker = "> "
		}
		_, _ = fmt.Fprintf(p.Out, "%s%d) %s\n", marker, i+1, opt)
	}

	ans := p.AskValid("Choice", strconv.Itoa(defaultIdx+1), func(s string) error {
		if n, err := strconv.Atoi(s); err != nil || n < 1 || n > len(options) {
			return fmt.Errorf("please enter a number between 1 and %d", len(options))
		}
		return nil
	})
	n, _ := strconv.Atoi(ans)
	return options[n-1]
}

// Confirm asks a yes/no question.
func (p *Prompter) Confirm(question string, defaultYes bool) bool {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}
	ans := p.Ask(fmt.Sprintf("%s [%s]", question, hint), "")
	if ans == "" {
		return defaultYes
	}
	return strings.HasPrefix(strings.ToLower(ans), "y")
}
