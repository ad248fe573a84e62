package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/amurg-ai/webshell/client/config"
	"github.com/amurg-ai/webshell/client/eventbus"
	"github.com/amurg-ai/webshell/client/sessions"
	pkgcli "github.com/amurg-ai/webshell/pkg/cli"
	"github.com/amurg-ai/webshell/pkg/protocol"
)

// detachKey ends an attach session without touching the remote shell's
// input. It is Ctrl+], as in telnet.
const detachKey = 0x1d

func newAttachCmd() *cobra.Command {
	var (
		port        int
		askPassword bool
		keyFile     string
	)
	cmd := &cobra.Command{
		Use:   "attach <host-name | user@host[:port]>",
		Short: "Open an interactive shell through the hub",
		Long: "Open an interactive shell on a saved host or an ad-hoc user@host[:port] target.\n" +
			"Press Ctrl+] to detach.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			target, err := resolveTarget(cfg, args[0], port, keyFile)
			if err != nil {
				return err
			}
			if askPassword {
				p := &pkgcli.Prompter{In: cmd.InOrStdin(), Out: cmd.ErrOrStderr()}
				target.Password = p.AskPassword(fmt.Sprintf("Password for %s", target.Title()))
			}
			return runAttach(cmd, cfg, target)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "SSH port (overrides the target)")
	cmd.Flags().BoolVarP(&askPassword, "password", "P", false, "prompt for the SSH password")
	cmd.Flags().StringVarP(&keyFile, "identity", "i", "", "private key file")
	return cmd
}

// resolveTarget looks name up among the saved hosts, or parses it as
// user@host[:port].
func resolveTarget(cfg *config.Config, name string, port int, keyFile string) (protocol.ConnectConfig, error) {
	var target protocol.ConnectConfig
	if h, ok := cfg.Host(name); ok {
		if keyFile != "" {
			h.PrivateKeyFile = keyFile
		}
		t, err := h.ConnectConfig()
		if err != nil {
			return target, err
		}
		target = t
	} else {
		t, err := parseTarget(name)
		if err != nil {
			return target, err
		}
		target = t
		if keyFile != "" {
			key, err := os.ReadFile(keyFile)
			if err != nil {
				return target, fmt.Errorf("read private key: %w", err)
			}
			target.PrivateKey = string(key)
		}
	}
	if port != 0 {
		target.Port = port
	}
	target = target.WithDefaults()
	return target, target.Validate()
}

// parseTarget parses user@host[:port]. IPv6 hosts with a port use brackets.
func parseTarget(s string) (protocol.ConnectConfig, error) {
	user, hostPort, ok := strings.Cut(s, "@")
	if !ok || user == "" || hostPort == "" {
		return protocol.ConnectConfig{}, fmt.Errorf("target %q: want a saved host name or user@host[:port]", s)
	}
	cfg := protocol.ConnectConfig{Username: user, Host: hostPort}
	if host, portStr, err := net.SplitHostPort(hostPort); err == nil {
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return protocol.ConnectConfig{}, fmt.Errorf("target %q: invalid port %q", s, portStr)
		}
		cfg.Host, cfg.Port = host, port
	}
	return cfg, nil
}

func runAttach(cmd *cobra.Command, cfg *config.Config, target protocol.ConnectConfig) error {
	c, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer c.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.connect(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	sess := c.store.Create(target, "")
	c.store.SetOutput(sess.ID, func(text string) { _, _ = io.WriteString(out, text) })
	events := c.bus.Subscribe(eventbus.SessionState)

	stdinFd := int(os.Stdin.Fd())
	interactive := term.IsTerminal(stdinFd)
	size := terminalSize(stdinFd)

	if err := c.store.Connect(sess.ID, size); err != nil {
		return err
	}
	if err := waitForSession(ctx, events, sess.ID, sessions.StatusConnected); err != nil {
		return err
	}

	if interactive {
		oldState, err := term.MakeRaw(stdinFd)
		if err != nil {
			return fmt.Errorf("set terminal raw mode: %w", err)
		}
		defer func() { _ = term.Restore(stdinFd, oldState) }()

		go watchResize(ctx, stdinFd, func(rows, cols int) {
			if err := c.store.Resize(sess.ID, rows, cols); err != nil {
				c.logger.Debug("resize failed", "error", err)
			}
		})
	}

	detached := make(chan struct{})
	go func() {
		defer close(detached)
		pumpInput(cmd.InOrStdin(), func(s string) error { return c.store.Write(sess.ID, s) })
	}()

	ended := make(chan error, 1)
	go func() { ended <- waitForSession(ctx, events, sess.ID, "") }()

	select {
	case <-detached:
		_ = c.store.Disconnect(sess.ID)
		fmt.Fprint(cmd.ErrOrStderr(), "\r\ndetached\r\n")
		return nil
	case err := <-ended:
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "\r\n%v\r\n", err)
			return err
		}
		fmt.Fprint(cmd.ErrOrStderr(), "\r\nconnection closed\r\n")
		return nil
	case <-ctx.Done():
		_ = c.store.Disconnect(sess.ID)
		return nil
	}
}

// pumpInput copies r to write until EOF, a write error or the detach key.
func pumpInput(r io.Reader, write func(string) error) {
	buf := make([]byte, 1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			i := bytes.IndexByte(chunk, detachKey)
			if i >= 0 {
				chunk = chunk[:i]
			}
			if len(chunk) > 0 {
				if werr := write(string(chunk)); werr != nil {
					return
				}
			}
			if i >= 0 {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// waitForSession blocks until the session reaches want. With an empty want
// it waits for the session to stop being connected. An error status is
// returned as an error.
func waitForSession(ctx context.Context, events <-chan eventbus.Event, id string, want sessions.Status) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return errors.New("client closed")
			}
			var d eventbus.SessionData
			if evt.Decode(&d) != nil || d.ID != id {
				continue
			}
			switch status := sessions.Status(d.Status); {
			case status == sessions.StatusError:
				return fmt.Errorf("session failed: %s", d.Error)
			case want != "" && status == want:
				return nil
			case want == "" && status == sessions.StatusDisconnected:
				return nil
			case want != "" && status == sessions.StatusDisconnected:
				return errors.New("session closed before it connected")
			}
		}
	}
}

func terminalSize(fd int) protocol.TermSize {
	cols, rows, err := term.GetSize(fd)
	if err != nil {
		return protocol.TermSize{}.OrDefault()
	}
	return protocol.TermSize{Rows: rows, Cols: cols}.OrDefault()
}
