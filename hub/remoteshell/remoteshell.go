// Package remoteshell opens interactive PTY shells on remote hosts and
// streams their output to a sink.
//
// A Client serves exactly one session: Connect establishes the transport and
// authenticates, OpenShell allocates a PTY and starts the login shell, and
// Attach starts delivering output. Close may be called at any point,
// including while Connect is still in flight.
package remoteshell

import (
	"context"
	"log/slog"
	"time"

	"github.com/amurg-ai/webshell/pkg/protocol"
)

// DataSink receives shell output chunks in the order they were read.
type DataSink interface {
	OnData(p []byte)
}

// ErrorSink receives a stream failure after the shell was opened.
type ErrorSink interface {
	OnError(err error)
}

// CloseSink is told when the remote side ended the shell.
type CloseSink interface {
	OnClose()
}

// Sink is the full set of stream callbacks. At most one of OnError or
// OnClose is called, and never after a local Close.
type Sink interface {
	DataSink
	ErrorSink
	CloseSink
}

// Client is one remote shell session.
type Client interface {
	Connect(ctx context.Context, cfg protocol.ConnectConfig) error
	OpenShell(ctx context.Context, size protocol.TermSize) error
	Attach(sink Sink)
	// Write and Resize are no-ops when no shell is open.
	Write(p []byte) error
	Resize(rows, cols int) error
	Close() error
}

// Factory creates a fresh Client for each session.
type Factory func() Client

// Options configures SSH clients built by NewSSHFactory.
type Options struct {
	KnownHostsFile    string        // empty accepts any host key
	KeepaliveInterval time.Duration // zero disables keepalives
	Logger            *slog.Logger
}

// NewSSHFactory returns a Factory producing SSH-backed clients.
func NewSSHFactory(opts Options) Factory {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return func() Client {
		return newSSHClient(opts)
	}
}
