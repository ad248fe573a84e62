package remoteshell

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// Kind classifies a remote shell failure.
type Kind string

const (
	KindAuth             Kind = "auth"
	KindConnectTimeout   Kind = "connect-timeout"
	KindHandshakeTimeout Kind = "handshake-timeout"
	KindRefused          Kind = "refused"
	KindUnreachable      Kind = "unreachable"
	KindTransport        Kind = "transport"
	KindStream           Kind = "stream"
)

// ErrClosed is returned by operations on a client that has been closed.
var ErrClosed = errors.New("remoteshell: client closed")

// Error is a classified failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Classify returns the failure kind of err, or "" when it is not recognised.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return detect(err, KindConnectTimeout)
}

// detect inspects a raw dial or handshake error. timeoutKind is reported for
// deadline expiry since the same error means different things per phase.
func detect(err error, timeoutKind Kind) Kind {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "no supported methods remain"):
		return KindAuth
	case errors.Is(err, syscall.ECONNREFUSED):
		return KindRefused
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return KindUnreachable
	case errors.Is(err, context.DeadlineExceeded):
		return timeoutKind
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return timeoutKind
		}
		return KindUnreachable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return timeoutKind
	}
	return ""
}

// wrap classifies err for the given phase. Unrecognised errors become
// transport failures.
func wrap(err error, timeoutKind Kind) error {
	kind := detect(err, timeoutKind)
	if kind == "" {
		kind = KindTransport
	}
	return &Error{Kind: kind, Err: err}
}

// UserMessage maps err to the text shown to the person at the terminal.
// Unclassified and transport errors pass their raw message through.
func UserMessage(err error) string {
	switch Classify(err) {
	case KindAuth:
		return "authentication failed: check username and password"
	case KindConnectTimeout:
		return "connection timed out: check network and firewall"
	case KindHandshakeTimeout:
		return "timed out waiting for the remote shell"
	case KindRefused:
		return "connection refused: check host and port"
	case KindUnreachable:
		return "host unreachable: check the address"
	case KindStream:
		return "connection lost: " + rootMessage(err)
	}
	return rootMessage(err)
}

func rootMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Err.Error()
	}
	return err.Error()
}
