package remoteshell

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"typed", &Error{Kind: KindStream, Err: errors.New("eof")}, KindStream},
		{"wrapped typed", fmt.Errorf("establish: %w", &Error{Kind: KindRefused, Err: errors.New("x")}), KindRefused},
		{"auth text", errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password]"), KindAuth},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, KindRefused},
		{"unreachable", &net.OpError{Op: "dial", Err: syscall.EHOSTUNREACH}, KindUnreachable},
		{"deadline", fmt.Errorf("dial: %w", context.DeadlineExceeded), KindConnectTimeout},
		{"dns", &net.DNSError{Err: "no such host", Name: "nope.invalid", IsNotFound: true}, KindUnreachable},
		{"unknown", errors.New("something odd"), ""},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrapUsesPhaseTimeoutKind(t *testing.T) {
	err := wrap(context.DeadlineExceeded, KindHandshakeTimeout)
	if got := Classify(err); got != KindHandshakeTimeout {
		t.Errorf("Classify() = %q, want %q", got, KindHandshakeTimeout)
	}
	err = wrap(errors.New("weird"), KindConnectTimeout)
	if got := Classify(err); got != KindTransport {
		t.Errorf("unrecognised error should be transport, got %q", got)
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&Error{Kind: KindAuth, Err: errors.New("x")}, "authentication failed: check username and password"},
		{&Error{Kind: KindConnectTimeout, Err: errors.New("x")}, "connection timed out: check network and firewall"},
		{&Error{Kind: KindRefused, Err: errors.New("x")}, "connection refused: check host and port"},
		{&Error{Kind: KindTransport, Err: errors.New("kex failed")}, "kex failed"},
		{&Error{Kind: KindStream, Err: errors.New("reset")}, "connection lost: reset"},
		{errors.New("raw failure"), "raw failure"},
	}
	for _, tt := range tests {
		if got := UserMessage(tt.err); got != tt.want {
			t.Errorf("UserMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
