package bridge

import (
	"unicode/utf8"

	"github.com/amurg-ai/webshell/hub/remoteshell"
	"github.com/amurg-ai/webshell/pkg/protocol"
)

// sessionSink relays one session's shell output to its owning channel. The
// remote shell client calls it from a single reader goroutine, so chunks
// leave in the order they were read.
type sessionSink struct {
	srv       *Server
	ch        *channel
	sessionID string
	carry     []byte // incomplete trailing UTF-8 sequence
}

var _ remoteshell.Sink = (*sessionSink)(nil)

func (k *sessionSink) OnData(p []byte) {
	buf := p
	if len(k.carry) > 0 {
		buf = append(k.carry, p...)
		k.carry = nil
	}
	cut := completeUTF8(buf)
	if cut < len(buf) {
		k.carry = append([]byte(nil), buf[cut:]...)
	}
	if cut > 0 {
		k.emit(buf[:cut])
	}
}

func (k *sessionSink) OnError(err error) {
	k.flush()
	k.srv.logger.Warn("session stream failed", "session_id", k.sessionID, "conn_id", k.ch.id, "error", err)
	if k.srv.closeSession(k.sessionID, "stream error") {
		_ = k.ch.send(protocol.NewError(k.sessionID, remoteshell.UserMessage(err)))
	}
}

func (k *sessionSink) OnClose() {
	k.flush()
	if k.srv.closeSession(k.sessionID, "remote closed") {
		_ = k.ch.send(protocol.NewDisconnect(k.sessionID))
	}
}

func (k *sessionSink) flush() {
	if len(k.carry) > 0 {
		k.emit(k.carry)
		k.carry = nil
	}
}

func (k *sessionSink) emit(p []byte) {
	if err := k.ch.send(protocol.NewOutput(k.sessionID, string(p))); err != nil {
		k.srv.logger.Debug("send output failed", "session_id", k.sessionID, "error", err)
	}
}

// completeUTF8 returns the length of the longest prefix of p that does not
// end inside a multi-byte sequence.
func completeUTF8(p []byte) int {
	for i := len(p) - 1; i >= 0 && i > len(p)-utf8.UTFMax; i-- {
		if utf8.RuneStart(p[i]) {
			if utf8.FullRune(p[i:]) {
				return len(p)
			}
			return i
		}
	}
	return len(p)
}
