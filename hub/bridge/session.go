package bridge

import (
	"context"

	"github.com/amurg-ai/webshell/hub/registry"
	"github.com/amurg-ai/webshell/hub/remoteshell"
	"github.com/amurg-ai/webshell/hub/store"
	"github.com/amurg-ai/webshell/pkg/protocol"
)

func (s *Server) handleCreate(ch *channel, env protocol.Envelope) {
	reject := func(msg string) {
		e := protocol.NewError(protocol.SystemID, msg)
		e.RequestID = env.RequestID
		_ = ch.send(e)
	}

	if env.Config == nil {
		reject("create requires a connection config")
		return
	}
	cfg := *env.Config
	if err := cfg.Validate(); err != nil {
		reject("invalid connection config: " + err.Error())
		return
	}
	if limit := s.opts.MaxSessionsPerChannel; limit > 0 && s.registry.CountOwnedBy(ch.id) >= limit {
		reject("session limit reached")
		return
	}

	size := env.TermSize()
	if !size.Valid() {
		size = s.opts.DefaultSize
	}
	size = size.Clamp()

	sess := s.registry.Create(ch.id, cfg, s.newClient())
	s.startInput(sess)
	s.logger.Info("session created", "session_id", sess.ID, "conn_id", ch.id,
		"host", sess.Host, "port", sess.Port, "user", sess.Username)
	s.audit(store.ActionSessionCreate, nil, sess, nil)

	_ = ch.send(protocol.NewNotice(protocol.Notice{
		Event:     protocol.NoticeAccepted,
		SessionID: sess.ID,
		RequestID: env.RequestID,
	}))

	s.establishing.Add(1)
	go s.establish(ch, sess, cfg, size, env.RequestID)
}

// establish connects and opens the shell. A disconnect while this runs
// cancels the session context, and the connected transition is then refused.
// The created notice is sent inside that transition, so it never follows a
// disconnect that was already processed.
func (s *Server) establish(ch *channel, sess *registry.Session, cfg protocol.ConnectConfig, size protocol.TermSize, requestID string) {
	defer s.establishing.Done()

	ctx := sess.Context()
	connectCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	err := sess.Client.Connect(connectCtx, cfg)
	cancel()

	if err == nil {
		shellCtx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
		err = sess.Client.OpenShell(shellCtx, size)
		cancel()
	}
	if err != nil {
		s.failCreate(ch, sess, requestID, err)
		return
	}

	announce := func() {
		_ = ch.send(protocol.NewNotice(protocol.Notice{Event: protocol.NoticeCreated, SessionID: sess.ID}))
	}
	if !sess.MarkConnected(announce) {
		_ = sess.Client.Close()
		return
	}
	s.logger.Info("session connected", "session_id", sess.ID, "conn_id", ch.id)
	s.audit(store.ActionSessionConnected, nil, sess, nil)

	sess.Client.Attach(&sessionSink{srv: s, ch: ch, sessionID: sess.ID})
}

func (s *Server) failCreate(ch *channel, sess *registry.Session, requestID string, err error) {
	msg := remoteshell.UserMessage(err)
	if !sess.MarkError(msg) {
		// Disconnected while connecting.
		_ = sess.Client.Close()
		return
	}
	s.registry.Remove(sess.ID)
	s.stopInput(sess.ID)
	_ = sess.Client.Close()
	sess.MarkClosed()

	kind := remoteshell.Classify(err)
	s.logger.Warn("session connect failed", "session_id", sess.ID, "conn_id", ch.id,
		"host", sess.Host, "kind", kind, "error", err)
	s.audit(store.ActionSessionError, nil, sess, map[string]string{"kind": string(kind), "message": msg})

	e := protocol.NewError(sess.ID, msg)
	e.RequestID = requestID
	_ = ch.send(e)
}

// lookup finds a session owned by ch. Sessions of other channels are
// invisible.
func (s *Server) lookup(ch *channel, id string) (*registry.Session, bool) {
	sess, ok := s.registry.Get(id)
	if !ok || sess.Owner != ch.id {
		return nil, false
	}
	return sess, true
}

func (s *Server) handleData(ch *channel, env protocol.Envelope) {
	sess, ok := s.lookup(ch, env.SessionID)
	if !ok {
		s.logger.Debug("data for unknown session", "session_id", env.SessionID, "conn_id", ch.id)
		return
	}
	input, ok := env.Input()
	if !ok || input == "" {
		return
	}
	in := s.inputFor(sess.ID)
	if in == nil || in.enqueue([]byte(input)) {
		return
	}
	s.logger.Warn("shell is not consuming input, closing session", "session_id", sess.ID, "conn_id", ch.id,
		"queued", s.opts.MaxQueuedInput)
	if s.closeSession(sess.ID, "input backlog") {
		_ = ch.send(protocol.NewError(sess.ID, "remote shell stopped reading input"))
	}
}

func (s *Server) handleResize(ch *channel, env protocol.Envelope) {
	sess, ok := s.lookup(ch, env.SessionID)
	if !ok || sess.Status() != registry.StatusConnected {
		return
	}
	size := env.TermSize()
	if !size.Valid() {
		s.logger.Debug("ignoring invalid resize", "session_id", sess.ID, "rows", size.Rows, "cols", size.Cols)
		return
	}
	size = size.Clamp()
	if err := sess.Client.Resize(size.Rows, size.Cols); err != nil {
		s.logger.Debug("resize failed", "session_id", sess.ID, "error", err)
	}
}

func (s *Server) handleDisconnect(ch *channel, env protocol.Envelope) {
	if _, ok := s.lookup(ch, env.SessionID); !ok {
		return
	}
	s.closeSession(env.SessionID, "client request")
}
