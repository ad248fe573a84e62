// Package bridge accepts WebSocket control channels and multiplexes any
// number of remote shell sessions over each of them.
//
// Each channel has one read goroutine that decodes envelopes and dispatches
// them in arrival order. Creating a session registers it immediately and
// establishes the remote shell in the background; the outcome is reported to
// the channel as a created notice or a single error envelope. Shell output is
// relayed by the session's own reader goroutine. All writes to a channel go
// through its write mutex.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/amurg-ai/webshell/hub/auth"
	"github.com/amurg-ai/webshell/hub/registry"
	"github.com/amurg-ai/webshell/hub/remoteshell"
	"github.com/amurg-ai/webshell/hub/store"
	"github.com/amurg-ai/webshell/pkg/protocol"
)

const greeting = "connected to webshell bridge"

// Options configures the Server.
type Options struct {
	AllowedOrigins        []string // for WebSocket origin check
	MaxMessageBytes       int64    // max inbound message size (default 64KB)
	MaxSessionsPerChannel int      // 0 = unlimited
	MessageRate           float64  // inbound messages/sec per channel, 0 disables
	MessageBurst          int
	MaxQueuedInput        int           // pending data envelopes per session (default 256)
	ConnectTimeout        time.Duration // default 15s
	HandshakeTimeout      time.Duration // default 10s
	DefaultSize           protocol.TermSize
}

// Server is the bridge. It is safe for concurrent use.
type Server struct {
	registry  *registry.Registry
	newClient remoteshell.Factory
	store     store.Store
	auth      auth.Provider
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	opts      Options

	mu       sync.Mutex
	channels map[string]*channel
	inputs   map[string]*shellInput // by session id

	establishing sync.WaitGroup
}

// New creates a bridge Server. st may be nil to disable auditing and ap may
// be nil to admit every client.
func New(reg *registry.Registry, factory remoteshell.Factory, st store.Store, ap auth.Provider, logger *slog.Logger, opts Options) *Server {
	if opts.MaxMessageBytes == 0 {
		opts.MaxMessageBytes = 64 * 1024
	}
	if opts.MaxQueuedInput <= 0 {
		opts.MaxQueuedInput = 256
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 15 * time.Second
	}
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if !opts.DefaultSize.Valid() {
		opts.DefaultSize = protocol.TermSize{Rows: protocol.DefaultRows, Cols: protocol.DefaultCols}
	}
	if opts.MessageRate > 0 && opts.MessageBurst <= 0 {
		opts.MessageBurst = max(1, int(opts.MessageRate))
	}
	if ap == nil {
		ap = auth.NoneProvider{}
	}

	return &Server{
		registry:  reg,
		newClient: factory,
		store:     st,
		auth:      ap,
		logger:    logger.With("component", "bridge"),
		upgrader:  makeUpgrader(opts.AllowedOrigins),
		opts:      opts,
		channels:  make(map[string]*channel),
		inputs:    make(map[string]*shellInput),
	}
}

// HandleWS handles a client control channel.
func (s *Server) HandleWS(w http.ResponseWriter, req *http.Request) {
	identity, err := auth.Authenticate(req.Context(), s.auth, req)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ch := &channel{
		id:         uuid.New().String(),
		subject:    identity.Subject,
		remoteAddr: req.RemoteAddr,
		conn:       conn,
		limiter:    newMessageLimiter(s.opts.MessageRate, s.opts.MessageBurst),
	}

	s.mu.Lock()
	s.channels[ch.id] = ch
	s.mu.Unlock()

	conn.SetReadLimit(s.opts.MaxMessageBytes)
	cancelKeepalive := startWSKeepalive(conn, &ch.mu)
	defer cancelKeepalive()

	s.logger.Info("channel opened", "conn_id", ch.id, "subject", ch.subject, "remote_addr", ch.remoteAddr)
	s.audit(store.ActionChannelOpen, ch, nil, nil)
	defer s.closeChannel(ch)

	if err := ch.send(protocol.NewNotice(protocol.Notice{Event: protocol.NoticeConnected, Message: greeting})); err != nil {
		return
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug("channel read error", "conn_id", ch.id, "error", err)
			return
		}
		// Any message resets the read deadline.
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		if !ch.allowMessage() {
			s.logger.Debug("channel message rate limited", "conn_id", ch.id)
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			s.logger.Warn("invalid message from client", "conn_id", ch.id, "error", err)
			_ = ch.send(protocol.NewError(protocol.SystemID, "malformed message"))
			continue
		}

		s.dispatch(ch, env)
	}
}

func (s *Server) dispatch(ch *channel, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeData, protocol.TypeResize, protocol.TypeDisconnect:
		if env.SessionID == "" {
			_ = ch.send(protocol.NewError(protocol.SystemID, fmt.Sprintf("%s requires sessionId", env.Type)))
			return
		}
	}

	switch env.Type {
	case protocol.TypeCreate:
		s.handleCreate(ch, env)
	case protocol.TypeData:
		s.handleData(ch, env)
	case protocol.TypeResize:
		s.handleResize(ch, env)
	case protocol.TypeDisconnect:
		s.handleDisconnect(ch, env)
	default:
		s.logger.Warn("unknown message type", "type", env.Type, "conn_id", ch.id)
		_ = ch.send(protocol.NewError(protocol.SystemID, fmt.Sprintf("unknown message type %q", env.Type)))
	}
}

// closeChannel disconnects every session the channel owns.
func (s *Server) closeChannel(ch *channel) {
	s.mu.Lock()
	delete(s.channels, ch.id)
	s.mu.Unlock()

	ids := s.registry.OwnedBy(ch.id)
	for _, id := range ids {
		s.closeSession(id, "channel closed")
	}
	s.logger.Info("channel closed", "conn_id", ch.id, "sessions_closed", len(ids))
	s.audit(store.ActionChannelClose, ch, nil, map[string]int{"sessions_closed": len(ids)})
}

// closeSession removes a session and closes its remote shell. It reports
// whether this call did the removal; closing an absent session is a no-op.
func (s *Server) closeSession(id, reason string) bool {
	sess, ok := s.registry.Remove(id)
	if !ok {
		return false
	}
	s.stopInput(id)
	sess.MarkClosed()
	if sess.Client != nil {
		_ = sess.Client.Close()
	}
	s.logger.Info("session closed", "session_id", id, "conn_id", sess.Owner, "reason", reason)
	s.audit(store.ActionSessionClose, nil, sess, map[string]string{"reason": reason})
	return true
}

func (s *Server) startInput(sess *registry.Session) {
	in := newShellInput(s.opts.MaxQueuedInput, sess.Client.Write, func(err error) {
		// Write failures surface through the session's reader.
		s.logger.Debug("write to shell failed", "session_id", sess.ID, "error", err)
	})
	s.mu.Lock()
	s.inputs[sess.ID] = in
	s.mu.Unlock()
}

func (s *Server) inputFor(id string) *shellInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputs[id]
}

func (s *Server) stopInput(id string) {
	s.mu.Lock()
	in := s.inputs[id]
	delete(s.inputs, id)
	s.mu.Unlock()
	if in != nil {
		in.stop()
	}
}

// CloseSession disconnects a session on behalf of an operator. The owning
// channel, if still open, receives a disconnect envelope.
func (s *Server) CloseSession(id string) bool {
	sess, ok := s.registry.Get(id)
	if !ok || !s.closeSession(id, "operator request") {
		return false
	}
	s.mu.Lock()
	ch := s.channels[sess.Owner]
	s.mu.Unlock()
	if ch != nil {
		_ = ch.send(protocol.NewDisconnect(id))
	}
	return true
}

// Sessions returns a snapshot of all live sessions.
func (s *Server) Sessions() []registry.Info {
	return s.registry.List()
}

// ChannelCount returns the number of open control channels.
func (s *Server) ChannelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}

// Close closes every channel and session and waits for pending connects to
// finish.
func (s *Server) Close() {
	s.mu.Lock()
	chans := make([]*channel, 0, len(s.channels))
	for _, ch := range s.channels {
		chans = append(chans, ch)
	}
	s.mu.Unlock()

	for _, ch := range chans {
		ch.mu.Lock()
		_ = ch.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		ch.mu.Unlock()
		_ = ch.conn.Close()
	}
	for _, info := range s.registry.List() {
		s.closeSession(info.ID, "shutdown")
	}
	s.establishing.Wait()
}

// audit records a lifecycle event. Failures are logged and otherwise ignored.
func (s *Server) audit(action string, ch *channel, sess *registry.Session, detail any) {
	if s.store == nil {
		return
	}
	e := &store.Event{
		ID:        uuid.New().String(),
		Action:    action,
		CreatedAt: time.Now(),
	}
	if ch != nil {
		e.ChannelID = ch.id
		e.RemoteAddr = ch.remoteAddr
	}
	if sess != nil {
		e.ChannelID = sess.Owner
		e.SessionID = sess.ID
		e.Host = sess.Host
		e.Port = sess.Port
		e.Username = sess.Username
	}
	if detail != nil {
		e.Detail, _ = json.Marshal(detail)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.LogEvent(ctx, e); err != nil {
		s.logger.Warn("audit log failed", "action", action, "error", err)
	}
}
