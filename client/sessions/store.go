// Package sessions keeps the client's view of its shell sessions: one record
// per tab, the layout they are shown in, and the binding between a local
// record and the bridge session that backs it.
//
// A record is created locally and only later bound to a bridge session id.
// The create request carries the local id as its request id; the bridge
// echoes it in the accepted notice, which is when the store learns the remote
// id and subscribes to that session's envelopes.
package sessions

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amurg-ai/webshell/client/eventbus"
	"github.com/amurg-ai/webshell/pkg/protocol"
)

// ErrUnknownSession is returned for ids the store does not hold.
var ErrUnknownSession = errors.New("unknown session")

// ErrNotConnected is returned when input is sent to a session that has no
// live bridge session.
var ErrNotConnected = errors.New("session not connected")

// Status is the connection status of a client session.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// live reports whether the session holds or is acquiring a bridge session.
func (s Status) live() bool {
	return s == StatusConnecting || s == StatusConnected
}

// LayoutType selects how sessions are arranged.
type LayoutType string

const (
	LayoutTabs            LayoutType = "tabs"
	LayoutSplitHorizontal LayoutType = "split-horizontal"
	LayoutSplitVertical   LayoutType = "split-vertical"
)

// Valid reports whether t is a known layout type.
func (t LayoutType) Valid() bool {
	switch t {
	case LayoutTabs, LayoutSplitHorizontal, LayoutSplitVertical:
		return true
	}
	return false
}

// Layout is the ordered set of visible sessions.
type Layout struct {
	Type     LayoutType
	Sessions []string
	Active   string
}

func (l Layout) clone() Layout {
	l.Sessions = slices.Clone(l.Sessions)
	return l
}

// Session is a client session record. Values returned by the Store are
// copies.
type Session struct {
	ID         string
	RemoteID   string
	Config     protocol.ConnectConfig
	Status     Status
	Title      string
	Err        string
	CreatedAt  time.Time
	LastActive time.Time
}

// Channel is the part of the channel manager the store uses.
type Channel interface {
	Send(protocol.Envelope) error
	RegisterCallback(protocol.Target, protocol.Handler)
	UnregisterCallback(protocol.Target)
}

// OutputFunc receives shell output for one session.
type OutputFunc func(string)

// Store holds the client's sessions. It is safe for concurrent use. Channel
// handlers run on the channel's read goroutine; output functions are called
// from there too and must not block for long.
type Store struct {
	ch     Channel
	bus    *eventbus.Bus
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	byRemote map[string]string // remote id -> local id
	outputs  map[string]OutputFunc
	layout   Layout
}

// New creates a Store bound to ch. It takes over the channel's system
// handler. bus may be nil.
func New(ch Channel, bus *eventbus.Bus, logger *slog.Logger) *Store {
	s := &Store{
		ch:       ch,
		bus:      bus,
		logger:   logger.With("component", "sessions"),
		sessions: make(map[string]*Session),
		byRemote: make(map[string]string),
		outputs:  make(map[string]OutputFunc),
		layout:   Layout{Type: LayoutTabs},
	}
	ch.RegisterCallback(protocol.System, s.handleSystem)
	return s
}

// Create adds a disconnected session for cfg and makes it active. An empty
// title defaults to user@host:port.
func (s *Store) Create(cfg protocol.ConnectConfig, title string) *Session {
	cfg = cfg.WithDefaults()
	if title == "" {
		title = cfg.Title()
	}
	now := time.Now()
	sess := &Session{
		ID:         uuid.New().String(),
		Config:     cfg,
		Status:     StatusDisconnected,
		Title:      title,
		CreatedAt:  now,
		LastActive: now,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.layout.Sessions = append(s.layout.Sessions, sess.ID)
	s.layout.Active = sess.ID
	out := *sess
	layout := s.layout.clone()
	s.mu.Unlock()

	s.logger.Debug("session created", "id", out.ID, "title", out.Title)
	s.publish(eventbus.SessionCreated, sessionData(&out))
	s.publish(eventbus.LayoutChanged, layout)
	return &out
}

// Connect asks the bridge to open the session's shell with the given
// terminal size. The outcome arrives asynchronously.
func (s *Store) Connect(id string, size protocol.TermSize) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownSession
	}
	if sess.Status.live() {
		status := sess.Status
		s.mu.Unlock()
		return fmt.Errorf("session %s is already %s", id, status)
	}
	sess.Status = StatusConnecting
	sess.Err = ""
	sess.LastActive = time.Now()
	cfg := sess.Config
	data := sessionData(sess)
	s.mu.Unlock()
	s.publish(eventbus.SessionState, data)

	if err := s.ch.Send(protocol.NewCreate(id, cfg, size)); err != nil {
		s.setStatus(id, StatusError, err.Error())
		return fmt.Errorf("send create: %w", err)
	}
	return nil
}

// Write sends keystrokes to the session's shell.
func (s *Store) Write(id, input string) error {
	remote, err := s.remote(id, true)
	if err != nil {
		return err
	}
	return s.ch.Send(protocol.NewInput(remote, input))
}

// Resize sends a terminal size change for the session.
func (s *Store) Resize(id string, rows, cols int) error {
	remote, err := s.remote(id, false)
	if err != nil {
		return err
	}
	return s.ch.Send(protocol.NewResize(remote, rows, cols))
}

// remote returns the bridge id of a connected session.
func (s *Store) remote(id string, touch bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return "", ErrUnknownSession
	}
	if sess.Status != StatusConnected || sess.RemoteID == "" {
		return "", ErrNotConnected
	}
	if touch {
		sess.LastActive = time.Now()
	}
	return sess.RemoteID, nil
}

// Disconnect closes the session's bridge session, if any, and marks it
// disconnected. A session still waiting for its accepted notice is
// disconnected when the notice arrives.
func (s *Store) Disconnect(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownSession
	}
	remote := s.unbindLocked(sess)
	sess.Status = StatusDisconnected
	sess.LastActive = time.Now()
	data := sessionData(sess)
	s.mu.Unlock()

	s.publish(eventbus.SessionState, data)
	if remote == "" {
		return nil
	}
	s.ch.UnregisterCallback(protocol.Session(remote))
	return s.ch.Send(protocol.NewDisconnect(remote))
}

// UpdateStatus sets a session's status and touches LastActive.
func (s *Store) UpdateStatus(id string, status Status) bool {
	return s.setStatus(id, status, "")
}

func (s *Store) setStatus(id string, status Status, errMsg string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	sess.Status = status
	sess.Err = errMsg
	sess.LastActive = time.Now()
	data := sessionData(sess)
	s.mu.Unlock()

	s.publish(eventbus.SessionState, data)
	return true
}

// Remove disconnects and forgets a session. If it was active, the first
// remaining session becomes active.
func (s *Store) Remove(id string) bool {
	if err := s.Disconnect(id); errors.Is(err, ErrUnknownSession) {
		return false
	} else if err != nil {
		s.logger.Debug("disconnect on remove failed", "id", id, "error", err)
	}

	s.mu.Lock()
	if _, ok := s.sessions[id]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.sessions, id)
	delete(s.outputs, id)
	s.layout.Sessions = slices.DeleteFunc(s.layout.Sessions, func(v string) bool { return v == id })
	if s.layout.Active == id {
		s.layout.Active = ""
		if len(s.layout.Sessions) > 0 {
			s.layout.Active = s.layout.Sessions[0]
		}
	}
	layout := s.layout.clone()
	s.mu.Unlock()

	s.publish(eventbus.SessionRemoved, eventbus.SessionData{ID: id})
	s.publish(eventbus.LayoutChanged, layout)
	return true
}

// SetActive makes id the active session. Unknown ids are ignored.
func (s *Store) SetActive(id string) bool {
	s.mu.Lock()
	if _, ok := s.sessions[id]; !ok {
		s.mu.Unlock()
		return false
	}
	s.layout.Active = id
	layout := s.layout.clone()
	s.mu.Unlock()

	s.publish(eventbus.LayoutChanged, layout)
	return true
}

// UpdateLayout applies fn to a copy of the layout and stores the result. An
// invalid type keeps the previous one; ids the store does not hold are
// dropped, and an active id outside the list falls back to the first entry.
func (s *Store) UpdateLayout(fn func(*Layout)) Layout {
	s.mu.Lock()
	next := s.layout.clone()
	fn(&next)

	if !next.Type.Valid() {
		next.Type = s.layout.Type
	}
	seen := make(map[string]bool, len(next.Sessions))
	next.Sessions = slices.DeleteFunc(next.Sessions, func(id string) bool {
		_, known := s.sessions[id]
		dup := seen[id]
		seen[id] = true
		return !known || dup
	})
	if !slices.Contains(next.Sessions, next.Active) {
		next.Active = ""
		if len(next.Sessions) > 0 {
			next.Active = next.Sessions[0]
		}
	}
	s.layout = next
	layout := next.clone()
	s.mu.Unlock()

	s.publish(eventbus.LayoutChanged, layout)
	return layout
}

// Get returns a copy of the session.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// List returns all sessions in layout order.
func (s *Store) List() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, 0, len(s.sessions))
	for _, id := range s.layout.Sessions {
		if sess, ok := s.sessions[id]; ok {
			out = append(out, *sess)
		}
	}
	return out
}

// ActiveSessions returns the connected sessions in layout order.
func (s *Store) ActiveSessions() []Session {
	return slices.DeleteFunc(s.List(), func(sess Session) bool {
		return sess.Status != StatusConnected
	})
}

// ActiveSession returns the session that has focus.
func (s *Store) ActiveSession() (Session, bool) {
	s.mu.Lock()
	active := s.layout.Active
	s.mu.Unlock()
	if active == "" {
		return Session{}, false
	}
	return s.Get(active)
}

// Layout returns a copy of the current layout.
func (s *Store) Layout() Layout {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layout.clone()
}

// SetOutput routes the session's shell output to fn. A nil fn discards it.
func (s *Store) SetOutput(id string, fn OutputFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		delete(s.outputs, id)
		return
	}
	s.outputs[id] = fn
}

// ChannelLost marks every live session as failed. The bridge ends all of a
// channel's sessions when the channel drops, so none survive a reconnect.
func (s *Store) ChannelLost(reason string) {
	s.mu.Lock()
	var remotes []string
	var changed []eventbus.SessionData
	for _, sess := range s.sessions {
		if !sess.Status.live() {
			continue
		}
		if r := s.unbindLocked(sess); r != "" {
			remotes = append(remotes, r)
		}
		sess.Status = StatusError
		sess.Err = reason
		changed = append(changed, sessionData(sess))
	}
	s.mu.Unlock()

	for _, r := range remotes {
		s.ch.UnregisterCallback(protocol.Session(r))
	}
	for _, d := range changed {
		s.publish(eventbus.SessionState, d)
	}
	if len(changed) > 0 {
		s.logger.Warn("channel lost, sessions ended", "sessions", len(changed), "reason", reason)
	}
}

// unbindLocked clears the remote binding and returns the old remote id.
func (s *Store) unbindLocked(sess *Session) string {
	remote := sess.RemoteID
	if remote != "" {
		delete(s.byRemote, remote)
		sess.RemoteID = ""
	}
	return remote
}

func (s *Store) handleSystem(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeSystem:
		n, ok := env.Notice()
		if !ok {
			s.logger.Debug("ignoring malformed notice")
			return
		}
		switch n.Event {
		case protocol.NoticeConnected:
			s.publish(eventbus.ChannelNotice, eventbus.MessageData{Message: n.Message})
		case protocol.NoticeAccepted:
			s.bind(n.RequestID, n.SessionID)
		case protocol.NoticeCreated:
			s.connected(n.SessionID)
		}
	case protocol.TypeError:
		if env.RequestID != "" {
			if s.setStatusIf(env.RequestID, StatusConnecting, StatusError, env.Message) {
				return
			}
		}
		s.logger.Warn("hub error", "message", env.Message)
		s.publish(eventbus.ChannelError, eventbus.MessageData{Message: env.Message})
	}
}

// bind attaches a remote id to the session that requested it. A session that
// stopped waiting has its bridge session closed right away.
func (s *Store) bind(localID, remoteID string) {
	if remoteID == "" {
		return
	}
	s.mu.Lock()
	sess, ok := s.sessions[localID]
	if !ok || sess.Status != StatusConnecting || sess.RemoteID != "" {
		s.mu.Unlock()
		s.logger.Debug("closing orphaned session", "remote_id", remoteID, "request_id", localID)
		if err := s.ch.Send(protocol.NewDisconnect(remoteID)); err != nil {
			s.logger.Debug("orphan disconnect failed", "remote_id", remoteID, "error", err)
		}
		return
	}
	sess.RemoteID = remoteID
	s.byRemote[remoteID] = localID
	s.mu.Unlock()

	s.ch.RegisterCallback(protocol.Session(remoteID), func(env protocol.Envelope) {
		s.handleSession(remoteID, env)
	})
}

func (s *Store) connected(remoteID string) {
	s.mu.Lock()
	localID, ok := s.byRemote[remoteID]
	s.mu.Unlock()
	if ok {
		s.setStatusIf(localID, StatusConnecting, StatusConnected, "")
	}
}

// setStatusIf changes the status only from the given one.
func (s *Store) setStatusIf(id string, from, to Status, errMsg string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok || sess.Status != from {
		s.mu.Unlock()
		return false
	}
	sess.Status = to
	sess.Err = errMsg
	sess.LastActive = time.Now()
	data := sessionData(sess)
	s.mu.Unlock()

	s.publish(eventbus.SessionState, data)
	return true
}

func (s *Store) handleSession(remoteID string, env protocol.Envelope) {
	s.mu.Lock()
	localID, ok := s.byRemote[remoteID]
	if !ok {
		s.mu.Unlock()
		return
	}
	sess := s.sessions[localID]

	switch env.Type {
	case protocol.TypeData:
		text, ok := env.Text()
		sess.LastActive = time.Now()
		out := s.outputs[localID]
		s.mu.Unlock()
		if ok && out != nil {
			out(text)
		}
		return
	case protocol.TypeError:
		s.unbindLocked(sess)
		sess.Status = StatusError
		sess.Err = env.Message
	case protocol.TypeDisconnect:
		s.unbindLocked(sess)
		sess.Status = StatusDisconnected
	default:
		s.mu.Unlock()
		return
	}
	sess.LastActive = time.Now()
	data := sessionData(sess)
	s.mu.Unlock()

	s.ch.UnregisterCallback(protocol.Session(remoteID))
	s.publish(eventbus.SessionState, data)
}

func (s *Store) publish(eventType string, data any) {
	if s.bus != nil {
		s.bus.PublishType(eventType, data)
	}
}

func sessionData(sess *Session) eventbus.SessionData {
	return eventbus.SessionData{
		ID:     sess.ID,
		Title:  sess.Title,
		Status: string(sess.Status),
		Error:  sess.Err,
	}
}
