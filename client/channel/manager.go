// Package channel owns the client's single control channel to the hub. It
// reconnects after unexpected closes and dispatches inbound envelopes to
// registered handlers.
package channel

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/amurg-ai/webshell/pkg/protocol"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// ErrNotConnected is returned by Send while no connection is open.
var ErrNotConnected = errors.New("channel: not connected")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("channel: closed")

// State is the connection state of a Manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed // reconnect attempts exhausted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures a Manager.
type Options struct {
	URL             string
	Token           string // sent as a bearer token
	TLSSkipVerify   bool   // dev only
	DialTimeout     time.Duration
	BaseDelay       time.Duration // delay before attempt n is BaseDelay × n
	MaxAttempts     int
	ReconnectOnSend bool // Send while disconnected makes one reconnect attempt
	Logger          *slog.Logger
}

// Manager owns one control channel connection. It is safe for concurrent
// use. Handlers run on the read goroutine, one envelope at a time.
type Manager struct {
	opts   Options
	logger *slog.Logger
	dialer websocket.Dialer

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	conn       *websocket.Conn
	state      State
	attempt    int
	handlers   map[protocol.Target]protocol.Handler
	stateFuncs []func(State)

	writeMu sync.Mutex
}

// New creates a Manager. Nothing is dialed until Connect.
func New(opts Options) *Manager {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.DialTimeout,
	}
	if opts.TLSSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // dev only, opt-in
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:     opts,
		logger:   opts.Logger.With("component", "channel"),
		dialer:   dialer,
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[protocol.Target]protocol.Handler),
	}
}

// Connect dials the hub. A failed initial connect is returned to the caller
// and is not retried; reconnects only follow an established connection.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateClosed:
		m.mu.Unlock()
		return ErrClosed
	case StateConnected:
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if !m.setStateUnlessClosed(StateConnecting) {
		return ErrClosed
	}
	if err := m.dialOnce(ctx); err != nil {
		m.setStateUnlessClosed(StateDisconnected)
		return err
	}
	return nil
}

// dialOnce opens a connection and starts its read loop.
func (m *Manager) dialOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	header := http.Header{}
	if m.opts.Token != "" {
		header.Set("Authorization", "Bearer "+m.opts.Token)
	}
	conn, resp, err := m.dialer.DialContext(ctx, m.opts.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", m.opts.URL, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", m.opts.URL, err)
	}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	if m.conn != nil {
		// A concurrent dial already connected.
		m.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	m.conn = conn
	m.attempt = 0
	m.state = StateConnected
	m.mu.Unlock()

	m.notifyState(StateConnected)
	m.logger.Info("connected", "url", m.opts.URL)

	go m.readLoop(conn)
	return nil
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			m.connectionLost(conn, err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var env protocol.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			m.logger.Warn("invalid message from hub", "error", err)
			continue
		}
		m.dispatch(env)
	}
}

// connectionLost starts reconnecting unless the close was requested or conn
// was already replaced.
func (m *Manager) connectionLost(conn *websocket.Conn, err error) {
	_ = conn.Close()

	m.mu.Lock()
	if m.conn != conn || m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = StateReconnecting
	m.mu.Unlock()

	m.logger.Warn("connection lost", "error", err)
	m.notifyState(StateReconnecting)
	go m.reconnect()
}

func (m *Manager) reconnect() {
	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		m.mu.Lock()
		if m.state != StateReconnecting {
			// Closed, or a send-triggered dial won the race.
			m.mu.Unlock()
			return
		}
		m.attempt = attempt
		m.mu.Unlock()
		m.notifyState(StateReconnecting)

		delay := m.opts.BaseDelay * time.Duration(attempt)
		m.logger.Info("reconnecting", "attempt", attempt, "max_attempts", m.opts.MaxAttempts, "delay", delay)
		select {
		case <-m.ctx.Done():
			return
		case <-time.After(delay):
		}

		err := m.dialOnce(m.ctx)
		if err == nil {
			return
		}
		if errors.Is(err, ErrClosed) {
			return
		}
		m.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
	}

	if !m.transition(StateReconnecting, StateFailed) {
		return
	}
	msg := fmt.Sprintf("connection to hub lost after %d reconnect attempts, reload to retry", m.opts.MaxAttempts)
	m.logger.Error("giving up on reconnect", "attempts", m.opts.MaxAttempts)
	m.dispatch(protocol.NewError(protocol.SystemID, msg))
}

// Send writes env to the hub. It never queues: while disconnected it fails
// with ErrNotConnected, after at most one reconnect attempt when
// ReconnectOnSend is set.
func (m *Manager) Send(env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	conn, err := m.currentConn()
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

func (m *Manager) currentConn() (*websocket.Conn, error) {
	m.mu.Lock()
	conn, state := m.conn, m.state
	m.mu.Unlock()

	switch {
	case conn != nil:
		return conn, nil
	case state == StateClosed:
		return nil, ErrClosed
	case !m.opts.ReconnectOnSend || state == StateConnecting:
		return nil, ErrNotConnected
	}

	// One immediate attempt. A running reconnect loop sees the new
	// state and stops.
	m.logger.Info("reconnecting on send")
	if err := m.dialOnce(m.ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil, ErrNotConnected
	}
	return m.conn, nil
}

// RegisterCallback installs h for target, replacing any previous handler.
func (m *Manager) RegisterCallback(target protocol.Target, h protocol.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[target] = h
}

// UnregisterCallback removes the handler for target.
func (m *Manager) UnregisterCallback(target protocol.Target) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, target)
}

// dispatch delivers env. System envelopes go only to the system handler.
// Others go to the wildcard handler, which observes, and then to the
// session's own handler.
func (m *Manager) dispatch(env protocol.Envelope) {
	target := env.Target()

	m.mu.Lock()
	specific := m.handlers[target]
	var wildcard protocol.Handler
	if target.Kind != protocol.TargetSystem {
		wildcard = m.handlers[protocol.Wildcard]
	}
	m.mu.Unlock()

	if wildcard != nil {
		wildcard(env)
	}
	if specific != nil {
		specific(env)
		return
	}
	if target.Kind == protocol.TargetSession {
		m.logger.Debug("no handler for session", "session_id", target.ID, "type", env.Type)
	}
}

// OnStateChange registers fn to be called on every state change.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateFuncs = append(m.stateFuncs, fn)
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempt returns the current reconnect attempt, zero while connected.
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// setStateUnlessClosed reports whether the state was changed.
func (m *Manager) setStateUnlessClosed(s State) bool {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return false
	}
	m.state = s
	m.mu.Unlock()
	m.notifyState(s)
	return true
}

// transition moves from one state to another and reports whether the
// current state was from.
func (m *Manager) transition(from, to State) bool {
	m.mu.Lock()
	if m.state != from {
		m.mu.Unlock()
		return false
	}
	m.state = to
	m.mu.Unlock()
	m.notifyState(to)
	return true
}

func (m *Manager) notifyState(s State) {
	m.mu.Lock()
	fns := slices.Clone(m.stateFuncs)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// Close closes the connection, stops reconnecting and drops all handlers.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	m.state = StateClosed
	conn := m.conn
	m.conn = nil
	m.handlers = make(map[protocol.Target]protocol.Handler)
	m.mu.Unlock()

	m.cancel()
	m.notifyState(StateClosed)

	if conn == nil {
		return nil
	}
	m.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
		time.Now().Add(time.Second))
	m.writeMu.Unlock()
	return conn.Close()
}
