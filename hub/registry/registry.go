// Package registry tracks the live shell sessions of the bridge.
//
// The registry is pure bookkeeping: it maps session ids to the control
// channel that owns them and the remote shell client serving them. It never
// performs I/O. Status transitions are enforced on the Session itself so that
// a connect finishing after a disconnect can never revive a closed session.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amurg-ai/webshell/hub/remoteshell"
	"github.com/amurg-ai/webshell/pkg/protocol"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusError      Status = "error"
	StatusClosed     Status = "closed"
)

// Session is one live shell session.
type Session struct {
	ID        string
	Owner     string // control channel id
	Host      string
	Port      int
	Username  string
	CreatedAt time.Time
	Client    remoteshell.Client

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	status Status
	errMsg string
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the failure message of a session in error status.
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Context is cancelled when the session is closed. Pending connects derive
// from it.
func (s *Session) Context() context.Context { return s.ctx }

// MarkConnected moves a connecting session to connected. It reports false
// when the session was closed or failed in the meantime. A non-nil announce
// runs before the status lock is released, so a concurrent MarkClosed
// either prevents it or waits for it to finish.
func (s *Session) MarkConnected(announce func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusConnecting {
		return false
	}
	s.status = StatusConnected
	if announce != nil {
		announce()
	}
	return true
}

// MarkError moves a connecting session to error.
func (s *Session) MarkError(msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusConnecting {
		return false
	}
	s.status = StatusError
	s.errMsg = msg
	return true
}

// MarkClosed closes the session and cancels its context. It reports whether
// this call performed the transition.
func (s *Session) MarkClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusClosed {
		return false
	}
	s.status = StatusClosed
	s.cancel()
	return true
}

// Info is a credential-free snapshot of a session.
type Info struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Username  string    `json:"username"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	return Info{
		ID:        s.ID,
		Owner:     s.Owner,
		Host:      s.Host,
		Port:      s.Port,
		Username:  s.Username,
		Status:    s.Status(),
		CreatedAt: s.CreatedAt,
	}
}

// Registry maps session ids to sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create allocates a fresh id and registers a connecting session owned by
// owner. Credentials in cfg are not retained.
func (r *Registry) Create(owner string, cfg protocol.ConnectConfig, client remoteshell.Client) *Session {
	cfg = cfg.WithDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		Owner:     owner,
		Host:      cfg.Host,
		Port:      cfg.Port,
		Username:  cfg.Username,
		CreatedAt: time.Now(),
		Client:    client,
		ctx:       ctx,
		cancel:    cancel,
		status:    StatusConnecting,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		s.ID = uuid.New().String()
		if _, taken := r.sessions[s.ID]; !taken {
			break
		}
	}
	r.sessions[s.ID] = s
	return s
}

// Get looks up a session.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove unregisters a session. Removing an absent id is a no-op.
func (r *Registry) Remove(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

// OwnedBy returns the ids of all sessions owned by a channel.
func (r *Registry) OwnedBy(owner string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, s := range r.sessions {
		if s.Owner == owner {
			ids = append(ids, id)
		}
	}
	return ids
}

// CountOwnedBy returns the number of sessions owned by a channel.
func (r *Registry) CountOwnedBy(owner string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.sessions {
		if s.Owner == owner {
			n++
		}
	}
	return n
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns snapshots of all sessions, oldest first.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Info())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
