// Package store defines the audit storage interface for the bridge and
// provides SQLite and PostgreSQL implementations.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Audit actions.
const (
	ActionChannelOpen      = "channel.open"
	ActionChannelClose     = "channel.close"
	ActionSessionCreate    = "session.create"
	ActionSessionConnected = "session.connected"
	ActionSessionError     = "session.error"
	ActionSessionClose     = "session.close"
)

// Store is the persistence interface for the bridge. It records session
// lifecycle events; it never holds credentials or terminal traffic.
type Store interface {
	LogEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, filter Filter) ([]Event, error)
	PurgeEventsBefore(ctx context.Context, before time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Event is one audit record.
type Event struct {
	ID         string          `json:"id"`
	Action     string          `json:"action"`
	ChannelID  string          `json:"channel_id,omitempty"`
	SessionID  string          `json:"session_id,omitempty"`
	RemoteAddr string          `json:"remote_addr,omitempty"`
	Host       string          `json:"host,omitempty"`
	Port       int             `json:"port,omitempty"`
	Username   string          `json:"username,omitempty"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Filter narrows ListEvents. Action matches as a prefix.
type Filter struct {
	Action    string
	ChannelID string
	SessionID string
	Limit     int
	Offset    int
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	}
	return f.Limit
}
