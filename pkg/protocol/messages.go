// Package protocol defines the wire protocol messages exchanged between
// webshell components (client ↔ bridge) over a single WebSocket control
// channel.
//
// All messages are JSON-encoded envelopes with a "type" field that determines
// which of the other fields are meaningful. Many shell sessions share one
// channel; each envelope names the session it belongs to, or the reserved
// "system" id for channel-level traffic.
package protocol

import (
	"encoding/json"
)

// Message types.
const (
	TypeCreate     = "create"
	TypeData       = "data"
	TypeResize     = "resize"
	TypeDisconnect = "disconnect"
	TypeError      = "error"
	TypeSystem     = "system"
)

// Reserved session ids.
const (
	SystemID   = "system"
	WildcardID = "*" // client-side subscription key only, never sent
)

// Notice events carried in the data field of a system envelope.
const (
	NoticeConnected = "connected"
	NoticeAccepted  = "accepted"
	NoticeCreated   = "created"
)

// Envelope is the top-level wire format for all messages.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	RequestID string          `json:"requestId,omitempty"` // echoed back for create correlation
	Config    *ConnectConfig  `json:"config,omitempty"`
	Content   string          `json:"content,omitempty"` // client → bridge keystrokes
	Data      json.RawMessage `json:"data,omitempty"`    // bridge → client output or notice
	Rows      int             `json:"rows,omitempty"`
	Cols      int             `json:"cols,omitempty"`
	Size      *TermSize       `json:"size,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// Notice is the payload of a system envelope.
type Notice struct {
	Event     string `json:"event"`
	SessionID string `json:"sessionId,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Handler receives envelopes dispatched by the client channel.
type Handler func(Envelope)

// Target returns the dispatch target named by the envelope's session id.
func (e Envelope) Target() Target {
	return ParseTarget(e.SessionID)
}

// Input returns the keystrokes carried by a data envelope. Clients normally
// use the content field; a string in data is accepted as well.
func (e Envelope) Input() (string, bool) {
	if e.Content != "" {
		return e.Content, true
	}
	return e.Text()
}

// Text decodes the data field as a string (shell output).
func (e Envelope) Text() (string, bool) {
	if len(e.Data) == 0 || e.Data[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(e.Data, &s); err != nil {
		return "", false
	}
	return s, true
}

// Notice decodes the data field as a system notice.
func (e Envelope) Notice() (Notice, bool) {
	if len(e.Data) == 0 || e.Data[0] != '{' {
		return Notice{}, false
	}
	var n Notice
	if err := json.Unmarshal(e.Data, &n); err != nil || n.Event == "" {
		return Notice{}, false
	}
	return n, true
}

// TermSize returns the requested terminal size. Top-level rows/cols take
// precedence over the nested size object.
func (e Envelope) TermSize() TermSize {
	if e.Rows != 0 || e.Cols != 0 {
		return TermSize{Rows: e.Rows, Cols: e.Cols}
	}
	if e.Size != nil {
		return *e.Size
	}
	return TermSize{}
}

// --- Bridge → client ---

// NewNotice wraps a notice in a system envelope.
func NewNotice(n Notice) Envelope {
	raw, _ := json.Marshal(n)
	return Envelope{Type: TypeSystem, SessionID: SystemID, Data: raw}
}

// NewOutput builds a data envelope carrying shell output.
func NewOutput(sessionID, chunk string) Envelope {
	raw, _ := json.Marshal(chunk)
	return Envelope{Type: TypeData, SessionID: sessionID, Data: raw}
}

// NewError builds an error envelope. An empty session id addresses the channel.
func NewError(sessionID, message string) Envelope {
	if sessionID == "" {
		sessionID = SystemID
	}
	return Envelope{Type: TypeError, SessionID: sessionID, Message: message}
}

// --- Client → bridge ---

// NewCreate builds a create request.
func NewCreate(requestID string, cfg ConnectConfig, size TermSize) Envelope {
	return Envelope{
		Type:      TypeCreate,
		RequestID: requestID,
		Config:    &cfg,
		Rows:      size.Rows,
		Cols:      size.Cols,
	}
}

// NewInput builds a data envelope carrying keystrokes.
func NewInput(sessionID, content string) Envelope {
	return Envelope{Type: TypeData, SessionID: sessionID, Content: content}
}

// NewResize builds a resize request.
func NewResize(sessionID string, rows, cols int) Envelope {
	return Envelope{Type: TypeResize, SessionID: sessionID, Rows: rows, Cols: cols}
}

// NewDisconnect builds a disconnect envelope. The bridge also sends one when
// the remote side ends a session.
func NewDisconnect(sessionID string) Envelope {
	return Envelope{Type: TypeDisconnect, SessionID: sessionID}
}
