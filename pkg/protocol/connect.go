package protocol

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is used when a connect descriptor omits the port.
const DefaultPort = 22

// Terminal geometry defaults and limits.
const (
	DefaultRows = 24
	DefaultCols = 80
	MaxTermDim  = 500
)

// ConnectConfig describes the remote host a session should connect to.
// Credentials are only ever held in memory.
type ConnectConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port,omitempty"`
	Username   string `json:"username"`
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"privateKey,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
}

// Validate reports whether the descriptor is usable.
func (c ConnectConfig) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("host is required")
	}
	if strings.TrimSpace(c.Username) == "" {
		return errors.New("username is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	return nil
}

// WithDefaults fills in the default port.
func (c ConnectConfig) WithDefaults() ConnectConfig {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	return c
}

// Addr returns host:port suitable for dialing.
func (c ConnectConfig) Addr() string {
	c = c.WithDefaults()
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Title is the default display name, user@host:port.
func (c ConnectConfig) Title() string {
	c = c.WithDefaults()
	return fmt.Sprintf("%s@%s:%d", c.Username, c.Host, c.Port)
}

// Redacted returns a copy with all secrets cleared.
func (c ConnectConfig) Redacted() ConnectConfig {
	c.Password = ""
	c.PrivateKey = ""
	c.Passphrase = ""
	return c
}

// TermSize is a terminal geometry in character cells.
type TermSize struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// Valid reports whether both dimensions are positive.
func (s TermSize) Valid() bool {
	return s.Rows > 0 && s.Cols > 0
}

// OrDefault returns s, or 24x80 when s is not valid.
func (s TermSize) OrDefault() TermSize {
	if !s.Valid() {
		return TermSize{Rows: DefaultRows, Cols: DefaultCols}
	}
	return s.Clamp()
}

// Clamp limits each dimension to MaxTermDim.
func (s TermSize) Clamp() TermSize {
	s.Rows = min(s.Rows, MaxTermDim)
	s.Cols = min(s.Cols, MaxTermDim)
	return s
}
