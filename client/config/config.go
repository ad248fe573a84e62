// Package config handles client configuration loading and validation.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/amurg-ai/webshell/pkg/protocol"
)

// EnvPrefix is the prefix for environment overrides, e.g. WEBSHELL_CLIENT_TOKEN.
const EnvPrefix = "WEBSHELL_CLIENT"

// Config is the top-level client configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Reconnect ReconnectConfig `json:"reconnect"`
	Hosts     []HostConfig    `json:"hosts,omitempty"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig defines how the client reaches the hub.
type ServerConfig struct {
	URL           string   `json:"url"` // ws:// or wss:// control channel endpoint
	Token         string   `json:"token,omitempty"`
	TLSSkipVerify bool     `json:"tls_skip_verify,omitempty"` // dev only
	DialTimeout   Duration `json:"dial_timeout,omitempty"`
}

// ReconnectConfig is the control channel reconnect policy. The delay before
// attempt n is BaseDelay × n.
type ReconnectConfig struct {
	BaseDelay       Duration `json:"base_delay,omitempty"`
	MaxAttempts     int      `json:"max_attempts,omitempty"`
	ReconnectOnSend bool     `json:"reconnect_on_send,omitempty"`
}

// HostConfig is a saved SSH target.
type HostConfig struct {
	Name           string `json:"name"`
	Host           string `json:"host"`
	Port           int    `json:"port,omitempty"`
	Username       string `json:"username"`
	Password       string `json:"password,omitempty"`
	PrivateKeyFile string `json:"private_key_file,omitempty"`
	Passphrase     string `json:"passphrase,omitempty"`
}

// LoggingConfig defines client logging. Logs go to File, or are discarded
// when it is empty, so they never corrupt the terminal.
type LoggingConfig struct {
	Level string `json:"level,omitempty"`
	File  string `json:"file,omitempty"`
}

// Duration is a JSON-friendly time.Duration (accepts strings like "30s", "5m").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// DefaultPath returns the per-user config location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "webshell.json"
	}
	return filepath.Join(dir, "webshell", "client.json")
}

type envOverrides struct {
	URL   string `envconfig:"URL"`
	Token string `envconfig:"TOKEN"`
}

// Load reads a config file, applies environment overrides and validates the
// result. A missing file is not an error when the URL comes from the
// environment.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	if env.URL != "" {
		cfg.Server.URL = env.URL
	}
	if env.Token != "" {
		cfg.Server.Token = env.Token
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("server.url must be a ws:// or wss:// URL")
	}
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts must not be negative")
	}
	seen := make(map[string]bool)
	for i, h := range c.Hosts {
		if h.Name == "" {
			return fmt.Errorf("hosts[%d].name is required", i)
		}
		if seen[h.Name] {
			return fmt.Errorf("duplicate host name: %s", h.Name)
		}
		seen[h.Name] = true
		if h.Host == "" || h.Username == "" {
			return fmt.Errorf("hosts[%d]: host and username are required", i)
		}
		if h.Port < 0 || h.Port > 65535 {
			return fmt.Errorf("hosts[%d].port out of range", i)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.DialTimeout.Duration == 0 {
		c.Server.DialTimeout.Duration = 10 * time.Second
	}
	if c.Reconnect.BaseDelay.Duration == 0 {
		c.Reconnect.BaseDelay.Duration = time.Second
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = 5
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	for i := range c.Hosts {
		if c.Hosts[i].Port == 0 {
			c.Hosts[i].Port = protocol.DefaultPort
		}
	}
}

// Host returns the saved host with the given name.
func (c *Config) Host(name string) (HostConfig, bool) {
	for _, h := range c.Hosts {
		if h.Name == name {
			return h, true
		}
	}
	return HostConfig{}, false
}

// ConnectConfig builds the connection descriptor for h, reading the private
// key file if one is set.
func (h HostConfig) ConnectConfig() (protocol.ConnectConfig, error) {
	cfg := protocol.ConnectConfig{
		Host:       h.Host,
		Port:       h.Port,
		Username:   h.Username,
		Password:   h.Password,
		Passphrase: h.Passphrase,
	}
	if h.PrivateKeyFile != "" {
		key, err := os.ReadFile(h.PrivateKeyFile)
		if err != nil {
			return cfg, fmt.Errorf("read private key: %w", err)
		}
		cfg.PrivateKey = string(key)
	}
	return cfg, nil
}
