// Package config handles hub configuration loading and validation.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix for environment overrides, e.g. WEBSHELL_ADDR.
const EnvPrefix = "WEBSHELL"

// Auth modes.
const (
	AuthNone = "none"
	AuthJWT  = "jwt"
	AuthJWKS = "jwks"
)

// knownWeakSecrets is a blocklist of secrets that must never be used in production.
var knownWeakSecrets = map[string]bool{
	"local-dev-secret-for-testing-only-32chars!": true,
	"changeme": true,
	"secret":   true,
}

// GenerateRandomSecret returns a cryptographically random 64-character hex string
// suitable for use as a JWT secret.
func GenerateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Config is the top-level hub configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	SSH       SSHConfig       `json:"ssh"`
	Session   SessionConfig   `json:"session"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`
}

// ServerConfig defines the hub's listener settings.
type ServerConfig struct {
	Addr           string   `json:"addr"` // e.g. ":8080"
	TLSCert        string   `json:"tls_cert,omitempty"`
	TLSKey         string   `json:"tls_key,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // WebSocket/CORS origins; empty allows all
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty"`  // default 1MB
}

// AuthConfig gates the WebSocket upgrade and the API behind a bearer token.
type AuthConfig struct {
	Mode      string `json:"mode,omitempty"` // "none" (default), "jwt" or "jwks"
	JWTSecret string `json:"jwt_secret,omitempty"`
	JWKSURL   string `json:"jwks_url,omitempty"`
	Issuer    string `json:"issuer,omitempty"`
}

// SSHConfig defines how remote shells are opened.
type SSHConfig struct {
	ConnectTimeout    Duration `json:"connect_timeout,omitempty"`   // default 15s
	HandshakeTimeout  Duration `json:"handshake_timeout,omitempty"` // default 10s
	KeepaliveInterval Duration `json:"keepalive_interval,omitempty"`
	KnownHostsFile    string   `json:"known_hosts_file,omitempty"` // empty disables host key checks
	DefaultRows       int      `json:"default_rows,omitempty"`
	DefaultCols       int      `json:"default_cols,omitempty"`
}

// SessionConfig defines per-channel limits.
type SessionConfig struct {
	MaxPerChannel   int     `json:"max_per_channel,omitempty"`
	MaxMessageBytes int64   `json:"max_message_bytes,omitempty"` // default 64KB
	MessageRate     float64 `json:"message_rate,omitempty"`      // messages/sec per channel, default 100
	MessageBurst    int     `json:"message_burst,omitempty"`     // default 200
	MaxQueuedInput  int     `json:"max_queued_input,omitempty"`  // per session, default 256
}

// StorageConfig defines the audit database.
type StorageConfig struct {
	Driver    string   `json:"driver"`              // "sqlite" (default) or "postgres"
	DSN       string   `json:"dsn"`                 // e.g. "webshell.db" or ":memory:"
	Retention Duration `json:"retention,omitempty"` // audit event retention
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"` // "json" or "text"
}

// RateLimitConfig defines HTTP rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"` // default 10
	Burst             int     `json:"burst,omitempty"`               // default 20
}

// Duration is a JSON-friendly time.Duration.
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

// envOverrides are applied on top of the file. Unset variables leave the
// file value alone.
type envOverrides struct {
	Addr           string        `envconfig:"ADDR"`
	AllowedOrigins []string      `envconfig:"ALLOWED_ORIGINS"`
	AuthMode       string        `envconfig:"AUTH_MODE"`
	JWTSecret      string        `envconfig:"JWT_SECRET"`
	JWKSURL        string        `envconfig:"JWKS_URL"`
	Issuer         string        `envconfig:"ISSUER"`
	KnownHostsFile string        `envconfig:"KNOWN_HOSTS_FILE"`
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT"`
	StorageDriver  string        `envconfig:"STORAGE_DRIVER"`
	StorageDSN     string        `envconfig:"STORAGE_DSN"`
	LogLevel       string        `envconfig:"LOG_LEVEL"`
	LogFormat      string        `envconfig:"LOG_FORMAT"`
}

// Load reads a config file, applies environment overrides and validates the
// result. An empty path configures the hub from the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return err
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Server.Addr, env.Addr)
	set(&c.Auth.Mode, env.AuthMode)
	set(&c.Auth.JWTSecret, env.JWTSecret)
	set(&c.Auth.JWKSURL, env.JWKSURL)
	set(&c.Auth.Issuer, env.Issuer)
	set(&c.SSH.KnownHostsFile, env.KnownHostsFile)
	set(&c.Storage.Driver, env.StorageDriver)
	set(&c.Storage.DSN, env.StorageDSN)
	set(&c.Logging.Level, env.LogLevel)
	set(&c.Logging.Format, env.LogFormat)
	if len(env.AllowedOrigins) > 0 {
		c.Server.AllowedOrigins = env.AllowedOrigins
	}
	if env.ConnectTimeout > 0 {
		c.SSH.ConnectTimeout.Duration = env.ConnectTimeout
	}
	return nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.Auth.Mode {
	case "", AuthNone:
	case AuthJWT:
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required when mode is jwt")
		}
		if len(c.Auth.JWTSecret) < 32 {
			return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
		}
		if knownWeakSecrets[c.Auth.JWTSecret] {
			return fmt.Errorf("auth.jwt_secret is a well-known weak secret, generate a new one")
		}
	case AuthJWKS:
		if c.Auth.JWKSURL == "" {
			return fmt.Errorf("auth.jwks_url is required when mode is jwks")
		}
	default:
		return fmt.Errorf("unknown auth.mode %q", c.Auth.Mode)
	}
	switch c.Storage.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported storage.driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for postgres")
	}
	if c.SSH.DefaultRows < 0 || c.SSH.DefaultCols < 0 {
		return fmt.Errorf("ssh.default_rows and ssh.default_cols must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Auth.Mode == "" {
		c.Auth.Mode = AuthNone
	}
	if c.SSH.ConnectTimeout.Duration == 0 {
		c.SSH.ConnectTimeout.Duration = 15 * time.Second
	}
	if c.SSH.HandshakeTimeout.Duration == 0 {
		c.SSH.HandshakeTimeout.Duration = 10 * time.Second
	}
	if c.SSH.DefaultRows == 0 {
		c.SSH.DefaultRows = 24
	}
	if c.SSH.DefaultCols == 0 {
		c.SSH.DefaultCols = 80
	}
	if c.Session.MaxPerChannel == 0 {
		c.Session.MaxPerChannel = 32
	}
	if c.Session.MaxMessageBytes == 0 {
		c.Session.MaxMessageBytes = 64 * 1024 // 64KB
	}
	if c.Session.MessageRate == 0 {
		c.Session.MessageRate = 100
	}
	if c.Session.MessageBurst == 0 {
		c.Session.MessageBurst = 200
	}
	if c.Session.MaxQueuedInput == 0 {
		c.Session.MaxQueuedInput = 256
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "webshell.db"
	}
	if c.Storage.Retention.Duration == 0 {
		c.Storage.Retention.Duration = 30 * 24 * time.Hour // 30 days
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1024 * 1024 // 1MB
	}
}
