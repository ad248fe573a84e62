package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeTemp creates a temporary file with the given content and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.json")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{`"250ms"`, 250 * time.Millisecond, false},
		{`3`, 3 * time.Second, false},
		{`"soon"`, 0, true},
		{`true`, 0, true},
	}
	for _, tt := range tests {
		var d Duration
		err := json.Unmarshal([]byte(tt.in), &d)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if d.Duration != tt.want {
			t.Errorf("%s: got %v, want %v", tt.in, d.Duration, tt.want)
		}
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeTemp(t, `{
		"server": {"url": "wss://shell.example.com/ws", "token": "tok", "dial_timeout": "3s"},
		"reconnect": {"base_delay": "500ms", "max_attempts": 3, "reconnect_on_send": true},
		"hosts": [
			{"name": "web", "host": "10.0.0.5", "username": "deploy"},
			{"name": "db", "host": "10.0.0.6", "port": 2222, "username": "root", "password": "pw"}
		],
		"logging": {"level": "debug", "file": "/tmp/webshell.log"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.URL != "wss://shell.example.com/ws" || cfg.Server.Token != "tok" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.DialTimeout.Duration != 3*time.Second {
		t.Errorf("dial_timeout = %v", cfg.Server.DialTimeout)
	}
	if cfg.Reconnect.BaseDelay.Duration != 500*time.Millisecond || cfg.Reconnect.MaxAttempts != 3 || !cfg.Reconnect.ReconnectOnSend {
		t.Errorf("reconnect = %+v", cfg.Reconnect)
	}

	web, ok := cfg.Host("web")
	if !ok {
		t.Fatal("host web not found")
	}
	if web.Port != 22 {
		t.Errorf("default port = %d", web.Port)
	}
	if _, ok := cfg.Host("missing"); ok {
		t.Error("found a host that does not exist")
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeTemp(t, `{"server": {"url": "ws://localhost:8080/ws"}}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.DialTimeout.Duration != 10*time.Second {
		t.Errorf("dial_timeout = %v", cfg.Server.DialTimeout)
	}
	if cfg.Reconnect.BaseDelay.Duration != time.Second || cfg.Reconnect.MaxAttempts != 5 {
		t.Errorf("reconnect = %+v", cfg.Reconnect)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("logging.level = %q", cfg.Logging.Level)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WEBSHELL_CLIENT_URL", "wss://env.example.com/ws")
	t.Setenv("WEBSHELL_CLIENT_TOKEN", "env-token")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.URL != "wss://env.example.com/ws" || cfg.Server.Token != "env-token" {
		t.Errorf("server = %+v", cfg.Server)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, content, wantErr string
	}{
		{"missing url", `{}`, "server.url is required"},
		{"http url", `{"server": {"url": "http://x"}}`, "ws:// or wss://"},
		{"negative attempts", `{"server": {"url": "ws://x"}, "reconnect": {"max_attempts": -1}}`, "max_attempts"},
		{"unnamed host", `{"server": {"url": "ws://x"}, "hosts": [{"host": "h", "username": "u"}]}`, "name is required"},
		{"duplicate host", `{"server": {"url": "ws://x"}, "hosts": [
			{"name": "a", "host": "h", "username": "u"}, {"name": "a", "host": "h2", "username": "u"}]}`, "duplicate host"},
		{"host without user", `{"server": {"url": "ws://x"}, "hosts": [{"name": "a", "host": "h"}]}`, "username are required"},
		{"bad port", `{"server": {"url": "ws://x"}, "hosts": [{"name": "a", "host": "h", "username": "u", "port": 70000}]}`, "port out of range"},
		{"invalid json", `not json`, "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTemp(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestHostConnectConfig(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyPath, []byte("KEY"), 0600); err != nil {
		t.Fatal(err)
	}
	h := HostConfig{Name: "x", Host: "h", Port: 22, Username: "u", PrivateKeyFile: keyPath, Passphrase: "pp"}
	cfg, err := h.ConnectConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PrivateKey != "KEY" || cfg.Passphrase != "pp" || cfg.Host != "h" {
		t.Errorf("ConnectConfig() = %+v", cfg.Redacted())
	}

	h.PrivateKeyFile = filepath.Join(t.TempDir(), "missing")
	if _, err := h.ConnectConfig(); err == nil {
		t.Error("expected error for missing key file")
	}
}
