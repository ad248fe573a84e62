package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/amurg-ai/webshell/client/channel"
	"github.com/amurg-ai/webshell/client/config"
	"github.com/amurg-ai/webshell/client/eventbus"
	"github.com/amurg-ai/webshell/client/sessions"
	"github.com/amurg-ai/webshell/pkg/protocol"
)

func writeConfig(t *testing.T, cfg map[string]any) string {
	t.Helper()
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "client.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	keyFile := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyFile, []byte("KEY"), 0o600); err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, map[string]any{
		"server": map[string]any{"url": "ws://127.0.0.1:1/ws"},
		"hosts": []map[string]any{
			{"name": "prod", "host": "example.com", "username": "alice", "private_key_file": keyFile},
			{"name": "lab", "host": "10.0.0.5", "port": 2222, "username": "bob", "password": "pw"},
		},
	})
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in       string
		user     string
		host     string
		port     int
		wantFail bool
	}{
		{in: "alice@example.com", user: "alice", host: "example.com"},
		{in: "alice@example.com:2222", user: "alice", host: "example.com", port: 2222},
		{in: "root@[::1]:22", user: "root", host: "::1", port: 22},
		{in: "example.com", wantFail: true},
		{in: "@example.com", wantFail: true},
		{in: "alice@", wantFail: true},
		{in: "alice@example.com:0", wantFail: true},
		{in: "alice@example.com:ssh", wantFail: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTarget(tt.in)
			if tt.wantFail {
				if err == nil {
					t.Fatalf("parseTarget(%q) = %+v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.Username != tt.user || got.Host != tt.host || got.Port != tt.port {
				t.Errorf("got %+v", got)
			}
		})
	}
}

func TestResolveTarget(t *testing.T) {
	cfg := testConfig(t)

	prod, err := resolveTarget(cfg, "prod", 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if prod.Host != "example.com" || prod.Port != 22 || prod.PrivateKey != "KEY" {
		t.Errorf("prod = %+v", prod.Redacted())
	}

	lab, err := resolveTarget(cfg, "lab", 2200, "")
	if err != nil {
		t.Fatal(err)
	}
	if lab.Port != 2200 || lab.Password != "pw" {
		t.Errorf("lab = %+v", lab.Redacted())
	}

	adhoc, err := resolveTarget(cfg, "carol@db.internal", 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if adhoc.Title() != "carol@db.internal:22" {
		t.Errorf("adhoc = %s", adhoc.Title())
	}

	if _, err := resolveTarget(cfg, "carol@db.internal", 0, "/does/not/exist"); err == nil {
		t.Error("missing identity file accepted")
	}
	if _, err := resolveTarget(cfg, "unknown", 0, ""); err == nil {
		t.Error("unknown bare name accepted")
	}
}

func TestPumpInputStopsAtDetachKey(t *testing.T) {
	var got []string
	pumpInput(strings.NewReader("ls -l\n\x1dnever sent"), func(s string) error {
		got = append(got, s)
		return nil
	})
	if strings.Join(got, "") != "ls -l\n" {
		t.Errorf("sent %q", got)
	}
}

func TestPumpInputStopsAtEOF(t *testing.T) {
	var sent bytes.Buffer
	pumpInput(strings.NewReader("exit\n"), func(s string) error {
		sent.WriteString(s)
		return nil
	})
	if sent.String() != "exit\n" {
		t.Errorf("sent %q", sent.String())
	}
}

func stateEvent(id string, status sessions.Status, errMsg string) eventbus.Event {
	data, _ := json.Marshal(eventbus.SessionData{ID: id, Status: string(status), Error: errMsg})
	return eventbus.Event{Type: eventbus.SessionState, Data: data}
}

func TestWaitForSession(t *testing.T) {
	ctx := context.Background()

	events := make(chan eventbus.Event, 4)
	events <- stateEvent("other", sessions.StatusConnected, "")
	events <- stateEvent("s1", sessions.StatusConnecting, "")
	events <- stateEvent("s1", sessions.StatusConnected, "")
	if err := waitForSession(ctx, events, "s1", sessions.StatusConnected); err != nil {
		t.Errorf("connected: %v", err)
	}

	events <- stateEvent("s1", sessions.StatusError, "unable to authenticate")
	err := waitForSession(ctx, events, "s1", sessions.StatusConnected)
	if err == nil || !strings.Contains(err.Error(), "unable to authenticate") {
		t.Errorf("error status: %v", err)
	}

	events <- stateEvent("s1", sessions.StatusDisconnected, "")
	if err := waitForSession(ctx, events, "s1", ""); err != nil {
		t.Errorf("disconnected: %v", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := waitForSession(cctx, events, "s1", ""); err == nil {
		t.Error("no error after context expired")
	}
}

func TestChannelLossFailsLiveSessions(t *testing.T) {
	c, err := newClient(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	defer c.close()
	events := c.bus.Subscribe(eventbus.ChannelState)

	live := c.store.Create(protocol.ConnectConfig{Host: "h", Username: "u"}, "")
	idle := c.store.Create(protocol.ConnectConfig{Host: "h", Username: "u"}, "")
	c.store.UpdateStatus(live.ID, sessions.StatusConnecting)

	c.channelStateChanged(channel.StateReconnecting)

	if got, _ := c.store.Get(live.ID); got.Status != sessions.StatusError || got.Err == "" {
		t.Errorf("live session = %+v", got)
	}
	if got, _ := c.store.Get(idle.ID); got.Status != sessions.StatusDisconnected {
		t.Errorf("idle session = %s", got.Status)
	}
	select {
	case e := <-events:
		var d eventbus.ChannelStateData
		if err := e.Decode(&d); err != nil || d.State != "reconnecting" {
			t.Errorf("state event = %+v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("no channel state event")
	}
}

func TestHostsCommand(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"server": map[string]any{"url": "wss://hub.example.com/ws"},
		"hosts": []map[string]any{
			{"name": "prod", "host": "example.com", "username": "alice", "password": "pw"},
			{"name": "lab", "host": "10.0.0.5", "port": 2222, "username": "bob"},
		},
	})

	var out bytes.Buffer
	root := NewRootCmd("test")
	root.SetOut(&out)
	root.SetArgs([]string{"-c", path, "hosts"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"NAME", "alice@example.com:22", "password", "bob@10.0.0.5:2222", "none"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestLoadConfigError(t *testing.T) {
	path := writeConfig(t, map[string]any{"server": map[string]any{"url": "http://not-a-ws-url"}})
	root := NewRootCmd("test")
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--config", path, "hosts"})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "ws://") {
		t.Errorf("err = %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := NewRootCmd("1.2.3")
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out.String()); got != "webshell 1.2.3" {
		t.Errorf("version = %q", got)
	}
}

func TestInitCommandPiped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.json")

	var out bytes.Buffer
	root := NewRootCmd("test")
	root.SetIn(strings.NewReader("\n\nn\n"))
	root.SetOut(&out)
	root.SetArgs([]string{"init", "-o", path})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Config written to "+path) {
		t.Errorf("output = %q", out.String())
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.URL != "ws://localhost:8080/ws" || len(cfg.Hosts) != 0 {
		t.Errorf("config = %+v", cfg)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("mode = %o, want 600", perm)
	}
}
