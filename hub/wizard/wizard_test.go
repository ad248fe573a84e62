package wizard

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/amurg-ai/webshell/hub/config"
	"github.com/amurg-ai/webshell/pkg/cli"
)

func readConfig(t *testing.T, path string) config.Config {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	var cfg config.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}
	return cfg
}

func runWizard(t *testing.T, answers ...string) (config.Config, string) {
	t.Helper()
	input := strings.Join(answers, "\n") + "\n"
	out := &bytes.Buffer{}
	p := &cli.Prompter{In: strings.NewReader(input), Out: out}

	outputPath := filepath.Join(t.TempDir(), "hub.json")
	if err := New(p).Run(outputPath); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	return readConfig(t, outputPath), out.String()
}

func TestWizard_JWTSQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "audit.db")
	cfg, out := runWizard(t,
		":9090",                       // listen address
		"https://console.example.com", // origins
		"1",                           // auth: jwt
		"",                            // known_hosts: keep default
		"1",                           // storage: sqlite
		dsn,                           // sqlite path
	)

	if cfg.Server.Addr != ":9090" {
		t.Errorf("server.addr = %q", cfg.Server.Addr)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://console.example.com" {
		t.Errorf("allowed_origins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Auth.Mode != config.AuthJWT || len(cfg.Auth.JWTSecret) < 32 {
		t.Errorf("auth = %q with %d char secret", cfg.Auth.Mode, len(cfg.Auth.JWTSecret))
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.DSN != dsn {
		t.Errorf("storage = %s %s", cfg.Storage.Driver, cfg.Storage.DSN)
	}
	if !strings.Contains(out, "webshell-hub token") {
		t.Error("next steps do not mention token issuing")
	}
}

func TestWizard_JWKSRetriesBadURL(t *testing.T) {
	cfg, _ := runWizard(t,
		"",          // listen address default
		"",          // origins default
		"2",         // auth: jwks
		"not a url", // rejected
		"https://id.example.com/.well-known/jwks.json",
		"https://id.example.com/", // issuer
		"",                        // known_hosts
		"1",                       // sqlite
		filepath.Join(t.TempDir(), "a.db"),
	)
	if cfg.Auth.Mode != config.AuthJWKS {
		t.Fatalf("auth.mode = %q", cfg.Auth.Mode)
	}
	if cfg.Auth.JWKSURL != "https://id.example.com/.well-known/jwks.json" {
		t.Errorf("jwks_url = %q", cfg.Auth.JWKSURL)
	}
	if cfg.Auth.Issuer != "https://id.example.com/" {
		t.Errorf("issuer = %q", cfg.Auth.Issuer)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("server.addr = %q, want default", cfg.Server.Addr)
	}
}

func TestRunDefaults_GeneratesSecret(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "audit.db")
	t.Setenv("WEBSHELL_ADDR", ":7070")
	t.Setenv("WEBSHELL_STORAGE_DSN", dsn)

	out := &bytes.Buffer{}
	w := New(&cli.Prompter{In: strings.NewReader(""), Out: out})
	path := filepath.Join(t.TempDir(), "hub.json")
	if err := w.RunDefaults(path); err != nil {
		t.Fatalf("RunDefaults() error: %v", err)
	}

	cfg := readConfig(t, path)
	if cfg.Server.Addr != ":7070" {
		t.Errorf("server.addr = %q", cfg.Server.Addr)
	}
	if cfg.Auth.Mode != config.AuthJWT || len(cfg.Auth.JWTSecret) != 64 {
		t.Errorf("auth = %q secret len %d", cfg.Auth.Mode, len(cfg.Auth.JWTSecret))
	}
	if cfg.Storage.DSN != dsn {
		t.Errorf("storage.dsn = %q", cfg.Storage.DSN)
	}
}

func TestRunDefaults_PostgresNeedsDSN(t *testing.T) {
	t.Setenv("WEBSHELL_STORAGE_DRIVER", "postgres")
	t.Setenv("WEBSHELL_STORAGE_DSN", "")

	w := New(&cli.Prompter{In: strings.NewReader(""), Out: &bytes.Buffer{}})
	if err := w.RunDefaults(filepath.Join(t.TempDir(), "hub.json")); err == nil {
		t.Fatal("expected error without a postgres DSN")
	}
}
