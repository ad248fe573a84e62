package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		id   string
		want Target
	}{
		{"system", System},
		{"", System},
		{"*", Session("*")},
		{"abc", Session("abc")},
	}
	for _, tt := range tests {
		if got := ParseTarget(tt.id); got != tt.want {
			t.Errorf("ParseTarget(%q) = %+v, want %+v", tt.id, got, tt.want)
		}
	}
	if Session("system") == System {
		t.Error("a session target must never equal the system target")
	}
}

func TestEnvelopeTermSizePrecedence(t *testing.T) {
	var env Envelope
	raw := `{"type":"resize","sessionId":"s1","rows":40,"cols":120,"size":{"rows":10,"cols":10}}`
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := env.TermSize(); got != (TermSize{Rows: 40, Cols: 120}) {
		t.Errorf("top-level size should win, got %+v", got)
	}

	env = Envelope{Size: &TermSize{Rows: 30, Cols: 90}}
	if got := env.TermSize(); got != (TermSize{Rows: 30, Cols: 90}) {
		t.Errorf("nested size not used, got %+v", got)
	}
}

func TestTermSizeDefaultsAndClamp(t *testing.T) {
	if got := (TermSize{}).OrDefault(); got != (TermSize{Rows: 24, Cols: 80}) {
		t.Errorf("default size = %+v", got)
	}
	if got := (TermSize{Rows: 9000, Cols: 100}).OrDefault(); got.Rows != MaxTermDim || got.Cols != 100 {
		t.Errorf("clamp = %+v", got)
	}
}

func TestNoticeRoundTrip(t *testing.T) {
	env := NewNotice(Notice{Event: NoticeCreated, SessionID: "s1"})
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Envelope
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != TypeSystem || got.SessionID != SystemID {
		t.Errorf("unexpected envelope header: %+v", got)
	}
	n, ok := got.Notice()
	if !ok || n.Event != NoticeCreated || n.SessionID != "s1" {
		t.Errorf("notice = %+v, ok=%v", n, ok)
	}
	if _, ok := got.Text(); ok {
		t.Error("notice should not decode as text")
	}
}

func TestInputAcceptsContentOrData(t *testing.T) {
	if s, ok := NewInput("s1", "ls\n").Input(); !ok || s != "ls\n" {
		t.Errorf("content input = %q, %v", s, ok)
	}
	if s, ok := NewOutput("s1", "pwd\n").Input(); !ok || s != "pwd\n" {
		t.Errorf("data input = %q, %v", s, ok)
	}
}

func TestConnectConfig(t *testing.T) {
	cfg := ConnectConfig{Host: "example.com", Username: "root", Password: "pw"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := cfg.Title(); got != "root@example.com:22" {
		t.Errorf("Title = %q", got)
	}
	if got := cfg.Addr(); got != "example.com:22" {
		t.Errorf("Addr = %q", got)
	}
	if r := cfg.Redacted(); r.Password != "" {
		t.Error("Redacted kept the password")
	}

	bad := []ConnectConfig{
		{Username: "root"},
		{Host: "h"},
		{Host: "h", Username: "u", Port: 70000},
	}
	for _, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("Validate(%+v) should fail", c)
		}
	}
}
