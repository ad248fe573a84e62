package sessions

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/amurg-ai/webshell/client/eventbus"
	"github.com/amurg-ai/webshell/pkg/protocol"
)

type fakeChannel struct {
	mu       sync.Mutex
	sent     []protocol.Envelope
	handlers map[protocol.Target]protocol.Handler
	sendErr  error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[protocol.Target]protocol.Handler)}
}

func (f *fakeChannel) Send(env protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeChannel) RegisterCallback(t protocol.Target, h protocol.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[t] = h
}

func (f *fakeChannel) UnregisterCallback(t protocol.Target) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, t)
}

func (f *fakeChannel) hasHandler(t protocol.Target) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[t]
	return ok
}

// deliver dispatches env the way the channel manager does for a single
// handler.
func (f *fakeChannel) deliver(env protocol.Envelope) {
	f.mu.Lock()
	h := f.handlers[env.Target()]
	f.mu.Unlock()
	if h != nil {
		h(env)
	}
}

func (f *fakeChannel) lastSent(t *testing.T) protocol.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("nothing sent")
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestStore(t *testing.T) (*Store, *fakeChannel, *eventbus.Bus) {
	t.Helper()
	ch := newFakeChannel()
	bus := eventbus.New()
	t.Cleanup(bus.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(ch, bus, logger), ch, bus
}

var testConfig = protocol.ConnectConfig{Host: "example.com", Username: "alice", Password: "pw"}

func accepted(localID, remoteID string) protocol.Envelope {
	return protocol.NewNotice(protocol.Notice{Event: protocol.NoticeAccepted, RequestID: localID, SessionID: remoteID})
}

func created(remoteID string) protocol.Envelope {
	return protocol.NewNotice(protocol.Notice{Event: protocol.NoticeCreated, SessionID: remoteID})
}

// connectSession creates a session and drives it to connected as r1.
func connectSession(t *testing.T, s *Store, ch *fakeChannel, remoteID string) *Session {
	t.Helper()
	sess := s.Create(testConfig, "")
	if err := s.Connect(sess.ID, protocol.TermSize{Rows: 30, Cols: 100}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ch.deliver(accepted(sess.ID, remoteID))
	ch.deliver(created(remoteID))
	got, _ := s.Get(sess.ID)
	if got.Status != StatusConnected {
		t.Fatalf("status = %s, want connected", got.Status)
	}
	return sess
}

func TestCreateDefaultsAndLayout(t *testing.T) {
	s, _, _ := newTestStore(t)

	a := s.Create(testConfig, "")
	if a.Title != "alice@example.com:22" {
		t.Errorf("title = %q", a.Title)
	}
	if a.Status != StatusDisconnected || a.Config.Port != 22 {
		t.Errorf("session = %+v", a)
	}
	b := s.Create(testConfig, "prod")

	l := s.Layout()
	if l.Type != LayoutTabs || len(l.Sessions) != 2 || l.Sessions[0] != a.ID || l.Active != b.ID {
		t.Errorf("layout = %+v", l)
	}
	if active, ok := s.ActiveSession(); !ok || active.Title != "prod" {
		t.Errorf("active = %+v, %v", active, ok)
	}
	if n := len(s.ActiveSessions()); n != 0 {
		t.Errorf("ActiveSessions = %d before connecting", n)
	}

	// Returned records are copies.
	a.Title = "changed"
	if got, _ := s.Get(a.ID); got.Title != "alice@example.com:22" {
		t.Error("Create returned the stored record")
	}
}

func TestConnectLifecycle(t *testing.T) {
	s, ch, _ := newTestStore(t)
	sess := s.Create(testConfig, "")

	if err := s.Connect(sess.ID, protocol.TermSize{Rows: 30, Cols: 100}); err != nil {
		t.Fatal(err)
	}
	req := ch.lastSent(t)
	if req.Type != protocol.TypeCreate || req.RequestID != sess.ID || req.Rows != 30 || req.Cols != 100 {
		t.Errorf("create = %+v", req)
	}
	if req.Config == nil || req.Config.Host != "example.com" {
		t.Errorf("create config = %+v", req.Config)
	}
	if got, _ := s.Get(sess.ID); got.Status != StatusConnecting {
		t.Errorf("status = %s", got.Status)
	}
	if err := s.Connect(sess.ID, protocol.TermSize{}); err == nil {
		t.Error("second Connect while connecting succeeded")
	}

	ch.deliver(accepted(sess.ID, "r1"))
	if got, _ := s.Get(sess.ID); got.RemoteID != "r1" || got.Status != StatusConnecting {
		t.Errorf("after accepted: %+v", got)
	}
	ch.deliver(created("r1"))
	if got, _ := s.Get(sess.ID); got.Status != StatusConnected {
		t.Errorf("after created: %s", got.Status)
	}
	if n := len(s.ActiveSessions()); n != 1 {
		t.Errorf("ActiveSessions = %d", n)
	}

	var output []string
	s.SetOutput(sess.ID, func(text string) { output = append(output, text) })
	ch.deliver(protocol.NewOutput("r1", "a"))
	ch.deliver(protocol.NewOutput("r1", "b"))
	if len(output) != 2 || output[0] != "a" || output[1] != "b" {
		t.Errorf("output = %v", output)
	}

	if err := s.Write(sess.ID, "ls\n"); err != nil {
		t.Fatal(err)
	}
	if env := ch.lastSent(t); env.Type != protocol.TypeData || env.SessionID != "r1" || env.Content != "ls\n" {
		t.Errorf("input = %+v", env)
	}
	if err := s.Resize(sess.ID, 50, 160); err != nil {
		t.Fatal(err)
	}
	if env := ch.lastSent(t); env.Type != protocol.TypeResize || env.Rows != 50 || env.Cols != 160 {
		t.Errorf("resize = %+v", env)
	}

	// Remote end closes the shell.
	ch.deliver(protocol.NewDisconnect("r1"))
	got, _ := s.Get(sess.ID)
	if got.Status != StatusDisconnected || got.RemoteID != "" {
		t.Errorf("after remote disconnect: %+v", got)
	}
	if ch.hasHandler(protocol.Session("r1")) {
		t.Error("session handler still registered")
	}
	if err := s.Write(sess.ID, "x"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Write after disconnect = %v", err)
	}
}

func TestCreateRejectedByHub(t *testing.T) {
	s, ch, bus := newTestStore(t)
	events := bus.Subscribe(eventbus.SessionState, eventbus.ChannelError)
	sess := s.Create(testConfig, "")
	if err := s.Connect(sess.ID, protocol.TermSize{}); err != nil {
		t.Fatal(err)
	}
	<-events // connecting

	rej := protocol.NewError("", "session limit reached")
	rej.RequestID = sess.ID
	ch.deliver(rej)

	got, _ := s.Get(sess.ID)
	if got.Status != StatusError || got.Err != "session limit reached" {
		t.Errorf("session = %+v", got)
	}
	select {
	case e := <-events:
		var d eventbus.SessionData
		if e.Type != eventbus.SessionState || e.Decode(&d) != nil || d.Status != "error" {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no session state event")
	}
}

func TestConnectFailureAfterAccepted(t *testing.T) {
	s, ch, _ := newTestStore(t)
	sess := s.Create(testConfig, "")
	_ = s.Connect(sess.ID, protocol.TermSize{})
	ch.deliver(accepted(sess.ID, "r1"))

	fail := protocol.NewError("r1", "unable to authenticate")
	fail.RequestID = sess.ID
	ch.deliver(fail)

	got, _ := s.Get(sess.ID)
	if got.Status != StatusError || got.Err != "unable to authenticate" || got.RemoteID != "" {
		t.Errorf("session = %+v", got)
	}
	if ch.hasHandler(protocol.Session("r1")) {
		t.Error("session handler still registered")
	}

	// A failed session can be retried.
	if err := s.Connect(sess.ID, protocol.TermSize{}); err != nil {
		t.Errorf("retry Connect: %v", err)
	}
}

func TestDisconnectBeforeAccepted(t *testing.T) {
	s, ch, _ := newTestStore(t)
	sess := s.Create(testConfig, "")
	_ = s.Connect(sess.ID, protocol.TermSize{})

	if err := s.Disconnect(sess.ID); err != nil {
		t.Fatal(err)
	}
	sent := ch.sentCount()
	ch.deliver(accepted(sess.ID, "r9"))

	if ch.sentCount() != sent+1 {
		t.Fatal("orphaned bridge session was not closed")
	}
	if env := ch.lastSent(t); env.Type != protocol.TypeDisconnect || env.SessionID != "r9" {
		t.Errorf("sent %+v", env)
	}
	if ch.hasHandler(protocol.Session("r9")) {
		t.Error("orphan got a session handler")
	}
	if got, _ := s.Get(sess.ID); got.Status != StatusDisconnected || got.RemoteID != "" {
		t.Errorf("session = %+v", got)
	}
}

func TestDisconnectConnected(t *testing.T) {
	s, ch, _ := newTestStore(t)
	sess := connectSession(t, s, ch, "r1")

	if err := s.Disconnect(sess.ID); err != nil {
		t.Fatal(err)
	}
	if env := ch.lastSent(t); env.Type != protocol.TypeDisconnect || env.SessionID != "r1" {
		t.Errorf("sent %+v", env)
	}
	if ch.hasHandler(protocol.Session("r1")) {
		t.Error("session handler still registered")
	}
	if err := s.Disconnect("nope"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Disconnect unknown = %v", err)
	}
}

func TestSendFailureMarksError(t *testing.T) {
	s, ch, _ := newTestStore(t)
	ch.sendErr = errors.New("not connected")
	sess := s.Create(testConfig, "")

	if err := s.Connect(sess.ID, protocol.TermSize{}); err == nil {
		t.Fatal("Connect succeeded with a failing channel")
	}
	if got, _ := s.Get(sess.ID); got.Status != StatusError || got.Err != "not connected" {
		t.Errorf("session = %+v", got)
	}
}

func TestRemoveMovesActive(t *testing.T) {
	s, ch, bus := newTestStore(t)
	a := connectSession(t, s, ch, "r1")
	b := s.Create(testConfig, "b")
	events := bus.Subscribe(eventbus.SessionRemoved)

	if !s.Remove(b.ID) {
		t.Fatal("Remove returned false")
	}
	if l := s.Layout(); len(l.Sessions) != 1 || l.Active != a.ID {
		t.Errorf("layout = %+v", l)
	}
	select {
	case e := <-events:
		var d eventbus.SessionData
		if err := e.Decode(&d); err != nil || d.ID != b.ID {
			t.Errorf("removed event = %+v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("no removed event")
	}

	if !s.Remove(a.ID) {
		t.Fatal("Remove returned false")
	}
	if env := ch.lastSent(t); env.Type != protocol.TypeDisconnect || env.SessionID != "r1" {
		t.Errorf("remove of connected session sent %+v", env)
	}
	if l := s.Layout(); len(l.Sessions) != 0 || l.Active != "" {
		t.Errorf("layout = %+v", l)
	}
	if _, ok := s.ActiveSession(); ok {
		t.Error("active session after removing all")
	}
	if s.Remove(a.ID) {
		t.Error("second Remove returned true")
	}
}

func TestUpdateLayout(t *testing.T) {
	s, _, _ := newTestStore(t)
	a := s.Create(testConfig, "a")
	b := s.Create(testConfig, "b")

	l := s.UpdateLayout(func(l *Layout) {
		l.Type = LayoutSplitVertical
		l.Sessions = []string{b.ID, "ghost", a.ID, b.ID}
		l.Active = "ghost"
	})
	if l.Type != LayoutSplitVertical {
		t.Errorf("type = %s", l.Type)
	}
	if len(l.Sessions) != 2 || l.Sessions[0] != b.ID || l.Sessions[1] != a.ID {
		t.Errorf("sessions = %v", l.Sessions)
	}
	if l.Active != b.ID {
		t.Errorf("active = %s, want first entry", l.Active)
	}

	l = s.UpdateLayout(func(l *Layout) { l.Type = "grid" })
	if l.Type != LayoutSplitVertical {
		t.Errorf("invalid type applied: %s", l.Type)
	}

	if !s.SetActive(a.ID) || s.SetActive("ghost") {
		t.Error("SetActive results wrong")
	}
	if s.Layout().Active != a.ID {
		t.Errorf("active = %s", s.Layout().Active)
	}
}

func TestChannelLost(t *testing.T) {
	s, ch, _ := newTestStore(t)
	live := connectSession(t, s, ch, "r1")
	pending := s.Create(testConfig, "pending")
	_ = s.Connect(pending.ID, protocol.TermSize{})
	idle := s.Create(testConfig, "idle")

	s.ChannelLost("connection to hub lost")

	for _, id := range []string{live.ID, pending.ID} {
		got, _ := s.Get(id)
		if got.Status != StatusError || got.Err != "connection to hub lost" || got.RemoteID != "" {
			t.Errorf("%s = %+v", got.Title, got)
		}
	}
	if got, _ := s.Get(idle.ID); got.Status != StatusDisconnected {
		t.Errorf("idle session = %s", got.Status)
	}
	if ch.hasHandler(protocol.Session("r1")) {
		t.Error("session handler survived channel loss")
	}
}

func TestSystemErrorWithoutRequest(t *testing.T) {
	s, ch, bus := newTestStore(t)
	sess := connectSession(t, s, ch, "r1")
	events := bus.Subscribe(eventbus.ChannelError, eventbus.ChannelNotice)

	ch.deliver(protocol.NewNotice(protocol.Notice{Event: protocol.NoticeConnected, Message: "hello"}))
	ch.deliver(protocol.NewError("", "unknown message type"))

	want := []struct{ typ, msg string }{
		{eventbus.ChannelNotice, "hello"},
		{eventbus.ChannelError, "unknown message type"},
	}
	for _, w := range want {
		select {
		case e := <-events:
			var d eventbus.MessageData
			if e.Type != w.typ || e.Decode(&d) != nil || d.Message != w.msg {
				t.Errorf("event = %s %s", e.Type, e.Data)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing %s event", w.typ)
		}
	}
	if got, _ := s.Get(sess.ID); got.Status != StatusConnected {
		t.Errorf("channel error changed session to %s", got.Status)
	}
}

func TestUpdateStatus(t *testing.T) {
	s, _, _ := newTestStore(t)
	sess := s.Create(testConfig, "")
	before, _ := s.Get(sess.ID)
	time.Sleep(time.Millisecond)

	if !s.UpdateStatus(sess.ID, StatusConnected) {
		t.Fatal("UpdateStatus returned false")
	}
	got, _ := s.Get(sess.ID)
	if got.Status != StatusConnected || !got.LastActive.After(before.LastActive) {
		t.Errorf("session = %+v", got)
	}
	if s.UpdateStatus("nope", StatusError) {
		t.Error("UpdateStatus on unknown id returned true")
	}
}
