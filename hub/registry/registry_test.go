package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/amurg-ai/webshell/pkg/protocol"
)

var testCfg = protocol.ConnectConfig{Host: "example.com", Username: "root", Password: "secret"}

func TestCreateAssignsDistinctIDs(t *testing.T) {
	r := New()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		s := r.Create("chan-1", testCfg, nil)
		if seen[s.ID] {
			t.Fatalf("duplicate id %s", s.ID)
		}
		seen[s.ID] = true
	}
	if r.Len() != 1000 {
		t.Errorf("Len = %d, want 1000", r.Len())
	}
}

func TestCreateConcurrent(t *testing.T) {
	r := New()
	const workers, perWorker = 16, 200

	var (
		mu   sync.Mutex
		ids  = make(map[string]bool)
		wg   sync.WaitGroup
		dups int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				s := r.Create("chan", testCfg, nil)
				if i%3 == 0 {
					r.Remove(s.ID)
				}
				mu.Lock()
				if ids[s.ID] {
					dups++
				}
				ids[s.ID] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if dups != 0 {
		t.Errorf("%d duplicate ids issued", dups)
	}
	if len(ids) != workers*perWorker {
		t.Errorf("issued %d ids, want %d", len(ids), workers*perWorker)
	}
}

func TestCreateDropsCredentials(t *testing.T) {
	r := New()
	s := r.Create("chan-1", testCfg, nil)
	if s.Port != 22 {
		t.Errorf("Port = %d, want default 22", s.Port)
	}
	info := s.Info()
	if info.Host != "example.com" || info.Username != "root" || info.Status != StatusConnecting {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := New()
	s := r.Create("chan-1", testCfg, nil)

	if _, ok := r.Remove(s.ID); !ok {
		t.Fatal("first Remove should find the session")
	}
	if _, ok := r.Remove(s.ID); ok {
		t.Error("second Remove should report absent")
	}
	if _, ok := r.Get(s.ID); ok {
		t.Error("session still present after Remove")
	}
}

func TestOwnedBy(t *testing.T) {
	r := New()
	a1 := r.Create("a", testCfg, nil)
	a2 := r.Create("a", testCfg, nil)
	r.Create("b", testCfg, nil)

	ids := r.OwnedBy("a")
	if len(ids) != 2 {
		t.Fatalf("OwnedBy(a) = %v, want 2 ids", ids)
	}
	got := map[string]bool{ids[0]: true, ids[1]: true}
	if !got[a1.ID] || !got[a2.ID] {
		t.Errorf("OwnedBy(a) = %v, want %s and %s", ids, a1.ID, a2.ID)
	}
	if n := r.CountOwnedBy("b"); n != 1 {
		t.Errorf("CountOwnedBy(b) = %d, want 1", n)
	}
	if ids := r.OwnedBy("nobody"); len(ids) != 0 {
		t.Errorf("OwnedBy(nobody) = %v", ids)
	}
}

func TestStatusTransitions(t *testing.T) {
	r := New()

	s := r.Create("c", testCfg, nil)
	if !s.MarkConnected(nil) {
		t.Fatal("connecting -> connected should succeed")
	}
	if s.MarkError("late") {
		t.Error("connected -> error must be refused")
	}
	if !s.MarkClosed() {
		t.Error("connected -> closed should succeed")
	}
	if s.MarkClosed() {
		t.Error("second MarkClosed should report no transition")
	}

	// Disconnect before the connect resolves.
	s = r.Create("c", testCfg, nil)
	s.MarkClosed()
	announced := false
	if s.MarkConnected(func() { announced = true }) {
		t.Error("closed -> connected must be refused")
	}
	if announced {
		t.Error("a closed session must not be announced")
	}
	if s.Context().Err() == nil {
		t.Error("closing should cancel the session context")
	}

	s = r.Create("c", testCfg, nil)
	if !s.MarkError("boom") {
		t.Fatal("connecting -> error should succeed")
	}
	if s.Status() != StatusError || s.Err() != "boom" {
		t.Errorf("status = %s err = %q", s.Status(), s.Err())
	}
}

func TestMarkClosedWaitsForAnnounce(t *testing.T) {
	s := New().Create("c", testCfg, nil)

	inAnnounce := make(chan struct{})
	release := make(chan struct{})
	go s.MarkConnected(func() {
		close(inAnnounce)
		<-release
	})
	<-inAnnounce

	closed := make(chan struct{})
	go func() {
		s.MarkClosed()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("MarkClosed returned while the connect was being announced")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("MarkClosed did not finish after the announce")
	}
	if s.Status() != StatusClosed {
		t.Errorf("status = %s", s.Status())
	}
}

func TestList(t *testing.T) {
	r := New()
	first := r.Create("a", testCfg, nil)
	r.Create("b", testCfg, nil)

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("List len = %d, want 2", len(list))
	}
	if list[0].CreatedAt.After(list[1].CreatedAt) {
		t.Errorf("List not ordered by creation: %+v", list)
	}
	if list[0].ID != first.ID && list[1].ID != first.ID {
		t.Errorf("List missing %s: %+v", first.ID, list)
	}
}
