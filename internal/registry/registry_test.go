package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shellmux/shellmux/internal/connection"
	"github.com/shellmux/shellmux/internal/events"
)

type stubTransport struct {
	mu      sync.Mutex
	openErr error
	sink    func([]byte)
}

func (s *stubTransport) Open(ctx context.Context, cfg connection.ConnectionConfig) error {
	return s.openErr
}
func (s *stubTransport) Close() error                { return nil }
func (s *stubTransport) Write(p []byte) (int, error) { return len(p), nil }
func (s *stubTransport) OnData(fn func(p []byte)) {
	s.mu.Lock()
	s.sink = fn
	s.mu.Unlock()
}
func (s *stubTransport) Resize(cols, rows uint16) error { return nil }

func newTestRegistry(maxTabs int) (*Registry, *connection.Manager) {
	bus := events.NewBus()
	m := connection.NewManager(bus, connection.Options{
		TransportFactory:  func() connection.Transport { return &stubTransport{} },
		RateLimitAttempts: 1000,
	})
	return New(m, bus, maxTabs, 0), m
}

func tabConfig(i int) connection.ConnectionConfig {
	return connection.ConnectionConfig{
		Host:     fmt.Sprintf("host%d.example.com", i),
		Port:     22,
		Username: "alice",
		Password: "secret",
	}
}

func TestCreateSessionBindsTabOneToOne(t *testing.T) {
	r, m := newTestRegistry(10)

	sess, tab, err := r.CreateSession(tabConfig(1), "")
	if err != nil {
		t.Fatal(err)
	}
	if tab.SessionID != sess.ID {
		t.Errorf("tab bound to %q, session is %q", tab.SessionID, sess.ID)
	}
	if tab.ID != "tab-"+sess.ID {
		t.Errorf("unexpected tab id %q", tab.ID)
	}
	if tab.Title != "alice@host1.example.com" {
		t.Errorf("default title %q", tab.Title)
	}
	if tab.IsActive {
		t.Error("new tab must not be active")
	}
	if tab.Status != TabDisconnected {
		t.Errorf("new tab status %q", tab.Status)
	}
	if r.TabCount() != 1 || m.SessionCount() != 1 {
		t.Errorf("counts diverge: tabs=%d sessions=%d", r.TabCount(), m.SessionCount())
	}
}

func TestTabCapRejectsEleventh(t *testing.T) {
	r, m := newTestRegistry(10)

	for i := 0; i < 10; i++ {
		if _, _, err := r.CreateSession(tabConfig(i), ""); err != nil {
			t.Fatalf("tab %d rejected: %v", i, err)
		}
	}
	if r.CanCreateNewTab() {
		t.Error("CanCreateNewTab must be false at the cap")
	}

	_, _, err := r.CreateSession(tabConfig(10), "")
	var lerr *ResourceLimitError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected *ResourceLimitError, got %v", err)
	}
	if lerr.Limit != 10 {
		t.Errorf("error limit %d", lerr.Limit)
	}
	// The rejected create must not leak a session either.
	if r.TabCount() != 10 || m.SessionCount() != 10 {
		t.Errorf("counts changed: tabs=%d sessions=%d", r.TabCount(), m.SessionCount())
	}
}

func TestActivateTabIsExclusive(t *testing.T) {
	r, _ := newTestRegistry(10)

	_, t1, _ := r.CreateSession(tabConfig(1), "")
	_, t2, _ := r.CreateSession(tabConfig(2), "")

	if !r.ActivateTab(t1.ID) {
		t.Fatal("activate t1 failed")
	}
	if !r.ActivateTab(t2.ID) {
		t.Fatal("activate t2 failed")
	}

	active := 0
	for _, tab := range r.AllTabs() {
		if tab.IsActive {
			active++
			if tab.ID != t2.ID {
				t.Errorf("wrong tab active: %s", tab.ID)
			}
		}
	}
	if active != 1 {
		t.Errorf("expected exactly 1 active tab, got %d", active)
	}
	if r.ActiveTabID() != t2.ID {
		t.Errorf("ActiveTabID %q", r.ActiveTabID())
	}

	if r.ActivateTab("tab-unknown") {
		t.Error("unknown tab id must not activate")
	}
}

func TestCloseTabRemovesSessionToo(t *testing.T) {
	r, m := newTestRegistry(10)

	sess, tab, _ := r.CreateSession(tabConfig(1), "")
	r.ActivateTab(tab.ID)

	if !r.CloseTab(tab.ID) {
		t.Fatal("close returned false")
	}
	if _, ok := r.GetTab(tab.ID); ok {
		t.Error("tab still present after close")
	}
	if m.GetSession(sess.ID) != nil {
		t.Error("session still present after close")
	}
	if r.ActiveTabID() != "" {
		t.Errorf("active tab %q after closing it", r.ActiveTabID())
	}
	if r.CloseTab(tab.ID) {
		t.Error("second close must return false")
	}
}

func TestManagerDisconnectRemovesTab(t *testing.T) {
	r, m := newTestRegistry(1)

	sess, tab, err := r.CreateSession(tabConfig(1), "")
	if err != nil {
		t.Fatal(err)
	}
	r.ActivateTab(tab.ID)

	// Disconnect through the manager, as the inactivity sweep does,
	// without going through CloseTab.
	if !m.Disconnect(sess.ID) {
		t.Fatal("disconnect returned false")
	}

	if r.TabCount() != 0 || m.SessionCount() != 0 {
		t.Errorf("counts diverge after disconnect: tabs=%d sessions=%d", r.TabCount(), m.SessionCount())
	}
	if _, ok := r.GetTab(tab.ID); ok {
		t.Error("tab still present after its session disconnected")
	}
	if r.ActiveTabID() != "" {
		t.Errorf("active tab %q after its session disconnected", r.ActiveTabID())
	}
	if r.SessionBuffer(sess.ID) != nil {
		t.Error("scrollback still present after disconnect")
	}
	if !r.CanCreateNewTab() {
		t.Error("cap budget not freed by the disconnect")
	}
}

func TestConnectTracksTabStatus(t *testing.T) {
	r, _ := newTestRegistry(10)

	_, tab, _ := r.CreateSession(tabConfig(1), "")
	if err := r.Connect(context.Background(), tab.ID); err != nil {
		t.Fatal(err)
	}

	got, _ := r.GetTab(tab.ID)
	if got.Status != TabConnected {
		t.Errorf("status %q after connect", got.Status)
	}

	if err := r.Connect(context.Background(), "tab-unknown"); err == nil {
		t.Error("expected error for unknown tab")
	}
}

func TestSetMaxTabsNeverEvicts(t *testing.T) {
	r, _ := newTestRegistry(10)

	for i := 0; i < 5; i++ {
		if _, _, err := r.CreateSession(tabConfig(i), ""); err != nil {
			t.Fatal(err)
		}
	}

	r.SetMaxTabs(3)
	if r.TabCount() != 5 {
		t.Fatalf("lowering the cap evicted tabs: %d left", r.TabCount())
	}
	if r.CanCreateNewTab() {
		t.Error("creation must be blocked over the lowered cap")
	}
	if _, _, err := r.CreateSession(tabConfig(9), ""); err == nil {
		t.Error("expected rejection over the lowered cap")
	}

	// Closing tabs under the new cap re-enables creation.
	for _, tab := range r.AllTabs()[:3] {
		r.CloseTab(tab.ID)
	}
	if !r.CanCreateNewTab() {
		t.Error("expected creation allowed after dropping under the cap")
	}
}

func TestScrollbackFollowsSessionOutput(t *testing.T) {
	r, _ := newTestRegistry(10)

	sess, _, _ := r.CreateSession(tabConfig(1), "")

	// The registry attaches its buffer as the session's output sink.
	r.UpdateSessionBuffer(sess.ID, []byte("hello "))
	r.UpdateSessionBuffer(sess.ID, []byte("world"))

	if got := string(r.SessionBuffer(sess.ID)); got != "hello world" {
		t.Errorf("buffer %q", got)
	}
	if r.SessionBuffer("unknown") != nil {
		t.Error("unknown session must return nil buffer")
	}
}
