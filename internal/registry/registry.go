// Package registry multiplexes connection sessions into UI tabs. Every
// Session has exactly one Tab and vice versa; the registry tracks which
// tab is active, enforces the concurrent-session cap, and keeps a capped
// scrollback buffer per session for reattachment.
package registry

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/shellmux/shellmux/internal/connection"
	"github.com/shellmux/shellmux/internal/events"
	"github.com/shellmux/shellmux/internal/logutil"
)

// DefaultMaxTabs caps concurrent sessions/tabs.
const DefaultMaxTabs = 10

// ResourceLimitError reports that the tab cap was reached. The create call
// is rejected before any Session is allocated.
type ResourceLimitError struct {
	Limit int
}

func (e *ResourceLimitError) Error() string {
	return fmt.Sprintf("tab limit reached (%d)", e.Limit)
}

// TabStatus mirrors the owning session's connection state, plus the
// transient "connecting" while a connect is in flight.
type TabStatus string

const (
	TabDisconnected TabStatus = "disconnected"
	TabConnecting   TabStatus = "connecting"
	TabConnected    TabStatus = "connected"
)

// Tab is the UI-facing handle bound 1:1 to a Session. Callers receive
// value copies; internal state never leaves the registry.
type Tab struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Title     string    `json:"title"`
	IsActive  bool      `json:"is_active"`
	Status    TabStatus `json:"status"`
}

// Registry owns the Tab↔Session association. It delegates all transport
// work to the connection.Manager and never touches transport internals.
type Registry struct {
	mu             sync.Mutex
	manager        *connection.Manager
	tabs           map[string]*Tab        // tab id → tab
	buffers        map[string]*Scrollback // session id → scrollback
	order          []string               // tab ids in creation order
	activeTabID    string
	maxTabs        int
	scrollbackSize int
}

// New creates a Registry delegating session lifecycle to manager.
// Non-positive maxTabs falls back to DefaultMaxTabs. The registry
// subscribes to session lifecycle events on bus so tabs mirror session
// state even when a session ends outside the registry, e.g. the
// inactivity sweep.
func New(manager *connection.Manager, bus *events.Bus, maxTabs, scrollbackSize int) *Registry {
	if maxTabs <= 0 {
		maxTabs = DefaultMaxTabs
	}
	r := &Registry{
		manager:        manager,
		tabs:           make(map[string]*Tab),
		buffers:        make(map[string]*Scrollback),
		maxTabs:        maxTabs,
		scrollbackSize: scrollbackSize,
	}
	if bus != nil {
		bus.Subscribe(connection.EventSessionConnected, func(payload any) {
			if ev, ok := payload.(connection.SessionEvent); ok {
				r.SetTabStatus(tabIDFor(ev.SessionID), TabConnected)
			}
		})
		bus.Subscribe(connection.EventSessionDisconnected, func(payload any) {
			if ev, ok := payload.(connection.SessionEvent); ok {
				r.removeSessionTab(ev.SessionID)
			}
		})
	}
	return r
}

// removeSessionTab drops the tab and scrollback owned by a session that no
// longer exists. Keeps every session paired with exactly one tab. No-op
// when the tab is already gone, which is the normal CloseTab path.
func (r *Registry) removeSessionTab(sessionID string) {
	tabID := tabIDFor(sessionID)

	r.mu.Lock()
	if _, ok := r.tabs[tabID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.tabs, tabID)
	delete(r.buffers, sessionID)
	for i, id := range r.order {
		if id == tabID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.activeTabID == tabID {
		r.activeTabID = ""
	}
	r.mu.Unlock()

	log.Printf("[registry] tab %s removed with its session", tabID)
}

// tabIDFor derives a tab id from its session id.
func tabIDFor(sessionID string) string { return "tab-" + sessionID }

// CreateSession creates a Session via the ConnectionManager and binds a
// new inactive Tab to it. The cap is checked before the Session is
// allocated; at the cap a *ResourceLimitError is returned and nothing
// changes.
func (r *Registry) CreateSession(cfg connection.ConnectionConfig, name string) (*connection.Session, Tab, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.tabs) >= r.maxTabs {
		return nil, Tab{}, &ResourceLimitError{Limit: r.maxTabs}
	}

	sess, err := r.manager.CreateSession(cfg)
	if err != nil {
		return nil, Tab{}, err
	}

	buf := NewScrollback(r.scrollbackSize)
	r.buffers[sess.ID] = buf
	r.manager.AttachOutput(sess.ID, buf.Write)

	if name == "" {
		name = cfg.Username + "@" + cfg.Host
	}
	tab := &Tab{
		ID:        tabIDFor(sess.ID),
		SessionID: sess.ID,
		Title:     name,
		Status:    TabDisconnected,
	}
	r.tabs[tab.ID] = tab
	r.order = append(r.order, tab.ID)

	log.Printf("[registry] tab %s created (%s)", tab.ID, logutil.SanitizeForLog(name))
	return sess, *tab, nil
}

// Connect opens the tab's session transport, tracking the transient
// "connecting" status on the tab while the dial is in flight.
func (r *Registry) Connect(ctx context.Context, tabID string) error {
	r.mu.Lock()
	tab, ok := r.tabs[tabID]
	if !ok {
		r.mu.Unlock()
		return &connection.TransportError{Op: "connect", Err: connection.ErrSessionNotFound}
	}
	sessionID := tab.SessionID
	tab.Status = TabConnecting
	r.mu.Unlock()

	err := r.manager.Connect(ctx, sessionID)

	r.mu.Lock()
	if tab, ok := r.tabs[tabID]; ok {
		if err != nil {
			tab.Status = TabDisconnected
		} else {
			tab.Status = TabConnected
		}
	}
	r.mu.Unlock()
	return err
}

// ActivateTab makes tabID the single active tab, deactivating any
// previously active one. Returns false for unknown ids.
func (r *Registry) ActivateTab(tabID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	tab, ok := r.tabs[tabID]
	if !ok {
		return false
	}
	if prev, ok := r.tabs[r.activeTabID]; ok {
		prev.IsActive = false
	}
	tab.IsActive = true
	r.activeTabID = tabID
	return true
}

// CloseTab disconnects and removes the owning Session, then removes the
// Tab. The 1:1 invariant holds before and after; unknown ids return false.
func (r *Registry) CloseTab(tabID string) bool {
	r.mu.Lock()
	tab, ok := r.tabs[tabID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	sessionID := tab.SessionID
	r.mu.Unlock()

	r.removeSessionTab(sessionID)
	r.manager.Disconnect(sessionID)
	log.Printf("[registry] tab %s closed", tabID)
	return true
}

// ActiveTabID returns the id of the active tab, or "" when none is active.
func (r *Registry) ActiveTabID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeTabID
}

// ActiveSession returns the session owning the active tab, or nil.
func (r *Registry) ActiveSession() *connection.Session {
	r.mu.Lock()
	tab, ok := r.tabs[r.activeTabID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return r.manager.GetSession(tab.SessionID)
}

// GetTab returns a copy of the tab and whether it exists.
func (r *Registry) GetTab(tabID string) (Tab, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tab, ok := r.tabs[tabID]
	if !ok {
		return Tab{}, false
	}
	return *tab, true
}

// AllTabs returns copies of every tab in creation order.
func (r *Registry) AllTabs() []Tab {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]Tab, 0, len(r.order))
	for _, id := range r.order {
		if tab, ok := r.tabs[id]; ok {
			result = append(result, *tab)
		}
	}
	return result
}

// SetTabStatus updates a tab's connection status. Used by the event bus
// wiring to mirror session state changes onto tabs.
func (r *Registry) SetTabStatus(tabID string, status TabStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	tab, ok := r.tabs[tabID]
	if !ok {
		return false
	}
	tab.Status = status
	return true
}

// UpdateSessionBuffer appends chunk to the session's scrollback buffer.
// Oldest data is dropped once the cap is reached.
func (r *Registry) UpdateSessionBuffer(sessionID string, chunk []byte) {
	r.mu.Lock()
	buf, ok := r.buffers[sessionID]
	r.mu.Unlock()
	if ok {
		buf.Write(chunk)
	}
}

// SessionBuffer returns a copy of the session's buffered output for
// scrollback replay, or nil for unknown sessions.
func (r *Registry) SessionBuffer(sessionID string) []byte {
	r.mu.Lock()
	buf, ok := r.buffers[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return buf.Snapshot()
}

// CanCreateNewTab reports whether another tab fits under the cap.
func (r *Registry) CanCreateNewTab() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tabs) < r.maxTabs
}

// TabCount returns the current number of tabs.
func (r *Registry) TabCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tabs)
}

// MaxTabs returns the current cap.
func (r *Registry) MaxTabs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxTabs
}

// SetMaxTabs changes the cap used by subsequent checks. Lowering it below
// the current count never evicts existing tabs; it only blocks creation
// until the count drops under the new cap.
func (r *Registry) SetMaxTabs(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.maxTabs = n
	r.mu.Unlock()
}
