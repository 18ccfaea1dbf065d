// Package connection owns the lifecycle of remote-shell connections:
// config validation, rate limiting, connect/disconnect, inactivity
// cleanup, and per-session performance metrics. Transport mechanics live
// behind the Transport interface so the lifecycle logic is independent of
// the wire protocol library.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shellmux/shellmux/internal/events"
	"github.com/shellmux/shellmux/internal/logutil"
)

// Event names published on the bus.
const (
	EventSessionCreated      = "session_created"
	EventSessionConnected    = "session_connected"
	EventSessionDisconnected = "session_disconnected"
)

// SessionEvent is the payload published with session lifecycle events.
type SessionEvent struct {
	SessionID string `json:"session_id"`
	Host      string `json:"host"`
	Username  string `json:"username"`
}

// ErrSessionNotFound is returned by operations on unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// DefaultConnectTimeout bounds how long a transport open may take.
const DefaultConnectTimeout = 30 * time.Second

// DefaultInactivityThreshold is how long a session may sit idle before the
// cleanup sweep disconnects it.
const DefaultInactivityThreshold = time.Hour

// latencyAlpha is the EWMA smoothing factor for latency samples.
const latencyAlpha = 0.2

// maxEventsPerSession caps the lifecycle event ring buffer per session.
const maxEventsPerSession = 100

// LifecycleEvent is one entry in a session's event history.
type LifecycleEvent struct {
	Type      string    `json:"type"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

// Options configures a Manager. Zero values fall back to defaults.
type Options struct {
	TransportFactory    TransportFactory
	RateLimitAttempts   int
	RateLimitWindow     time.Duration
	ConnectTimeout      time.Duration
	InactivityThreshold time.Duration
}

// Manager creates, connects, and tears down Sessions. It is safe for
// concurrent use.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	sinks    map[string]func([]byte)

	factory             TransportFactory
	limiter             *RateLimiter
	bus                 *events.Bus
	connectTimeout      time.Duration
	inactivityThreshold time.Duration
	nowFn               func() time.Time

	eventsMu sync.RWMutex
	history  map[string][]LifecycleEvent
}

// NewManager creates a Manager publishing lifecycle events on bus.
func NewManager(bus *events.Bus, opts Options) *Manager {
	factory := opts.TransportFactory
	if factory == nil {
		factory = NewSSHTransport
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	inactivity := opts.InactivityThreshold
	if inactivity <= 0 {
		inactivity = DefaultInactivityThreshold
	}
	return &Manager{
		sessions:            make(map[string]*Session),
		sinks:               make(map[string]func([]byte)),
		factory:             factory,
		limiter:             NewRateLimiter(opts.RateLimitAttempts, opts.RateLimitWindow),
		bus:                 bus,
		connectTimeout:      connectTimeout,
		inactivityThreshold: inactivity,
		nowFn:               time.Now,
	}
}

// CreateSession validates cfg, applies the rate limit, and registers a new
// disconnected Session. The config is fixed for the session's lifetime.
func (m *Manager) CreateSession(cfg ConnectionConfig) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := m.limiter.Allow(cfg.RateKey()); err != nil {
		log.Printf("[conn] rate limited: %s", logutil.SanitizeForLog(cfg.RateKey()))
		return nil, err
	}

	now := m.nowFn()
	s := &Session{
		ID:           uuid.New().String(),
		Config:       cfg,
		CreatedAt:    now,
		lastActivity: now,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.recordEvent(s.ID, "created", cfg.RateKey())
	m.publish(EventSessionCreated, s)
	log.Printf("[conn] session %s created for %s", s.ID, logutil.SanitizeForLog(cfg.RateKey()))
	return s, nil
}

// AttachOutput registers the sink receiving remote output for the session,
// replacing any previous sink. It may be called before or after Connect;
// output also refreshes the session's activity timestamp on every chunk.
func (m *Manager) AttachOutput(sessionID string, sink func(p []byte)) {
	m.mu.Lock()
	m.sinks[sessionID] = sink
	m.mu.Unlock()
}

// Connect opens the session's transport with a bounded timeout. On success
// the session is marked connected and the connect duration is recorded. On
// failure the session stays disconnected and a *TransportError carrying
// the cause is returned; there is no automatic retry.
func (m *Manager) Connect(ctx context.Context, sessionID string) error {
	s := m.GetSession(sessionID)
	if s == nil {
		return &TransportError{Op: "connect", Err: ErrSessionNotFound}
	}

	// Only one connect attempt per session may be in flight; a second
	// caller would open a second transport and leak the first.
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	if s.connecting {
		s.mu.Unlock()
		return &TransportError{Op: "connect", Err: errors.New("connect already in progress")}
	}
	s.connecting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
	}()

	tr := m.factory()
	// The sink is resolved per chunk, not captured here, so AttachOutput
	// after Connect (terminal reattach) redirects live output.
	tr.OnData(func(p []byte) {
		s.Touch()
		m.mu.RLock()
		sink := m.sinks[sessionID]
		m.mu.RUnlock()
		if sink != nil {
			sink(p)
		}
	})

	cfg := s.Config
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = m.connectTimeout
	}
	openCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	start := m.nowFn()
	if err := tr.Open(openCtx, cfg); err != nil {
		m.recordEvent(sessionID, "connect_failed", err.Error())
		return &TransportError{Op: "connect", Err: err}
	}
	elapsed := m.nowFn().Sub(start)

	s.mu.Lock()
	s.transport = tr
	s.connected = true
	s.lastActivity = m.nowFn()
	s.metrics.ConnectTime = elapsed
	s.mu.Unlock()

	m.recordEvent(sessionID, "connected", fmt.Sprintf("in %s", elapsed.Truncate(time.Millisecond)))
	m.publish(EventSessionConnected, s)
	log.Printf("[conn] session %s connected to %s in %s", sessionID,
		logutil.SanitizeForLog(s.Config.RateKey()), elapsed.Truncate(time.Millisecond))
	return nil
}

// Disconnect tears down the session's transport and removes the session.
// Teardown failures are logged, never returned. Disconnecting an unknown
// id is a no-op returning false.
func (m *Manager) Disconnect(sessionID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, sessionID)
	delete(m.sinks, sessionID)
	m.mu.Unlock()

	s.mu.Lock()
	tr := s.transport
	s.transport = nil
	s.connected = false
	s.mu.Unlock()

	if tr != nil {
		if err := tr.Close(); err != nil {
			log.Printf("[conn] session %s transport close: %v", sessionID, err)
		}
	}

	m.recordEvent(sessionID, "disconnected", "")
	m.publish(EventSessionDisconnected, s)
	log.Printf("[conn] session %s disconnected", sessionID)
	return true
}

// WriteInput sends input to the session's remote shell and refreshes the
// activity timestamp.
func (m *Manager) WriteInput(sessionID string, p []byte) (int, error) {
	s := m.GetSession(sessionID)
	if s == nil {
		return 0, ErrSessionNotFound
	}
	s.mu.Lock()
	tr := s.transport
	s.lastActivity = m.nowFn()
	s.mu.Unlock()
	if tr == nil {
		return 0, &TransportError{Op: "write", Err: errors.New("not connected")}
	}
	return tr.Write(p)
}

// Resize forwards a PTY resize to the session's transport.
func (m *Manager) Resize(sessionID string, cols, rows uint16) error {
	s := m.GetSession(sessionID)
	if s == nil {
		return ErrSessionNotFound
	}
	s.mu.Lock()
	tr := s.transport
	s.mu.Unlock()
	if tr == nil {
		return &TransportError{Op: "resize", Err: errors.New("not connected")}
	}
	return tr.Resize(cols, rows)
}

// CleanupInactiveSessions disconnects every session idle for longer than
// the inactivity threshold and returns how many were swept. Intended to
// run on a periodic scheduler tick.
func (m *Manager) CleanupInactiveSessions() int {
	cutoff := m.nowFn().Add(-m.inactivityThreshold)

	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		if s.LastActivity().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		log.Printf("[conn] sweeping inactive session %s", id)
		m.recordEvent(id, "swept", "inactivity threshold exceeded")
		m.Disconnect(id)
	}
	return len(stale)
}

// OptimizeForMobile switches the session to the low-bandwidth profile and
// enables latency tracking. Returns false for unknown ids.
func (m *Manager) OptimizeForMobile(sessionID string) bool {
	s := m.GetSession(sessionID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	s.metrics.MobileOptimized = true
	s.mu.Unlock()
	m.recordEvent(sessionID, "mobile_optimized", "")
	return true
}

// UpdateLatencyMetrics feeds one round-trip latency sample (milliseconds)
// into the session's moving average.
func (m *Manager) UpdateLatencyMetrics(sessionID string, sampleMs float64) {
	s := m.GetSession(sessionID)
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.metrics.LatencySamples == 0 {
		s.metrics.LatencyEWMA = sampleMs
	} else {
		s.metrics.LatencyEWMA = latencyAlpha*sampleMs + (1-latencyAlpha)*s.metrics.LatencyEWMA
	}
	s.metrics.LatencySamples++
	s.mu.Unlock()
}

// GetSession returns the session with the given id, or nil.
func (m *Manager) GetSession(sessionID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// Sessions returns a snapshot of all live sessions.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		result = append(result, s)
	}
	return result
}

// SessionCount returns the number of live sessions.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Events returns a copy of the session's lifecycle event history. History
// survives Disconnect so it stays available for debugging.
func (m *Manager) Events(sessionID string) []LifecycleEvent {
	m.eventsMu.RLock()
	defer m.eventsMu.RUnlock()
	evs := m.history[sessionID]
	result := make([]LifecycleEvent, len(evs))
	copy(result, evs)
	return result
}

func (m *Manager) recordEvent(sessionID, eventType, details string) {
	ev := LifecycleEvent{Type: eventType, Details: details, Timestamp: m.nowFn()}

	m.eventsMu.Lock()
	if m.history == nil {
		m.history = make(map[string][]LifecycleEvent)
	}
	evs := append(m.history[sessionID], ev)
	if len(evs) > maxEventsPerSession {
		evs = evs[len(evs)-maxEventsPerSession:]
	}
	m.history[sessionID] = evs
	m.eventsMu.Unlock()
}

func (m *Manager) publish(event string, s *Session) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(event, SessionEvent{
		SessionID: s.ID,
		Host:      s.Config.Host,
		Username:  s.Config.Username,
	})
}
