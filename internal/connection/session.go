package connection

import (
	"sync"
	"time"
)

// Metrics holds lightweight per-session performance measurements.
type Metrics struct {
	// ConnectTime is how long the last successful transport open took.
	ConnectTime time.Duration `json:"connect_time"`
	// LatencyEWMA is an exponentially-weighted moving average of observed
	// round-trip latency in milliseconds. Zero until the first sample.
	LatencyEWMA float64 `json:"latency_ewma_ms"`
	// LatencySamples counts how many samples fed the average.
	LatencySamples int `json:"latency_samples"`
	// MobileOptimized reports whether the low-bandwidth profile is active.
	MobileOptimized bool `json:"mobile_optimized"`
}

// Session is the live or latent state of one remote-shell connection. It
// is created disconnected by Manager.CreateSession and mutated only by the
// Manager.
type Session struct {
	ID        string
	Config    ConnectionConfig
	CreatedAt time.Time

	mu           sync.Mutex
	connected    bool
	connecting   bool
	lastActivity time.Time
	transport    Transport
	metrics      Metrics

	// terminalHandle is an opaque value owned by the view layer (e.g. a
	// frontend terminal instance id). The core stores it, never reads it.
	terminalHandle any
}

// Connected reports whether the transport is currently open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// LastActivity returns the time of the most recent I/O or state change.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Touch marks the session as active now.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Metrics returns a copy of the session's metrics.
func (s *Session) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// SetTerminalHandle stores the view layer's opaque terminal handle.
func (s *Session) SetTerminalHandle(h any) {
	s.mu.Lock()
	s.terminalHandle = h
	s.mu.Unlock()
}

// TerminalHandle returns the stored opaque terminal handle, or nil.
func (s *Session) TerminalHandle() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminalHandle
}
