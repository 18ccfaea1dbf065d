package registry

import "sync"

// defaultScrollbackSize caps each session's output buffer at 1 MB.
const defaultScrollbackSize = 1024 * 1024

// Scrollback is a thread-safe, capped, append-only buffer of terminal
// output. When the cap is exceeded the oldest bytes are dropped, so a
// reattaching tab can replay the most recent output.
type Scrollback struct {
	mu     sync.Mutex
	data   []byte
	maxLen int
}

// NewScrollback creates a buffer capped at maxLen bytes (default 1 MB for
// non-positive values).
func NewScrollback(maxLen int) *Scrollback {
	if maxLen <= 0 {
		maxLen = defaultScrollbackSize
	}
	return &Scrollback{maxLen: maxLen}
}

// Write appends p, trimming from the front once the cap is exceeded.
func (s *Scrollback) Write(p []byte) {
	s.mu.Lock()
	s.data = append(s.data, p...)
	if len(s.data) > s.maxLen {
		s.data = s.data[len(s.data)-s.maxLen:]
	}
	s.mu.Unlock()
}

// Snapshot returns a copy of the current contents.
func (s *Scrollback) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out
}

// Len returns the current buffer length.
func (s *Scrollback) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
