package scheduler

import (
	"sync"
	"time"
)

// Throttle coalesces high-frequency calls into at most one downstream send
// per window. It is trailing-edge: the first call opens the window and the
// most recent payload is flushed when the window elapses, so a burst of
// calls inside one window produces exactly one send carrying the last value.
type Throttle struct {
	mu      sync.Mutex
	sched   Scheduler
	window  time.Duration
	send    func(payload any)
	pending Handle
	latest  any
	armed   bool
}

// NewThrottle creates a trailing-edge throttle that invokes send at most
// once per window.
func NewThrottle(sched Scheduler, window time.Duration, send func(payload any)) *Throttle {
	return &Throttle{sched: sched, window: window, send: send}
}

// Call records payload as the latest value and arms the window timer if it
// is not already running. Later calls within the window only replace the
// payload.
func (t *Throttle) Call(payload any) {
	t.mu.Lock()
	t.latest = payload
	if t.armed {
		t.mu.Unlock()
		return
	}
	t.armed = true
	t.pending = t.sched.After(t.window, t.flush)
	t.mu.Unlock()
}

func (t *Throttle) flush() {
	t.mu.Lock()
	payload := t.latest
	t.latest = nil
	t.armed = false
	t.pending = nil
	t.mu.Unlock()

	t.send(payload)
}

// Cancel drops any pending payload and stops the window timer. Safe to
// call at any time; the throttle remains usable afterwards.
func (t *Throttle) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending != nil {
		t.pending.Cancel()
		t.pending = nil
	}
	t.latest = nil
	t.armed = false
}
