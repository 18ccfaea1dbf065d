// Package scheduler abstracts platform timers behind a small interface so
// that reconnect, heartbeat, and sweep logic can be driven by a fake clock
// in tests. Every timer handed out is cancellable; owners must cancel
// their handles on teardown so no timer outlives the entity it references.
package scheduler

import (
	"sync"
	"time"
)

// Handle represents a scheduled callback that can be cancelled.
type Handle interface {
	// Cancel stops the timer. Cancelling an already-fired or already-
	// cancelled handle is a no-op.
	Cancel()
}

// Scheduler schedules one-shot and repeating callbacks.
type Scheduler interface {
	// After runs fn once after d has elapsed.
	After(d time.Duration, fn func()) Handle
	// Every runs fn repeatedly every d until the handle is cancelled.
	Every(d time.Duration, fn func()) Handle
	// Now returns the scheduler's notion of the current time.
	Now() time.Time
}

// Real is the production Scheduler backed by the runtime's timers.
type Real struct{}

func NewReal() *Real { return &Real{} }

func (*Real) Now() time.Time { return time.Now() }

func (*Real) After(d time.Duration, fn func()) Handle {
	t := time.AfterFunc(d, fn)
	return afterHandle{t}
}

type afterHandle struct{ t *time.Timer }

func (h afterHandle) Cancel() { h.t.Stop() }

func (*Real) Every(d time.Duration, fn func()) Handle {
	h := &everyHandle{stop: make(chan struct{})}
	go func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	return h
}

type everyHandle struct {
	once sync.Once
	stop chan struct{}
}

func (h *everyHandle) Cancel() { h.once.Do(func() { close(h.stop) }) }
