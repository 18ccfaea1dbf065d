package scheduler

import (
	"sort"
	"sync"
	"time"
)

// Fake is a Scheduler driven by a manual clock. Time only moves when the
// test calls Advance, and due callbacks run synchronously on the advancing
// goroutine in firing order.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	nextID uint64
	timers map[uint64]*fakeTimer
}

type fakeTimer struct {
	id       uint64
	when     time.Time
	interval time.Duration // zero for one-shot
	fn       func()
}

func NewFake() *Fake {
	return &Fake{
		now:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		timers: make(map[uint64]*fakeTimer),
	}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration, fn func()) Handle {
	return f.add(d, 0, fn)
}

func (f *Fake) Every(d time.Duration, fn func()) Handle {
	return f.add(d, d, fn)
}

func (f *Fake) add(d, interval time.Duration, fn func()) Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	t := &fakeTimer{id: f.nextID, when: f.now.Add(d), interval: interval, fn: fn}
	f.timers[t.id] = t
	return &fakeHandle{f: f, id: t.id}
}

type fakeHandle struct {
	f  *Fake
	id uint64
}

func (h *fakeHandle) Cancel() {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	delete(h.f.timers, h.id)
}

// PendingCount returns the number of scheduled, not-yet-fired timers.
func (f *Fake) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// Advance moves the clock forward by d, firing every due callback in
// chronological order. Callbacks run without the scheduler lock held, so
// they may schedule or cancel timers.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		t := f.popDue(target)
		if t == nil {
			break
		}
		t.fn()
	}

	f.mu.Lock()
	if target.After(f.now) {
		f.now = target
	}
	f.mu.Unlock()
}

// popDue advances the clock to the earliest due timer at or before target,
// removes it (rescheduling repeating timers), and returns it.
func (f *Fake) popDue(target time.Time) *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()

	due := make([]*fakeTimer, 0, len(f.timers))
	for _, t := range f.timers {
		if !t.when.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].when.Equal(due[j].when) {
			return due[i].id < due[j].id
		}
		return due[i].when.Before(due[j].when)
	})

	t := due[0]
	if t.when.After(f.now) {
		f.now = t.when
	}
	if t.interval > 0 {
		t.when = t.when.Add(t.interval)
	} else {
		delete(f.timers, t.id)
	}
	return t
}
