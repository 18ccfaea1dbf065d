package scheduler

import (
	"testing"
	"time"
)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	f := NewFake()

	fired := false
	f.After(time.Second, func() { fired = true })

	f.Advance(500 * time.Millisecond)
	if fired {
		t.Fatal("timer fired before its deadline")
	}

	f.Advance(500 * time.Millisecond)
	if !fired {
		t.Fatal("timer did not fire at its deadline")
	}
	if f.PendingCount() != 0 {
		t.Errorf("expected no pending timers, got %d", f.PendingCount())
	}
}

func TestFakeCancelPreventsFiring(t *testing.T) {
	f := NewFake()

	fired := false
	h := f.After(time.Second, func() { fired = true })
	h.Cancel()

	f.Advance(2 * time.Second)
	if fired {
		t.Error("cancelled timer fired")
	}
}

func TestFakeEveryRepeats(t *testing.T) {
	f := NewFake()

	count := 0
	h := f.Every(time.Second, func() { count++ })

	f.Advance(3500 * time.Millisecond)
	if count != 3 {
		t.Errorf("expected 3 ticks, got %d", count)
	}

	h.Cancel()
	f.Advance(5 * time.Second)
	if count != 3 {
		t.Errorf("expected no ticks after cancel, got %d", count)
	}
}

func TestFakeFiresInChronologicalOrder(t *testing.T) {
	f := NewFake()

	var order []int
	f.After(2*time.Second, func() { order = append(order, 2) })
	f.After(time.Second, func() { order = append(order, 1) })
	f.After(3*time.Second, func() { order = append(order, 3) })

	f.Advance(5 * time.Second)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("unexpected firing order: %v", order)
	}
}

func TestFakeCallbackMayScheduleMoreTimers(t *testing.T) {
	f := NewFake()

	chained := false
	f.After(time.Second, func() {
		f.After(time.Second, func() { chained = true })
	})

	f.Advance(2 * time.Second)
	if !chained {
		t.Error("timer scheduled by a callback did not fire within the same advance")
	}
}

func TestThrottleCoalescesBurstToLastValue(t *testing.T) {
	f := NewFake()

	var sent []any
	th := NewThrottle(f, 100*time.Millisecond, func(p any) { sent = append(sent, p) })

	for i := 0; i < 50; i++ {
		th.Call(i)
	}

	if len(sent) != 0 {
		t.Fatalf("throttle sent before window elapsed: %v", sent)
	}

	f.Advance(100 * time.Millisecond)

	if len(sent) != 1 {
		t.Fatalf("expected exactly 1 send, got %d", len(sent))
	}
	if sent[0] != 49 {
		t.Errorf("expected last value 49, got %v", sent[0])
	}
}

func TestThrottleSeparateWindows(t *testing.T) {
	f := NewFake()

	var sent []any
	th := NewThrottle(f, 100*time.Millisecond, func(p any) { sent = append(sent, p) })

	th.Call("a")
	f.Advance(100 * time.Millisecond)
	th.Call("b")
	f.Advance(100 * time.Millisecond)

	if len(sent) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(sent))
	}
	if sent[0] != "a" || sent[1] != "b" {
		t.Errorf("unexpected payloads: %v", sent)
	}
}

func TestThrottleCancelDropsPending(t *testing.T) {
	f := NewFake()

	sends := 0
	th := NewThrottle(f, 100*time.Millisecond, func(any) { sends++ })

	th.Call("x")
	th.Cancel()
	f.Advance(time.Second)

	if sends != 0 {
		t.Errorf("expected no sends after cancel, got %d", sends)
	}

	// Throttle stays usable.
	th.Call("y")
	f.Advance(100 * time.Millisecond)
	if sends != 1 {
		t.Errorf("expected 1 send after reuse, got %d", sends)
	}
}
