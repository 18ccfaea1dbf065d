package connection

import (
	"errors"
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToMax(t *testing.T) {
	rl := NewRateLimiter(5, 300*time.Second)

	for i := 0; i < 5; i++ {
		if err := rl.Allow("alice@example.com"); err != nil {
			t.Fatalf("attempt %d rejected: %v", i+1, err)
		}
	}

	err := rl.Allow("alice@example.com")
	var rerr *RateLimitedError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *RateLimitedError, got %v", err)
	}
	if rerr.Attempts != 5 {
		t.Errorf("expected 5 recorded attempts, got %d", rerr.Attempts)
	}
	if rerr.RetryAfter <= 0 || rerr.RetryAfter > 300*time.Second {
		t.Errorf("unreasonable RetryAfter %s", rerr.RetryAfter)
	}
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(1, 300*time.Second)

	if err := rl.Allow("alice@a"); err != nil {
		t.Fatalf("first key rejected: %v", err)
	}
	if err := rl.Allow("bob@b"); err != nil {
		t.Fatalf("second key rejected: %v", err)
	}
	if err := rl.Allow("alice@a"); err == nil {
		t.Fatal("expected first key to be limited")
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	rl := NewRateLimiter(2, 300*time.Second)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.nowFn = func() time.Time { return now }

	if err := rl.Allow("k"); err != nil {
		t.Fatal(err)
	}
	now = now.Add(100 * time.Second)
	if err := rl.Allow("k"); err != nil {
		t.Fatal(err)
	}
	if err := rl.Allow("k"); err == nil {
		t.Fatal("expected limit at 2 attempts")
	}

	// First attempt ages out after 300s; one slot opens up.
	now = now.Add(201 * time.Second)
	if err := rl.Allow("k"); err != nil {
		t.Fatalf("expected slot after oldest attempt aged out: %v", err)
	}
	if err := rl.Allow("k"); err == nil {
		t.Fatal("expected limit again")
	}
}

func TestRateLimiterReset(t *testing.T) {
	rl := NewRateLimiter(1, 300*time.Second)

	if err := rl.Allow("k"); err != nil {
		t.Fatal(err)
	}
	if err := rl.Allow("k"); err == nil {
		t.Fatal("expected limit")
	}
	rl.Reset("k")
	if err := rl.Allow("k"); err != nil {
		t.Errorf("expected allow after reset: %v", err)
	}
}
