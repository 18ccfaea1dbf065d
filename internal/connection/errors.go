package connection

import (
	"fmt"
	"time"
)

// ValidationError reports a ConnectionConfig field that failed format
// checks. It is returned before any I/O happens; the caller can correct
// the input and retry.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RateLimitedError reports that the (hostname, username) identifier has
// exceeded the allowed number of session-creation attempts inside the
// sliding window. RetryAfter is how long until the oldest attempt ages out.
type RateLimitedError struct {
	Key        string
	Attempts   int
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: %d attempts in window, retry after %s",
		e.Key, e.Attempts, e.RetryAfter.Truncate(time.Second))
}

// TransportError wraps a connect or teardown failure from the underlying
// transport. The shell connection is never retried automatically.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
