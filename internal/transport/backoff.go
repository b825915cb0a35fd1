package transport

import (
	"sync"
	"time"
)

// Default reconnection pacing. The delay doubles per consecutive failure and
// never exceeds the ceiling; a successful connection resets it to the base.
const (
	DefaultBackoffBase = time.Second
	DefaultBackoffMax  = 30 * time.Second
)

// Backoff computes reconnection delays: exponential growth with a cap,
// reset on success. Safe for concurrent use.
type Backoff struct {
	mu       sync.Mutex
	base     time.Duration
	max      time.Duration
	attempts int
}

// NewBackoff returns a Backoff growing from base to at most max.
// Non-positive values fall back to the defaults.
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if max <= 0 {
		max = DefaultBackoffMax
	}
	if max < base {
		max = base
	}
	return &Backoff{base: base, max: max}
}

// Next returns the delay to wait before the upcoming attempt and advances
// the failure count. Delays are monotonically non-decreasing up to the cap.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	// 1<<20 seconds is already far beyond any sane cap; stop shifting there
	// to avoid overflow.
	shift := b.attempts
	if shift > 20 {
		shift = 20
	}
	delay := b.base << shift
	if delay > b.max || delay <= 0 {
		delay = b.max
	}
	b.attempts++
	return delay
}

// Reset restores the base delay after a successful connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = 0
}
