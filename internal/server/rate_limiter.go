// Package server throttles inbound messages per connection. Each connection
// gets a token bucket: it may burst up to the configured capacity, then is
// held to the refill rate. Throttled messages are discarded, not fatal.
package server

import (
	"math"
	"sync"
	"time"
)

type rateLimiter struct {
	mu     sync.Mutex
	tokens float64
	burst  float64
	perSec float64
	last   time.Time
}

func newRateLimiter(burst int, interval time.Duration) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	return &rateLimiter{
		tokens: float64(burst),
		burst:  float64(burst),
		perSec: float64(burst) / interval.Seconds(),
		last:   time.Now(),
	}
}

// allow consumes one token, refilling the bucket for the time elapsed since
// the previous call first. It reports whether the message may proceed.
func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked(time.Now())
	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}

func (rl *rateLimiter) refillLocked(now time.Time) {
	elapsed := now.Sub(rl.last).Seconds()
	rl.last = now
	if elapsed <= 0 {
		return
	}
	rl.tokens = math.Min(rl.burst, rl.tokens+elapsed*rl.perSec)
}
