package conn

import (
	"math"
	"time"
)

const maxDelay = time.Duration(math.MaxInt64)

// Backoff configures bounded exponential reconnect delays.
type Backoff struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultBackoff retries five times starting at one second.
func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Delay returns base*2^attempt capped at MaxDelay, saturating instead of
// overflowing when MaxDelay is zero. attempt is zero-based.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.BaseDelay
	for i := 0; i < attempt; i++ {
		if b.MaxDelay > 0 && d >= b.MaxDelay {
			break
		}
		if d > maxDelay/2 {
			d = maxDelay
			break
		}
		d *= 2
	}
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	return d
}
