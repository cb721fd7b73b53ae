package http

import (
	"time"

	"golang.org/x/time/rate"
)

// newRateLimiter returns a token bucket refilling perMinute tokens a minute.
// A nil limiter allows everything.
func newRateLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	burst := perMinute / 6
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
}

func allow(l *rate.Limiter) bool {
	return l == nil || l.Allow()
}
