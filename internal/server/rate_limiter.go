package server

import (
	"time"

	"golang.org/x/time/rate"
)

// newRateLimiter returns a token bucket holding capacity tokens that refills
// completely once per interval.
func newRateLimiter(capacity int, interval time.Duration) *rate.Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return rate.NewLimiter(rate.Limit(float64(capacity)/interval.Seconds()), capacity)
}
