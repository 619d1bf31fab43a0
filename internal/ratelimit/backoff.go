package ratelimit

import (
	"math"
	"time"
)

// Backoff is the retry policy used by the snapshot builder and the
// enrichment workers: exponential delay with a hard cap.
type Backoff struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultBackoff returns the retry policy used for outbound fetches.
func DefaultBackoff() Backoff {
	return Backoff{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   60 * time.Second,
	}
}

// Delay returns how long to wait before the given retry attempt.
// Attempt 1 waits BaseDelay, each further attempt doubles it.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := time.Duration(math.Pow(2, float64(attempt-1))) * b.BaseDelay
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	return d
}
