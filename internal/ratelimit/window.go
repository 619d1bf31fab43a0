package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window enforces a request budget over a sliding time window. It is used to
// cap detail-page fetches per hour independently of per-request pacing.
type Window struct {
	limit int
	span  time.Duration

	mu       sync.Mutex
	requests []time.Time
}

// NewWindow creates a limiter allowing limit requests per span.
// A limit of zero disables the limiter.
func NewWindow(limit int, span time.Duration) *Window {
	return &Window{limit: limit, span: span}
}

// Allow reports whether a request fits the budget and records it if so.
func (w *Window) Allow() bool {
	if w.limit <= 0 {
		return true
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.cleanup(now)

	if len(w.requests) >= w.limit {
		return false
	}
	w.requests = append(w.requests, now)
	return true
}

// Acquire blocks until the budget admits a request or the context is done.
func (w *Window) Acquire(ctx context.Context) error {
	for {
		if w.Allow() {
			return nil
		}
		wait := w.nextFree()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// InWindow returns how many requests are currently counted.
func (w *Window) InWindow() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cleanup(time.Now())
	return len(w.requests)
}

// nextFree returns how long until the oldest tracked request expires.
func (w *Window) nextFree() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.requests) == 0 {
		return time.Second
	}
	wait := time.Until(w.requests[0].Add(w.span))
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

func (w *Window) cleanup(now time.Time) {
	cutoff := now.Add(-w.span)
	kept := w.requests[:0]
	for _, t := range w.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.requests = kept
}
