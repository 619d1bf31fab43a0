package blocket

import (
	"log"
	"sync"
	"time"
)

// BreakerConfig sets the trip conditions for the circuit breaker. Zero
// values fall back to conservative defaults.
type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker after this many throttle-class
	// responses (429, 403, 5xx) in a row.
	ConsecutiveFailures int
	// MinRequests and FailureRate trip the breaker once at least MinRequests
	// have been made and the failed share reaches FailureRate. Network errors
	// count here even though they never trip the consecutive rule.
	MinRequests int
	FailureRate float64
	// ResetTimeout is how long the breaker stays open before letting
	// requests through again with fresh counters.
	ResetTimeout time.Duration
}

// CircuitBreaker halts outbound requests when the source starts refusing us.
// Tripping early beats burning the rest of the run into a WAF block.
type CircuitBreaker struct {
	cfg BreakerConfig

	mu          sync.Mutex
	open        bool
	requests    int
	failed      int
	consecutive int
	lastFailure time.Time
}

func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.ConsecutiveFailures <= 0 {
		cfg.ConsecutiveFailures = 2
	}
	if cfg.MinRequests <= 0 {
		cfg.MinRequests = 20
	}
	if cfg.FailureRate <= 0 {
		cfg.FailureRate = 0.40
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = time.Hour
	}
	return &CircuitBreaker{cfg: cfg}
}

// RecordSuccess counts a completed request and ends any failure streak.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requests++
	cb.consecutive = 0
}

// RecordFailure counts a failed request. statusCode zero means a network
// error; throttle-class codes also feed the consecutive rule.
func (cb *CircuitBreaker) RecordFailure(statusCode int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requests++
	cb.failed++
	cb.lastFailure = time.Now()

	if throttleClass(statusCode) {
		cb.consecutive++
		if cb.consecutive >= cb.cfg.ConsecutiveFailures {
			cb.open = true
			log.Printf("CircuitBreaker: open after %d consecutive %d responses, retry in %v",
				cb.consecutive, statusCode, cb.cfg.ResetTimeout)
			return
		}
	} else {
		cb.consecutive = 0
	}

	if cb.requests >= cb.cfg.MinRequests {
		rate := float64(cb.failed) / float64(cb.requests)
		if rate >= cb.cfg.FailureRate {
			cb.open = true
			log.Printf("CircuitBreaker: open at %.1f%% failure rate (%d/%d), retry in %v",
				rate*100, cb.failed, cb.requests, cb.cfg.ResetTimeout)
		}
	}
}

// CanProceed reports whether a request may go out. An open breaker closes
// again with fresh counters once the reset timeout has passed.
func (cb *CircuitBreaker) CanProceed() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.open {
		return true
	}
	if time.Since(cb.lastFailure) > cb.cfg.ResetTimeout {
		log.Printf("CircuitBreaker: closing again after %v", cb.cfg.ResetTimeout)
		cb.open = false
		cb.requests = 0
		cb.failed = 0
		cb.consecutive = 0
		return true
	}
	return false
}

// Status returns the open flag and the failure counters.
func (cb *CircuitBreaker) Status() (isOpen bool, failures int, total int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.open, cb.failed, cb.requests
}

func throttleClass(statusCode int) bool {
	return statusCode == 429 || statusCode == 403 || statusCode >= 500
}
