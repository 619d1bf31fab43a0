package blocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"time"

	"golang.org/x/time/rate"

	"car-market-monitor/internal/config"
	"car-market-monitor/internal/ratelimit"
)

// Sentinel errors callers branch on. Everything else is a transport failure
// retried only via the next scheduled run.
var (
	ErrNotFound = errors.New("blocket: page not found")
	ErrBlocked  = errors.New("blocket: request blocked")
)

// Client fetches and parses Blocket search and detail pages. One client is
// shared by the snapshot builder, the enrichment workers and the removal
// verifier; its limiters are therefore process-global.
type Client struct {
	client        *http.Client
	userAgent     string
	backoff       ratelimit.Backoff
	pacer         *rate.Limiter
	detailLimiter *ratelimit.Window
	breaker       *CircuitBreaker

	headlessFallback bool
	chromePath       string
}

// NewClient creates a client from configuration.
func NewClient(cfg config.FetchConfig, userAgent string) *Client {
	jar, err := cookiejar.New(nil)
	if err != nil {
		log.Printf("Blocket: failed to create cookie jar: %v", err)
		jar = nil
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}

	return &Client{
		client: &http.Client{
			Timeout: cfg.GetTimeout(),
			Jar:     jar,
		},
		userAgent: userAgent,
		backoff: ratelimit.Backoff{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.GetRetryDelay(),
			MaxDelay:   60 * time.Second,
		},
		pacer:         rate.NewLimiter(rate.Limit(rps), 1),
		detailLimiter: ratelimit.NewWindow(cfg.DetailsPerHour, time.Hour),
		breaker: NewCircuitBreaker(BreakerConfig{
			ConsecutiveFailures: cfg.BreakerConsecutiveFailures,
			MinRequests:         cfg.BreakerMinRequests,
			FailureRate:         cfg.BreakerFailureRate,
			ResetTimeout:        cfg.GetBreakerReset(),
		}),
		headlessFallback: cfg.HeadlessFallback,
		chromePath:       cfg.ChromePath,
	}
}

func (c *Client) applyHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "sv-SE,sv;q=0.9,en;q=0.8")
}

// get fetches one page with pacing, circuit breaking and retry.
// A 404 maps to ErrNotFound without retrying.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if !c.breaker.CanProceed() {
		_, failures, total := c.breaker.Status()
		return nil, fmt.Errorf("%w: circuit breaker open (%d/%d failures)", ErrBlocked, failures, total)
	}

	var lastStatus int
	for attempt := 0; attempt <= c.backoff.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff.Delay(attempt)
			log.Printf("Blocket: retry %d/%d for %s after %v", attempt, c.backoff.MaxRetries, url, delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := c.pacer.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		c.applyHeaders(req)

		resp, err := c.client.Do(req)
		if err != nil {
			c.breaker.RecordFailure(0)
			lastStatus = 0
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				c.breaker.RecordFailure(0)
				lastStatus = 0
				continue
			}
			c.breaker.RecordSuccess()
			return body, nil

		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return nil, ErrNotFound

		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			c.breaker.RecordFailure(resp.StatusCode)
			lastStatus = resp.StatusCode
			continue

		default:
			// Remaining 4xx: not retryable.
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
		}
	}

	if lastStatus == 0 {
		return nil, fmt.Errorf("request failed after %d retries: %s", c.backoff.MaxRetries, url)
	}
	return nil, fmt.Errorf("request failed after %d retries: status %d for %s", c.backoff.MaxRetries, lastStatus, url)
}

// getDetail fetches a detail page under the hourly detail budget.
func (c *Client) getDetail(ctx context.Context, url string) ([]byte, error) {
	if err := c.detailLimiter.Acquire(ctx); err != nil {
		return nil, err
	}
	return c.get(ctx, url)
}
