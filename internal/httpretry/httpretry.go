// Package httpretry retries idempotent HTTP requests (GET and HEAD) on transient
// failures with capped exponential backoff. Other methods pass through untouched so
// outbound messages are never sent twice.
package httpretry

import (
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"
)

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client wraps a Doer with retries.
type Client struct {
	next       Doer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithMaxRetries sets the number of attempts after the first one.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithBackoff sets the base and maximum delay between attempts.
func WithBackoff(base, max time.Duration) Option {
	return func(c *Client) { c.baseDelay, c.maxDelay = base, max }
}

// New wraps next. A nil next uses an http.Client with a 10s timeout.
func New(next Doer, opts ...Option) *Client {
	if next == nil {
		next = &http.Client{Timeout: 10 * time.Second}
	}
	c := &Client{next: next, maxRetries: 2, baseDelay: 200 * time.Millisecond, maxDelay: 2 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return c.next.Do(req)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := c.delay(attempt)
			slog.Debug("httpretry: retrying", "attempt", attempt, "host", req.URL.Host, "path", req.URL.Path, "delay", delay)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		resp, err := c.next.Do(req)
		if err != nil {
			if req.Context().Err() != nil || attempt >= c.maxRetries {
				return nil, err
			}
			lastErr = err
			continue
		}
		if !retryable(resp.StatusCode) || attempt >= c.maxRetries {
			return resp, nil
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

// delay is full-jitter exponential backoff, never below a tenth of the base delay.
func (c *Client) delay(attempt int) time.Duration {
	d := c.baseDelay << (attempt - 1)
	if d > c.maxDelay || d <= 0 {
		d = c.maxDelay
	}
	j := time.Duration(rand.Int63n(int64(d) + 1))
	if floor := c.baseDelay / 10; j < floor {
		j = floor
	}
	return j
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
