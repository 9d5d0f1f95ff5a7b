// Package httpx wraps net/http with retries and exponential back-off for the
// service's outbound calls. A Client is immutable after construction and safe
// for concurrent use.
package httpx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client retries transient failures: network errors and 5xx responses.
type Client struct {
	http       *http.Client
	maxRetries int
	baseDelay  time.Duration
}

// Option customises a Client.
type Option func(*Client)

// WithBaseDelay sets the first back-off delay; later delays double.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) { c.baseDelay = d }
}

// WithTransport replaces the underlying round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.http.Transport = rt }
}

// NewClient creates a Client with a per-attempt timeout and retry count.
func NewClient(timeout time.Duration, maxRetries int, opts ...Option) *Client {
	c := &Client{
		http:       &http.Client{Timeout: timeout},
		maxRetries: max(maxRetries, 0),
		baseDelay:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends req, retrying on transient failures. Requests with a body must be
// built with a body that supports GetBody (bytes.Reader, strings.Reader and
// bytes.Buffer all do) so it can be replayed. The final 5xx response, if any,
// is returned with its body intact.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var (
		resp *http.Response
		err  error
	)

	for attempt := range c.maxRetries + 1 {
		attemptReq := req.Clone(ctx)
		if req.GetBody != nil && attempt > 0 {
			body, gerr := req.GetBody()
			if gerr != nil {
				return nil, fmt.Errorf("httpx: replay body: %w", gerr)
			}
			attemptReq.Body = body
		}

		resp, err = c.http.Do(attemptReq)
		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}
		if attempt == c.maxRetries {
			break
		}

		// Drain so the connection can be reused.
		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		delay := c.baseDelay * (1 << uint(attempt))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if err != nil {
		return nil, fmt.Errorf("httpx: all %d attempts failed: %w", c.maxRetries+1, err)
	}
	return resp, nil
}

// Get is a convenience method for GET requests.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("httpx: new request: %w", err)
	}
	return c.Do(ctx, req)
}
