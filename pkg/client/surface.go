package client

import (
	"context"
	"net/http"

	"github.com/crawlworks/fetchcache/pkg/stats"
)

// Get performs a GET request through the cache.
func (c *Client) Get(ctx context.Context, url string, opts ...Option) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil, opts...)
}

// Head performs a HEAD request through the cache.
func (c *Client) Head(ctx context.Context, url string, opts ...Option) (*Response, error) {
	return c.Do(ctx, http.MethodHead, url, nil, opts...)
}

// Post performs a POST request through the cache. The body participates
// in the cache key, so identical bodies share an entry and different
// bodies do not.
func (c *Client) Post(ctx context.Context, url string, body []byte, opts ...Option) (*Response, error) {
	return c.Do(ctx, http.MethodPost, url, body, opts...)
}

// Put performs a PUT request through the cache.
func (c *Client) Put(ctx context.Context, url string, body []byte, opts ...Option) (*Response, error) {
	return c.Do(ctx, http.MethodPut, url, body, opts...)
}

// Patch performs a PATCH request through the cache.
func (c *Client) Patch(ctx context.Context, url string, body []byte, opts ...Option) (*Response, error) {
	return c.Do(ctx, http.MethodPatch, url, body, opts...)
}

// Delete performs an HTTP DELETE request through the cache. To remove a
// cached entry, use Invalidate.
func (c *Client) Delete(ctx context.Context, url string, opts ...Option) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, url, nil, opts...)
}

// Key returns the cache key a request maps to under this client's
// configuration.
func (c *Client) Key(method, url string, body []byte, opts ...Option) string {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return c.buildKey(method, url, body, &o)
}

// Invalidate removes the cached entry for a request. On a tiered backend
// the removal propagates to peer instances via pub/sub.
func (c *Client) Invalidate(ctx context.Context, method, url string, body []byte, opts ...Option) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.backendDelete(ctx, c.Key(method, url, body, opts...))
}

// InvalidateKey removes the cached entry for an exact key, as returned by
// Key or carried on a Response.
func (c *Client) InvalidateKey(ctx context.Context, key string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.backendDelete(ctx, key)
}

// InvalidatePattern removes all entries whose key matches a glob pattern.
// Returns how many the backend removed, or -1 when it cannot count them.
func (c *Client) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	if c.backendCB == nil {
		return c.backend.DeletePattern(ctx, pattern)
	}
	var n int
	err := c.backendCB.Do(func() error {
		var err error
		n, err = c.backend.DeletePattern(ctx, pattern)
		return err
	})
	return n, err
}

// Clear removes every entry owned by the backend.
func (c *Client) Clear(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.backendCB == nil {
		return c.backend.Clear(ctx)
	}
	return c.backendCB.Do(func() error {
		return c.backend.Clear(ctx)
	})
}

// Stats returns a snapshot of this client's counters.
func (c *Client) Stats() stats.Snapshot {
	return c.stats.Snapshot()
}

// ResetStats zeroes the counters and restarts the uptime clock.
func (c *Client) ResetStats() {
	c.stats.Reset()
}

// HealthCheck reports whether the backend can serve requests.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.backend.HealthCheck(ctx)
}
