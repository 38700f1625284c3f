package client

import (
	"net/http"

	"github.com/crawlworks/fetchcache/pkg/cache"
)

// Response is the caller-facing result of a request. The body is fully
// read; callers served from cache share the same underlying byte slice
// and must not mutate it.
type Response struct {
	// StatusCode is the HTTP status of the origin response, possibly a
	// cached one.
	StatusCode int

	// Header holds the response headers.
	Header http.Header

	// Body is the response body.
	Body []byte

	// FromCache reports whether the response was served from the cache.
	FromCache bool

	// Stale reports whether a cached response was past its TTL when
	// served (stale-while-revalidate or stale-on-error).
	Stale bool

	// Key is the cache key the request mapped to, useful for later
	// invalidation.
	Key string
}

func responseFromEntry(key string, e *cache.Entry, stale bool) *Response {
	return &Response{
		StatusCode: e.StatusCode,
		Header:     e.Header,
		Body:       e.Body,
		FromCache:  true,
		Stale:      stale,
		Key:        key,
	}
}
