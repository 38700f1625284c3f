package client

import "net/http"

// Options control a single request. Zero-value callers get both cache
// directions enabled and no forced refresh.
type Options struct {
	// CacheRead allows serving this request from the cache.
	CacheRead bool

	// CacheWrite allows storing this request's response.
	CacheWrite bool

	// ForceRefresh skips the cache lookup and fetches from the origin,
	// storing the result as usual. A forced fetch bypasses deduplication
	// so it cannot attach to an older in-flight fetch.
	ForceRefresh bool

	// Header holds extra request headers sent to the origin. User-Agent
	// and Cookie values here also participate in key construction when
	// the corresponding vary flags are set.
	Header http.Header
}

// Option mutates the per-request options.
type Option func(*Options)

func defaultOptions() Options {
	return Options{CacheRead: true, CacheWrite: true}
}

// WithoutCacheRead disables serving the request from the cache.
func WithoutCacheRead() Option {
	return func(o *Options) { o.CacheRead = false }
}

// WithoutCacheWrite disables storing the response.
func WithoutCacheWrite() Option {
	return func(o *Options) { o.CacheWrite = false }
}

// WithForceRefresh fetches from the origin even when a fresh entry exists.
func WithForceRefresh() Option {
	return func(o *Options) { o.ForceRefresh = true }
}

// WithHeader adds a request header.
func WithHeader(name, value string) Option {
	return func(o *Options) {
		if o.Header == nil {
			o.Header = make(http.Header)
		}
		o.Header.Add(name, value)
	}
}
