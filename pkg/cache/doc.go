// Package cache provides the entry model and serialization pipeline for
// cached HTTP responses.
//
// It covers the pure, storage-independent parts of the caching engine:
//
// - Deterministic cache key construction (method, URL, body digest, vary axes)
// - Entry lifecycle classification (fresh, stale-revalidatable, stale-error-fallback, expired)
// - Cacheability gating (status set, size cap, cache-control directives, content type)
// - TTL resolution, fixed or derived from Cache-Control/Expires with clamping
// - Self-describing entry envelopes (msgpack) with pluggable compression
//
// # Keys
//
//	key := cache.BuildKey(cache.KeyInput{
//		Method:    "GET",
//		URL:       "https://example.com/api/items?page=2",
//		Namespace: "default",
//		Version:   "v1",
//	})
//
// # Entries
//
//	entry := &cache.Entry{
//		StatusCode: 200,
//		Header:     resp.Header.Clone(),
//		Body:       body,
//		StoredAt:   time.Now(),
//		TTL:        time.Minute,
//		Codec:      cache.CodecGzip,
//	}
//
//	payload, err := cache.Encode(entry)
//	if err != nil {
//		return err
//	}
//
//	// later
//	entry, err = cache.Decode(payload)
//	if errors.Is(err, cache.ErrEntryCorrupt) {
//		// treat as cache miss
//	}
//
// # Lifecycle
//
//	switch entry.Classify(time.Now()) {
//	case cache.StateFresh:
//		// serve directly
//	case cache.StateStaleRevalidatable:
//		// serve and refresh in the background
//	case cache.StateStaleErrorFallback:
//		// serve only if the origin fetch fails
//	case cache.StateExpired:
//		// fetch from origin
//	}
//
// Envelopes record the compression codec they were written with, so a
// deployment can switch codecs without invalidating existing entries:
// decoding always follows the stored tag.
package cache
