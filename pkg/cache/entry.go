// Package cache provides the entry model, key construction and the
// serialization pipeline for cached HTTP responses.
package cache

import (
	"net/http"
	"time"
)

// State describes where an entry is in its lifecycle relative to a point
// in time. The four states are mutually exclusive and exhaustive for a
// given age.
type State int

const (
	// StateFresh: age < TTL. Served directly, no origin contact.
	StateFresh State = iota

	// StateStaleRevalidatable: TTL <= age < TTL+SWR. Served immediately
	// while a background refresh is scheduled.
	StateStaleRevalidatable

	// StateStaleErrorFallback: TTL+SWR <= age < MaxStale. Served only
	// when a foreground fetch fails.
	StateStaleErrorFallback

	// StateExpired: age >= MaxStale (or the entry is absent). Never served.
	StateExpired
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateStaleRevalidatable:
		return "stale-revalidatable"
	case StateStaleErrorFallback:
		return "stale-error-fallback"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Entry is the stored unit: one cached HTTP response plus the lifecycle
// windows that were in effect when it was written. Entries are immutable
// after creation; a refresh writes a new entry under the same key.
type Entry struct {
	// StatusCode is the HTTP status code of the cached response.
	StatusCode int

	// Header holds the response headers.
	Header http.Header

	// Body is the uncompressed response body.
	Body []byte

	// StoredAt is when the entry was written.
	StoredAt time.Time

	// TTL is the freshness window, counted from StoredAt.
	TTL time.Duration

	// StaleWhileRevalidate extends TTL with a window during which the
	// entry may still be served while a background refresh runs.
	// Zero disables the window.
	StaleWhileRevalidate time.Duration

	// MaxStale is the absolute age limit for serving the entry as an
	// error fallback. Zero disables stale-on-error for this entry.
	MaxStale time.Duration

	// Codec is the compression codec the body is (or will be) stored with.
	Codec Codec

	// RawSize is the uncompressed body size in bytes.
	RawSize int
}

// Age returns how long ago the entry was stored. Never negative, so a
// writer clock slightly ahead of the reader cannot produce a future entry.
func (e *Entry) Age(now time.Time) time.Duration {
	age := now.Sub(e.StoredAt)
	if age < 0 {
		return 0
	}
	return age
}

// Classify maps the entry's age to its lifecycle state.
func (e *Entry) Classify(now time.Time) State {
	age := e.Age(now)
	if age < e.TTL {
		return StateFresh
	}
	if age < e.TTL+e.StaleWhileRevalidate {
		return StateStaleRevalidatable
	}
	if age < e.MaxStale {
		return StateStaleErrorFallback
	}
	return StateExpired
}

// Fresh reports whether the entry can be served without any origin contact.
func (e *Entry) Fresh(now time.Time) bool {
	return e.Classify(now) == StateFresh
}

// Servable reports whether any lifecycle state other than Expired applies,
// i.e. whether the entry may still be returned to a caller under some policy.
func (e *Entry) Servable(now time.Time) bool {
	return e.Classify(now) != StateExpired
}

// RetentionTTL is the backend-level TTL an entry must be stored with so
// that every servable lifecycle state remains reachable. Storing with the
// logical TTL alone would evict entries before the stale windows can be
// used.
func (e *Entry) RetentionTTL() time.Duration {
	retention := e.TTL + e.StaleWhileRevalidate
	if e.MaxStale > retention {
		retention = e.MaxStale
	}
	return retention
}
