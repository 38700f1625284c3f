package client

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/crawlworks/fetchcache/pkg/backend"
	"github.com/crawlworks/fetchcache/pkg/cache"
	"github.com/crawlworks/fetchcache/pkg/metrics"
)

// Doer issues HTTP requests to the origin. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the client configuration. Construct it with DefaultConfig
// and adjust; New validates everything and fails fast on bad values.
type Config struct {
	// Backend stores encoded entries. Required.
	Backend backend.Backend

	// HTTPClient performs origin fetches. Defaults to an *http.Client
	// with FetchTimeout.
	HTTPClient Doer

	// Namespace isolates this client's keys from other clients sharing
	// a backend.
	Namespace string

	// CacheVersion participates in every key. Bumping it orphans all
	// previous entries without deleting them.
	CacheVersion string

	// UserAgent is sent with every origin request unless the caller
	// overrides it per request.
	UserAgent string

	// TTL is the freshness window for stored entries when the origin's
	// headers are not consulted or carry no directive.
	TTL time.Duration

	// StaleWhileRevalidate extends TTL with a window during which stale
	// entries are served immediately while a background refresh runs.
	// Zero disables the window.
	StaleWhileRevalidate time.Duration

	// MaxStale is the absolute age limit for serving an entry when the
	// origin fails. Zero disables serve-stale-on-error.
	MaxStale time.Duration

	// RespectCacheHeaders derives per-entry TTLs from Cache-Control
	// max-age or Expires, clamped to [MinTTL, MaxTTL].
	RespectCacheHeaders bool
	MinTTL              time.Duration
	MaxTTL              time.Duration

	// RespectPrivate treats Cache-Control: private as non-cacheable.
	RespectPrivate bool

	// CacheableStatus is the set of storable status codes. Every code
	// must lie in [200, 400); client and server errors are never stored.
	// Defaults to 200-299.
	CacheableStatus []int

	// MaxBytes caps the uncompressed body size of stored entries.
	MaxBytes int

	// Codec compresses stored bodies. Entries remain readable after a
	// codec change; the codec travels with each entry.
	Codec cache.Codec

	// CachePatterns and ExcludePatterns are URL globs deciding cache
	// eligibility. Excludes win. With no include patterns,
	// CacheByDefault applies.
	CachePatterns   []string
	ExcludePatterns []string
	CacheByDefault  bool

	// VaryUserAgent and VaryCookies add the request's User-Agent and a
	// digest of its Cookie header to the key.
	VaryUserAgent bool
	VaryCookies   bool

	// KeyBuilder replaces the default key builder wholesale. It must be
	// pure: identical input, identical key.
	KeyBuilder cache.KeyBuilder

	// Dedup collapses concurrent fetches for the same key into one
	// origin call.
	Dedup bool

	// FetchTimeout bounds one origin fetch, including background
	// revalidations and fetches whose original caller went away.
	FetchTimeout time.Duration

	// BreakerEnabled guards backend I/O with a circuit breaker;
	// BreakerThreshold consecutive failures open it for BreakerTimeout.
	BreakerEnabled   bool
	BreakerThreshold uint32
	BreakerTimeout   time.Duration

	// OriginBreakerEnabled additionally guards the origin path with its
	// own breaker, so a failing origin fails fast instead of timing out
	// on every request.
	OriginBreakerEnabled bool

	// RevalidationWorkers and RevalidationQueue size the background
	// refresh pool. A full queue drops refreshes rather than blocking.
	RevalidationWorkers int
	RevalidationQueue   int

	// Recorder receives cache events for metrics export. Defaults to a
	// no-op.
	Recorder metrics.Recorder

	// Logger receives cache engine events. The zero value discards them.
	Logger zerolog.Logger
}

// DefaultConfig returns a working configuration on top of the given
// backend: five-minute TTL, no compression, caching on by default,
// deduplication and the backend breaker enabled.
func DefaultConfig(b backend.Backend) Config {
	return Config{
		Backend:             b,
		Namespace:           "default",
		CacheVersion:        "v1",
		TTL:                 5 * time.Minute,
		CacheableStatus:     cache.DefaultCacheableStatus(),
		MaxBytes:            10 << 20,
		Codec:               cache.CodecNone,
		CacheByDefault:      true,
		Dedup:               true,
		FetchTimeout:        30 * time.Second,
		BreakerEnabled:      true,
		BreakerThreshold:    5,
		BreakerTimeout:      30 * time.Second,
		RevalidationWorkers: 2,
		RevalidationQueue:   64,
	}
}

// Validate checks the configuration. Called by New; exposed so embedding
// applications can fail fast before wiring anything.
func (c *Config) Validate() error {
	if c.Backend == nil {
		return fmt.Errorf("invalid config: Backend is required")
	}
	if c.TTL <= 0 {
		return fmt.Errorf("invalid config: TTL must be positive, got %v", c.TTL)
	}
	if c.StaleWhileRevalidate < 0 {
		return fmt.Errorf("invalid config: StaleWhileRevalidate must be non-negative, got %v", c.StaleWhileRevalidate)
	}
	if c.MaxStale < 0 {
		return fmt.Errorf("invalid config: MaxStale must be non-negative, got %v", c.MaxStale)
	}
	if c.MaxStale > 0 && c.MaxStale < c.TTL+c.StaleWhileRevalidate {
		return fmt.Errorf("invalid config: MaxStale %v must cover TTL+StaleWhileRevalidate %v",
			c.MaxStale, c.TTL+c.StaleWhileRevalidate)
	}
	if c.MinTTL < 0 || c.MaxTTL < 0 {
		return fmt.Errorf("invalid config: MinTTL and MaxTTL must be non-negative")
	}
	if c.MinTTL > 0 && c.MaxTTL > 0 && c.MinTTL > c.MaxTTL {
		return fmt.Errorf("invalid config: MinTTL %v exceeds MaxTTL %v", c.MinTTL, c.MaxTTL)
	}
	if len(c.CacheableStatus) == 0 {
		return fmt.Errorf("invalid config: CacheableStatus must not be empty")
	}
	for _, code := range c.CacheableStatus {
		// Error responses must never be stored, whatever the caller asks.
		if code < 200 || code >= 400 {
			return fmt.Errorf("invalid config: cacheable status %d outside [200, 400)", code)
		}
	}
	if c.MaxBytes < 0 {
		return fmt.Errorf("invalid config: MaxBytes must be non-negative, got %d", c.MaxBytes)
	}
	if !c.Codec.Valid() {
		return fmt.Errorf("invalid config: unknown codec %q", string(c.Codec))
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("invalid config: FetchTimeout must be positive, got %v", c.FetchTimeout)
	}
	if c.BreakerEnabled || c.OriginBreakerEnabled {
		if c.BreakerThreshold == 0 {
			return fmt.Errorf("invalid config: BreakerThreshold must be positive")
		}
		if c.BreakerTimeout <= 0 {
			return fmt.Errorf("invalid config: BreakerTimeout must be positive, got %v", c.BreakerTimeout)
		}
	}
	if c.StaleWhileRevalidate > 0 {
		if c.RevalidationWorkers <= 0 {
			return fmt.Errorf("invalid config: RevalidationWorkers must be positive, got %d", c.RevalidationWorkers)
		}
		if c.RevalidationQueue <= 0 {
			return fmt.Errorf("invalid config: RevalidationQueue must be positive, got %d", c.RevalidationQueue)
		}
	}
	return nil
}
