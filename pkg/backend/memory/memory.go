// Package memory implements a volatile in-process backend on top of a
// ristretto cache. It is the default backend and the L1 tier of the
// tiered backend.
package memory

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/rs/zerolog"

	"github.com/crawlworks/fetchcache/pkg/backend"
)

// Config controls the sizing of the in-process cache.
type Config struct {
	// MaxBytes caps the total cost of stored values.
	MaxBytes int64

	// MaxEntries is the expected upper bound on live keys. It sizes the
	// admission policy's frequency counters.
	MaxEntries int64

	// Logger receives debug events for dropped writes. The zero value
	// discards them.
	Logger zerolog.Logger
}

// DefaultConfig returns a config sized for a mid-size working set.
func DefaultConfig() Config {
	return Config{
		MaxBytes:   64 << 20,
		MaxEntries: 100_000,
	}
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if c.MaxBytes <= 0 {
		return fmt.Errorf("invalid config: MaxBytes must be positive, got %d", c.MaxBytes)
	}
	if c.MaxEntries <= 0 {
		return fmt.Errorf("invalid config: MaxEntries must be positive, got %d", c.MaxEntries)
	}
	return nil
}

// Store is a volatile byte cache. Entries may be dropped at any time by
// the admission policy; callers must treat it as best-effort storage.
type Store struct {
	cache  *ristretto.Cache[string, []byte]
	logger zerolog.Logger
	closed atomic.Bool
}

var _ backend.Backend = (*Store)(nil)

// New creates an in-process backend.
func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}

	return &Store{cache: cache, logger: cfg.Logger}, nil
}

// Get returns the stored value, or backend.ErrNotFound.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	if s.closed.Load() {
		return nil, backend.ErrClosed
	}
	value, ok := s.cache.Get(key)
	if !ok {
		return nil, backend.ErrNotFound
	}
	return value, nil
}

// Set stores the value. Writes are applied synchronously so a Set is
// visible to an immediately following Get. A rejection by the admission
// policy is not an error.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if s.closed.Load() {
		return backend.ErrClosed
	}
	if ttl < 0 {
		ttl = 0
	}
	if !s.cache.SetWithTTL(key, value, int64(len(value)), ttl) {
		s.logger.Debug().Str("key", key).Int("size", len(value)).Msg("memory backend dropped write")
		return nil
	}
	s.cache.Wait()
	return nil
}

// Delete removes a key. The removal is visible to a following Get.
func (s *Store) Delete(_ context.Context, key string) error {
	if s.closed.Load() {
		return backend.ErrClosed
	}
	s.cache.Del(key)
	s.cache.Wait()
	return nil
}

// DeletePattern drops every entry. ristretto has no key iteration, so
// the whole tier is cleared rather than risking a matching entry
// surviving its invalidation. The count is reported as unknown.
func (s *Store) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if s.closed.Load() {
		return 0, backend.ErrClosed
	}
	if err := s.Clear(ctx); err != nil {
		return 0, err
	}
	s.logger.Debug().Str("pattern", pattern).Msg("memory backend cleared for pattern invalidation")
	return -1, nil
}

// Clear removes every entry.
func (s *Store) Clear(_ context.Context) error {
	if s.closed.Load() {
		return backend.ErrClosed
	}
	s.cache.Clear()
	return nil
}

// HealthCheck reports whether the store accepts requests.
func (s *Store) HealthCheck(_ context.Context) error {
	if s.closed.Load() {
		return backend.ErrClosed
	}
	return nil
}

// Close releases the cache. Further operations return backend.ErrClosed.
func (s *Store) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.cache.Close()
	}
	return nil
}
