// Package leveldb implements a durable single-node backend on a local
// LevelDB database. It suits daemons that want a cache surviving
// restarts without running a Redis server.
//
// LevelDB has no native TTL, so every stored value carries its expiry
// in an 8-byte prefix. Expired entries are dropped lazily on read and,
// when a sweep interval is configured, by a background sweeper.
package leveldb

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/crawlworks/fetchcache/pkg/backend"
)

// entryPrefix namespaces cache entries inside the database so future
// bookkeeping records can live alongside them.
const entryPrefix = "e:"

const delBatch = 1000

// Config holds the settings for a LevelDB backend.
type Config struct {
	// Path is the directory holding the database files. It is created
	// if missing.
	Path string

	// SweepInterval is how often the background sweeper scans for
	// expired entries. Zero disables the sweeper; expired entries are
	// then dropped only when read.
	SweepInterval time.Duration

	// Logger receives sweep events. The zero value discards them.
	Logger zerolog.Logger
}

// DefaultConfig returns settings with a five-minute sweep interval.
func DefaultConfig(path string) Config {
	return Config{Path: path, SweepInterval: 5 * time.Minute}
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("invalid config: Path is required")
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("invalid config: SweepInterval must be non-negative, got %v", c.SweepInterval)
	}
	return nil
}

// Store is a LevelDB-backed byte store.
type Store struct {
	db     *leveldb.DB
	logger zerolog.Logger
	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

var _ backend.Backend = (*Store)(nil)

// New opens the database at cfg.Path and starts the sweeper when
// configured.
func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := leveldb.OpenFile(cfg.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", cfg.Path, err)
	}

	s := &Store{
		db:     db,
		logger: cfg.Logger,
		done:   make(chan struct{}),
	}
	if cfg.SweepInterval > 0 {
		s.wg.Add(1)
		go s.sweep(cfg.SweepInterval)
	}
	return s, nil
}

// encodeValue prepends the expiry as big-endian UnixNano. A zero time
// encodes as zero, meaning no expiry.
func encodeValue(value []byte, expiresAt time.Time) []byte {
	buf := make([]byte, 8+len(value))
	if !expiresAt.IsZero() {
		binary.BigEndian.PutUint64(buf[:8], uint64(expiresAt.UnixNano()))
	}
	copy(buf[8:], value)
	return buf
}

func decodeValue(raw []byte) (value []byte, expiresAt time.Time, err error) {
	if len(raw) < 8 {
		return nil, time.Time{}, fmt.Errorf("leveldb value too short: %d bytes", len(raw))
	}
	nanos := binary.BigEndian.Uint64(raw[:8])
	if nanos != 0 {
		expiresAt = time.Unix(0, int64(nanos))
	}
	return raw[8:], expiresAt, nil
}

func expired(expiresAt time.Time, now time.Time) bool {
	return !expiresAt.IsZero() && now.After(expiresAt)
}

// Get returns the stored value, or backend.ErrNotFound. An expired
// entry is removed and reported as missing.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	if s.closed.Load() {
		return nil, backend.ErrClosed
	}

	dbKey := []byte(entryPrefix + key)
	raw, err := s.db.Get(dbKey, nil)
	if err == leveldb.ErrNotFound {
		return nil, backend.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("leveldb get: %w", err)
	}

	value, expiresAt, err := decodeValue(raw)
	if err != nil {
		s.db.Delete(dbKey, nil)
		return nil, backend.ErrNotFound
	}
	if expired(expiresAt, time.Now()) {
		s.db.Delete(dbKey, nil)
		return nil, backend.ErrNotFound
	}
	return value, nil
}

// Set stores the value with the given retention TTL. A non-positive TTL
// stores the value without expiry.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if s.closed.Load() {
		return backend.ErrClosed
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	if err := s.db.Put([]byte(entryPrefix+key), encodeValue(value, expiresAt), nil); err != nil {
		return fmt.Errorf("leveldb put: %w", err)
	}
	return nil
}

// Delete removes a key.
func (s *Store) Delete(_ context.Context, key string) error {
	if s.closed.Load() {
		return backend.ErrClosed
	}
	if err := s.db.Delete([]byte(entryPrefix+key), nil); err != nil {
		return fmt.Errorf("leveldb delete: %w", err)
	}
	return nil
}

// DeletePattern removes entries whose key matches the glob pattern and
// returns how many were removed.
func (s *Store) DeletePattern(_ context.Context, pattern string) (int, error) {
	if s.closed.Load() {
		return 0, backend.ErrClosed
	}

	g, err := glob.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	return s.deleteMatching(func(key string, _ []byte) bool { return g.Match(key) })
}

// Clear removes every entry.
func (s *Store) Clear(_ context.Context) error {
	if s.closed.Load() {
		return backend.ErrClosed
	}
	_, err := s.deleteMatching(func(string, []byte) bool { return true })
	return err
}

// deleteMatching removes every entry the predicate selects, batching
// the deletes. The predicate sees the key without its prefix and the
// raw stored value.
func (s *Store) deleteMatching(match func(key string, raw []byte) bool) (int, error) {
	deleted := 0
	batch := new(leveldb.Batch)

	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		if err := s.db.Write(batch, nil); err != nil {
			return fmt.Errorf("leveldb write: %w", err)
		}
		deleted += batch.Len()
		batch.Reset()
		return nil
	}

	it := s.db.NewIterator(util.BytesPrefix([]byte(entryPrefix)), nil)
	for it.Next() {
		key := strings.TrimPrefix(string(it.Key()), entryPrefix)
		if !match(key, it.Value()) {
			continue
		}
		batch.Delete(it.Key())
		if batch.Len() >= delBatch {
			if err := flush(); err != nil {
				it.Release()
				return deleted, err
			}
		}
	}
	err := it.Error()
	it.Release()
	if err != nil {
		return deleted, fmt.Errorf("leveldb iterate: %w", err)
	}
	if err := flush(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// HealthCheck reports whether the database is open.
func (s *Store) HealthCheck(_ context.Context) error {
	if s.closed.Load() {
		return backend.ErrClosed
	}
	return nil
}

// Close stops the sweeper and closes the database.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)
	s.wg.Wait()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close leveldb: %w", err)
	}
	return nil
}

func (s *Store) sweep(every time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			n, err := s.dropExpired()
			if err != nil {
				s.logger.Warn().Err(err).Msg("leveldb sweep failed")
				continue
			}
			if n > 0 {
				s.logger.Debug().Int("expired", n).Msg("leveldb sweep removed entries")
			}
		}
	}
}

// dropExpired removes entries past their expiry, and any value too
// mangled to carry one.
func (s *Store) dropExpired() (int, error) {
	now := time.Now()
	return s.deleteMatching(func(_ string, raw []byte) bool {
		_, expiresAt, err := decodeValue(raw)
		return err != nil || expired(expiresAt, now)
	})
}
