// Package redis implements a durable shared backend on a Redis server.
// It also provides the pub/sub capability used for cross-instance
// invalidation, so it is the natural L2 of the tiered backend.
package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/crawlworks/fetchcache/pkg/backend"
)

// Keys longer than this are stored under a digest so that operational
// tooling (SCAN dumps, keyspace inspection) stays usable. Digested keys
// are reachable by exact key only, never by pattern.
const maxKeyLen = 512

const (
	scanCount = 200
	delBatch  = 100
)

// Config holds the connection settings for a Redis backend.
type Config struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// Password authenticates the connection. Empty means no auth.
	Password string

	// DB selects the logical Redis database.
	DB int

	// PoolSize caps the connection pool.
	PoolSize int

	// KeyPrefix namespaces every key this backend touches. Clear and
	// DeletePattern only ever scan inside the prefix.
	KeyPrefix string

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration

	// ReadTimeout and WriteTimeout bound individual commands.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Logger receives connection and scan events. The zero value
	// discards them.
	Logger zerolog.Logger
}

// DefaultConfig returns settings for a local Redis server.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		KeyPrefix:    "fc:",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("invalid config: Addr is required")
	}
	if c.DB < 0 {
		return fmt.Errorf("invalid config: DB must be non-negative, got %d", c.DB)
	}
	return nil
}

// Store is a Redis-backed byte store with pub/sub support.
type Store struct {
	rdb        *redis.Client
	prefix     string
	logger     zerolog.Logger
	ownsClient bool
	closed     atomic.Bool
}

var (
	_ backend.Backend = (*Store)(nil)
	_ backend.PubSub  = (*Store)(nil)
)

// New connects to Redis and verifies the connection with a ping.
func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	s := newWithClient(rdb, cfg)
	s.ownsClient = true
	return s, nil
}

// NewWithClient wraps an existing client, for callers that share a
// connection pool. Closing the store does not close the client.
func NewWithClient(client *redis.Client, cfg Config) *Store {
	return newWithClient(client, cfg)
}

func newWithClient(client *redis.Client, cfg Config) *Store {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "fc:"
	}
	return &Store{rdb: client, prefix: prefix, logger: cfg.Logger}
}

// storageKey maps a cache key to the Redis keyspace.
func (s *Store) storageKey(key string) string {
	if len(key) > maxKeyLen {
		sum := sha256.Sum256([]byte(key))
		return s.prefix + "sha256:" + hex.EncodeToString(sum[:])
	}
	return s.prefix + key
}

// Get returns the stored value, or backend.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if s.closed.Load() {
		return nil, backend.ErrClosed
	}
	value, err := s.rdb.Get(ctx, s.storageKey(key)).Bytes()
	if err == redis.Nil {
		return nil, backend.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return value, nil
}

// Set stores the value with the given retention TTL.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.closed.Load() {
		return backend.ErrClosed
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.rdb.Set(ctx, s.storageKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s.closed.Load() {
		return backend.ErrClosed
	}
	if err := s.rdb.Del(ctx, s.storageKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// DeletePattern removes every key under the prefix matching the glob
// pattern and returns how many were removed.
func (s *Store) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if s.closed.Load() {
		return 0, backend.ErrClosed
	}
	return s.scanDelete(ctx, s.prefix+pattern)
}

// Clear removes every key under the prefix. Keys outside the prefix are
// untouched.
func (s *Store) Clear(ctx context.Context) error {
	if s.closed.Load() {
		return backend.ErrClosed
	}
	n, err := s.scanDelete(ctx, s.prefix+"*")
	if err != nil {
		return err
	}
	s.logger.Debug().Int("deleted", n).Msg("redis backend cleared")
	return nil
}

func (s *Store) scanDelete(ctx context.Context, match string) (int, error) {
	deleted := 0
	batch := make([]string, 0, delBatch)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.rdb.Del(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		deleted += int(n)
		batch = batch[:0]
		return nil
	}

	iter := s.rdb.Scan(ctx, 0, match, scanCount).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= delBatch {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("redis scan: %w", err)
	}
	if err := flush(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// HealthCheck pings the server.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.closed.Load() {
		return backend.ErrClosed
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close shuts the store down. The underlying client is closed only when
// this store created it.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.ownsClient {
		return s.rdb.Close()
	}
	return nil
}

// Publish sends a payload on a pub/sub channel.
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	if s.closed.Load() {
		return backend.ErrClosed
	}
	if err := s.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe opens a pub/sub subscription. The returned subscription is
// confirmed by the server before this returns.
func (s *Store) Subscribe(ctx context.Context, channel string) (backend.Subscription, error) {
	if s.closed.Load() {
		return nil, backend.ErrClosed
	}

	ps := s.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	sub := &subscription{
		ps:   ps,
		msgs: make(chan []byte, 64),
		done: make(chan struct{}),
	}
	go sub.loop()
	return sub, nil
}

type subscription struct {
	ps        *redis.PubSub
	msgs      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscription) loop() {
	defer close(s.msgs)
	ch := s.ps.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case s.msgs <- []byte(msg.Payload):
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

// Messages returns the stream of received payloads.
func (s *subscription) Messages() <-chan []byte { return s.msgs }

// Close terminates the subscription and closes the message stream.
func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
