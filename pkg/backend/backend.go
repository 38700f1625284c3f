// Package backend defines the storage capability interface consumed by
// the caching engine, and the invalidation message exchanged between
// instances sharing a durable store.
//
// Implementations live in subpackages: memory (volatile, in-process),
// redis (durable, shared, with pub/sub), leveldb (durable, single-node),
// and tiered (an L1/L2 composite of the others).
package backend

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key has no entry.
	ErrNotFound = errors.New("backend: key not found")

	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("backend: closed")
)

// Backend is a byte-oriented store. Values are opaque to the backend;
// the engine handles serialization and freshness on top.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the stored value, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores the value with a retention TTL. The backend may evict
	// the entry once the TTL elapses.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePattern removes keys matching a glob pattern and returns how
	// many were removed, or -1 when the backend cannot count them.
	DeletePattern(ctx context.Context, pattern string) (int, error)

	// Clear removes every entry owned by this backend.
	Clear(ctx context.Context) error

	// HealthCheck reports whether the backend can serve requests.
	HealthCheck(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// PubSub is the distributed messaging capability of shared backends,
// used to fan invalidation messages out to peer instances. Volatile and
// single-node backends do not implement it.
type PubSub interface {
	// Publish sends a payload on a channel, fire-and-forget.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe starts receiving payloads published on a channel.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription is a live pub/sub stream. Messages is closed after Close.
type Subscription interface {
	// Messages returns the stream of received payloads. The caller must
	// drain it until it is closed.
	Messages() <-chan []byte

	// Close terminates the subscription.
	Close() error
}
