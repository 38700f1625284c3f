// Package tiered composes a volatile L1 backend with a durable L2
// backend. Reads check L1 first and promote L2 hits; writes land in L2
// and are mirrored into L1 with a short TTL.
//
// When the L2 backend supports pub/sub, every write and invalidation is
// announced on a shared channel so peer instances can drop their L1
// copies. Messages carry the publisher's instance ID and are ignored by
// their own publisher.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/crawlworks/fetchcache/pkg/backend"
)

// DefaultChannel is the pub/sub channel invalidations travel on.
const DefaultChannel = "fetchcache:invalidate"

const applyTimeout = 5 * time.Second

// Config wires the two tiers together.
type Config struct {
	// L1 is the fast volatile tier, checked first on every read.
	L1 backend.Backend

	// L2 is the authoritative durable tier. When it implements
	// backend.PubSub, cross-instance invalidation is enabled.
	L2 backend.Backend

	// Channel is the pub/sub channel for invalidations. Defaults to
	// DefaultChannel.
	Channel string

	// L1TTL bounds how long an entry lives in L1. Entries carry their
	// own freshness metadata, so a short bound here only limits how
	// long a peer's write can go unnoticed when pub/sub is unavailable.
	// Defaults to one minute.
	L1TTL time.Duration

	// InstanceID identifies this instance in invalidation messages.
	// Defaults to a random UUID.
	InstanceID string

	// Logger receives promotion and invalidation events. The zero
	// value discards them.
	Logger zerolog.Logger
}

// Coordinator is a Backend that routes between the two tiers.
type Coordinator struct {
	l1      backend.Backend
	l2      backend.Backend
	pubsub  backend.PubSub
	sub     backend.Subscription
	channel string
	l1TTL   time.Duration
	id      string
	logger  zerolog.Logger
	closed  atomic.Bool
	wg      sync.WaitGroup
}

var _ backend.Backend = (*Coordinator)(nil)

// New builds the coordinator and, when L2 supports pub/sub, subscribes
// to the invalidation channel.
func New(cfg Config) (*Coordinator, error) {
	if cfg.L1 == nil {
		return nil, fmt.Errorf("invalid config: L1 backend is required")
	}
	if cfg.L2 == nil {
		return nil, fmt.Errorf("invalid config: L2 backend is required")
	}
	if cfg.L1TTL < 0 {
		return nil, fmt.Errorf("invalid config: L1TTL must be non-negative, got %v", cfg.L1TTL)
	}

	c := &Coordinator{
		l1:      cfg.L1,
		l2:      cfg.L2,
		channel: cfg.Channel,
		l1TTL:   cfg.L1TTL,
		id:      cfg.InstanceID,
		logger:  cfg.Logger,
	}
	if c.channel == "" {
		c.channel = DefaultChannel
	}
	if c.l1TTL == 0 {
		c.l1TTL = time.Minute
	}
	if c.id == "" {
		c.id = uuid.NewString()
	}

	if ps, ok := cfg.L2.(backend.PubSub); ok {
		sub, err := ps.Subscribe(context.Background(), c.channel)
		if err != nil {
			return nil, fmt.Errorf("subscribe to invalidation channel: %w", err)
		}
		c.pubsub = ps
		c.sub = sub
		c.wg.Add(1)
		go c.listen()
	}

	return c, nil
}

// InstanceID returns the identifier used in published invalidations.
func (c *Coordinator) InstanceID() string { return c.id }

// Get reads from L1 first and promotes an L2 hit into L1.
func (c *Coordinator) Get(ctx context.Context, key string) ([]byte, error) {
	if c.closed.Load() {
		return nil, backend.ErrClosed
	}

	value, err := c.l1.Get(ctx, key)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, backend.ErrNotFound) {
		c.logger.Warn().Err(err).Msg("l1 read failed, falling through to l2")
	}

	value, err = c.l2.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	if err := c.l1.Set(ctx, key, value, c.l1TTL); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("l1 promotion failed")
	}
	return value, nil
}

// Set writes to L2 and mirrors into L1, then announces the write so
// peers drop their stale L1 copies.
func (c *Coordinator) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.closed.Load() {
		return backend.ErrClosed
	}

	if err := c.l2.Set(ctx, key, value, ttl); err != nil {
		return err
	}

	l1TTL := c.l1TTL
	if ttl > 0 && ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.l1.Set(ctx, key, value, l1TTL); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("l1 mirror failed")
	}

	c.publish(ctx, backend.Message{Op: backend.OpDelete, Key: key})
	return nil
}

// Delete removes the key from both tiers and announces the removal.
func (c *Coordinator) Delete(ctx context.Context, key string) error {
	if c.closed.Load() {
		return backend.ErrClosed
	}

	errL2 := c.l2.Delete(ctx, key)
	errL1 := c.l1.Delete(ctx, key)
	c.publish(ctx, backend.Message{Op: backend.OpDelete, Key: key})

	if errL2 != nil {
		return errL2
	}
	return errL1
}

// DeletePattern removes matching keys from both tiers and announces the
// pattern. The count reflects the durable tier; the volatile tier may
// invalidate more coarsely.
func (c *Coordinator) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if c.closed.Load() {
		return 0, backend.ErrClosed
	}

	n, errL2 := c.l2.DeletePattern(ctx, pattern)
	_, errL1 := c.l1.DeletePattern(ctx, pattern)
	c.publish(ctx, backend.Message{Op: backend.OpPattern, Pattern: pattern})

	if errL2 != nil {
		return n, errL2
	}
	return n, errL1
}

// Clear empties both tiers and announces it.
func (c *Coordinator) Clear(ctx context.Context) error {
	if c.closed.Load() {
		return backend.ErrClosed
	}

	errL2 := c.l2.Clear(ctx)
	errL1 := c.l1.Clear(ctx)
	c.publish(ctx, backend.Message{Op: backend.OpClear})

	if errL2 != nil {
		return errL2
	}
	return errL1
}

// HealthCheck reports the first failing tier, the durable one first.
func (c *Coordinator) HealthCheck(ctx context.Context) error {
	if c.closed.Load() {
		return backend.ErrClosed
	}
	if err := c.l2.HealthCheck(ctx); err != nil {
		return fmt.Errorf("l2: %w", err)
	}
	if err := c.l1.HealthCheck(ctx); err != nil {
		return fmt.Errorf("l1: %w", err)
	}
	return nil
}

// Close stops the invalidation listener and closes both tiers.
func (c *Coordinator) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	if c.sub != nil {
		c.sub.Close()
	}
	c.wg.Wait()

	errL1 := c.l1.Close()
	errL2 := c.l2.Close()
	if errL2 != nil {
		return errL2
	}
	return errL1
}

func (c *Coordinator) publish(ctx context.Context, msg backend.Message) {
	if c.pubsub == nil {
		return
	}
	msg.Origin = c.id
	payload, err := msg.Encode()
	if err != nil {
		c.logger.Warn().Err(err).Msg("encode invalidation failed")
		return
	}
	if err := c.pubsub.Publish(ctx, c.channel, payload); err != nil {
		c.logger.Warn().Err(err).Str("op", string(msg.Op)).Msg("publish invalidation failed")
	}
}

// listen applies peer invalidations to L1 until the subscription closes.
func (c *Coordinator) listen() {
	defer c.wg.Done()

	for payload := range c.sub.Messages() {
		msg, err := backend.DecodeMessage(payload)
		if err != nil {
			c.logger.Warn().Err(err).Msg("dropping invalid invalidation message")
			continue
		}
		if msg.Origin == c.id {
			continue
		}
		c.apply(msg)
	}
}

func (c *Coordinator) apply(msg backend.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
	defer cancel()

	var err error
	switch msg.Op {
	case backend.OpDelete:
		err = c.l1.Delete(ctx, msg.Key)
	case backend.OpPattern:
		_, err = c.l1.DeletePattern(ctx, msg.Pattern)
	case backend.OpClear:
		err = c.l1.Clear(ctx)
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("op", string(msg.Op)).Str("origin", msg.Origin).Msg("apply peer invalidation failed")
		return
	}
	c.logger.Debug().Str("op", string(msg.Op)).Str("origin", msg.Origin).Msg("applied peer invalidation")
}
