// Package client implements the cache orchestration engine: the
// get-or-fetch state machine over a storage backend, with single-flight
// deduplication, stale-while-revalidate, serve-stale-on-error and
// circuit breakers on the backend and origin paths.
//
// Cache failures are invisible to callers. A broken backend degrades to
// "fetch from origin"; only an unreachable origin with no usable stale
// entry surfaces as an error.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/crawlworks/fetchcache/pkg/backend"
	"github.com/crawlworks/fetchcache/pkg/breaker"
	"github.com/crawlworks/fetchcache/pkg/cache"
	"github.com/crawlworks/fetchcache/pkg/dedup"
	"github.com/crawlworks/fetchcache/pkg/metrics"
	"github.com/crawlworks/fetchcache/pkg/stats"
	"github.com/crawlworks/fetchcache/pkg/urlmatch"
)

// Client is the caching HTTP client. It owns its backend: Close closes
// the backend too. Safe for concurrent use.
type Client struct {
	cfg     Config
	http    Doer
	backend backend.Backend
	rules   *urlmatch.Rules
	policy  cache.Policy
	ttl     cache.TTLPolicy
	keyFn   cache.KeyBuilder

	group     dedup.Group
	backendCB *breaker.Breaker
	originCB  *breaker.Breaker
	reval     *revalidator

	stats  *stats.Stats
	rec    metrics.Recorder
	logger zerolog.Logger

	// now is replaced in tests to drive entry lifecycle without sleeping.
	now func() time.Time

	closed atomic.Bool
}

// New validates the configuration and builds a client. Configuration
// problems are construction errors, never deferred to request time.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rules, err := urlmatch.New(cfg.CachePatterns, cfg.ExcludePatterns, cfg.CacheByDefault)
	if err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.FetchTimeout}
	}
	keyFn := cfg.KeyBuilder
	if keyFn == nil {
		keyFn = cache.BuildKey
	}
	rec := cfg.Recorder
	if rec == nil {
		rec = metrics.Nop{}
	}

	var backendCB, originCB *breaker.Breaker
	if cfg.BreakerEnabled {
		backendCB, err = breaker.New(breaker.Config{
			Name:      "backend",
			Threshold: cfg.BreakerThreshold,
			Timeout:   cfg.BreakerTimeout,
			Logger:    cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
	}
	if cfg.OriginBreakerEnabled {
		originCB, err = breaker.New(breaker.Config{
			Name:      "origin",
			Threshold: cfg.BreakerThreshold,
			Timeout:   cfg.BreakerTimeout,
			Logger:    cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
	}

	c := &Client{
		cfg:     cfg,
		http:    httpClient,
		backend: cfg.Backend,
		rules:   rules,
		policy: cache.Policy{
			CacheableStatus: cache.StatusSet(cfg.CacheableStatus),
			MaxBytes:        cfg.MaxBytes,
			RespectPrivate:  cfg.RespectPrivate,
		},
		ttl: cache.TTLPolicy{
			Default:        cfg.TTL,
			Min:            cfg.MinTTL,
			Max:            cfg.MaxTTL,
			RespectHeaders: cfg.RespectCacheHeaders,
		},
		keyFn:     keyFn,
		backendCB: backendCB,
		originCB:  originCB,
		stats:     stats.New(),
		rec:       rec,
		logger:    cfg.Logger,
		now:       time.Now,
	}

	if cfg.RevalidationWorkers > 0 && cfg.RevalidationQueue > 0 {
		c.reval = newRevalidator(c, cfg.RevalidationWorkers, cfg.RevalidationQueue)
	}

	return c, nil
}

// Do performs a request through the cache. A fresh entry is served
// without origin contact; a stale-revalidatable one is served immediately
// with a background refresh; anything else fetches from the origin,
// falling back to a stale entry when the fetch fails and serve-stale-on-
// error covers it.
//
// Non-2xx origin responses are returned as responses, not errors. Only
// transport failures (and open origin circuits) with no usable stale
// entry return an error.
func (c *Client) Do(ctx context.Context, method, url string, body []byte, opts ...Option) (*Response, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c.stats.RecordRequest()
	c.rec.Request()

	eligible := c.rules.Allow(url)
	key := c.buildKey(method, url, body, &o)

	// fallback holds an entry only servable if the fetch fails.
	var fallback *cache.Entry

	if eligible && o.CacheRead && !o.ForceRefresh {
		if entry := c.lookup(ctx, key); entry != nil {
			switch state := entry.Classify(c.now()); state {
			case cache.StateFresh:
				c.stats.RecordHit(int64(len(entry.Body)))
				c.rec.Hit(false, len(entry.Body))
				c.logger.Debug().Str("key", key).Str("state", state.String()).Msg("cache hit")
				return responseFromEntry(key, entry, false), nil

			case cache.StateStaleRevalidatable:
				if c.reval != nil {
					c.reval.schedule(revalJob{
						key:    key,
						method: method,
						url:    url,
						body:   body,
						header: o.Header,
					})
					c.stats.RecordHit(int64(len(entry.Body)))
					c.rec.Hit(true, len(entry.Body))
					c.logger.Debug().Str("key", key).Str("state", state.String()).Msg("serving stale, revalidating in background")
					return responseFromEntry(key, entry, true), nil
				}
				// No revalidation pool: refresh in the foreground, keep
				// the entry as an error fallback.
				fallback = entry
				c.stats.RecordMiss()
				c.rec.Miss()

			case cache.StateStaleErrorFallback:
				fallback = entry
				c.stats.RecordMiss()
				c.rec.Miss()

			case cache.StateExpired:
				c.stats.RecordMiss()
				c.rec.Miss()
			}
		} else {
			c.stats.RecordMiss()
			c.rec.Miss()
		}
	}

	resp, err := c.fetch(ctx, key, method, url, body, o, eligible)

	failed := err != nil || (resp != nil && classifyStatus(resp.StatusCode) == ErrorClassServer)
	if failed && fallback != nil {
		c.stats.RecordHit(int64(len(fallback.Body)))
		c.rec.Hit(true, len(fallback.Body))
		c.logger.Warn().Str("key", key).Err(err).Msg("origin fetch failed, serving stale fallback")
		return responseFromEntry(key, fallback, true), nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// buildKey assembles the key input for a request.
func (c *Client) buildKey(method, url string, body []byte, o *Options) string {
	ua := o.Header.Get("User-Agent")
	if ua == "" {
		ua = c.cfg.UserAgent
	}
	return c.keyFn(cache.KeyInput{
		Method:        method,
		URL:           url,
		Body:          body,
		UserAgent:     ua,
		Cookie:        o.Header.Get("Cookie"),
		Namespace:     c.cfg.Namespace,
		Version:       c.cfg.CacheVersion,
		VaryUserAgent: c.cfg.VaryUserAgent,
		VaryCookies:   c.cfg.VaryCookies,
	})
}

// lookup reads and decodes the entry for key. Every failure mode degrades
// to a miss: absent key, open circuit, backend error, corrupt payload.
// Corrupt entries are additionally deleted so they stop costing a decode
// on every request.
func (c *Client) lookup(ctx context.Context, key string) *cache.Entry {
	start := time.Now()
	payload, err := c.backendGet(ctx, key)
	c.rec.Latency("get", time.Since(start))

	if err != nil {
		switch {
		case errors.Is(err, backend.ErrNotFound):
		case errors.Is(err, breaker.ErrOpen):
			c.stats.RecordError()
			c.rec.Error("circuit")
			c.logger.Debug().Str("key", key).Msg("backend circuit open, treating as miss")
		default:
			c.stats.RecordError()
			c.rec.Error("backend")
			c.logger.Warn().Err(err).Str("key", key).Msg("backend read failed, treating as miss")
		}
		return nil
	}

	entry, err := cache.Decode(payload)
	if err != nil {
		c.stats.RecordError()
		c.rec.Error("decode")
		c.logger.Warn().Err(err).Str("key", key).Msg("discarding corrupt cache entry")
		if delErr := c.backendDelete(ctx, key); delErr != nil {
			c.logger.Debug().Err(delErr).Str("key", key).Msg("corrupt entry delete failed")
		}
		return nil
	}
	return entry
}

// fetch runs the origin call, deduplicated with any concurrent fetch for
// the same key. Forced refreshes bypass deduplication so they cannot
// attach to an older in-flight fetch.
func (c *Client) fetch(ctx context.Context, key, method, url string, body []byte, o Options, eligible bool) (*Response, error) {
	if !c.cfg.Dedup || !eligible || o.ForceRefresh {
		return c.fetchOrigin(ctx, key, method, url, body, o, eligible)
	}

	v, shared, err := c.group.Do(ctx, key, func() (any, error) {
		return c.fetchOrigin(ctx, key, method, url, body, o, eligible)
	})
	if err != nil {
		return nil, err
	}
	resp := v.(*Response)
	if shared {
		c.logger.Debug().Str("key", key).Msg("joined in-flight fetch")
	}
	return resp, nil
}

// fetchOrigin calls the origin and stores a cacheable response. The fetch
// runs detached from the caller's cancellation, bounded only by
// FetchTimeout, because deduplicated waiters may depend on its result
// after the original caller gives up.
func (c *Client) fetchOrigin(ctx context.Context, key, method, url string, body []byte, o Options, eligible bool) (*Response, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.FetchTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.originCall(fctx, method, url, body, o.Header)
	c.rec.Latency("fetch", time.Since(start))
	if err != nil {
		c.rec.Error("origin")
		return nil, err
	}

	if eligible && o.CacheWrite {
		c.store(fctx, key, resp)
	}
	resp.Key = key
	return resp, nil
}

// originCall performs one HTTP round-trip and reads the full body. When
// the origin breaker is enabled, 5xx responses count as failures toward
// opening it but are still returned to the caller.
func (c *Client) originCall(ctx context.Context, method, url string, body []byte, header http.Header) (*Response, error) {
	if c.originCB == nil {
		return c.roundTrip(ctx, method, url, body, header)
	}

	v, err := c.originCB.Execute(func() (any, error) {
		resp, err := c.roundTrip(ctx, method, url, body, header)
		if err != nil {
			return nil, err
		}
		if classifyStatus(resp.StatusCode) == ErrorClassServer {
			return resp, &RequestError{
				StatusCode: resp.StatusCode,
				Class:      ErrorClassServer,
				Message:    http.StatusText(resp.StatusCode),
			}
		}
		return resp, nil
	})

	resp, _ := v.(*Response)
	if err != nil {
		// A 5xx tripped the failure count but is still the origin's
		// answer; hand it to the caller as a response.
		var re *RequestError
		if resp != nil && errors.As(err, &re) && re.Class == ErrorClassServer {
			return resp, nil
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, method, url string, body []byte, header http.Header) (*Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, reader)
	if err != nil {
		return nil, fmt.Errorf("build origin request: %w", err)
	}
	for name, values := range header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if req.Header.Get("User-Agent") == "" && c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, &RequestError{Class: ErrorClassNetwork, Message: "origin fetch failed", Err: err}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &RequestError{
			StatusCode: httpResp.StatusCode,
			Class:      ErrorClassNetwork,
			Message:    "read origin body",
			Err:        err,
		}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header.Clone(),
		Body:       data,
	}, nil
}

// store encodes and writes a response if the cacheability policy admits
// it. Write failures are logged and counted, never surfaced: serving the
// response does not depend on storing it.
func (c *Client) store(ctx context.Context, key string, resp *Response) {
	if err := c.policy.Cacheable(resp.StatusCode, resp.Header, len(resp.Body)); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("response not stored")
		return
	}

	now := c.now()
	entry := &cache.Entry{
		StatusCode:           resp.StatusCode,
		Header:               resp.Header,
		Body:                 resp.Body,
		StoredAt:             now,
		TTL:                  c.ttl.Resolve(resp.Header, now),
		StaleWhileRevalidate: c.cfg.StaleWhileRevalidate,
		MaxStale:             c.cfg.MaxStale,
		Codec:                c.cfg.Codec,
		RawSize:              len(resp.Body),
	}
	if entry.TTL <= 0 {
		c.logger.Debug().Str("key", key).Msg("resolved TTL not positive, not stored")
		return
	}

	payload, err := cache.Encode(entry)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("entry encode failed")
		return
	}

	start := time.Now()
	err = c.backendSet(ctx, key, payload, entry.RetentionTTL())
	c.rec.Latency("store", time.Since(start))
	if err != nil {
		c.stats.RecordError()
		if errors.Is(err, breaker.ErrOpen) {
			c.rec.Error("circuit")
		} else {
			c.rec.Error("backend")
		}
		c.logger.Warn().Err(err).Str("key", key).Msg("backend write failed")
		return
	}

	c.stats.RecordWrite(int64(len(payload)))
	c.rec.Write(len(payload))
	c.logger.Debug().Str("key", key).Dur("ttl", entry.TTL).Int("bytes", len(payload)).Msg("response stored")
}

// backendGet reads through the backend breaker. An absent key does not
// count as a breaker failure.
func (c *Client) backendGet(ctx context.Context, key string) ([]byte, error) {
	if c.backendCB == nil {
		return c.backend.Get(ctx, key)
	}
	var out []byte
	var notFound bool
	err := c.backendCB.Do(func() error {
		value, err := c.backend.Get(ctx, key)
		if errors.Is(err, backend.ErrNotFound) {
			notFound = true
			return nil
		}
		out = value
		return err
	})
	if err != nil {
		return nil, err
	}
	if notFound {
		return nil, backend.ErrNotFound
	}
	return out, nil
}

func (c *Client) backendSet(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.backendCB == nil {
		return c.backend.Set(ctx, key, value, ttl)
	}
	return c.backendCB.Do(func() error {
		return c.backend.Set(ctx, key, value, ttl)
	})
}

func (c *Client) backendDelete(ctx context.Context, key string) error {
	if c.backendCB == nil {
		return c.backend.Delete(ctx, key)
	}
	return c.backendCB.Do(func() error {
		return c.backend.Delete(ctx, key)
	})
}

// Close stops the revalidation pool and closes the backend. Safe to call
// more than once.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.reval != nil {
		c.reval.stop()
	}
	return c.backend.Close()
}
