// Package dedup collapses concurrent fetches for the same cache key into
// a single in-flight call.
//
// The wrapper around x/sync/singleflight adds two things the cache engine
// needs: waiting is context-aware, so a caller can stop waiting when its
// request is cancelled while the underlying fetch keeps running for the
// remaining callers, and the number of in-flight fetches is observable.
//
// The in-flight record for a key is removed the moment its result is
// delivered. A miss arriving after completion always starts a new fetch;
// it can never attach to a finished one.
package dedup

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Group deduplicates concurrent calls by key.
// The zero value is ready to use.
type Group struct {
	sf       singleflight.Group
	inFlight atomic.Int64
}

// Do executes fn for key, collapsing concurrent calls: while a call for
// key is in flight, other callers attach to its result instead of running
// fn again. The shared return reports whether the result was delivered to
// more than one caller.
//
// If ctx ends before the result is ready the caller gets ctx's error and
// detaches; the fetch itself is not cancelled and still completes for any
// remaining callers and for the deduplication bookkeeping.
func (g *Group) Do(ctx context.Context, key string, fn func() (any, error)) (any, bool, error) {
	ch := g.sf.DoChan(key, func() (any, error) {
		g.inFlight.Add(1)
		defer g.inFlight.Add(-1)
		return fn()
	})

	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Forget drops the in-flight record for key, so the next Do starts a new
// fetch even if one is still running.
func (g *Group) Forget(key string) {
	g.sf.Forget(key)
}

// InFlight returns the number of fetches currently executing.
func (g *Group) InFlight() int64 {
	return g.inFlight.Load()
}
