package client

import (
	"context"
	"net/http"
	"sync"
)

// revalJob is one scheduled background refresh.
type revalJob struct {
	key    string
	method string
	url    string
	body   []byte
	header http.Header
}

// revalidator runs background refreshes for stale-while-revalidate on a
// bounded worker pool. The pending set allows at most one queued or
// running refresh per key; together with the shared dedup group this
// caps background work per key at one fetch, however sustained the
// staleness.
type revalidator struct {
	client *Client
	jobs   chan revalJob

	mu      sync.Mutex
	pending map[string]struct{}
	stopped bool

	wg sync.WaitGroup
}

func newRevalidator(c *Client, workers, queue int) *revalidator {
	r := &revalidator{
		client:  c,
		jobs:    make(chan revalJob, queue),
		pending: make(map[string]struct{}),
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// schedule enqueues a refresh for the job's key. Returns false when the
// key is already pending, the queue is full, or the pool is stopped; a
// full queue drops the refresh rather than blocking the serving request.
func (r *revalidator) schedule(job revalJob) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return false
	}
	if _, exists := r.pending[job.key]; exists {
		return false
	}

	select {
	case r.jobs <- job:
		r.pending[job.key] = struct{}{}
		return true
	default:
		r.client.logger.Debug().Str("key", job.key).Msg("revalidation queue full, dropping refresh")
		return false
	}
}

func (r *revalidator) worker() {
	defer r.wg.Done()
	for job := range r.jobs {
		r.run(job)
		r.mu.Lock()
		delete(r.pending, job.key)
		r.mu.Unlock()
	}
}

// run refreshes one key. The refresh goes through the same fetch path as
// foreground requests, so it collapses with any concurrent foreground
// fetch for the key, and its outcome only matters to future callers.
func (r *revalidator) run(job revalJob) {
	o := defaultOptions()
	o.Header = job.header

	_, err := r.client.fetch(context.Background(), job.key, job.method, job.url, job.body, o, true)
	if err != nil {
		r.client.logger.Debug().Err(err).Str("key", job.key).Msg("background revalidation failed")
		return
	}
	r.client.logger.Debug().Str("key", job.key).Msg("background revalidation complete")
}

// stop closes the queue and waits for in-progress refreshes.
func (r *revalidator) stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.jobs)
	r.mu.Unlock()

	r.wg.Wait()
}
