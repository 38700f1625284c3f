package client

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// WarmRequest names one resource to pre-load into the cache.
type WarmRequest struct {
	// Method defaults to GET.
	Method string
	URL    string
	Body   []byte
}

// WarmReport summarizes a warm-up run.
type WarmReport struct {
	Total     int
	Succeeded int

	// AlreadyCached counts requests answered from the cache without an
	// origin fetch.
	AlreadyCached int

	// Failed maps the URL of each failed request to its error.
	Failed map[string]error

	Duration time.Duration
}

// WarmCache pre-loads the given resources using a pool of concurrent
// workers. Requests already fresh in the cache are not refetched.
// Individual failures are collected in the report, not returned as an
// error; only a closed client fails the call itself.
func (c *Client) WarmCache(ctx context.Context, reqs []WarmRequest, concurrency int) (*WarmReport, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	report := &WarmReport{
		Total:  len(reqs),
		Failed: make(map[string]error),
	}
	if len(reqs) == 0 {
		return report, nil
	}

	if concurrency <= 0 {
		concurrency = 4
	}
	if concurrency > len(reqs) {
		concurrency = len(reqs)
	}

	start := time.Now()
	c.logger.Info().Int("requests", len(reqs)).Int("concurrency", concurrency).Msg("warming cache")

	type warmResult struct {
		url       string
		fromCache bool
		err       error
	}

	queue := make(chan WarmRequest, len(reqs))
	results := make(chan warmResult, len(reqs))
	for _, req := range reqs {
		queue <- req
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for req := range queue {
				select {
				case <-ctx.Done():
					results <- warmResult{url: req.URL, err: ctx.Err()}
					continue
				default:
				}

				method := req.Method
				if method == "" {
					method = http.MethodGet
				}
				resp, err := c.Do(ctx, method, req.URL, req.Body)
				if err != nil {
					results <- warmResult{url: req.URL, err: err}
					continue
				}
				results <- warmResult{url: req.URL, fromCache: resp.FromCache}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		if res.err != nil {
			report.Failed[res.url] = res.err
			continue
		}
		report.Succeeded++
		if res.fromCache {
			report.AlreadyCached++
		}
	}
	report.Duration = time.Since(start)

	c.logger.Info().
		Int("succeeded", report.Succeeded).
		Int("already_cached", report.AlreadyCached).
		Int("failed", len(report.Failed)).
		Dur("duration", report.Duration).
		Msg("cache warm complete")

	return report, nil
}
