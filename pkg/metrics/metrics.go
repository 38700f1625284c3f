// Package metrics defines the Recorder interface the caching engine
// reports through, plus a Prometheus implementation.
//
// Metrics are per-instance: each recorder registers its collectors on
// the registerer it is given instead of the process-wide default, so
// two clients in one process never fight over collector names. Give
// each client its own registry, or distinct namespaces on a shared one.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder receives cache events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// Request is called once per request entering the engine.
	Request()

	// Hit is called when a cached response is served. stale reports
	// whether the entry was past its TTL; bytes is the body size.
	Hit(stale bool, bytes int)

	// Miss is called when no servable entry exists.
	Miss()

	// Error is called with a short kind: "origin", "backend", "decode".
	Error(kind string)

	// Write is called after a response is stored; bytes is the stored
	// payload size.
	Write(bytes int)

	// Latency reports the duration of an operation: "get", "fetch",
	// "store".
	Latency(op string, d time.Duration)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Request()                      {}
func (Nop) Hit(bool, int)                 {}
func (Nop) Miss()                         {}
func (Nop) Error(string)                  {}
func (Nop) Write(int)                     {}
func (Nop) Latency(string, time.Duration) {}

// PromRecorder exports cache events as Prometheus metrics.
type PromRecorder struct {
	requests     prometheus.Counter
	hits         *prometheus.CounterVec
	misses       prometheus.Counter
	errors       *prometheus.CounterVec
	writes       prometheus.Counter
	bytesServed  prometheus.Counter
	bytesWritten prometheus.Counter
	duration     *prometheus.HistogramVec
}

var _ Recorder = (*PromRecorder)(nil)

// NewPromRecorder registers the cache collectors on reg. The namespace
// becomes a constant label so several recorders can share a registry.
func NewPromRecorder(reg prometheus.Registerer, namespace string) *PromRecorder {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"namespace": namespace}

	return &PromRecorder{
		requests: factory.NewCounter(prometheus.CounterOpts{
			Name:        "fetchcache_requests_total",
			Help:        "Total number of requests entering the cache engine",
			ConstLabels: labels,
		}),
		hits: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "fetchcache_hits_total",
			Help:        "Total number of responses served from cache",
			ConstLabels: labels,
		},
			[]string{"state"}, // "fresh", "stale"
		),
		misses: factory.NewCounter(prometheus.CounterOpts{
			Name:        "fetchcache_misses_total",
			Help:        "Total number of requests with no servable cache entry",
			ConstLabels: labels,
		}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "fetchcache_errors_total",
			Help:        "Total number of cache engine errors",
			ConstLabels: labels,
		},
			[]string{"type"}, // "origin", "backend", "decode"
		),
		writes: factory.NewCounter(prometheus.CounterOpts{
			Name:        "fetchcache_writes_total",
			Help:        "Total number of responses stored in the cache",
			ConstLabels: labels,
		}),
		bytesServed: factory.NewCounter(prometheus.CounterOpts{
			Name:        "fetchcache_bytes_served_total",
			Help:        "Total response bytes served from cache",
			ConstLabels: labels,
		}),
		bytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name:        "fetchcache_bytes_written_total",
			Help:        "Total response bytes written to the cache",
			ConstLabels: labels,
		}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "fetchcache_operation_duration_seconds",
			Help:        "Duration of cache engine operations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		},
			[]string{"operation"}, // "get", "fetch", "store"
		),
	}
}

func (r *PromRecorder) Request() {
	r.requests.Inc()
}

func (r *PromRecorder) Hit(stale bool, bytes int) {
	state := "fresh"
	if stale {
		state = "stale"
	}
	r.hits.WithLabelValues(state).Inc()
	r.bytesServed.Add(float64(bytes))
}

func (r *PromRecorder) Miss() {
	r.misses.Inc()
}

func (r *PromRecorder) Error(kind string) {
	r.errors.WithLabelValues(kind).Inc()
}

func (r *PromRecorder) Write(bytes int) {
	r.writes.Inc()
	r.bytesWritten.Add(float64(bytes))
}

func (r *PromRecorder) Latency(op string, d time.Duration) {
	r.duration.WithLabelValues(op).Observe(d.Seconds())
}
