// Package stats provides the per-instance statistics collector for the
// caching engine. Counters are atomic; readers never block writers.
//
// Every orchestrator owns its own *Stats. Nothing in this package is
// process-global, so multiple cache instances in one process never share
// or collide on counters.
package stats

import (
	"sync/atomic"
	"time"
)

// Stats accumulates monotonic counters for one cache instance.
type Stats struct {
	requests atomic.Int64
	hits     atomic.Int64
	misses   atomic.Int64
	errors   atomic.Int64
	writes   atomic.Int64

	bytesSaved   atomic.Int64
	bytesWritten atomic.Int64

	startNano atomic.Int64
}

// New returns a zeroed collector with the uptime clock started.
func New() *Stats {
	s := &Stats{}
	s.startNano.Store(time.Now().UnixNano())
	return s
}

// RecordRequest counts one caller-facing request, cached or not.
func (s *Stats) RecordRequest() {
	s.requests.Add(1)
}

// RecordHit counts one served cache entry and the origin bytes it saved.
func (s *Stats) RecordHit(bytes int64) {
	s.hits.Add(1)
	s.bytesSaved.Add(bytes)
}

// RecordMiss counts one cache read that found no servable entry.
func (s *Stats) RecordMiss() {
	s.misses.Add(1)
}

// RecordError counts one cache-path failure (backend, decode, circuit).
func (s *Stats) RecordError() {
	s.errors.Add(1)
}

// RecordWrite counts one stored entry and its encoded size.
func (s *Stats) RecordWrite(bytes int64) {
	s.writes.Add(1)
	s.bytesWritten.Add(bytes)
}

// Snapshot is a consistent-enough point-in-time copy of the counters.
// Individual counters are read atomically; the set is not taken under a
// global lock, which is fine for monitoring purposes.
type Snapshot struct {
	Requests     int64     `json:"requests"`
	Hits         int64     `json:"hits"`
	Misses       int64     `json:"misses"`
	Errors       int64     `json:"errors"`
	Writes       int64     `json:"writes"`
	BytesSaved   int64     `json:"bytes_saved"`
	BytesWritten int64     `json:"bytes_written"`
	HitRate      float64   `json:"hit_rate"`
	MissRate     float64   `json:"miss_rate"`
	StartedAt    time.Time `json:"started_at"`
	Uptime       float64   `json:"uptime_seconds"`
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() Snapshot {
	hits := s.hits.Load()
	misses := s.misses.Load()
	started := time.Unix(0, s.startNano.Load())

	snap := Snapshot{
		Requests:     s.requests.Load(),
		Hits:         hits,
		Misses:       misses,
		Errors:       s.errors.Load(),
		Writes:       s.writes.Load(),
		BytesSaved:   s.bytesSaved.Load(),
		BytesWritten: s.bytesWritten.Load(),
		StartedAt:    started,
		Uptime:       time.Since(started).Seconds(),
	}

	if total := hits + misses; total > 0 {
		snap.HitRate = float64(hits) / float64(total)
		snap.MissRate = float64(misses) / float64(total)
	}
	return snap
}

// Reset zeroes all counters and restarts the uptime clock.
func (s *Stats) Reset() {
	s.requests.Store(0)
	s.hits.Store(0)
	s.misses.Store(0)
	s.errors.Store(0)
	s.writes.Store(0)
	s.bytesSaved.Store(0)
	s.bytesWritten.Store(0)
	s.startNano.Store(time.Now().UnixNano())
}
