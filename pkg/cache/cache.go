// Package cache provides a thread-safe TTL cache used for short-lived
// dedup markers and validation results.
//
// Statistics are always collected; Prometheus exposition is optional via
// functional options.
package cache

import (
	"sync/atomic"
	"time"
)

// Cache is a generic key/value cache with TTL-based eviction.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the zero value and false if the
	// key is absent or expired.
	Get(key string) (V, bool)

	// Set stores a value with the configured TTL. Returns true if a new
	// entry was created, false if an existing entry was refreshed.
	Set(key string, value V) bool

	// Delete removes an entry by key, returning true if it existed.
	Delete(key string) bool

	// Size returns the current number of entries, including not-yet-swept
	// expired ones.
	Size() int

	// Stats returns the cache statistics.
	Stats() *Statistics

	// Close stops the background sweeper.
	Close() error
}

// Statistics tracks cache effectiveness with atomic counters.
type Statistics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// Hit records a cache hit.
func (s *Statistics) Hit() { s.hits.Add(1) }

// Miss records a cache miss.
func (s *Statistics) Miss() { s.misses.Add(1) }

// Evict records n evicted entries.
func (s *Statistics) Evict(n int) { s.evictions.Add(int64(n)) }

// Hits returns the total number of hits.
func (s *Statistics) Hits() int64 { return s.hits.Load() }

// Misses returns the total number of misses.
func (s *Statistics) Misses() int64 { return s.misses.Load() }

// Evictions returns the total number of expired entries swept.
func (s *Statistics) Evictions() int64 { return s.evictions.Load() }

// HitRate returns hits / (hits + misses), or 0 with no lookups.
func (s *Statistics) HitRate() float64 {
	h, m := s.Hits(), s.Misses()
	if h+m == 0 {
		return 0
	}
	return float64(h) / float64(h+m)
}

type options struct {
	cleanupInterval time.Duration
	metrics         *cacheMetrics
	metricsErr      error
}

// Option configures a cache at construction time.
type Option func(*options)

// WithCleanupInterval overrides the background sweep interval.
func WithCleanupInterval(d time.Duration) Option {
	return func(o *options) { o.cleanupInterval = d }
}
