package cache

import (
	"context"
	"sync"
	"time"
)

// ttlEntry represents a single entry in the TTL cache.
type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e *ttlEntry[V]) isExpired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// ttlCache is a thread-safe cache whose entries expire after a fixed TTL.
// A background goroutine sweeps expired entries; reads also evict lazily.
type ttlCache[V any] struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[string]*ttlEntry[V]
	stats *Statistics

	metrics *cacheMetrics

	shutdown chan struct{}
	done     chan struct{}
}

// NewTTL creates a TTL cache. The sweeper goroutine stops when ctx is
// cancelled or Close is called.
func NewTTL[V any](ctx context.Context, ttl time.Duration, opts ...Option) (Cache[V], error) {
	o := &options{cleanupInterval: ttl}
	for _, opt := range opts {
		opt(o)
	}
	if o.metricsErr != nil {
		return nil, o.metricsErr
	}
	if o.cleanupInterval <= 0 {
		o.cleanupInterval = time.Minute
	}

	c := &ttlCache[V]{
		ttl:      ttl,
		items:    make(map[string]*ttlEntry[V]),
		stats:    &Statistics{},
		metrics:  o.metrics,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.sweep(ctx, o.cleanupInterval)
	return c, nil
}

func (c *ttlCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	entry, exists := c.items[key]
	c.mu.RUnlock()

	var zero V
	if !exists {
		c.recordMiss()
		return zero, false
	}

	if entry.isExpired(time.Now()) {
		c.mu.Lock()
		// Re-check under the write lock: another goroutine may have
		// refreshed the entry between the RUnlock and here.
		if current, still := c.items[key]; still && current.isExpired(time.Now()) {
			delete(c.items, key)
			c.stats.Evict(1)
		}
		c.mu.Unlock()
		c.recordMiss()
		return zero, false
	}

	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.hits.Inc()
	}
	return entry.value, true
}

func (c *ttlCache[V]) Set(key string, value V) bool {
	entry := &ttlEntry[V]{value: value, expiresAt: time.Now().Add(c.ttl)}

	c.mu.Lock()
	_, existed := c.items[key]
	c.items[key] = entry
	size := len(c.items)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.size.Set(float64(size))
	}
	return !existed
}

func (c *ttlCache[V]) Delete(key string) bool {
	c.mu.Lock()
	_, existed := c.items[key]
	delete(c.items, key)
	c.mu.Unlock()
	return existed
}

func (c *ttlCache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *ttlCache[V]) Stats() *Statistics {
	return c.stats
}

func (c *ttlCache[V]) Close() error {
	select {
	case <-c.shutdown:
		// already closed
	default:
		close(c.shutdown)
	}
	<-c.done
	return nil
}

func (c *ttlCache[V]) recordMiss() {
	c.stats.Miss()
	if c.metrics != nil {
		c.metrics.misses.Inc()
	}
}

// sweep periodically removes expired entries.
func (c *ttlCache[V]) sweep(ctx context.Context, interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			evicted := 0
			for key, entry := range c.items {
				if entry.isExpired(now) {
					delete(c.items, key)
					evicted++
				}
			}
			size := len(c.items)
			c.mu.Unlock()

			if evicted > 0 {
				c.stats.Evict(evicted)
				if c.metrics != nil {
					c.metrics.evictions.Add(float64(evicted))
					c.metrics.size.Set(float64(size))
				}
			}
		}
	}
}
