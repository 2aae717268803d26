package cache

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// cacheMetrics holds optional Prometheus instrumentation for a cache.
type cacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
}

// WithMetrics registers hit/miss/eviction/size metrics under the given
// prefix. Registration failure surfaces from the cache constructor.
func WithMetrics(reg prometheus.Registerer, prefix string) Option {
	return func(o *options) {
		m := &cacheMetrics{
			hits: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_cache_hits_total",
				Help: "Total cache hits",
			}),
			misses: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_cache_misses_total",
				Help: "Total cache misses",
			}),
			evictions: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_cache_evictions_total",
				Help: "Total expired entries swept",
			}),
			size: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: prefix + "_cache_size",
				Help: "Current number of cached entries",
			}),
		}

		for _, c := range []prometheus.Collector{m.hits, m.misses, m.evictions, m.size} {
			if err := reg.Register(c); err != nil {
				o.metricsErr = fmt.Errorf("cache metrics registration (%s): %w", prefix, err)
				return
			}
		}
		o.metrics = m
	}
}
