// Package metric provides the Prometheus registry shared by all services
// plus the core pipeline metrics and the /metrics HTTP endpoint.
package metric

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/atharva20-coder/swoopin-sub002/errors"
)

// Registrar registers service-specific metrics under a namespaced key so
// two services cannot silently shadow each other's collectors.
type Registrar interface {
	Register(serviceName, metricName string, c prometheus.Collector) error
	Unregister(serviceName, metricName string) bool
}

// Registry manages the registration and lifecycle of metrics.
type Registry struct {
	prometheusRegistry *prometheus.Registry
	Core               *Metrics
	registered         map[string]prometheus.Collector
	mu                 sync.RWMutex
}

var _ Registrar = (*Registry)(nil)

// NewRegistry creates a registry with the core pipeline metrics and Go
// runtime collectors already registered.
func NewRegistry() *Registry {
	r := &Registry{
		prometheusRegistry: prometheus.NewRegistry(),
		registered:         make(map[string]prometheus.Collector),
	}
	r.Core = NewMetrics()
	r.Core.register(r.prometheusRegistry)

	r.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// Register registers a collector under serviceName/metricName. Registering
// the same key twice is an error; distinct services may reuse metric names.
func (r *Registry) Register(serviceName, metricName string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s/%s", serviceName, metricName)
	if _, exists := r.registered[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %q already registered", key),
			"metric", "Register", "check registration")
	}
	if err := r.prometheusRegistry.Register(c); err != nil {
		return errors.WrapInvalid(err, "metric", "Register", "prometheus register")
	}
	r.registered[key] = c
	return nil
}

// Unregister removes a previously registered collector. It reports whether
// the collector was found.
func (r *Registry) Unregister(serviceName, metricName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s/%s", serviceName, metricName)
	c, exists := r.registered[key]
	if !exists {
		return false
	}
	delete(r.registered, key)
	return r.prometheusRegistry.Unregister(c)
}
