// Package worker provides a generic worker pool for concurrent task processing.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Pool lifecycle errors
var (
	ErrNilProcessor  = errors.New("worker: processor function cannot be nil")
	ErrNotStarted    = errors.New("worker: pool not started")
	ErrStopped       = errors.New("worker: pool stopped")
	ErrQueueFull     = errors.New("worker: queue full")
	ErrAlreadyExists = errors.New("worker: pool already started")
)

// Pool processes work items of type T on a fixed set of goroutines.
// Each event task is independent; the pool holds no shared mutable state
// beyond its queue and counters.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error

	workChan chan T
	wg       sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	cancel      context.CancelFunc

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	metrics *poolMetrics
}

type poolMetrics struct {
	processed prometheus.Counter
	failed    prometheus.Counter
	dropped   prometheus.Counter
	depth     prometheus.Gauge
}

// Option configures a pool at construction time.
type Option[T any] func(*Pool[T]) error

// WithMetrics registers queue depth and outcome counters under prefix.
func WithMetrics[T any](reg prometheus.Registerer, prefix string) Option[T] {
	return func(p *Pool[T]) error {
		m := &poolMetrics{
			processed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_processed_total",
				Help: "Total work items processed",
			}),
			failed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_failed_total",
				Help: "Total work items that failed processing",
			}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_dropped_total",
				Help: "Total work items dropped due to a full queue",
			}),
			depth: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: prefix + "_queue_depth",
				Help: "Current work queue depth",
			}),
		}
		for _, c := range []prometheus.Collector{m.processed, m.failed, m.dropped, m.depth} {
			if err := reg.Register(c); err != nil {
				return err
			}
		}
		p.metrics = m
		return nil
	}
}

// NewPool creates a worker pool. Workers and queue size fall back to
// defaults when non-positive.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) (*Pool[T], error) {
	if processor == nil {
		return nil, ErrNilProcessor
	}
	if workers <= 0 {
		workers = 10
	}
	if queueSize <= 0 {
		queueSize = 1000
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Start launches the worker goroutines. It may be called once.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()
	if p.started {
		return ErrAlreadyExists
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
	return nil
}

func (p *Pool[T]) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-p.workChan:
			if !ok {
				return
			}
			if p.metrics != nil {
				p.metrics.depth.Set(float64(len(p.workChan)))
			}
			if err := p.processor(ctx, item); err != nil {
				p.failed.Add(1)
				if p.metrics != nil {
					p.metrics.failed.Inc()
				}
				continue
			}
			p.processed.Add(1)
			if p.metrics != nil {
				p.metrics.processed.Inc()
			}
		}
	}
}

// Submit enqueues a work item without blocking. A full queue returns
// ErrQueueFull so the caller can surface backpressure to the transport.
func (p *Pool[T]) Submit(item T) error {
	p.lifecycleMu.Lock()
	if !p.started {
		p.lifecycleMu.Unlock()
		return ErrNotStarted
	}
	if p.stopped {
		p.lifecycleMu.Unlock()
		return ErrStopped
	}
	p.lifecycleMu.Unlock()

	select {
	case p.workChan <- item:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.depth.Set(float64(len(p.workChan)))
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Stop drains the queue and waits for in-flight work to finish.
func (p *Pool[T]) Stop() {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return
	}
	p.stopped = true
	close(p.workChan)
	p.lifecycleMu.Unlock()

	p.wg.Wait()
	if p.cancel != nil {
		p.cancel()
	}
}

// Counts returns submitted, processed, failed and dropped totals.
func (p *Pool[T]) Counts() (submitted, processed, failed, dropped int64) {
	return p.submitted.Load(), p.processed.Load(), p.failed.Load(), p.dropped.Load()
}
