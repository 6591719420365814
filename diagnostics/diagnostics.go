// Package diagnostics provides per-metric operations-per-second counters.
// Counters are incremented lock-free from hot paths; a single background
// ticker snapshots and resets them once per interval and mirrors the rates
// into a prometheus gauge.
package diagnostics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wirehome/core"
)

// OperationsPerSecondCounter counts operations within the current interval
// and exposes the rate observed in the previous one.
type OperationsPerSecondCounter struct {
	uid      string
	current  uint64
	lastRate uint64
}

// UID returns the counter identifier.
func (c *OperationsPerSecondCounter) UID() string {
	return c.uid
}

// Increment adds one operation to the current interval.
func (c *OperationsPerSecondCounter) Increment() {
	atomic.AddUint64(&c.current, 1)
}

// Count returns the number of operations in the current, unfinished interval.
func (c *OperationsPerSecondCounter) Count() uint64 {
	return atomic.LoadUint64(&c.current)
}

// Rate returns the operations per second observed in the last completed
// interval.
func (c *OperationsPerSecondCounter) Rate() uint64 {
	return atomic.LoadUint64(&c.lastRate)
}

// reset moves the current count into lastRate and starts a new interval.
func (c *OperationsPerSecondCounter) reset() uint64 {
	rate := atomic.SwapUint64(&c.current, 0)
	atomic.StoreUint64(&c.lastRate, rate)
	return rate
}

// Registry owns all OPS counters and the ticker that resets them.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*OperationsPerSecondCounter
	interval time.Duration
	logger   wirehome.Logger
	gauge    *prometheus.GaugeVec
}

// Option configures a Registry.
type Option func(*Registry)

// WithInterval overrides the default 1s reset interval.
func WithInterval(interval time.Duration) Option {
	return func(r *Registry) {
		if interval > 0 {
			r.interval = interval
		}
	}
}

// WithRegisterer registers the rate gauge with the given prometheus
// registerer instead of the default one.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *Registry) {
		if reg != nil {
			reg.MustRegister(r.gauge)
		}
	}
}

// NewRegistry creates a counter registry. The registry itself is a
// prometheus.Collector exposing the last observed rates; register it (or use
// WithRegisterer) to export them.
func NewRegistry(logger wirehome.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = wirehome.NewSlogLogger(nil)
	}
	r := &Registry{
		counters: make(map[string]*OperationsPerSecondCounter),
		interval: time.Second,
		logger:   logger,
		gauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wirehome_operations_per_second",
			Help: "Operations per second observed in the last completed interval.",
		}, []string{"counter"}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Describe implements prometheus.Collector.
func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	r.gauge.Describe(ch)
}

// Collect implements prometheus.Collector.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	r.gauge.Collect(ch)
}

// CreateOperationsPerSecondCounter returns the counter with the given uid,
// creating it when absent. Creation is idempotent.
func (r *Registry) CreateOperationsPerSecondCounter(uid string) *OperationsPerSecondCounter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if counter, ok := r.counters[uid]; ok {
		return counter
	}
	counter := &OperationsPerSecondCounter{uid: uid}
	r.counters[uid] = counter
	return counter
}

// Rates returns a snapshot of all last observed rates keyed by counter uid.
func (r *Registry) Rates() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rates := make(map[string]uint64, len(r.counters))
	for uid, counter := range r.counters {
		rates[uid] = counter.Rate()
	}
	return rates
}

// Run drives the reset ticker until the context is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Debug("diagnostics ticker started", "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("diagnostics ticker stopped")
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

// tick snapshots and resets every counter.
func (r *Registry) tick() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for uid, counter := range r.counters {
		rate := counter.reset()
		r.gauge.WithLabelValues(uid).Set(float64(rate))
	}
}
