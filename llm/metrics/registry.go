// Package metrics implements the gateway's Metrics Registry: per-provider
// and global request counters, EMA latency, and cumulative cost, exposed
// both for programmatic introspection and as Prometheus series.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultLatencyEMAAlpha matches the Health Monitor's smoothing factor so
// the two subsystems' latency figures stay comparable.
const DefaultLatencyEMAAlpha = 0.3

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_provider_requests_total",
			Help: "Total requests routed to an LLM provider, by outcome.",
		},
		[]string{"provider", "outcome"},
	)
	latencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmgateway_provider_latency_ms",
			Help:    "LLM provider request latency in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"provider"},
	)
	cumulativeCost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_provider_cost_total",
			Help: "Cumulative estimated cost attributed to an LLM provider.",
		},
		[]string{"provider"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, latencyMs, cumulativeCost)
}

// Snapshot is a read-only view of one provider's (or the global) counters.
type Snapshot struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	MeanLatencyMs      float64
	CumulativeCost     float64
	LastRequestAt      time.Time
}

type providerCounters struct {
	mu                 sync.Mutex
	totalRequests      int64
	successfulRequests int64
	failedRequests     int64
	meanLatencyMs      float64
	cumulativeCost     float64
	lastRequestAt      time.Time
}

func (c *providerCounters) record(alpha float64, success bool, latency time.Duration, cost float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests++
	if success {
		c.successfulRequests++
	} else {
		c.failedRequests++
	}

	latMs := float64(latency.Milliseconds())
	if c.meanLatencyMs == 0 {
		c.meanLatencyMs = latMs
	} else {
		c.meanLatencyMs = alpha*latMs + (1-alpha)*c.meanLatencyMs
	}

	c.cumulativeCost += cost
	c.lastRequestAt = time.Now()
}

func (c *providerCounters) snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		TotalRequests:      c.totalRequests,
		SuccessfulRequests: c.successfulRequests,
		FailedRequests:     c.failedRequests,
		MeanLatencyMs:      c.meanLatencyMs,
		CumulativeCost:     c.cumulativeCost,
		LastRequestAt:      c.lastRequestAt,
	}
}

// Registry tracks per-provider counters. Mutation for one provider is
// serialized through that provider's own mutex; reads may observe a value
// that is microseconds stale relative to a concurrent write, which the
// Router's callers are expected to tolerate.
type Registry struct {
	alpha float64

	mu        sync.RWMutex
	providers map[string]*providerCounters
	global    *providerCounters
}

// NewRegistry creates a Metrics Registry using the default EMA smoothing
// factor.
func NewRegistry() *Registry {
	return NewRegistryWithAlpha(DefaultLatencyEMAAlpha)
}

// NewRegistryWithAlpha creates a Metrics Registry with a caller-chosen EMA
// smoothing factor.
func NewRegistryWithAlpha(alpha float64) *Registry {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultLatencyEMAAlpha
	}
	return &Registry{
		alpha:     alpha,
		providers: make(map[string]*providerCounters),
		global:    &providerCounters{},
	}
}

func (r *Registry) counters(provider string) *providerCounters {
	r.mu.RLock()
	c, ok := r.providers[provider]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.providers[provider]; ok {
		return c
	}
	c = &providerCounters{}
	r.providers[provider] = c
	return c
}

// RecordOutcome updates both the named provider's counters and the global
// aggregate, and mirrors the outcome into the Prometheus series. Called on
// every terminal outcome of a Router attempt.
func (r *Registry) RecordOutcome(provider string, success bool, latency time.Duration, cost float64) {
	r.counters(provider).record(r.alpha, success, latency, cost)
	r.global.record(r.alpha, success, latency, cost)

	outcome := "success"
	if !success {
		outcome = "failure"
	}
	requestsTotal.WithLabelValues(provider, outcome).Inc()
	if latency > 0 {
		latencyMs.WithLabelValues(provider).Observe(float64(latency.Milliseconds()))
	}
	if cost > 0 {
		cumulativeCost.WithLabelValues(provider).Add(cost)
	}
}

// Snapshot returns the named provider's current counters.
func (r *Registry) Snapshot(provider string) (Snapshot, bool) {
	r.mu.RLock()
	c, ok := r.providers[provider]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return c.snapshot(), true
}

// AllSnapshots returns every known provider's counters, keyed by name.
func (r *Registry) AllSnapshots() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Snapshot, len(r.providers))
	for name, c := range r.providers {
		out[name] = c.snapshot()
	}
	return out
}

// Global returns the aggregate counters across all providers.
func (r *Registry) Global() Snapshot {
	return r.global.snapshot()
}
