// Package router implements the gateway's Router: candidate selection across
// registered providers by routing strategy, and execution with retry and
// failover across the resulting preference list.
package router

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/basui/llmgateway/llm"
	"github.com/basui/llmgateway/llm/circuitbreaker"
	"github.com/basui/llmgateway/llm/health"
	"github.com/basui/llmgateway/llm/metrics"
	"github.com/basui/llmgateway/llm/ratelimit"
)

// Strategy names a routing strategy. The zero value is CostOptimized.
type Strategy string

const (
	CostOptimized    Strategy = "cost_optimized"
	PerformanceFirst Strategy = "performance_first"
	LoadBalanced     Strategy = "load_balanced"
	FailoverChain    Strategy = "failover_chain"
	ModelPinned      Strategy = "model_pinned"
)

const (
	DefaultMaxRetries        = 3
	DefaultBaseRetryDelay    = 1 * time.Second
	DefaultRequestTimeout    = 30 * time.Second
	DefaultStreamIdleTimeout = 60 * time.Second
)

// Entry registers one provider with the Router, carrying the static
// priority used as a strategy tiebreak and by FailoverChain.
type Entry struct {
	Provider llm.Provider
	Priority int // lower runs first under FailoverChain and as a tiebreak
}

// Config tunes the Router's retry and timeout behavior.
type Config struct {
	Strategy          Strategy
	DefaultProvider   string
	MaxRetries        int
	BaseRetryDelay    time.Duration
	RequestTimeout    time.Duration
	StreamIdleTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = CostOptimized
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = DefaultBaseRetryDelay
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.StreamIdleTimeout <= 0 {
		c.StreamIdleTimeout = DefaultStreamIdleTimeout
	}
	return c
}

// ErrNoCandidates is returned when no registered provider supports the
// requested model, healthy or not.
var ErrNoCandidates = &llm.Error{
	Code:       llm.ErrModelNotFound,
	Message:    "no provider supports the requested model",
	HTTPStatus: 404,
}

// Router selects a provider for each request by its configured strategy and
// executes with retry and failover across the ranked candidate list.
type Router struct {
	cfg     Config
	logger  *zap.Logger
	health  *health.Monitor
	metrics *metrics.Registry
	limiter *ratelimit.Limiter

	entries []Entry

	breakerMu sync.Mutex
	breakers  map[string]circuitbreaker.CircuitBreaker
}

// WithLimiter attaches a per-provider rate/concurrency limiter. Without one,
// the Router imposes no throughput or concurrency bound of its own.
func (r *Router) WithLimiter(l *ratelimit.Limiter) *Router {
	r.limiter = l
	return r
}

// New creates a Router over the given providers. entries order is
// insignificant except as the FailoverChain and tiebreak priority; pass
// Health and Metrics instances shared with the rest of the gateway so the
// Router's decisions and the introspection endpoints stay consistent.
func New(cfg Config, entries []Entry, healthMonitor *health.Monitor, metricsRegistry *metrics.Registry, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		cfg:      cfg.withDefaults(),
		logger:   logger,
		health:   healthMonitor,
		metrics:  metricsRegistry,
		entries:  entries,
		breakers: make(map[string]circuitbreaker.CircuitBreaker),
	}
}

// breaker returns the per-provider circuit breaker, creating it on first use.
// Each provider gets its own breaker so one upstream's outage doesn't trip
// the others.
func (r *Router) breaker(providerName string) circuitbreaker.CircuitBreaker {
	r.breakerMu.Lock()
	defer r.breakerMu.Unlock()
	b, ok := r.breakers[providerName]
	if !ok {
		b = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig(), r.logger)
		r.breakers[providerName] = b
	}
	return b
}

// Providers returns the names of every registered provider.
func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		names = append(names, e.Provider.Name())
	}
	return names
}

// Entries returns the registered provider entries, for introspection
// endpoints that need more than just the name (models, pricing, priority).
func (r *Router) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// BreakerState reports the circuit breaker state for a provider, or
// StateClosed if the provider has never tripped a breaker.
func (r *Router) BreakerState(providerName string) circuitbreaker.State {
	return r.breaker(providerName).State()
}

// HealthStatus returns the Health Monitor's current view of one provider.
func (r *Router) HealthStatus(providerName string) (health.Status, bool) {
	return r.health.Status(providerName)
}

// SupportsModel reports whether any registered provider can serve model.
func (r *Router) SupportsModel(model string) bool {
	for _, e := range r.entries {
		if e.Provider.SupportsModel(model) {
			return true
		}
	}
	return false
}

// EstimateCost returns the minimum estimated cost across every provider
// that supports the request's model, per SPEC_FULL §6.
func (r *Router) EstimateCost(req *llm.ChatRequest) float64 {
	best := -1.0
	for _, e := range r.entries {
		if !e.Provider.SupportsModel(req.Model) {
			continue
		}
		cost := e.Provider.EstimateCost(req)
		if best < 0 || cost < best {
			best = cost
		}
	}
	if best < 0 {
		return 0
	}
	return best
}

// candidate pairs a provider entry with the health state at selection time.
type candidate struct {
	entry   Entry
	healthy bool
}

// candidates returns providers supporting req.Model, ranked by strategy.
// Healthy candidates sort before unhealthy ones unless no healthy candidate
// supports the model, in which case the unhealthy ones are used anyway
// (degraded mode) rather than failing the request outright.
func (r *Router) candidates(req *llm.ChatRequest) ([]candidate, error) {
	var all []candidate
	for _, e := range r.entries {
		if !e.Provider.SupportsModel(req.Model) {
			continue
		}
		healthy := r.health == nil || r.health.IsHealthy(e.Provider.Name())
		all = append(all, candidate{entry: e, healthy: healthy})
	}
	if len(all) == 0 {
		return nil, ErrNoCandidates
	}

	hasHealthy := false
	for _, c := range all {
		if c.healthy {
			hasHealthy = true
			break
		}
	}
	if hasHealthy {
		filtered := all[:0]
		for _, c := range all {
			if c.healthy {
				filtered = append(filtered, c)
			}
		}
		all = filtered
	} else {
		r.logger.Warn("no healthy candidate supports model, falling back to degraded mode",
			zap.String("model", req.Model))
	}

	r.rank(all, req)
	return all, nil
}

func (r *Router) rank(cs []candidate, req *llm.ChatRequest) {
	switch r.cfg.Strategy {
	case ModelPinned:
		sort.SliceStable(cs, func(i, j int) bool {
			if cs[i].entry.Provider.Name() == r.cfg.DefaultProvider {
				return true
			}
			if cs[j].entry.Provider.Name() == r.cfg.DefaultProvider {
				return false
			}
			return cs[i].entry.Priority < cs[j].entry.Priority
		})
	case PerformanceFirst:
		sort.SliceStable(cs, func(i, j int) bool {
			li, lj := r.latencyOf(cs[i]), r.latencyOf(cs[j])
			if li != lj {
				return li < lj
			}
			return cs[i].entry.Priority < cs[j].entry.Priority
		})
	case LoadBalanced:
		rand.Shuffle(len(cs), func(i, j int) { cs[i], cs[j] = cs[j], cs[i] })
	case FailoverChain:
		sort.SliceStable(cs, func(i, j int) bool {
			return cs[i].entry.Priority < cs[j].entry.Priority
		})
	case CostOptimized:
		fallthrough
	default:
		sort.SliceStable(cs, func(i, j int) bool {
			ci, cj := cs[i].entry.Provider.EstimateCost(req), cs[j].entry.Provider.EstimateCost(req)
			if ci != cj {
				return ci < cj
			}
			return cs[i].entry.Priority < cs[j].entry.Priority
		})
	}
}

func (r *Router) latencyOf(c candidate) time.Duration {
	if r.health == nil {
		return 0
	}
	st, ok := r.health.Status(c.entry.Provider.Name())
	if !ok {
		return 0
	}
	return st.LatencyEMA
}

// fullJitterDelay implements the AWS "full jitter" backoff: a uniformly
// random delay between 0 and the exponentially-growing cap, so retries from
// many concurrent requests don't synchronize into a thundering herd.
func fullJitterDelay(base time.Duration, attempt int) time.Duration {
	ceiling := base * time.Duration(1<<uint(attempt))
	if ceiling <= 0 || ceiling > 30*time.Second {
		ceiling = 30 * time.Second
	}
	return time.Duration(rand.Int63n(int64(ceiling) + 1))
}

// Completion routes req through the ranked candidate list, retrying
// retryable failures and failing over to the next candidate until the
// cross-provider retry budget (cfg.MaxRetries attempts total) is exhausted.
func (r *Router) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}

	cands, err := r.candidates(req)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	preferredProvider := cands[0].entry.Provider.Name()

	var lastErr error
	attempt := 0
	for _, c := range cands {
		for {
			retryCount := attempt
			if attempt > 0 {
				delay := fullJitterDelay(r.cfg.BaseRetryDelay, attempt-1)
				select {
				case <-reqCtx.Done():
					return nil, reqCtx.Err()
				case <-time.After(delay):
				}
			}

			providerName := c.entry.Provider.Name()
			release, limitErr := r.acquire(reqCtx, providerName)
			if limitErr != nil {
				r.recordOutcome(providerName, false, 0, 0)
				lastErr = limitErr
				attempt++
				if attempt >= r.cfg.MaxRetries || !llm.IsRetryable(limitErr) {
					break
				}
				continue
			}

			start := time.Now()
			result, err := r.breaker(providerName).CallWithResult(reqCtx, func() (any, error) {
				return c.entry.Provider.Completion(reqCtx, req)
			})
			var resp *llm.ChatResponse
			if err == nil {
				resp, _ = result.(*llm.ChatResponse)
			}
			latency := time.Since(start)
			release()

			success := err == nil
			cost := 0.0
			if success {
				cost = c.entry.Provider.EstimateCost(req)
			}
			r.recordOutcome(providerName, success, latency, cost)

			if success {
				resp.RoutingInfo = &llm.RoutingInfo{
					SelectedProvider: providerName,
					Strategy:         string(r.cfg.Strategy),
					RetryCount:       retryCount,
					FallbackUsed:     providerName != preferredProvider,
					LatencyMS:        latency.Milliseconds(),
					EstimatedCost:    cost,
				}
				return resp, nil
			}

			lastErr = err
			attempt++
			if attempt >= r.cfg.MaxRetries || !llm.IsRetryable(err) {
				break
			}
		}
	}

	if lastErr == nil {
		lastErr = ErrNoCandidates
	}
	return nil, fmt.Errorf("all candidates exhausted: %w", lastErr)
}

// Stream routes req to the highest-ranked candidate and streams its
// response. Retry and failover apply only to failures that occur before the
// first chunk is delivered (the "open" phase); once streaming has begun,
// a mid-stream failure terminates the stream rather than silently
// restarting it from a different provider.
func (r *Router) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}

	cands, err := r.candidates(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	attempt := 0
	for _, c := range cands {
		for {
			if attempt > 0 {
				delay := fullJitterDelay(r.cfg.BaseRetryDelay, attempt-1)
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(delay):
				}
			}

			providerName := c.entry.Provider.Name()
			release, limitErr := r.acquire(ctx, providerName)
			if limitErr != nil {
				r.recordOutcome(providerName, false, 0, 0)
				lastErr = limitErr
				attempt++
				if attempt >= r.cfg.MaxRetries || !llm.IsRetryable(limitErr) {
					break
				}
				continue
			}

			start := time.Now()
			result, err := r.breaker(providerName).CallWithResult(ctx, func() (any, error) {
				return c.entry.Provider.Stream(ctx, req)
			})
			var ch <-chan llm.StreamChunk
			if err == nil {
				ch, _ = result.(<-chan llm.StreamChunk)
			}

			if err != nil {
				release()
				r.recordOutcome(providerName, false, time.Since(start), 0)
				lastErr = err
				attempt++
				if attempt >= r.cfg.MaxRetries || !llm.IsRetryable(err) {
					break
				}
				continue
			}

			return r.superviseStream(providerName, start, req, ch, release), nil
		}
	}

	if lastErr == nil {
		lastErr = ErrNoCandidates
	}
	return nil, fmt.Errorf("all candidates exhausted: %w", lastErr)
}

// superviseStream passes chunks through unmodified, enforcing the
// inter-chunk inactivity timeout and recording the terminal outcome once
// the upstream channel closes or the stream stalls.
func (r *Router) superviseStream(providerName string, start time.Time, req *llm.ChatRequest, upstream <-chan llm.StreamChunk, release func()) <-chan llm.StreamChunk {
	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		defer release()
		success := true
		var cost float64
		timer := time.NewTimer(r.cfg.StreamIdleTimeout)
		defer timer.Stop()

		for {
			select {
			case chunk, ok := <-upstream:
				if !ok {
					r.recordOutcome(providerName, success, time.Since(start), cost)
					return
				}
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(r.cfg.StreamIdleTimeout)

				if chunk.Err != nil {
					success = false
				}
				if chunk.Usage != nil {
					cost = r.entryCost(providerName, req)
				}
				out <- chunk
			case <-timer.C:
				success = false
				out <- llm.StreamChunk{
					Provider: providerName,
					Err: &llm.Error{
						Code:       llm.ErrUpstreamTimeout,
						Message:    "stream inactivity timeout",
						HTTPStatus: 504,
						Retryable:  false,
						Provider:   providerName,
					},
				}
				r.recordOutcome(providerName, false, time.Since(start), cost)
				return
			}
		}
	}()
	return out
}

func (r *Router) entryCost(providerName string, req *llm.ChatRequest) float64 {
	for _, e := range r.entries {
		if e.Provider.Name() == providerName {
			return e.Provider.EstimateCost(req)
		}
	}
	return 0
}

func (r *Router) recordOutcome(providerName string, success bool, latency time.Duration, cost float64) {
	if r.health != nil {
		r.health.RecordOutcome(providerName, success, latency)
	}
	if r.metrics != nil {
		r.metrics.RecordOutcome(providerName, success, latency, cost)
	}
}

// acquire reserves rate/concurrency capacity for providerName when a
// Limiter is attached, returning a no-op release otherwise.
func (r *Router) acquire(ctx context.Context, providerName string) (func(), error) {
	if r.limiter == nil {
		return func() {}, nil
	}
	return r.limiter.Acquire(ctx, providerName)
}
