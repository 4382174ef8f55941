// Package ratelimit bounds per-provider request throughput and concurrent
// stream count, per SPEC_FULL §5/§11. A provider that is saturated returns
// a retryable resource-exhausted error rather than queuing indefinitely,
// letting the Router fail over to another candidate.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/basui/llmgateway/llm"
)

// Config bounds one provider's request rate and concurrent stream count.
// A zero value in either field disables that particular bound.
type Config struct {
	RequestsPerSecond    float64
	Burst                int
	MaxConcurrentStreams int
}

type providerLimiter struct {
	rate *rate.Limiter
	sema chan struct{} // nil when unbounded
}

// Limiter enforces per-provider throughput and concurrency bounds. The zero
// value is not usable; construct with NewLimiter.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*providerLimiter
	configs  map[string]Config
}

// NewLimiter creates an empty Limiter. Call Configure for every provider
// that needs a bound; unconfigured providers are unbounded.
func NewLimiter() *Limiter {
	return &Limiter{
		limiters: make(map[string]*providerLimiter),
		configs:  make(map[string]Config),
	}
}

// Configure sets (or replaces) the bound for one provider.
func (l *Limiter) Configure(providerName string, cfg Config) {
	pl := &providerLimiter{}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		pl.rate = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	if cfg.MaxConcurrentStreams > 0 {
		pl.sema = make(chan struct{}, cfg.MaxConcurrentStreams)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters[providerName] = pl
	l.configs[providerName] = cfg
}

// errResourceExhausted is returned when a provider is at its configured
// concurrency or rate bound. It is retryable: the caller should try the
// next candidate rather than queue.
func errResourceExhausted(providerName string) *llm.Error {
	return &llm.Error{
		Code:       llm.ErrRateLimited,
		Message:    "provider at configured concurrency/rate bound",
		HTTPStatus: 429,
		Retryable:  true,
		Provider:   providerName,
	}
}

// Acquire reserves capacity for one request to providerName: it waits for
// the token-bucket rate limit (bounded by ctx) and, if a concurrency cap is
// configured, tries to take a concurrency slot. Returns a release func to
// call when the request (or stream) completes; the release func is always
// safe to call exactly once, even on the error path's no-op result.
func (l *Limiter) Acquire(ctx context.Context, providerName string) (release func(), err error) {
	l.mu.RLock()
	pl, ok := l.limiters[providerName]
	l.mu.RUnlock()
	if !ok {
		return func() {}, nil
	}

	if pl.rate != nil {
		if err := pl.rate.Wait(ctx); err != nil {
			return func() {}, err
		}
	}

	if pl.sema != nil {
		select {
		case pl.sema <- struct{}{}:
			return func() { <-pl.sema }, nil
		default:
			return func() {}, errResourceExhausted(providerName)
		}
	}

	return func() {}, nil
}

// InFlight reports how many concurrent streams are currently occupying
// providerName's concurrency slots, for introspection.
func (l *Limiter) InFlight(providerName string) int {
	l.mu.RLock()
	pl, ok := l.limiters[providerName]
	l.mu.RUnlock()
	if !ok || pl.sema == nil {
		return 0
	}
	return len(pl.sema)
}
