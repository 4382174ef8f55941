// Package health implements the gateway's Health Monitor: a background
// prober that maintains a healthy/unhealthy verdict and latency statistics
// per provider, consulted by the Router during candidate selection.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/basui/llmgateway/llm"
	"github.com/basui/llmgateway/llm/retry"
)

// Defaults per the monitor's protocol: a 60s probe interval, an EMA smoothing
// factor of 0.3, and an unhealthy verdict after 3 consecutive failures.
const (
	DefaultProbeInterval    = 60 * time.Second
	DefaultEMAAlpha         = 0.3
	DefaultFailureThreshold = 3
	DefaultProbeTimeout     = 10 * time.Second
)

// Config tunes the monitor's probe cadence and health-transition thresholds.
type Config struct {
	ProbeInterval    time.Duration
	ProbeTimeout     time.Duration
	EMAAlpha         float64
	FailureThreshold int
}

// DefaultConfig returns the monitor's documented defaults.
func DefaultConfig() Config {
	return Config{
		ProbeInterval:    DefaultProbeInterval,
		ProbeTimeout:     DefaultProbeTimeout,
		EMAAlpha:         DefaultEMAAlpha,
		FailureThreshold: DefaultFailureThreshold,
	}
}

func (c Config) withDefaults() Config {
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = DefaultProbeInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.EMAAlpha <= 0 {
		c.EMAAlpha = DefaultEMAAlpha
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	return c
}

// Status is a read-only snapshot of one provider's health state.
type Status struct {
	Healthy             bool
	ConsecutiveFailures int
	LatencyEMA          time.Duration
	LastError           string
	LastCheckAt         time.Time
}

type providerState struct {
	mu                  sync.RWMutex
	healthy             bool
	consecutiveFailures int
	latencyEMA          time.Duration
	lastError           string
	lastCheckAt         time.Time
}

func (s *providerState) snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Healthy:             s.healthy,
		ConsecutiveFailures: s.consecutiveFailures,
		LatencyEMA:          s.latencyEMA,
		LastError:           s.lastError,
		LastCheckAt:         s.lastCheckAt,
	}
}

// record applies one probe or in-band outcome under the monitor's 3-strike
// rule and EMA latency smoothing. Called with the state's own lock held by
// the caller is not required — record takes the lock itself.
func (s *providerState) record(alpha float64, threshold int, success bool, latency time.Duration, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if latency > 0 {
		if s.latencyEMA == 0 {
			s.latencyEMA = latency
		} else {
			s.latencyEMA = time.Duration(alpha*float64(latency) + (1-alpha)*float64(s.latencyEMA))
		}
	}
	s.lastCheckAt = time.Now()

	if success {
		s.consecutiveFailures = 0
		s.healthy = true
		s.lastError = ""
		return
	}

	s.consecutiveFailures++
	s.lastError = errMsg
	if s.consecutiveFailures >= threshold {
		s.healthy = false
	}
}

// Monitor probes registered providers on an interval and accepts in-band
// outcome updates from the Router between probes. It never blocks request
// processing: reads and writes go through a per-provider state's own mutex,
// never a single global lock.
type Monitor struct {
	cfg     Config
	logger  *zap.Logger
	retryer retry.Retryer

	mu        sync.RWMutex
	providers map[string]llm.Provider
	states    map[string]*providerState

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a Health Monitor. Call Register for each provider
// before Start.
func NewMonitor(cfg Config, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Monitor{
		cfg:    cfg,
		logger: logger,
		// A probe's own retry is a single-provider concern, distinct from the
		// Router's cross-provider failover: one transient network blip during
		// a probe shouldn't cost the provider a strike toward the 3-strike
		// unhealthy threshold.
		retryer: retry.NewBackoffRetryer(&retry.RetryPolicy{
			MaxRetries:   1,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     1 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		}, logger),
		providers: make(map[string]llm.Provider),
		states:    make(map[string]*providerState),
	}
}

// Register adds a provider to the probe rotation, defaulting it healthy
// until the first probe or outcome says otherwise.
func (m *Monitor) Register(p llm.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := p.Name()
	m.providers[name] = p
	if _, ok := m.states[name]; !ok {
		m.states[name] = &providerState{healthy: true}
	}
}

func (m *Monitor) state(name string) *providerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[name]
	if !ok {
		st = &providerState{healthy: true}
		m.states[name] = st
	}
	return st
}

// Start launches the background probe loop. Stop cancels it.
func (m *Monitor) Start(ctx context.Context) {
	probeCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.ProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-probeCtx.Done():
				return
			case <-ticker.C:
				m.probeAll(probeCtx)
			}
		}
	}()
}

// Stop halts the probe loop and waits for the in-flight round to finish.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) probeAll(ctx context.Context) {
	m.mu.RLock()
	providers := make([]llm.Provider, 0, len(m.providers))
	for _, p := range m.providers {
		providers = append(providers, p)
	}
	m.mu.RUnlock()

	for _, p := range providers {
		m.probeOne(ctx, p)
	}
}

func (m *Monitor) probeOne(ctx context.Context, p llm.Provider) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	result, err := m.retryer.DoWithResult(probeCtx, func() (any, error) {
		return p.HealthCheck(probeCtx)
	})
	latency := time.Since(start)

	var st *llm.HealthStatus
	if result != nil {
		st, _ = result.(*llm.HealthStatus)
	}

	healthy := err == nil && st != nil && st.Healthy
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	} else if st != nil && !st.Healthy {
		errMsg = "health_check reported unhealthy"
	}

	name := p.Name()
	m.state(name).record(m.cfg.EMAAlpha, m.cfg.FailureThreshold, healthy, latency, errMsg)

	if !healthy {
		m.logger.Warn("provider probe failed",
			zap.String("provider", name),
			zap.Duration("latency", latency),
			zap.String("error", errMsg),
		)
	}
}

// RecordOutcome applies the result of a real request as an in-band health
// signal, using the same 3-strike rule as the background probe. This is
// what makes the monitor responsive between probe intervals.
func (m *Monitor) RecordOutcome(providerName string, success bool, latency time.Duration) {
	errMsg := ""
	if !success {
		errMsg = "request failed"
	}
	m.state(providerName).record(m.cfg.EMAAlpha, m.cfg.FailureThreshold, success, latency, errMsg)
}

// IsHealthy reports a provider's current verdict. An unregistered provider
// reports healthy, since the monitor has no basis to exclude it.
func (m *Monitor) IsHealthy(providerName string) bool {
	m.mu.RLock()
	st, ok := m.states[providerName]
	m.mu.RUnlock()
	if !ok {
		return true
	}
	return st.snapshot().Healthy
}

// Status returns a snapshot of one provider's health state.
func (m *Monitor) Status(providerName string) (Status, bool) {
	m.mu.RLock()
	st, ok := m.states[providerName]
	m.mu.RUnlock()
	if !ok {
		return Status{}, false
	}
	return st.snapshot(), true
}

// AllStatuses returns every known provider's health snapshot, keyed by name.
func (m *Monitor) AllStatuses() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.states))
	for name, st := range m.states {
		out[name] = st.snapshot()
	}
	return out
}
