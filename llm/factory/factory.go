// Package factory wires a config.Config into a running gateway: it
// constructs one llm.Provider per configured entry, registers each with a
// health.Monitor, configures a ratelimit.Limiter from each entry's
// rate/concurrency hints, and assembles the result into a router.Router.
package factory

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/basui/llmgateway/config"
	"github.com/basui/llmgateway/llm"
	"github.com/basui/llmgateway/llm/health"
	"github.com/basui/llmgateway/llm/metrics"
	base "github.com/basui/llmgateway/llm/providers"
	claude "github.com/basui/llmgateway/llm/providers/anthropic"
	"github.com/basui/llmgateway/llm/providers/gemini"
	"github.com/basui/llmgateway/llm/providers/generic"
	"github.com/basui/llmgateway/llm/providers/ollama"
	"github.com/basui/llmgateway/llm/providers/openai"
	"github.com/basui/llmgateway/llm/providers/openaicompat"
	"github.com/basui/llmgateway/llm/providers/vllm"
	"github.com/basui/llmgateway/llm/ratelimit"
	"github.com/basui/llmgateway/llm/router"
)

// SupportedKinds lists the provider kinds NewProvider recognizes by name.
// Any other kind falls back to the generic OpenAI-compatible adapter, which
// requires BaseURL.
func SupportedKinds() []string {
	return []string{"openai", "anthropic", "gemini", "ollama", "vllm", "generic"}
}

// NewProvider constructs the llm.Provider described by entry, dispatching on
// its Kind.
func NewProvider(entry config.ProviderEntry, logger *zap.Logger) (llm.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	common := base.BaseProviderConfig{
		APIKey:  entry.APIKey,
		BaseURL: entry.BaseURL,
		Model:   entry.Model,
		Models:  entry.Models,
		Timeout: entry.Timeout,
	}

	switch entry.Kind {
	case "openai":
		return openai.NewOpenAIProvider(base.OpenAIConfig{BaseProviderConfig: common}, logger), nil

	case "anthropic":
		return claude.NewClaudeProvider(base.ClaudeConfig{BaseProviderConfig: common}, logger), nil

	case "gemini":
		return gemini.NewGeminiProvider(base.GeminiConfig{BaseProviderConfig: common}, logger), nil

	case "ollama":
		return ollama.New(base.OllamaConfig{BaseProviderConfig: common}, logger), nil

	case "vllm":
		return vllm.New(base.VLLMConfig{BaseProviderConfig: common}, logger), nil

	case "generic", "":
		if entry.BaseURL == "" {
			return nil, fmt.Errorf("provider %q: base_url is required for the generic OpenAI-compatible adapter", entry.Name)
		}
		return generic.New(base.GenericCompatConfig{BaseProviderConfig: common}, logger), nil

	default:
		// Unknown kind: treat it as an arbitrary OpenAI-compatible endpoint,
		// the same fallback the teacher used for unrecognized provider names.
		if entry.BaseURL == "" {
			return nil, fmt.Errorf("unknown provider kind %q for %q, and base_url is required to fall back to a generic adapter", entry.Kind, entry.Name)
		}
		logger.Info("unrecognized provider kind, falling back to generic OpenAI-compatible adapter",
			zap.String("provider", entry.Name), zap.String("kind", entry.Kind))
		return openaicompat.New(openaicompat.Config{
			ProviderName: entry.Name,
			APIKey:       entry.APIKey,
			BaseURL:      entry.BaseURL,
			DefaultModel: entry.Model,
			Timeout:      entry.Timeout,
		}, logger), nil
	}
}

// Gateway bundles the wired-together pieces a cmd entrypoint needs: the
// Router that serves requests, and the Health/Metrics/Limiter instances the
// introspection endpoints read from.
type Gateway struct {
	Router  *router.Router
	Health  *health.Monitor
	Metrics *metrics.Registry
	Limiter *ratelimit.Limiter
}

// strategyFromString maps the config's routing_strategy string onto the
// router.Strategy constants, defaulting to CostOptimized for an empty or
// unrecognized value.
func strategyFromString(s string) router.Strategy {
	switch router.Strategy(s) {
	case router.CostOptimized, router.PerformanceFirst, router.LoadBalanced, router.FailoverChain, router.ModelPinned:
		return router.Strategy(s)
	default:
		return router.CostOptimized
	}
}

// NewGateway builds every provider in cfg.Providers, registers each with a
// fresh Health Monitor, configures per-provider rate/concurrency limits, and
// returns the resulting Router ready to serve traffic.
func NewGateway(cfg *config.Config, logger *zap.Logger) (*Gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider must be configured")
	}

	healthCfg := health.Config{
		ProbeInterval:    time.Duration(cfg.Health.ProbeIntervalMs) * time.Millisecond,
		ProbeTimeout:     time.Duration(cfg.Health.ProbeTimeoutMs) * time.Millisecond,
		EMAAlpha:         cfg.Health.EMAAlpha,
		FailureThreshold: cfg.Health.FailureThreshold,
	}
	hm := health.NewMonitor(healthCfg, logger)
	mr := metrics.NewRegistryWithAlpha(cfg.Health.EMAAlpha)
	limiter := ratelimit.NewLimiter()

	entries := make([]router.Entry, 0, len(cfg.Providers))
	for _, pe := range cfg.Providers {
		p, err := NewProvider(pe, logger)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", pe.Name, err)
		}

		hm.Register(p)
		entries = append(entries, router.Entry{Provider: p, Priority: pe.Priority})

		if pe.RateLimitRPS > 0 || pe.RateLimitBurst > 0 || pe.MaxConcurrentStreams > 0 {
			limiter.Configure(p.Name(), ratelimit.Config{
				RequestsPerSecond:    pe.RateLimitRPS,
				Burst:                pe.RateLimitBurst,
				MaxConcurrentStreams: pe.MaxConcurrentStreams,
			})
		}
	}

	routerCfg := router.Config{
		Strategy:          strategyFromString(cfg.Router.Strategy),
		DefaultProvider:   cfg.Router.DefaultProvider,
		MaxRetries:        cfg.Router.MaxRetries,
		BaseRetryDelay:    time.Duration(cfg.Router.BaseRetryDelayMs) * time.Millisecond,
		RequestTimeout:    time.Duration(cfg.Router.RequestTimeoutMs) * time.Millisecond,
		StreamIdleTimeout: time.Duration(cfg.Router.StreamInactivityTimeoutMs) * time.Millisecond,
	}
	rt := router.New(routerCfg, entries, hm, mr, logger).WithLimiter(limiter)

	return &Gateway{Router: rt, Health: hm, Metrics: mr, Limiter: limiter}, nil
}
