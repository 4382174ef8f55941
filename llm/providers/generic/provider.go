// Package generic adapts any OpenAI-compatible chat completions endpoint
// that doesn't warrant its own named package — self-hosted gateways,
// third-party OpenAI-compatible SaaS, local inference servers other than
// Ollama/vLLM. Endpoint paths are configurable since not every such service
// uses the canonical "/v1/chat/completions".
package generic

import (
	"github.com/basui/llmgateway/llm/providers"
	"github.com/basui/llmgateway/llm/providers/openaicompat"
	"go.uber.org/zap"
)

// Provider embeds the OpenAI-compatible base adapter, configured with
// caller-supplied endpoint paths.
type Provider struct {
	*openaicompat.Provider
}

// New creates a generic OpenAI-compatible provider.
func New(cfg providers.GenericCompatConfig, logger *zap.Logger) *Provider {
	base := openaicompat.New(openaicompat.Config{
		ProviderName:   "generic",
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		DefaultModel:   cfg.Model,
		Timeout:        cfg.Timeout,
		EndpointPath:   cfg.EndpointPath,
		ModelsEndpoint: cfg.ModelsEndpoint,
	}, logger)
	return &Provider{Provider: base}
}
