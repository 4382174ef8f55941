// Package vllm adapts a self-hosted vLLM OpenAI-compatible server. vLLM
// implements the OpenAI Chat Completions wire format, so this is a thin
// wrapper around openaicompat.Provider with vLLM's defaults (no API key
// required, pricing left unknown since deployments vary).
package vllm

import (
	"net/http"

	"github.com/basui/llmgateway/llm/providers"
	"github.com/basui/llmgateway/llm/providers/openaicompat"
	"go.uber.org/zap"
)

// Provider embeds the OpenAI-compatible base adapter unmodified: vLLM's
// /v1/chat/completions endpoint, SSE framing, and response shape all match
// the OpenAI contract exactly.
type Provider struct {
	*openaicompat.Provider
}

// New creates a vLLM provider pointed at a self-hosted server.
func New(cfg providers.VLLMConfig, logger *zap.Logger) *Provider {
	base := openaicompat.New(openaicompat.Config{
		ProviderName: "vllm",
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		DefaultModel: cfg.Model,
		Timeout:      cfg.Timeout,
	}, logger)

	if cfg.APIKey == "" {
		// Most vLLM deployments run with no auth at all; skip the Bearer
		// header entirely rather than sending "Authorization: Bearer ".
		base.SetBuildHeaders(func(req *http.Request, _ string) {
			req.Header.Set("Content-Type", "application/json")
		})
	}

	return &Provider{Provider: base}
}
