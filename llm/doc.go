// Copyright 2024 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package llm provides the unified LLM provider abstraction the gateway
routes against.

# Overview

The llm package defines the Provider contract every adapter implements,
the wire-agnostic ChatRequest/ChatResponse/StreamChunk types the router
and API layer exchange, and the credential-override mechanism used to
carry a per-request API key through a context without it leaking into
logs.

# Architecture

	┌─────────────────────────────────────────────────────────────┐
	│                    API layer (api/handlers)                 │
	├─────────────────────────────────────────────────────────────┤
	│                    llm/router.Router                        │
	│   (strategy selection, retry+failover, metrics, health)      │
	├─────────────────────────────────────────────────────────────┤
	│  ┌──────────────┐ ┌───────────────┐ ┌──────────────────┐   │
	│  │ llm/health    │ │ llm/ratelimit │ │ llm/circuitbreaker│  │
	│  └──────────────┘ └───────────────┘ └──────────────────┘   │
	├─────────────────────────────────────────────────────────────┤
	│                    Provider interface (this package)         │
	├──────────┬──────────┬──────────┬──────────┬─────────────────┤
	│  OpenAI  │ Anthropic│  Gemini  │  Ollama  │ vLLM / generic  │
	└──────────┴──────────┴──────────┴──────────┴─────────────────┘

# Provider Interface

	type Provider interface {
	    Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	    Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
	    HealthCheck(ctx context.Context) (*HealthStatus, error)
	    Name() string
	    SupportsNativeFunctionCalling() bool
	    ListModels(ctx context.Context) ([]Model, error)
	    SupportsModel(model string) bool
	    Pricing(model string) (ModelPricing, bool)
	    EstimateCost(req *ChatRequest) float64
	}

# Supported Providers

  - OpenAI (and any OpenAI-compatible endpoint via llm/providers/generic)
  - Anthropic
  - Google Gemini
  - Ollama (local, unauthenticated)
  - vLLM

# Usage

Single adapter:

	provider := openai.NewOpenAIProvider(providers.OpenAIConfig{
	    BaseProviderConfig: providers.BaseProviderConfig{APIKey: "sk-...", Model: "gpt-4o"},
	}, logger)
	resp, err := provider.Completion(ctx, &llm.ChatRequest{
	    Model:    "gpt-4o",
	    Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hello!"}},
	})

Through the router, with failover across providers:

	resp, err := router.Completion(ctx, &llm.ChatRequest{Model: "claude-3-haiku-20240307"})
	fmt.Println(resp.RoutingInfo.SelectedProvider, resp.RoutingInfo.FallbackUsed)

# Streaming

	stream, err := provider.Stream(ctx, &llm.ChatRequest{Model: "gpt-4o", Messages: messages})
	for chunk := range stream {
	    if chunk.Err != nil {
	        break
	    }
	    fmt.Print(chunk.Delta.Content)
	}

# Error Handling

	if llm.IsRetryable(err) {
	    // the router already retried this across providers up to max_retries;
	    // a caller wrapping a single adapter directly may retry itself
	}

See the subpackages for the rest of the gateway:
  - llm/router: provider selection, retry/failover, request-ID stamping
  - llm/health: periodic + in-band health monitoring
  - llm/ratelimit: per-provider token-bucket limiting and stream concurrency caps
  - llm/circuitbreaker: per-adapter three-state breaker
  - llm/streaming: event frame parser and Chunk Stream state machine
  - llm/metrics: per-provider/global counters and Prometheus export
  - llm/middleware: pre-dispatch request rewriters
  - llm/tokenizer, llm/providers/pricing.go: cost estimation
  - llm/providers/*: provider-specific wire translation
*/
package llm
