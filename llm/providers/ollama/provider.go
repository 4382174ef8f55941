// Package ollama implements the llm.Provider contract for a local Ollama
// server: no authentication, a bespoke (non-OpenAI) JSON wire format, and
// NDJSON streaming framing instead of SSE.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/basui/llmgateway/llm"
	"github.com/basui/llmgateway/llm/middleware"
	"github.com/basui/llmgateway/llm/providers"
	"github.com/basui/llmgateway/llm/streaming"
	"go.uber.org/zap"
)

// Provider talks to a local (or self-hosted) Ollama instance.
type Provider struct {
	cfg           providers.OllamaConfig
	client        *http.Client
	logger        *zap.Logger
	rewriterChain *middleware.RewriterChain
}

// New creates an Ollama provider. BaseURL defaults to the local daemon.
func New(cfg providers.OllamaConfig, logger *zap.Logger) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second // local inference can be slow on CPU
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:           cfg,
		client:        &http.Client{Timeout: timeout},
		logger:        logger,
		rewriterChain: middleware.NewRewriterChain(middleware.NewEmptyToolsCleaner()),
	}
}

func (p *Provider) Name() string { return "ollama" }

// SupportsNativeFunctionCalling is false: tool calling support varies by
// model and Ollama version and isn't part of this adapter's translation.
func (p *Provider) SupportsNativeFunctionCalling() bool { return false }

// SupportsModel always returns true: any model pulled into the local daemon
// is valid, and Ollama has no centrally published model catalog to check against.
func (p *Provider) SupportsModel(string) bool { return true }

// Pricing always reports unknown: local inference has no per-token cost.
func (p *Provider) Pricing(string) (llm.ModelPricing, bool) { return llm.ModelPricing{}, false }

// EstimateCost is always zero for local inference.
func (p *Provider) EstimateCost(*llm.ChatRequest) float64 { return 0 }

func (p *Provider) endpoint(path string) string {
	return fmt.Sprintf("%s%s", strings.TrimRight(p.cfg.BaseURL, "/"), path)
}

func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint("/api/tags"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, fmt.Errorf("ollama health check failed: status=%d", resp.StatusCode)
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

// ListModels lists locally-pulled models via /api/tags.
func (p *Provider) ListModels(ctx context.Context) ([]llm.Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint("/api/tags"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, providers.MapHTTPError(resp.StatusCode, providers.ReadErrorMessage(resp.Body), p.Name())
	}

	var tagsResp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tagsResp); err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}

	models := make([]llm.Model, 0, len(tagsResp.Models))
	for _, m := range tagsResp.Models {
		models = append(models, llm.Model{ID: m.Name, Object: "model", OwnedBy: "ollama"})
	}
	return models, nil
}

// --- Ollama /api/chat wire format ---

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float32 `json:"temperature,omitempty"`
	TopP        float32 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaResponse struct {
	Model     string         `json:"model"`
	CreatedAt string         `json:"created_at"`
	Message   ollamaMessage  `json:"message"`
	Done      bool           `json:"done"`
	DoneReason string        `json:"done_reason,omitempty"`
	PromptEvalCount int      `json:"prompt_eval_count,omitempty"`
	EvalCount       int      `json:"eval_count,omitempty"`
}

func convertToOllamaMessages(msgs []llm.Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func (p *Provider) buildRequest(req *llm.ChatRequest, stream bool) ollamaRequest {
	var opts *ollamaOptions
	if req.Temperature > 0 || req.TopP > 0 || len(req.Stop) > 0 || req.MaxTokens > 0 {
		opts = &ollamaOptions{Temperature: req.Temperature, TopP: req.TopP, Stop: req.Stop, NumPredict: req.MaxTokens}
	}
	return ollamaRequest{
		Model:    chooseOllamaModel(req, p.cfg.Model),
		Messages: convertToOllamaMessages(req.Messages),
		Stream:   stream,
		Options:  opts,
	}
}

func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	rewrittenReq, err := p.rewriterChain.Execute(ctx, req)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: fmt.Sprintf("request rewrite failed: %v", err), HTTPStatus: http.StatusBadRequest, Provider: p.Name()}
	}
	req = rewrittenReq

	body := p.buildRequest(req, false)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("/api/chat"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, providers.MapHTTPError(resp.StatusCode, providers.ReadErrorMessage(resp.Body), p.Name())
	}

	var or ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}

	finishReason := or.DoneReason
	if finishReason == "" {
		finishReason = "stop"
	}
	return &llm.ChatResponse{
		Provider: p.Name(),
		Model:    or.Model,
		Choices: []llm.ChatChoice{{
			Index:        0,
			FinishReason: finishReason,
			Message:      llm.Message{Role: llm.RoleAssistant, Content: or.Message.Content},
		}},
		Usage: llm.ChatUsage{
			PromptTokens:     or.PromptEvalCount,
			CompletionTokens: or.EvalCount,
			TotalTokens:      or.PromptEvalCount + or.EvalCount,
		},
		CreatedAt: time.Now(),
	}, nil
}

func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	rewrittenReq, err := p.rewriterChain.Execute(ctx, req)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: fmt.Sprintf("request rewrite failed: %v", err), HTTPStatus: http.StatusBadRequest, Provider: p.Name()}
	}
	req = rewrittenReq

	body := p.buildRequest(req, true)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("/api/chat"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, providers.MapHTTPError(resp.StatusCode, providers.ReadErrorMessage(resp.Body), p.Name())
	}

	return streamOllamaNDJSON(ctx, resp.Body, p.Name(), body.Model), nil
}

// streamOllamaNDJSON decodes Ollama's newline-delimited JSON stream via
// streaming.FrameParser in NDJSON mode and delivers chunks through a
// ChunkStream so cancellation always releases the connection.
func streamOllamaNDJSON(ctx context.Context, body io.ReadCloser, providerName, model string) <-chan llm.StreamChunk {
	streamCtx, cancel := context.WithCancel(ctx)
	released := new(atomic.Bool)
	release := func() {
		if released.CompareAndSwap(false, true) {
			body.Close()
		}
	}
	cs := streaming.NewChunkStream[llm.StreamChunk](streaming.DefaultChunkBufferSize, release, cancel)
	cs.Activate()

	go pumpOllamaNDJSON(streamCtx, body, providerName, model, cs)

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		for {
			chunk, ok, err := cs.Next(streamCtx)
			if !ok {
				if err != nil {
					select {
					case out <- llm.StreamChunk{Err: toOllamaStreamError(err, providerName)}:
					case <-streamCtx.Done():
					}
				}
				return
			}
			select {
			case out <- chunk:
			case <-streamCtx.Done():
				return
			}
		}
	}()
	return out
}

func pumpOllamaNDJSON(ctx context.Context, body io.ReadCloser, providerName, model string, cs *streaming.ChunkStream[llm.StreamChunk]) {
	parser := streaming.NewFrameParser(streaming.FrameModeNDJSON)
	buf := make([]byte, 4096)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			frames, _ := parser.Feed(buf[:n])
			if deliverOllamaFrames(ctx, cs, frames, providerName, model) {
				return
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				deliverOllamaFrames(ctx, cs, parser.EOF(), providerName, model)
				cs.CloseNormally()
				return
			}
			cs.Fail(readErr)
			return
		}
	}
}

func deliverOllamaFrames(ctx context.Context, cs *streaming.ChunkStream[llm.StreamChunk], frames []streaming.Frame, providerName, model string) bool {
	for _, frame := range frames {
		var or ollamaResponse
		if err := json.Unmarshal(frame.Data, &or); err != nil {
			cs.Fail(fmt.Errorf("decode ollama frame: %w", err))
			return true
		}
		chunk := llm.StreamChunk{
			Provider:     providerName,
			Model:        model,
			Delta:        llm.Message{Role: llm.RoleAssistant, Content: or.Message.Content},
			FinishReason: or.DoneReason,
		}
		if or.Done {
			if chunk.FinishReason == "" {
				chunk.FinishReason = "stop"
			}
			chunk.Usage = &llm.ChatUsage{
				PromptTokens:     or.PromptEvalCount,
				CompletionTokens: or.EvalCount,
				TotalTokens:      or.PromptEvalCount + or.EvalCount,
			}
		}
		if err := cs.Push(ctx, chunk); err != nil {
			return true
		}
		if or.Done {
			cs.CloseNormally()
			return true
		}
	}
	return false
}

func toOllamaStreamError(err error, providerName string) *llm.Error {
	if lerr, ok := err.(*llm.Error); ok {
		return lerr
	}
	return &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: providerName}
}

func chooseOllamaModel(req *llm.ChatRequest, defaultModel string) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	if defaultModel != "" {
		return defaultModel
	}
	return "llama3"
}
