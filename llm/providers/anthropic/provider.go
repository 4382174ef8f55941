package claude

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

const defaultAnthropicVersion = "2023-06-01"

// defaultMaxTokens is Anthropic's own required-field default when a caller
// doesn't set one; the Messages API rejects requests with no max_tokens at
// all, so the adapter fills it in rather than propagating OpenAI's higher
// default of 4096.
const defaultMaxTokens = 1024

// ClaudeProvider implements llm.Provider for Anthropic's Messages API.
// It does not embed openaicompat.Provider: the wire format diverges too
// much (array-based content blocks, x-api-key auth, a distinct SSE event
// vocabulary) to share the base adapter's request/response translation.
type ClaudeProvider struct {
	cfg           providers.ClaudeConfig
	client        *http.Client
	logger        *zap.Logger
	rewriterChain *middleware.RewriterChain
}

// NewClaudeProvider creates an Anthropic Messages API provider.
func NewClaudeProvider(cfg providers.ClaudeConfig, logger *zap.Logger) *ClaudeProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.AnthropicVersion == "" {
		cfg.AnthropicVersion = defaultAnthropicVersion
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClaudeProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
		rewriterChain: middleware.NewRewriterChain(
			middleware.NewEmptyToolsCleaner(),
		),
	}
}

func (p *ClaudeProvider) Name() string { return "claude" }

func (p *ClaudeProvider) SupportsNativeFunctionCalling() bool { return true }

// SupportsModel reports whether the pricing table recognizes this model.
func (p *ClaudeProvider) SupportsModel(model string) bool {
	return providers.AnthropicPricing.SupportsModel(model)
}

// Pricing returns the per-1k-token rate for model, if known.
func (p *ClaudeProvider) Pricing(model string) (llm.ModelPricing, bool) {
	return providers.AnthropicPricing.Lookup(model)
}

// EstimateCost estimates the request's cost ahead of sending it.
func (p *ClaudeProvider) EstimateCost(req *llm.ChatRequest) float64 {
	model := chooseClaudeModel(req, p.cfg.Model)
	return providers.EstimateCost(providers.AnthropicPricing, model, req)
}

func (p *ClaudeProvider) resolveAPIKey(ctx context.Context) string {
	if c, ok := llm.CredentialOverrideFromContext(ctx); ok {
		if strings.TrimSpace(c.APIKey) != "" {
			return strings.TrimSpace(c.APIKey)
		}
	}
	return p.cfg.APIKey
}

func (p *ClaudeProvider) buildHeaders(req *http.Request, apiKey string) {
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", p.cfg.AnthropicVersion)
	req.Header.Set("Content-Type", "application/json")
}

func (p *ClaudeProvider) endpoint(path string) string {
	return fmt.Sprintf("%s%s", strings.TrimRight(p.cfg.BaseURL, "/"), path)
}

func (p *ClaudeProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint("/v1/models"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq, p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := readClaudeErrMsg(resp.Body)
		return &llm.HealthStatus{Healthy: false, Latency: latency},
			fmt.Errorf("claude health check failed: status=%d msg=%s", resp.StatusCode, msg)
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

// ListModels queries Anthropic's /v1/models endpoint.
func (p *ClaudeProvider) ListModels(ctx context.Context) ([]llm.Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint("/v1/models"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq, p.resolveAPIKey(ctx))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readClaudeErrMsg(resp.Body)
		return nil, mapClaudeError(resp.StatusCode, msg, p.Name())
	}

	var listResp struct {
		Data []struct {
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
			CreatedAt   string `json:"created_at"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}

	models := make([]llm.Model, 0, len(listResp.Data))
	for _, m := range listResp.Data {
		models = append(models, llm.Model{ID: m.ID, Object: "model", OwnedBy: "anthropic"})
	}
	return models, nil
}

// --- Anthropic Messages API wire types ---

type claudeContentBlock struct {
	Type      string          `json:"type"` // text | tool_use | tool_result
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type claudeMessage struct {
	Role    string               `json:"role"` // user | assistant
	Content []claudeContentBlock `json:"content"`
}

type claudeTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	Tools       []claudeTool    `json:"tools,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float32         `json:"temperature,omitempty"`
	TopP        float32         `json:"top_p,omitempty"`
	StopSeqs    []string        `json:"stop_sequences,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeResponse struct {
	ID         string               `json:"id"`
	Model      string               `json:"model"`
	Role       string               `json:"role"`
	Content    []claudeContentBlock `json:"content"`
	StopReason string               `json:"stop_reason"`
	Usage      claudeUsage          `json:"usage"`
}

type claudeErrorResp struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// convertToClaudeMessages extracts the system message (Anthropic carries it
// outside the messages array) and converts the rest, including tool_use
// emission for assistant tool calls and tool_result wrapping for tool replies.
func convertToClaudeMessages(msgs []llm.Message) (system string, out []claudeMessage) {
	var systemParts []string
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, m.Content)
			continue
		case llm.RoleTool:
			out = append(out, claudeMessage{
				Role: "user",
				Content: []claudeContentBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})
			continue
		}

		role := string(m.Role)
		var blocks []claudeContentBlock
		if m.Content != "" {
			blocks = append(blocks, claudeContentBlock{Type: "text", Text: m.Content})
		}
		for _, tc := range m.ToolCalls {
			blocks = append(blocks, claudeContentBlock{
				Type:  "tool_use",
				ID:    tc.ID,
				Name:  tc.Name,
				Input: tc.Arguments,
			})
		}
		if len(blocks) > 0 {
			out = append(out, claudeMessage{Role: role, Content: blocks})
		}
	}
	return strings.Join(systemParts, "\n\n"), out
}

func convertToClaudeTools(tools []llm.ToolSchema) []claudeTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]claudeTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, claudeTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	return out
}

func (p *ClaudeProvider) buildRequest(req *llm.ChatRequest, stream bool) claudeRequest {
	system, messages := convertToClaudeMessages(req.Messages)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return claudeRequest{
		Model:       chooseClaudeModel(req, p.cfg.Model),
		System:      system,
		Messages:    messages,
		Tools:       convertToClaudeTools(req.Tools),
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		StopSeqs:    req.Stop,
		Stream:      stream,
	}
}

func (p *ClaudeProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
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

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("/v1/messages"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq, p.resolveAPIKey(ctx))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, mapClaudeError(resp.StatusCode, msg, p.Name())
	}

	var cr claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}

	return toClaudeChatResponse(cr, p.Name()), nil
}

func toClaudeChatResponse(cr claudeResponse, provider string) *llm.ChatResponse {
	msg := llm.Message{Role: llm.RoleAssistant}
	for _, block := range cr.Content {
		switch block.Type {
		case "text":
			msg.Content += block.Text
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	return &llm.ChatResponse{
		ID:       cr.ID,
		Provider: provider,
		Model:    cr.Model,
		Choices: []llm.ChatChoice{{
			Index:        0,
			FinishReason: mapClaudeStopReason(cr.StopReason),
			Message:      msg,
		}},
		Usage: llm.ChatUsage{
			PromptTokens:     cr.Usage.InputTokens,
			CompletionTokens: cr.Usage.OutputTokens,
			TotalTokens:      cr.Usage.InputTokens + cr.Usage.OutputTokens,
		},
		CreatedAt: time.Now(),
	}
}

func (p *ClaudeProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
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

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("/v1/messages"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq, p.resolveAPIKey(ctx))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, mapClaudeError(resp.StatusCode, msg, p.Name())
	}

	return streamClaudeSSE(ctx, resp.Body, p.Name(), body.Model), nil
}

// streamClaudeSSE decodes Anthropic's SSE event vocabulary
// (message_start/content_block_start/content_block_delta/message_delta/
// message_stop, with ping events ignored) through streaming.FrameParser in
// SSE mode, forwarding each text/tool_use delta as its own chunk (tool
// deltas carry the ID and name from their content_block_start), and
// delivers through a ChunkStream so the connection is always released.
func streamClaudeSSE(ctx context.Context, body io.ReadCloser, providerName, model string) <-chan llm.StreamChunk {
	streamCtx, cancel := context.WithCancel(ctx)
	released := new(atomic.Bool)
	release := func() {
		if released.CompareAndSwap(false, true) {
			body.Close()
		}
	}
	cs := streaming.NewChunkStream[llm.StreamChunk](streaming.DefaultChunkBufferSize, release, cancel)
	cs.Activate()

	go pumpClaudeSSE(streamCtx, body, providerName, model, cs)

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		for {
			chunk, ok, err := cs.Next(streamCtx)
			if !ok {
				if err != nil {
					select {
					case out <- llm.StreamChunk{Err: toClaudeStreamError(err, providerName)}:
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

// claudeStreamEvent covers the union of fields used across the event types
// this adapter cares about; unused fields per event type are left zero.
type claudeStreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta struct {
		Type        string `json:"type"` // text_delta | input_json_delta
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	ContentBlock struct {
		Type string `json:"type"` // text | tool_use
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Message struct {
		Usage claudeUsage `json:"usage"`
	} `json:"message"`
}

func pumpClaudeSSE(ctx context.Context, body io.ReadCloser, providerName, model string, cs *streaming.ChunkStream[llm.StreamChunk]) {
	parser := streaming.NewFrameParser(streaming.FrameModeSSE)
	// toolCallIDs tracks the tool_use ID assigned at content_block_start so
	// input_json_delta chunks for the same index can reference it.
	toolCallIDs := map[int]string{}
	toolCallNames := map[int]string{}

	buf := make([]byte, 4096)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			frames, err := parser.Feed(buf[:n])
			if err != nil {
				cs.Fail(err)
				return
			}
			if deliverClaudeFrames(ctx, cs, frames, providerName, model, toolCallIDs, toolCallNames) {
				return
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				deliverClaudeFrames(ctx, cs, parser.EOF(), providerName, model, toolCallIDs, toolCallNames)
				cs.CloseNormally()
				return
			}
			cs.Fail(readErr)
			return
		}
	}
}

func deliverClaudeFrames(ctx context.Context, cs *streaming.ChunkStream[llm.StreamChunk], frames []streaming.Frame, providerName, model string, toolCallIDs, toolCallNames map[int]string) bool {
	for _, frame := range frames {
		switch frame.Event {
		case "ping", "message_start":
			continue
		case "content_block_start":
			var ev claudeStreamEvent
			if err := json.Unmarshal(frame.Data, &ev); err == nil && ev.ContentBlock.Type == "tool_use" {
				toolCallIDs[ev.Index] = ev.ContentBlock.ID
				toolCallNames[ev.Index] = ev.ContentBlock.Name
			}
			continue
		case "content_block_delta":
			var ev claudeStreamEvent
			if err := json.Unmarshal(frame.Data, &ev); err != nil {
				cs.Fail(fmt.Errorf("decode content_block_delta: %w", err))
				return true
			}
			chunk := llm.StreamChunk{Provider: providerName, Model: model, Index: ev.Index, Delta: llm.Message{Role: llm.RoleAssistant}}
			switch ev.Delta.Type {
			case "text_delta":
				chunk.Delta.Content = ev.Delta.Text
			case "input_json_delta":
				chunk.Delta.ToolCalls = []llm.ToolCall{{
					ID:        toolCallIDs[ev.Index],
					Name:      toolCallNames[ev.Index],
					Arguments: json.RawMessage(ev.Delta.PartialJSON),
				}}
			default:
				continue
			}
			if err := cs.Push(ctx, chunk); err != nil {
				return true
			}
		case "message_delta":
			var ev claudeStreamEvent
			if err := json.Unmarshal(frame.Data, &ev); err == nil {
				chunk := llm.StreamChunk{
					Provider:     providerName,
					Model:        model,
					FinishReason: mapClaudeStopReason(ev.Delta.StopReason),
					Usage:        &llm.ChatUsage{CompletionTokens: ev.Usage.OutputTokens},
				}
				if err := cs.Push(ctx, chunk); err != nil {
					return true
				}
			}
		case "message_stop":
			cs.CloseNormally()
			return true
		}
	}
	return false
}

func toClaudeStreamError(err error, providerName string) *llm.Error {
	if lerr, ok := err.(*llm.Error); ok {
		return lerr
	}
	return &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: providerName}
}

func readClaudeErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var errResp claudeErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Sprintf("%s (%s)", errResp.Error.Message, errResp.Error.Type)
	}
	return string(data)
}

func mapClaudeError(status int, msg string, provider string) *llm.Error {
	switch status {
	case http.StatusUnauthorized:
		return &llm.Error{Code: llm.ErrUnauthorized, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusForbidden:
		return &llm.Error{Code: llm.ErrForbidden, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusTooManyRequests:
		return &llm.Error{Code: llm.ErrRateLimited, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	case http.StatusBadRequest:
		if strings.Contains(msg, "context") || strings.Contains(msg, "too long") {
			return &llm.Error{Code: llm.ErrContextTooLong, Message: msg, HTTPStatus: status, Provider: provider}
		}
		return &llm.Error{Code: llm.ErrInvalidRequest, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return &llm.Error{Code: llm.ErrUpstreamError, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	default:
		return &llm.Error{Code: llm.ErrUpstreamError, Message: msg, HTTPStatus: status, Retryable: status >= 500, Provider: provider}
	}
}

// mapClaudeStopReason translates Anthropic's stop_reason vocabulary into the
// gateway's unified finish reason: stop, length, tool_calls, content_filter, error.
func mapClaudeStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	case "":
		return ""
	default:
		return "stop"
	}
}

func chooseClaudeModel(req *llm.ChatRequest, defaultModel string) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	if defaultModel != "" {
		return defaultModel
	}
	return "claude-3-5-sonnet-latest"
}
