package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/basui/llmgateway/llm"
	"github.com/basui/llmgateway/llm/router"
)

// =============================================================================
// 🔎 路由自省 Handler
// =============================================================================

// ProviderDescriptor describes one registered provider: its identity, the
// models it serves, and its pricing — the static facts a caller needs before
// picking a model, independent of current health.
type ProviderDescriptor struct {
	Name                    string         `json:"name"`
	Priority                int            `json:"priority"`
	SupportsFunctionCalling bool           `json:"supports_function_calling"`
	Models                  []string       `json:"models,omitempty"`
	Pricing                 map[string]any `json:"pricing,omitempty"`
}

// ProviderHealthView is the caller-facing shape of one provider's health
// state: a flattened, JSON-friendly projection of health.Status plus the
// circuit breaker state the Router currently holds for it.
type ProviderHealthView struct {
	Provider            string  `json:"provider"`
	Healthy             bool    `json:"healthy"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	LatencyEMAMs        float64 `json:"latency_ema_ms"`
	LastError           string  `json:"last_error,omitempty"`
	LastCheckAt         string  `json:"last_check_at,omitempty"`
	BreakerState        string  `json:"breaker_state"`
}

// EstimateCostRequest is the body for the cost pre-flight endpoint: just
// enough of a chat request to price it without sending it anywhere.
type EstimateCostRequest struct {
	Model     string `json:"model"`
	PromptLen int    `json:"prompt_chars,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// EstimateCostResponse reports the cheapest estimate across every provider
// that supports the requested model.
type EstimateCostResponse struct {
	Model          string  `json:"model"`
	EstimatedCostU float64 `json:"estimated_cost_usd"`
	Supported      bool    `json:"supported"`
}

// IntrospectHandler exposes the Router's provider roster, health, and cost
// estimation for operational tooling and clients that want to route or
// budget ahead of sending a request.
type IntrospectHandler struct {
	router *router.Router
	logger *zap.Logger
}

// NewIntrospectHandler 创建自省处理器
func NewIntrospectHandler(r *router.Router, logger *zap.Logger) *IntrospectHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntrospectHandler{router: r, logger: logger}
}

// HandleProviders 返回已注册 Provider 列表及其模型与定价信息
// @Summary 列出 Provider
// @Description 返回网关已注册的全部 Provider，及其支持的模型与定价
// @Tags 自省
// @Produce json
// @Success 200 {object} Response
// @Router /v1/providers [get]
func (h *IntrospectHandler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	entries := h.router.Entries()
	descriptors := make([]ProviderDescriptor, 0, len(entries))

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for _, e := range entries {
		d := ProviderDescriptor{
			Name:                    e.Provider.Name(),
			Priority:                e.Priority,
			SupportsFunctionCalling: e.Provider.SupportsNativeFunctionCalling(),
		}

		if models, err := e.Provider.ListModels(ctx); err == nil {
			for _, m := range models {
				d.Models = append(d.Models, m.ID)
			}
			d.Pricing = make(map[string]any, len(models))
			for _, m := range models {
				if pricing, ok := e.Provider.Pricing(m.ID); ok {
					d.Pricing[m.ID] = pricing
				}
			}
		}

		descriptors = append(descriptors, d)
	}

	WriteSuccess(w, ProviderListResult{Providers: descriptors})
}

// ProviderListResult wraps HandleProviders' payload.
type ProviderListResult struct {
	Providers []ProviderDescriptor `json:"providers"`
}

// HandleHealth 返回每个 Provider 的健康状态与熔断器状态
// @Summary Provider 健康状态
// @Description 返回路由层记录的每个 Provider 健康状态
// @Tags 自省
// @Produce json
// @Success 200 {object} Response
// @Router /v1/health [get]
func (h *IntrospectHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	views := make(map[string]ProviderHealthView)

	for _, name := range h.router.Providers() {
		view := ProviderHealthView{
			Provider:     name,
			BreakerState: h.router.BreakerState(name).String(),
		}
		if status, ok := h.router.HealthStatus(name); ok {
			view.Healthy = status.Healthy
			view.ConsecutiveFailures = status.ConsecutiveFailures
			view.LatencyEMAMs = float64(status.LatencyEMA) / float64(time.Millisecond)
			view.LastError = status.LastError
			if !status.LastCheckAt.IsZero() {
				view.LastCheckAt = status.LastCheckAt.Format(time.RFC3339)
			}
		}
		views[name] = view
	}

	WriteSuccess(w, views)
}

// HandleEstimateCost 预估请求的最低成本
// @Summary 成本预估
// @Description 返回该模型在当前已注册 Provider 中的最低预估成本
// @Tags 自省
// @Accept json
// @Produce json
// @Param request body EstimateCostRequest true "预估请求"
// @Success 200 {object} Response
// @Router /v1/estimate-cost [post]
func (h *IntrospectHandler) HandleEstimateCost(w http.ResponseWriter, r *http.Request) {
	var req EstimateCostRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	supported := h.router.SupportsModel(req.Model)
	chatReq := &llm.ChatRequest{
		Model:     req.Model,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: strings.Repeat("x", req.PromptLen)}},
		MaxTokens: req.MaxTokens,
	}
	cost := h.router.EstimateCost(chatReq)

	WriteSuccess(w, EstimateCostResponse{
		Model:          req.Model,
		EstimatedCostU: cost,
		Supported:      supported,
	})
}
