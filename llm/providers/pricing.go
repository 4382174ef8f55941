package providers

import (
	"strings"

	"github.com/basui/llmgateway/llm"
	"github.com/basui/llmgateway/llm/tokenizer"
)

// PricingTable is a static per-model price list, quoted per 1,000 tokens.
// Exact match wins; otherwise the longest registered prefix matching the
// model name is used, so "gpt-4o-mini-2024-07-18" resolves via "gpt-4o-mini".
type PricingTable map[string]llm.ModelPricing

// Lookup resolves a model's pricing, or ok=false if nothing matches.
func (t PricingTable) Lookup(model string) (llm.ModelPricing, bool) {
	if p, ok := t[model]; ok {
		return p, true
	}
	var best string
	var bestPricing llm.ModelPricing
	for prefix, p := range t {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
			bestPricing = p
		}
	}
	if best == "" {
		return llm.ModelPricing{}, false
	}
	return bestPricing, true
}

// SupportsModel reports whether the table has pricing (and therefore
// knowledge of) the given model.
func (t PricingTable) SupportsModel(model string) bool {
	_, ok := t.Lookup(model)
	return ok
}

// OpenAIPricing is grounded on OpenAI's published per-1k-token rates as of
// the spec's writing; adjust here as prices change, no code changes needed.
var OpenAIPricing = PricingTable{
	"gpt-4o-mini": {InputPer1K: 0.00015, OutputPer1K: 0.0006, Currency: "USD"},
	"gpt-4o":      {InputPer1K: 0.0025, OutputPer1K: 0.01, Currency: "USD"},
	"gpt-4-turbo": {InputPer1K: 0.01, OutputPer1K: 0.03, Currency: "USD"},
	"gpt-4":       {InputPer1K: 0.03, OutputPer1K: 0.06, Currency: "USD"},
	"gpt-3.5":     {InputPer1K: 0.0005, OutputPer1K: 0.0015, Currency: "USD"},
	"o1":          {InputPer1K: 0.015, OutputPer1K: 0.06, Currency: "USD"},
}

// AnthropicPricing is grounded on Anthropic's published per-1k-token rates.
var AnthropicPricing = PricingTable{
	"claude-3-5-sonnet": {InputPer1K: 0.003, OutputPer1K: 0.015, Currency: "USD"},
	"claude-3-5-haiku":  {InputPer1K: 0.0008, OutputPer1K: 0.004, Currency: "USD"},
	"claude-3-opus":     {InputPer1K: 0.015, OutputPer1K: 0.075, Currency: "USD"},
	"claude-3-haiku":    {InputPer1K: 0.00025, OutputPer1K: 0.00125, Currency: "USD"},
}

// GeminiPricing is grounded on Google's published per-1k-token rates.
var GeminiPricing = PricingTable{
	"gemini-3-pro":   {InputPer1K: 0.00125, OutputPer1K: 0.005, Currency: "USD"},
	"gemini-2.0-pro": {InputPer1K: 0.00125, OutputPer1K: 0.005, Currency: "USD"},
	"gemini-1.5-pro": {InputPer1K: 0.00125, OutputPer1K: 0.005, Currency: "USD"},
	"gemini-flash":   {InputPer1K: 0.000075, OutputPer1K: 0.0003, Currency: "USD"},
}

// EstimateCost estimates the cost of a request against a pricing table:
// prompt tokens come from the project's chars-per-token heuristic and
// completion tokens from MaxTokens, or half the prompt tokens when MaxTokens
// is unset (never fails; unknown model is free).
func EstimateCost(table PricingTable, model string, req *llm.ChatRequest) float64 {
	pricing, ok := table.Lookup(model)
	if !ok {
		return 0
	}

	est := tokenizer.NewEstimatorTokenizer(model, 0)
	msgs := make([]tokenizer.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, tokenizer.Message{Role: string(m.Role), Content: m.Content})
	}
	promptTokens, _ := est.CountMessages(msgs)

	completionTokens := req.MaxTokens
	if completionTokens <= 0 {
		completionTokens = promptTokens / 2 // no explicit budget: guess a modest reply
	}

	return float64(promptTokens)/1000*pricing.InputPer1K + float64(completionTokens)/1000*pricing.OutputPer1K
}
