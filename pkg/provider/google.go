package provider

import (
	"strings"
	"time"

	"github.com/agenttrace-ai/agenttrace/pkg/models"
)

// Google adapts Gemini generateContent traffic.
type Google struct{}

func (Google) Name() string { return "google" }

func (Google) IsRequestFor(url string) bool {
	return strings.Contains(url, "generativelanguage.googleapis.com") ||
		strings.Contains(url, ":generateContent") ||
		strings.Contains(url, ":streamGenerateContent")
}

// ExtractModel reads the model field when present; Gemini requests usually
// carry the model in the URL instead, so callers fall back to URL parsing.
func (Google) ExtractModel(body map[string]any) string {
	return stringField(body, "model")
}

// ExtractMessages returns Gemini's contents array, its equivalent of a
// message list.
func (Google) ExtractMessages(body map[string]any) []any {
	msgs, _ := body["contents"].([]any)
	return msgs
}

func (Google) ExtractTokenUsage(respBody map[string]any) *models.TokenUsage {
	usage, ok := respBody["usageMetadata"].(map[string]any)
	if !ok {
		return nil
	}
	prompt, okP := intField(usage, "promptTokenCount")
	completion, okC := intField(usage, "candidatesTokenCount")
	if !okP && !okC {
		return nil
	}
	total, okT := intField(usage, "totalTokenCount")
	if !okT {
		total = prompt + completion
	}
	return &models.TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      total,
	}
}

func (Google) EstimateTokens(text, _ string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

var googlePricingUpdated = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func (Google) Pricing() map[string]models.ModelPricing {
	return map[string]models.ModelPricing{
		"gemini-1.5-pro":   {InputCostPer1K: 0.00125, OutputCostPer1K: 0.005, Currency: "USD", LastUpdated: googlePricingUpdated},
		"gemini-1.5-flash": {InputCostPer1K: 0.000075, OutputCostPer1K: 0.0003, Currency: "USD", LastUpdated: googlePricingUpdated},
		"gemini-2.0-flash": {InputCostPer1K: 0.0001, OutputCostPer1K: 0.0004, Currency: "USD", LastUpdated: googlePricingUpdated},
	}
}
