// Package provider holds per-vendor knowledge of request, response, and
// stream-delta shapes: message extraction, token-usage fields, and static
// pricing tables. Adapters are pure lookups with no state.
package provider

import "github.com/agenttrace-ai/agenttrace/pkg/models"

// Adapter is the boundary contract between the tracing core and the
// interceptor wiring for one AI vendor.
type Adapter interface {
	// Name is the provider identifier used in events and pricing keys.
	Name() string
	// IsRequestFor reports whether a URL targets this provider's API.
	IsRequestFor(url string) bool
	// ExtractModel pulls the model name out of a request body.
	ExtractModel(body map[string]any) string
	// ExtractMessages pulls the conversation messages out of a request body.
	ExtractMessages(body map[string]any) []any
	// ExtractTokenUsage pulls exact token usage out of a response body,
	// or nil when the response carries none.
	ExtractTokenUsage(respBody map[string]any) *models.TokenUsage
	// EstimateTokens estimates the token count of raw text for a model.
	EstimateTokens(text, model string) int
	// Pricing returns the static per-model pricing table.
	Pricing() map[string]models.ModelPricing
}

// All returns every built-in adapter.
func All() []Adapter {
	return []Adapter{OpenAI{}, Anthropic{}, Google{}}
}

// ForURL returns the adapter whose API a URL targets.
func ForURL(url string) (Adapter, bool) {
	for _, a := range All() {
		if a.IsRequestFor(url) {
			return a, true
		}
	}
	return nil, false
}

// ByName returns the adapter with the given provider name.
func ByName(name string) (Adapter, bool) {
	for _, a := range All() {
		if a.Name() == name {
			return a, true
		}
	}
	return nil, false
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) (int, bool) {
	switch n := m[key].(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}
