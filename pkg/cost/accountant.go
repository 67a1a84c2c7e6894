// Package cost reconstructs token usage and dollar cost from captured
// provider traffic: exact usage fields when the response carries them, a
// character-count estimate otherwise, and per-model pricing lookups with a
// normalized-name fuzzy fallback.
package cost

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agenttrace-ai/agenttrace/pkg/models"
	"github.com/agenttrace-ai/agenttrace/pkg/provider"
)

// Accountant holds the mutable pricing registry, seeded from the static
// adapter tables and overridable at runtime.
type Accountant struct {
	mu      sync.RWMutex
	pricing map[string]map[string]models.ModelPricing
}

// New seeds an Accountant from every built-in provider's pricing table.
func New() *Accountant {
	a := &Accountant{pricing: make(map[string]map[string]models.ModelPricing)}
	for _, ad := range provider.All() {
		table := make(map[string]models.ModelPricing, len(ad.Pricing()))
		for model, p := range ad.Pricing() {
			table[model] = p
		}
		a.pricing[ad.Name()] = table
	}
	return a
}

// SetPricing installs or overrides pricing for one (provider, model) pair.
func (a *Accountant) SetPricing(providerName, model string, p models.ModelPricing) {
	a.mu.Lock()
	defer a.mu.Unlock()
	table, ok := a.pricing[providerName]
	if !ok {
		table = make(map[string]models.ModelPricing)
		a.pricing[providerName] = table
	}
	table[model] = p
}

// ExtractExactUsage reads the provider-specific usage fields out of a parsed
// response body. Returns nil when the response carries no usage.
func (a *Accountant) ExtractExactUsage(respBody map[string]any, providerName string) *models.TokenUsage {
	if ad, ok := provider.ByName(providerName); ok {
		return ad.ExtractTokenUsage(respBody)
	}
	// Unknown provider: try every known shape.
	for _, ad := range provider.All() {
		if usage := ad.ExtractTokenUsage(respBody); usage != nil {
			return usage
		}
	}
	return nil
}

// EstimateUsage approximates usage from raw text lengths. Used only when a
// response carries no exact usage fields.
func (a *Accountant) EstimateUsage(requestText, responseText, model string) models.TokenUsage {
	cpt := charsPerToken(model)
	prompt := int(math.Ceil(float64(len(requestText)) / cpt))
	completion := int(math.Ceil(float64(len(responseText)) / cpt))
	return models.TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// charsPerToken picks the heuristic rate by model family: Claude tokenizers
// run denser than GPT/Gemini ones.
func charsPerToken(model string) float64 {
	if strings.HasPrefix(strings.ToLower(model), "claude") {
		return 3.5
	}
	return 4.0
}

// Cost computes the dollar cost of the given usage, rounded to 5 decimal
// places. When the exact model key is missing, both the target and the
// candidates are normalized (date suffixes and non-alphanumerics stripped)
// and the first substring match wins. Returns nil when nothing matches.
func (a *Accountant) Cost(providerName, model string, usage models.TokenUsage) *float64 {
	p, ok := a.lookup(providerName, model)
	if !ok {
		return nil
	}
	c := (float64(usage.PromptTokens)/1000)*p.InputCostPer1K +
		(float64(usage.CompletionTokens)/1000)*p.OutputCostPer1K
	c = math.Round(c*1e5) / 1e5
	return &c
}

// IsPricingStale reports whether a pricing entry has not been refreshed
// within maxAgeDays. Advisory only; it never blocks cost computation.
func (a *Accountant) IsPricingStale(providerName, model string, maxAgeDays int) bool {
	p, ok := a.lookup(providerName, model)
	if !ok {
		return true
	}
	return time.Since(p.LastUpdated) > time.Duration(maxAgeDays)*24*time.Hour
}

func (a *Accountant) lookup(providerName, model string) (models.ModelPricing, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	table, ok := a.pricing[providerName]
	if !ok {
		return models.ModelPricing{}, false
	}
	if p, ok := table[model]; ok {
		return p, true
	}

	// Fuzzy fallback over sorted keys so the match is deterministic.
	target := NormalizeModel(model)
	if target == "" {
		return models.ModelPricing{}, false
	}
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		candidate := NormalizeModel(k)
		if strings.Contains(target, candidate) || strings.Contains(candidate, target) {
			return table[k], true
		}
	}
	return models.ModelPricing{}, false
}

var dateSuffix = regexp.MustCompile(`[-_](\d{8}|\d{4}-\d{2}-\d{2})$`)
var nonAlnum = regexp.MustCompile(`[^a-z0-9]`)

// NormalizeModel lowercases a model name, strips a trailing date suffix, and
// removes every non-alphanumeric character.
func NormalizeModel(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = dateSuffix.ReplaceAllString(n, "")
	return nonAlnum.ReplaceAllString(n, "")
}
