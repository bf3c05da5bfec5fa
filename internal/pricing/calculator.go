// Package pricing calculates the dollar cost of LLM token usage.
package pricing

import (
	"strings"
)

// ModelPricing defines the pricing for a model.
type ModelPricing struct {
	Model           string  // model name, "*" suffix matches by prefix
	InputCostPer1K  float64 // USD per 1000 input tokens
	OutputCostPer1K float64 // USD per 1000 output tokens
}

// DefaultPricing contains default pricing for common models.
// Prices are in USD per 1000 tokens.
var DefaultPricing = []ModelPricing{
	{Model: "gpt-4o", InputCostPer1K: 0.005, OutputCostPer1K: 0.015},
	{Model: "gpt-4o-mini", InputCostPer1K: 0.00015, OutputCostPer1K: 0.0006},
	{Model: "gpt-4*", InputCostPer1K: 0.03, OutputCostPer1K: 0.06},
	{Model: "gpt-3.5-turbo", InputCostPer1K: 0.0005, OutputCostPer1K: 0.0015},

	{Model: "claude-3-5-sonnet*", InputCostPer1K: 0.003, OutputCostPer1K: 0.015},
	{Model: "claude-3-haiku*", InputCostPer1K: 0.00025, OutputCostPer1K: 0.00125},

	{Model: "gemini-1.5-pro*", InputCostPer1K: 0.00125, OutputCostPer1K: 0.005},
	{Model: "gemini-1.5-flash*", InputCostPer1K: 0.000075, OutputCostPer1K: 0.0003},

	{Model: "deepseek-chat", InputCostPer1K: 0.00014, OutputCostPer1K: 0.00028},
}

// Calculator calculates the cost of API usage.
type Calculator struct {
	pricing map[string]ModelPricing
}

// NewCalculator creates a new pricing calculator.
// If no pricing is provided, uses DefaultPricing.
func NewCalculator(pricing []ModelPricing) *Calculator {
	if pricing == nil {
		pricing = DefaultPricing
	}

	c := &Calculator{
		pricing: make(map[string]ModelPricing),
	}
	for _, p := range pricing {
		c.pricing[p.Model] = p
	}
	return c
}

// Calculate returns the cost for the given model and token counts.
// Returns 0 if the model is not found in the pricing data.
func (c *Calculator) Calculate(model string, inputTokens, outputTokens int) float64 {
	pricing, ok := c.findPricing(model)
	if !ok {
		return 0
	}

	inputCost := float64(inputTokens) / 1000.0 * pricing.InputCostPer1K
	outputCost := float64(outputTokens) / 1000.0 * pricing.OutputCostPer1K
	return inputCost + outputCost
}

// findPricing finds the pricing for a model, supporting wildcards.
// Tries exact match first, then the longest matching prefix pattern.
func (c *Calculator) findPricing(model string) (ModelPricing, bool) {
	modelLower := strings.ToLower(model)

	for pattern, p := range c.pricing {
		if strings.EqualFold(pattern, model) {
			return p, true
		}
	}

	var bestMatch *ModelPricing
	var bestMatchLen int
	for pattern, p := range c.pricing {
		if strings.HasSuffix(pattern, "*") {
			prefix := strings.ToLower(strings.TrimSuffix(pattern, "*"))
			if strings.HasPrefix(modelLower, prefix) && len(prefix) > bestMatchLen {
				pCopy := p
				bestMatch = &pCopy
				bestMatchLen = len(prefix)
			}
		}
	}
	if bestMatch != nil {
		return *bestMatch, true
	}
	return ModelPricing{}, false
}

// AddPricing adds or updates pricing for a specific model.
func (c *Calculator) AddPricing(pricing ModelPricing) {
	c.pricing[pricing.Model] = pricing
}

// GetPricing retrieves the pricing for a model.
func (c *Calculator) GetPricing(model string) (ModelPricing, bool) {
	return c.findPricing(model)
}
