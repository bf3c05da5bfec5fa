// Package generate produces answer candidates for a query by fanning out one
// LLM call per configured strategy.
package generate

import (
	"strings"
)

// Strategy is one entry in the closed generation-strategy table.
// Priority is the tie-break rank; lower values win ties.
type Strategy struct {
	Name     string `yaml:"name"`
	Template string `yaml:"template"`
	Priority int    `yaml:"priority"`
}

// DefaultStrategies returns the built-in strategy table. The set is closed:
// tie-break priority is explicit and exhaustive at definition time.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{
			Name:     "numeric-emphasis",
			Priority: 0,
			Template: "Answer the question using the source material. Lead with the most " +
				"relevant figures and quantities, and state units explicitly.\n\n" +
				"Source material:\n{{context}}\n\nQuestion: {{query}}\n\nAnswer:",
		},
		{
			Name:     "trend-emphasis",
			Priority: 1,
			Template: "Answer the question using the source material. Emphasize how the " +
				"relevant values changed over time and the direction of the trend.\n\n" +
				"Source material:\n{{context}}\n\nQuestion: {{query}}\n\nAnswer:",
		},
		{
			Name:     "comparison-emphasis",
			Priority: 2,
			Template: "Answer the question using the source material. Structure the answer " +
				"around the comparison between the entities or periods involved.\n\n" +
				"Source material:\n{{context}}\n\nQuestion: {{query}}\n\nAnswer:",
		},
	}
}

// Render substitutes the query and context into the strategy template.
func (s Strategy) Render(query, context string) string {
	r := strings.NewReplacer("{{query}}", query, "{{context}}", context)
	return r.Replace(s.Template)
}

// PriorityOf returns the priority of the named strategy within the table,
// or a rank past the end for unknown names.
func PriorityOf(strategies []Strategy, name string) int {
	for _, s := range strategies {
		if s.Name == name {
			return s.Priority
		}
	}
	return len(strategies)
}
