// Package evaluate scores answer candidates against deterministic checks and
// an LLM-assisted rubric, and ranks them with a deterministic tie-break.
package evaluate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/draftline/qaforge/pkg/types"
)

// Violation codes produced by the deterministic checks.
const (
	CodeEmpty           = "empty_answer"
	CodeTooShort        = "length_below_minimum"
	CodeTooLong         = "length_above_maximum"
	CodeForbiddenFormat = "forbidden_format"
	CodeMissingSlot     = "missing_required_slot"
	CodeNoTerminalStop  = "no_terminal_punctuation"
)

// LengthBounds bounds answer length in runes for a query type.
type LengthBounds struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// CheckConfig holds the deterministic check configuration.
type CheckConfig struct {
	// Lengths maps query type to its answer length bounds.
	Lengths map[string]LengthBounds `yaml:"lengths"`
	// DefaultLength applies to query types without explicit bounds.
	DefaultLength LengthBounds `yaml:"default_length"`
	// Forbidden holds regexps for formatting that must not appear.
	Forbidden []string `yaml:"forbidden"`
	// RequiredSlots maps query type to regexps that must match the answer.
	RequiredSlots map[string][]string `yaml:"required_slots"`
}

// DefaultCheckConfig returns the built-in deterministic checks.
func DefaultCheckConfig() CheckConfig {
	return CheckConfig{
		Lengths: map[string]LengthBounds{
			"numeric":    {Min: 10, Max: 800},
			"trend":      {Min: 20, Max: 1200},
			"comparison": {Min: 20, Max: 1200},
		},
		DefaultLength: LengthBounds{Min: 10, Max: 2000},
		Forbidden: []string{
			"```",            // code fences never belong in an answer
			`</?[a-zA-Z]+>`,  // raw HTML tags
			`(?m)^#{1,6}\s`,  // markdown headings
			`(?i)as an ai\b`, // assistant self-reference
		},
		RequiredSlots: map[string][]string{
			"numeric": {`\d`},
		},
	}
}

// Checker runs the deterministic quality checks.
type Checker struct {
	config    CheckConfig
	forbidden []*regexp.Regexp
	slots     map[string][]*regexp.Regexp
}

// NewChecker compiles the check configuration. Invalid patterns are skipped.
func NewChecker(cfg CheckConfig) *Checker {
	c := &Checker{
		config: cfg,
		slots:  make(map[string][]*regexp.Regexp),
	}
	for _, pat := range cfg.Forbidden {
		if re, err := regexp.Compile(pat); err == nil {
			c.forbidden = append(c.forbidden, re)
		}
	}
	for qt, pats := range cfg.RequiredSlots {
		for _, pat := range pats {
			if re, err := regexp.Compile(pat); err == nil {
				c.slots[qt] = append(c.slots[qt], re)
			}
		}
	}
	return c
}

// Check returns the deterministic violations for an answer. Violations are
// recorded even when the LLM-assisted score is high.
func (c *Checker) Check(text, queryType string) []types.Violation {
	var violations []types.Violation

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return []types.Violation{{
			Code:    CodeEmpty,
			Message: "answer is empty",
			Hard:    true,
		}}
	}

	bounds, ok := c.config.Lengths[queryType]
	if !ok {
		bounds = c.config.DefaultLength
	}
	length := utf8.RuneCountInString(trimmed)
	if bounds.Min > 0 && length < bounds.Min {
		violations = append(violations, types.Violation{
			Code:    CodeTooShort,
			Message: fmt.Sprintf("answer length %d below minimum %d for query type %q", length, bounds.Min, queryType),
			Hard:    true,
		})
	}
	if bounds.Max > 0 && length > bounds.Max {
		violations = append(violations, types.Violation{
			Code:    CodeTooLong,
			Message: fmt.Sprintf("answer length %d above maximum %d for query type %q", length, bounds.Max, queryType),
			Hard:    true,
		})
	}

	for _, re := range c.forbidden {
		if re.MatchString(trimmed) {
			violations = append(violations, types.Violation{
				Code:    CodeForbiddenFormat,
				Message: fmt.Sprintf("answer matches forbidden pattern %q", re.String()),
				Hard:    true,
			})
		}
	}

	for _, re := range c.slots[queryType] {
		if !re.MatchString(trimmed) {
			violations = append(violations, types.Violation{
				Code:    CodeMissingSlot,
				Message: fmt.Sprintf("answer missing required content %q for query type %q", re.String(), queryType),
				Hard:    true,
			})
		}
	}

	if last, _ := utf8.DecodeLastRuneInString(trimmed); !strings.ContainsRune(".!?", last) {
		violations = append(violations, types.Violation{
			Code:    CodeNoTerminalStop,
			Message: "answer does not end with terminal punctuation",
			Hard:    false,
		})
	}

	return violations
}
