package evaluate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/goccy/go-json"

	"github.com/draftline/qaforge/internal/rules"
	"github.com/draftline/qaforge/pkg/types"
)

// Invoker performs one cache-checked LLM call. Implemented by the client.
type Invoker interface {
	Invoke(ctx context.Context, req *types.CompletionRequest) (*types.Completion, error)
}

// RubricWeights weights the rubric sub-scores in the composite. They should
// sum to 1; NewEvaluator normalizes them if they don't.
type RubricWeights struct {
	Accuracy     float64 `yaml:"accuracy"`
	Completeness float64 `yaml:"completeness"`
	Clarity      float64 `yaml:"clarity"`
	Relevance    float64 `yaml:"relevance"`
}

// EvaluatorConfig holds configuration for the quality evaluator.
type EvaluatorConfig struct {
	// Epsilon is the composite-score distance below which two candidates are
	// considered tied (default: 0.5 on the 0-10 composite scale).
	Epsilon float64 `yaml:"epsilon"`
	// RubricModel is the model used for the LLM-assisted rubric score.
	RubricModel string `yaml:"rubric_model"`
	// RubricMaxTokens bounds the rubric response (default: 256).
	RubricMaxTokens int `yaml:"rubric_max_tokens"`
	// Weights for the composite score.
	Weights RubricWeights `yaml:"weights"`
	// Checks configures the deterministic checks.
	Checks CheckConfig `yaml:"checks"`
}

// DefaultEvaluatorConfig returns sensible defaults.
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		Epsilon:         0.5,
		RubricMaxTokens: 256,
		Weights:         RubricWeights{Accuracy: 0.4, Completeness: 0.25, Clarity: 0.15, Relevance: 0.2},
		Checks:          DefaultCheckConfig(),
	}
}

// Evaluator scores candidates against deterministic checks and the
// LLM-assisted rubric.
type Evaluator struct {
	invoker Invoker
	checker *Checker
	rules   rules.Store
	config  EvaluatorConfig
	logger  *slog.Logger
}

// rubricResult is the JSON shape the rubric model is asked to produce.
type rubricResult struct {
	Accuracy     float64 `json:"accuracy"`
	Completeness float64 `json:"completeness"`
	Clarity      float64 `json:"clarity"`
	Relevance    float64 `json:"relevance"`
}

// NewEvaluator creates a quality evaluator. ruleStore may be nil.
func NewEvaluator(invoker Invoker, ruleStore rules.Store, cfg EvaluatorConfig, logger *slog.Logger) *Evaluator {
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = 0.5
	}
	if cfg.RubricMaxTokens <= 0 {
		cfg.RubricMaxTokens = 256
	}
	sum := cfg.Weights.Accuracy + cfg.Weights.Completeness + cfg.Weights.Clarity + cfg.Weights.Relevance
	if sum <= 0 {
		cfg.Weights = RubricWeights{Accuracy: 0.4, Completeness: 0.25, Clarity: 0.15, Relevance: 0.2}
	} else if sum != 1 {
		cfg.Weights.Accuracy /= sum
		cfg.Weights.Completeness /= sum
		cfg.Weights.Clarity /= sum
		cfg.Weights.Relevance /= sum
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		invoker: invoker,
		checker: NewChecker(cfg.Checks),
		rules:   ruleStore,
		config:  cfg,
		logger:  logger,
	}
}

// Epsilon returns the configured tie-break epsilon.
func (e *Evaluator) Epsilon() float64 {
	return e.config.Epsilon
}

// Score evaluates one candidate. Deterministic violations are always
// recorded; a rubric call failure degrades to neutral sub-scores rather than
// failing the round.
func (e *Evaluator) Score(ctx context.Context, cand types.Candidate, query, queryType string) types.EvaluationScore {
	score := types.EvaluationScore{
		Strategy:   cand.Strategy,
		Violations: e.checker.Check(cand.Text, queryType),
	}

	rubric := e.rubricScore(ctx, cand, query, queryType)
	score.Accuracy = rubric.Accuracy
	score.Completeness = rubric.Completeness
	score.Clarity = rubric.Clarity
	score.Relevance = rubric.Relevance

	w := e.config.Weights
	score.Composite = w.Accuracy*rubric.Accuracy +
		w.Completeness*rubric.Completeness +
		w.Clarity*rubric.Clarity +
		w.Relevance*rubric.Relevance

	return score
}

// Rank returns the index of the winning score. The comparison is
// deterministic: a composite lead of at least epsilon wins outright; within
// epsilon a candidate with zero hard violations beats one with any; if still
// tied, the strategy earliest in the priority order wins.
//
// Candidates are folded in priority order so repeated runs with the same
// inputs always pick the same winner.
func (e *Evaluator) Rank(scores []types.EvaluationScore, priorityOf func(strategy string) int) int {
	if len(scores) == 0 {
		return -1
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	for i := 1; i < len(order); i++ {
		for j := i; j > 0; j-- {
			a, b := order[j-1], order[j]
			if priorityOf(scores[b].Strategy) < priorityOf(scores[a].Strategy) {
				order[j-1], order[j] = order[j], order[j-1]
			}
		}
	}

	winner := order[0]
	for _, idx := range order[1:] {
		if e.better(&scores[idx], &scores[winner], priorityOf) {
			winner = idx
		}
	}
	return winner
}

func (e *Evaluator) better(a, b *types.EvaluationScore, priorityOf func(string) int) bool {
	diff := a.Composite - b.Composite
	if diff >= e.config.Epsilon {
		return true
	}
	if diff <= -e.config.Epsilon {
		return false
	}

	aHard, bHard := a.HardViolations(), b.HardViolations()
	if (aHard == 0) != (bHard == 0) {
		return aHard == 0
	}

	return priorityOf(a.Strategy) < priorityOf(b.Strategy)
}

// rubricScore asks the rubric model to grade the candidate. Failures degrade
// to a neutral score of 5 on every axis.
func (e *Evaluator) rubricScore(ctx context.Context, cand types.Candidate, query, queryType string) rubricResult {
	neutral := rubricResult{Accuracy: 5, Completeness: 5, Clarity: 5, Relevance: 5}

	req := &types.CompletionRequest{
		Model:     e.config.RubricModel,
		Prompt:    e.rubricPrompt(ctx, cand, query, queryType),
		MaxTokens: e.config.RubricMaxTokens,
	}

	comp, err := e.invoker.Invoke(ctx, req)
	if err != nil {
		e.logger.Warn("rubric call failed, using neutral score",
			"strategy", cand.Strategy,
			"error", err,
		)
		return neutral
	}

	result, err := parseRubric(comp.Text)
	if err != nil {
		e.logger.Warn("rubric response unparsable, using neutral score",
			"strategy", cand.Strategy,
			"error", err,
		)
		return neutral
	}
	return result
}

func (e *Evaluator) rubricPrompt(ctx context.Context, cand types.Candidate, query, queryType string) string {
	var sb strings.Builder
	sb.WriteString("Grade the answer below on accuracy, completeness, clarity, and relevance, ")
	sb.WriteString("each 0-10. Respond with a single JSON object, for example ")
	sb.WriteString(`{"accuracy":8,"completeness":7,"clarity":9,"relevance":8}.`)
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(query)

	if e.rules != nil {
		texts, err := e.rules.Rules(ctx, queryType)
		if err != nil {
			// Degraded mode: score without additional rules.
			e.logger.Warn("rule store unavailable, scoring without rules", "error", err)
		} else if len(texts) > 0 {
			sb.WriteString("\n\nApply these answer rules:\n")
			for _, t := range texts {
				sb.WriteString("- ")
				sb.WriteString(t)
				sb.WriteString("\n")
			}
		}
	}

	sb.WriteString("\n\nAnswer:\n")
	sb.WriteString(cand.Text)
	return sb.String()
}

// parseRubric extracts the first JSON object from the rubric response and
// clamps every axis to [0, 10].
func parseRubric(text string) (rubricResult, error) {
	var result rubricResult

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return result, fmt.Errorf("no JSON object in rubric response")
	}

	if err := json.Unmarshal([]byte(text[start:end+1]), &result); err != nil {
		return result, fmt.Errorf("decode rubric response: %w", err)
	}

	result.Accuracy = clamp(result.Accuracy)
	result.Completeness = clamp(result.Completeness)
	result.Clarity = clamp(result.Clarity)
	result.Relevance = clamp(result.Relevance)
	return result, nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}
