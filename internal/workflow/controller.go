// Package workflow drives one generate-evaluate-select round through a
// strict finite-state machine with a single bounded repair transition.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/draftline/qaforge/internal/evaluate"
	"github.com/draftline/qaforge/internal/generate"
	"github.com/draftline/qaforge/internal/metrics"
	qferrors "github.com/draftline/qaforge/pkg/errors"
	"github.com/draftline/qaforge/pkg/types"
)

// Invoker performs one cache-checked LLM call. Implemented by the client.
type Invoker interface {
	Invoke(ctx context.Context, req *types.CompletionRequest) (*types.Completion, error)
}

// ControllerConfig holds configuration for the selection controller.
type ControllerConfig struct {
	// RepairModel is the model used for the bounded rewrite pass. Empty
	// falls back to the generator's model.
	RepairModel string `yaml:"repair_model"`
	// RepairMaxTokens bounds the rewrite response (default: 1024).
	RepairMaxTokens int `yaml:"repair_max_tokens"`
}

// Controller runs the selection state machine:
//
//	GENERATING -> EVALUATING -> {ACCEPTED, REPAIRING -> DONE}
//
// The result's State records the terminal outcome: ACCEPTED when the winner
// passed evaluation clean, DONE when it went through the repair pass, FAILED
// when no strategy produced a candidate. At most one repair invoke and one
// re-score happen per round, regardless of outcome, bounding latency and cost.
type Controller struct {
	invoker   Invoker
	generator *generate.Generator
	evaluator *evaluate.Evaluator
	config    ControllerConfig
	logger    *slog.Logger
}

// NewController creates a selection controller.
func NewController(invoker Invoker, gen *generate.Generator, eval *evaluate.Evaluator, cfg ControllerConfig, logger *slog.Logger) *Controller {
	if cfg.RepairMaxTokens <= 0 {
		cfg.RepairMaxTokens = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		invoker:   invoker,
		generator: gen,
		evaluator: eval,
		config:    cfg,
		logger:    logger,
	}
}

// Run executes one round and returns the final answer with provenance.
// The only hard failure is the all-strategies-failed case; everything else
// degrades to a lower-quality answer.
func (c *Controller) Run(ctx context.Context, query, contextText, queryType string) (*types.SelectionResult, error) {
	start := time.Now()
	defer func() {
		metrics.RoundLatency.Observe(time.Since(start).Seconds())
	}()

	roundID := uuid.NewString()
	logger := c.logger.With("round_id", roundID)

	// GENERATING: fan out one call per strategy, join on settled results.
	logger.Debug("round started", "state", types.StateGenerating, "query_type", queryType)
	candidates, dropped := c.generator.Generate(ctx, query, contextText)
	if len(candidates) == 0 {
		logger.Error("all generation strategies failed", "dropped", dropped)
		return &types.SelectionResult{
				State: types.StateFailed,
				Provenance: types.Provenance{
					RoundID: roundID,
					Dropped: dropped,
				},
			}, qferrors.NewGenerationFailedError(
				fmt.Sprintf("all %d generation strategies failed", len(dropped)))
	}

	// EVALUATING: score every candidate, then rank.
	logger.Debug("scoring candidates", "state", types.StateEvaluating, "candidates", len(candidates))
	var usage types.Usage
	scores := make([]types.EvaluationScore, len(candidates))
	for i, cand := range candidates {
		scores[i] = c.evaluator.Score(ctx, cand, query, queryType)
		usage.Add(cand.Usage)
	}

	strategies := c.generator.Strategies()
	priorityOf := func(name string) int { return generate.PriorityOf(strategies, name) }
	winnerIdx := c.evaluator.Rank(scores, priorityOf)
	winner := candidates[winnerIdx]
	winnerScore := scores[winnerIdx]

	prov := types.Provenance{
		RoundID:        roundID,
		Strategy:       winner.Strategy,
		Score:          winnerScore,
		CandidateCount: len(candidates),
		Dropped:        dropped,
	}

	// ACCEPTED: the winner is clean.
	if winnerScore.HardViolations() == 0 {
		logger.Info("round accepted",
			"state", types.StateAccepted,
			"strategy", winner.Strategy,
			"composite", winnerScore.Composite,
			"candidates", len(candidates),
		)
		prov.Usage = usage
		return &types.SelectionResult{
			Answer:     winner.Text,
			Provenance: prov,
			State:      types.StateAccepted,
		}, nil
	}

	// REPAIRING: one bounded rewrite, one re-score, then DONE regardless.
	metrics.RepairTotal.Inc()
	logger.Info("round repairing",
		"state", types.StateRepairing,
		"strategy", winner.Strategy,
		"hard_violations", winnerScore.HardViolations(),
	)

	repaired, err := c.repair(ctx, winner, winnerScore)
	if err != nil {
		logger.Warn("repair call failed, returning flagged winner", "error", err)
		prov.Usage = usage
		return &types.SelectionResult{
			Answer:     winner.Text,
			Provenance: prov,
			State:      types.StateDone,
		}, nil
	}
	usage.Add(repaired.Usage)

	repairScore := c.evaluator.Score(ctx, types.Candidate{
		Strategy: winner.Strategy,
		Text:     repaired.Text,
	}, query, queryType)

	prov.Repaired = true
	prov.RepairScore = &repairScore
	prov.Usage = usage
	return &types.SelectionResult{
		Answer:     repaired.Text,
		Provenance: prov,
		State:      types.StateDone,
	}, nil
}

// repair issues the single rewrite call with an edit instruction summarizing
// the hard violations.
func (c *Controller) repair(ctx context.Context, winner types.Candidate, score types.EvaluationScore) (*types.Completion, error) {
	var sb strings.Builder
	sb.WriteString("Rewrite the answer below to fix these problems, changing as little as possible:\n")
	for _, v := range score.Violations {
		if v.Hard {
			sb.WriteString("- ")
			sb.WriteString(v.Message)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\nAnswer:\n")
	sb.WriteString(winner.Text)
	sb.WriteString("\n\nRewritten answer:")

	return c.invoker.Invoke(ctx, &types.CompletionRequest{
		Model:     c.config.RepairModel,
		Prompt:    sb.String(),
		MaxTokens: c.config.RepairMaxTokens,
	})
}
