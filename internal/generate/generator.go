package generate

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/draftline/qaforge/internal/metrics"
	"github.com/draftline/qaforge/pkg/types"
)

// Invoker performs one cache-checked LLM call. Implemented by the client.
type Invoker interface {
	Invoke(ctx context.Context, req *types.CompletionRequest) (*types.Completion, error)
}

// GeneratorConfig holds configuration for the candidate generator.
type GeneratorConfig struct {
	// Model is the model used for candidate generation.
	Model string `yaml:"model"`
	// MaxTokens bounds each candidate's length.
	MaxTokens int `yaml:"max_tokens"`
	// Temperature for candidate generation. Nil leaves the provider default.
	Temperature *float64 `yaml:"temperature"`
	// RoundTimeout bounds the total wait for one generation round. Strategy
	// calls still running at the deadline are dropped, not failed
	// (default: 60 seconds).
	RoundTimeout time.Duration `yaml:"round_timeout"`
}

// DefaultGeneratorConfig returns sensible defaults.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		MaxTokens:    1024,
		RoundTimeout: 60 * time.Second,
	}
}

// Generator fans out one LLM call per strategy, all concurrently, and joins
// on the results. A failed strategy is dropped from the result set; the round
// succeeds as long as at least one strategy returns a candidate.
type Generator struct {
	invoker    Invoker
	strategies []Strategy
	config     GeneratorConfig
	logger     *slog.Logger
}

// NewGenerator creates a candidate generator over the given strategy table.
func NewGenerator(invoker Invoker, strategies []Strategy, cfg GeneratorConfig, logger *slog.Logger) *Generator {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	if cfg.RoundTimeout <= 0 {
		cfg.RoundTimeout = 60 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		invoker:    invoker,
		strategies: strategies,
		config:     cfg,
		logger:     logger,
	}
}

// Strategies returns the generator's strategy table.
func (g *Generator) Strategies() []Strategy {
	return g.strategies
}

// Generate produces candidates for a query, one per surviving strategy, plus
// the names of strategies dropped after their calls failed. An empty
// candidate list means every strategy failed; the caller treats that as a
// hard failure for the round.
//
// Result order is completion order and carries no significance.
func (g *Generator) Generate(ctx context.Context, query, contextText string) ([]types.Candidate, []string) {
	roundCtx, cancel := context.WithTimeout(ctx, g.config.RoundTimeout)
	defer cancel()

	var (
		mu         sync.Mutex
		candidates []types.Candidate
		dropped    []string
		wg         sync.WaitGroup
	)

	for _, strat := range g.strategies {
		wg.Add(1)
		go func(strat Strategy) {
			defer wg.Done()

			req := &types.CompletionRequest{
				Model:       g.config.Model,
				Prompt:      strat.Render(query, contextText),
				MaxTokens:   g.config.MaxTokens,
				Temperature: g.config.Temperature,
			}

			start := time.Now()
			comp, err := g.invoker.Invoke(roundCtx, req)
			latency := time.Since(start)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				dropped = append(dropped, strat.Name)
				metrics.CandidatesDropped.WithLabelValues(strat.Name).Inc()
				g.logger.Warn("strategy dropped from round",
					"strategy", strat.Name,
					"error", err,
				)
				return
			}
			candidates = append(candidates, types.Candidate{
				Strategy: strat.Name,
				Text:     comp.Text,
				Usage:    comp.Usage,
				Latency:  latency,
			})
		}(strat)
	}

	wg.Wait()

	sort.Strings(dropped)
	return candidates, dropped
}
