// Package qaforge is a control plane for LLM invocations. It wraps a
// provider with a multi-tier response cache, rate limiting, budget
// enforcement, retry with model fallback, and a generate-evaluate-select
// workflow that produces one vetted answer per query.
//
// Basic usage:
//
//	client, err := qaforge.New(
//	    qaforge.WithProvider(myProvider),
//	    qaforge.WithModels("gpt-4o", "gpt-4o-mini"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	result, err := client.GenerateAndSelect(ctx, query, contextText, "numeric")
package qaforge

import (
	"github.com/draftline/qaforge/internal/budget"
	"github.com/draftline/qaforge/internal/cache"
	"github.com/draftline/qaforge/internal/evaluate"
	"github.com/draftline/qaforge/internal/generate"
	"github.com/draftline/qaforge/internal/pricing"
	"github.com/draftline/qaforge/internal/resilience"
	"github.com/draftline/qaforge/internal/rules"
	"github.com/draftline/qaforge/internal/workflow"
	"github.com/draftline/qaforge/pkg/errors"
	"github.com/draftline/qaforge/pkg/provider"
	"github.com/draftline/qaforge/pkg/types"
)

// Version is the current version of qaforge.
const Version = "1.0.0"

// Re-export core request/response types for convenience.
// Users can use qaforge.CompletionRequest instead of types.CompletionRequest.
type (
	// CompletionRequest is a single LLM invocation request.
	CompletionRequest = types.CompletionRequest

	// Completion is an LLM invocation result.
	Completion = types.Completion

	// Usage contains token usage statistics for a request.
	Usage = types.Usage

	// Candidate is one generated answer with its originating strategy.
	Candidate = types.Candidate

	// Violation is one deterministic quality-check failure.
	Violation = types.Violation

	// EvaluationScore is the quality assessment for one candidate.
	EvaluationScore = types.EvaluationScore

	// SelectionResult is the outcome of a generate-evaluate-select round.
	SelectionResult = types.SelectionResult

	// Provenance records how a round's answer was produced.
	Provenance = types.Provenance

	// WorkflowState is a state of the selection workflow.
	WorkflowState = types.WorkflowState

	// ContextHandle references provider-side cached context.
	ContextHandle = types.ContextHandle
)

// Re-export provider types.
type (
	// Provider executes LLM calls.
	Provider = provider.Provider

	// ContextCacher manages provider-side context caching.
	ContextCacher = provider.ContextCacher
)

// Re-export configuration types.
type (
	// CacheControl allows per-request cache behavior customization.
	CacheControl = cache.Control

	// CacheConfig holds the cache handler configuration.
	CacheConfig = cache.HandlerConfig

	// RedisConfig holds the shared cache tier configuration.
	RedisConfig = cache.RedisConfig

	// CacheStore is the low-level cache tier interface.
	CacheStore = cache.Store

	// TieredCacheStats holds per-tier cache statistics.
	TieredCacheStats = cache.TieredStats

	// RateLimitConfig holds the concurrency and per-minute call limits.
	RateLimitConfig = resilience.LimiterConfig

	// BudgetConfig holds the spending ceiling configuration.
	BudgetConfig = budget.TrackerConfig

	// BudgetStatus is a snapshot of the budget ledger.
	BudgetStatus = budget.Status

	// ModelPricing holds per-token pricing for a model.
	ModelPricing = pricing.ModelPricing

	// GeneratorConfig holds the candidate generator configuration.
	GeneratorConfig = generate.GeneratorConfig

	// GenerationStrategy is one entry in the generation strategy table.
	GenerationStrategy = generate.Strategy

	// EvaluatorConfig holds the quality evaluator configuration.
	EvaluatorConfig = evaluate.EvaluatorConfig

	// RuleStore provides answer rules by query type.
	RuleStore = rules.Store

	// WorkflowConfig holds the selection workflow configuration.
	WorkflowConfig = workflow.ControllerConfig
)

// Re-export error types.
type (
	// Error is a standardized error from the control plane or a provider.
	Error = errors.Error
)

// Re-export workflow state constants.
const (
	StateGenerating = types.StateGenerating
	StateEvaluating = types.StateEvaluating
	StateAccepted   = types.StateAccepted
	StateRepairing  = types.StateRepairing
	StateDone       = types.StateDone
	StateFailed     = types.StateFailed
)

// Re-export cache tier labels.
const (
	// CacheTierL1 is the in-process memory tier.
	CacheTierL1 = cache.TierL1

	// CacheTierL2 is the shared Redis tier.
	CacheTierL2 = cache.TierL2

	// CacheTierL3 is the provider-side context cache tier.
	CacheTierL3 = cache.TierL3
)

// Re-export error type constants.
const (
	TypeRateLimit          = errors.TypeRateLimit
	TypeTimeout            = errors.TypeTimeout
	TypeServiceUnavailable = errors.TypeServiceUnavailable
	TypeInvalidRequest     = errors.TypeInvalidRequest
	TypeContentPolicy      = errors.TypeContentPolicy
	TypeBudgetExceeded     = errors.TypeBudgetExceeded
	TypeGenerationFailed   = errors.TypeGenerationFailed
	TypeInternalError      = errors.TypeInternalError
)

// Re-export error predicates and factory functions.
var (
	IsRateLimit        = errors.IsRateLimit
	IsTimeout          = errors.IsTimeout
	IsInvalidRequest   = errors.IsInvalidRequest
	IsContentPolicy    = errors.IsContentPolicy
	IsBudgetExceeded   = errors.IsBudgetExceeded
	IsGenerationFailed = errors.IsGenerationFailed
	IsRetryable        = errors.IsRetryable

	NewRateLimitError          = errors.NewRateLimitError
	NewTimeoutError            = errors.NewTimeoutError
	NewServiceUnavailableError = errors.NewServiceUnavailableError
	NewInvalidRequestError     = errors.NewInvalidRequestError
	NewContentPolicyError      = errors.NewContentPolicyError
	NewInternalError           = errors.NewInternalError
)

// DefaultStrategies returns the built-in generation strategy table.
func DefaultStrategies() []GenerationStrategy {
	return generate.DefaultStrategies()
}
