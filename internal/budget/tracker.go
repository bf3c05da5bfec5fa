// Package budget maintains a running ledger of token and cost usage against
// a configured ceiling. The ledger is process-lifetime state, reset only by
// an explicit administrative reset.
package budget

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/draftline/qaforge/internal/metrics"
	"github.com/draftline/qaforge/internal/pricing"
	qferrors "github.com/draftline/qaforge/pkg/errors"
	"github.com/draftline/qaforge/pkg/types"
)

// TrackerConfig holds configuration for the budget tracker.
type TrackerConfig struct {
	// MaxCostUSD is the hard spending ceiling. Zero disables cost enforcement.
	MaxCostUSD float64 `yaml:"max_cost_usd"`
	// SoftCostUSD is an alert threshold. Crossing it logs a warning but does
	// not block calls.
	SoftCostUSD float64 `yaml:"soft_cost_usd"`
	// MaxTokens is an optional token ceiling. Zero disables token enforcement.
	MaxTokens int64 `yaml:"max_tokens"`
}

// Status is a snapshot of the ledger.
type Status struct {
	SpentCostUSD  float64 `json:"spent_cost_usd"`
	SpentTokens   int64   `json:"spent_tokens"`
	Calls         int64   `json:"calls"`
	MaxCostUSD    float64 `json:"max_cost_usd"`
	RemainingUSD  float64 `json:"remaining_usd"`
	OverSoftLimit bool    `json:"over_soft_limit"`
}

// Tracker enforces the budget ceiling. Check precedes every outbound call;
// Commit follows every successful one. Both are safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	cfg    TrackerConfig
	calc   *pricing.Calculator
	logger *slog.Logger

	spentCost   float64
	spentTokens int64
	calls       int64
	softWarned  bool
}

// NewTracker creates a budget tracker backed by the given pricing calculator.
func NewTracker(cfg TrackerConfig, calc *pricing.Calculator, logger *slog.Logger) *Tracker {
	if calc == nil {
		calc = pricing.NewCalculator(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{cfg: cfg, calc: calc, logger: logger}
}

// Check reports whether a call with the given estimated cost is allowed.
// Returns a budget_exceeded error once the ceiling is reached or the estimate
// would cross it. Cached responses bypass Check entirely.
func (t *Tracker) Check(estimatedCost float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cfg.MaxCostUSD > 0 {
		if t.spentCost >= t.cfg.MaxCostUSD || t.spentCost+estimatedCost > t.cfg.MaxCostUSD {
			return qferrors.NewBudgetExceededError(fmt.Sprintf(
				"budget ceiling reached: spent $%.4f of $%.4f", t.spentCost, t.cfg.MaxCostUSD))
		}
	}
	if t.cfg.MaxTokens > 0 && t.spentTokens >= t.cfg.MaxTokens {
		return qferrors.NewBudgetExceededError(fmt.Sprintf(
			"token ceiling reached: spent %d of %d tokens", t.spentTokens, t.cfg.MaxTokens))
	}
	return nil
}

// EstimateCost estimates the cost of a call before it is made.
func (t *Tracker) EstimateCost(model string, promptTokens, completionTokens int) float64 {
	return t.calc.Calculate(model, promptTokens, completionTokens)
}

// Commit records actual usage from a successful call and returns its cost.
// The ledger mutation is atomic with respect to concurrent callers.
func (t *Tracker) Commit(model string, usage types.Usage) float64 {
	cost := t.calc.Calculate(model, usage.PromptTokens, usage.CompletionTokens)

	t.mu.Lock()
	t.spentCost += cost
	t.spentTokens += int64(usage.TotalTokens)
	t.calls++
	spent := t.spentCost
	warn := t.cfg.SoftCostUSD > 0 && spent >= t.cfg.SoftCostUSD && !t.softWarned
	if warn {
		t.softWarned = true
	}
	t.mu.Unlock()

	metrics.BudgetSpentUSD.Set(spent)
	metrics.BudgetSpentTokens.Add(float64(usage.TotalTokens))

	if warn {
		t.logger.Warn("soft budget threshold crossed",
			"spent_usd", spent,
			"soft_limit_usd", t.cfg.SoftCostUSD,
		)
	}
	return cost
}

// Status returns a snapshot of the ledger.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Status{
		SpentCostUSD:  t.spentCost,
		SpentTokens:   t.spentTokens,
		Calls:         t.calls,
		MaxCostUSD:    t.cfg.MaxCostUSD,
		OverSoftLimit: t.cfg.SoftCostUSD > 0 && t.spentCost >= t.cfg.SoftCostUSD,
	}
	if t.cfg.MaxCostUSD > 0 {
		s.RemainingUSD = t.cfg.MaxCostUSD - t.spentCost
		if s.RemainingUSD < 0 {
			s.RemainingUSD = 0
		}
	}
	return s
}

// Reset zeroes the ledger. Administrative operation only.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.spentCost = 0
	t.spentTokens = 0
	t.calls = 0
	t.softWarned = false
	t.mu.Unlock()

	metrics.BudgetSpentUSD.Set(0)
	t.logger.Info("budget ledger reset")
}
