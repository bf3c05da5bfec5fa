package qaforge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/draftline/qaforge/internal/budget"
	"github.com/draftline/qaforge/internal/cache"
	"github.com/draftline/qaforge/internal/evaluate"
	"github.com/draftline/qaforge/internal/generate"
	"github.com/draftline/qaforge/internal/healthcheck"
	"github.com/draftline/qaforge/internal/metrics"
	"github.com/draftline/qaforge/internal/pricing"
	"github.com/draftline/qaforge/internal/resilience"
	"github.com/draftline/qaforge/internal/rules"
	"github.com/draftline/qaforge/internal/tokenizer"
	"github.com/draftline/qaforge/internal/workflow"
	qferrors "github.com/draftline/qaforge/pkg/errors"
	"github.com/draftline/qaforge/pkg/provider"
	"github.com/draftline/qaforge/pkg/types"
)

// Client is the main entry point for qaforge. It wraps a provider with
// multi-tier caching, rate limiting, budget enforcement, retry and model
// fallback, and drives the generate-evaluate-select workflow.
//
// Client is safe for concurrent use by multiple goroutines.
type Client struct {
	provider   provider.Provider
	ctxCacher  provider.ContextCacher
	handler    *cache.Handler
	limiter    *resilience.Limiter
	tracker    *budget.Tracker
	ruleStore  rules.Store
	generator  *generate.Generator
	evaluator  *evaluate.Evaluator
	controller *workflow.Controller
	config     *ClientConfig
	logger     *slog.Logger

	prober       *healthcheck.Prober
	proberCancel context.CancelFunc
}

// New creates a new qaforge client with the given options.
//
// Example:
//
//	client, err := qaforge.New(
//	    qaforge.WithProvider(myProvider),
//	    qaforge.WithModels("gpt-4o", "gpt-4o-mini"),
//	    qaforge.WithBudget(budget.TrackerConfig{MaxCostUSD: 10}),
//	)
func New(opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.configErr != nil {
		return nil, fmt.Errorf("load config file: %w", cfg.configErr)
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("at least one model is required")
	}

	c := &Client{
		provider: cfg.Provider,
		config:   cfg,
		logger:   cfg.Logger,
	}

	c.ctxCacher = cfg.ContextCacher
	if c.ctxCacher == nil {
		if cc, ok := cfg.Provider.(provider.ContextCacher); ok {
			c.ctxCacher = cc
		}
	}

	shared := cfg.SharedStore
	if shared == nil && cfg.Redis != nil {
		store, err := cache.NewRedisStore(*cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis cache: %w", err)
		}
		shared = store
	}

	local := cache.NewMemoryStore(cache.DefaultMemoryStoreConfig())
	tiered := cache.NewTieredCache(local, shared, cache.NewMemoryContextStore(), cfg.Tiered, cfg.Logger)
	c.handler = cache.NewHandler(tiered, nil, cfg.Cache)

	if shared != nil {
		proberCtx, cancel := context.WithCancel(context.Background())
		c.proberCancel = cancel
		c.prober = healthcheck.NewProber(healthcheck.Config{Enabled: true}, shared, cfg.Logger)
		c.prober.Start(proberCtx)
	}

	c.limiter = resilience.NewLimiter(cfg.RateLimit)

	calc := pricing.NewCalculator(nil)
	for _, p := range cfg.Pricing {
		calc.AddPricing(p)
	}
	c.tracker = budget.NewTracker(cfg.Budget, calc, cfg.Logger)

	c.ruleStore = cfg.RuleStore
	if c.ruleStore == nil {
		mem := rules.NewMemoryStore()
		for qt, texts := range cfg.Rules {
			mem.SetRules(qt, texts)
		}
		// Rule mutations flush cached responses: cached answers were scored
		// against the old rule set.
		mem.OnMutate(func(queryType string) {
			n, err := c.handler.InvalidateFunc(context.Background(), func(string) bool { return true })
			if err != nil {
				c.logger.Warn("cache invalidation after rule change failed", "error", err)
				return
			}
			c.logger.Info("cache invalidated after rule change",
				"query_type", queryType,
				"entries", n,
			)
		})
		c.ruleStore = mem
	}

	genCfg := cfg.Generator
	if genCfg.Model == "" {
		genCfg.Model = cfg.Models[0]
	}
	c.generator = generate.NewGenerator(c, cfg.Strategies, genCfg, cfg.Logger)

	evalCfg := cfg.Evaluator
	if evalCfg.RubricModel == "" {
		evalCfg.RubricModel = cfg.Models[0]
	}
	c.evaluator = evaluate.NewEvaluator(c, c.ruleStore, evalCfg, cfg.Logger)

	wfCfg := cfg.Workflow
	if wfCfg.RepairModel == "" {
		wfCfg.RepairModel = cfg.Models[0]
	}
	c.controller = workflow.NewController(c, c.generator, c.evaluator, wfCfg, cfg.Logger)

	c.logger.Info("qaforge client initialized",
		"models", cfg.Models,
		"cache_enabled", cfg.Cache.Enabled,
		"max_concurrent", cfg.RateLimit.MaxConcurrent,
	)
	return c, nil
}

// Invoke executes a single completion request through the full control
// plane: cache lookup, single-flight miss handling, budget check, rate
// limiting, retries, and model fallback.
//
// The cache key is derived from the requested model, so an answer produced
// by a fallback model is cached as the result of the original request. The
// answering model is recorded in Completion.Model and in the stored entry;
// an explicit request for the fallback model is a separate cache entry.
func (c *Client) Invoke(ctx context.Context, req *types.CompletionRequest) (*types.Completion, error) {
	return c.InvokeWithControl(ctx, req, nil)
}

// InvokeWithControl is Invoke with per-request cache behavior. It shares
// Invoke's cache keying: the key reflects the requested model, not the one
// that ends up answering after fallback.
func (c *Client) InvokeWithControl(ctx context.Context, req *types.CompletionRequest, ctrl *cache.Control) (*types.Completion, error) {
	if req == nil {
		return nil, qferrors.NewInvalidRequestError("", "", "request is nil")
	}
	if req.Prompt == "" {
		return nil, qferrors.NewInvalidRequestError("", req.Model, "prompt is required")
	}
	if req.Model == "" {
		req.Model = c.config.Models[0]
	}

	key := c.handler.Key(req, ctrl)

	// Fast path: cached responses bypass budget and rate limiting entirely.
	if comp, tier, ok := c.handler.Lookup(ctx, key, ctrl); ok {
		c.logger.Debug("cache hit", "model", req.Model, "tier", tier)
		return comp, nil
	}

	comp, shared, err := c.handler.LoadOrCall(ctx, key, req, ctrl, func(ctx context.Context) (*types.Completion, error) {
		return c.callWithFallback(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("request coalesced with in-flight call", "model", req.Model)
	}
	return comp, nil
}

// GenerateAndSelect runs a full round: concurrent candidate generation, quality
// evaluation, deterministic selection, and at most one repair pass.
func (c *Client) GenerateAndSelect(ctx context.Context, query, contextText, queryType string) (*types.SelectionResult, error) {
	return c.controller.Run(ctx, query, contextText, queryType)
}

// SetRules replaces the answer rules for a query type on the default store.
// The mutation invalidates cached responses scored against the old rules.
func (c *Client) SetRules(queryType string, texts []string) error {
	mem, ok := c.ruleStore.(*rules.MemoryStore)
	if !ok {
		return fmt.Errorf("rule store is externally managed")
	}
	mem.SetRules(queryType, texts)
	return nil
}

// InvalidateCache removes every cached response.
func (c *Client) InvalidateCache(ctx context.Context) (int, error) {
	return c.handler.InvalidateFunc(ctx, func(string) bool { return true })
}

// CacheStats returns per-tier cache statistics.
func (c *Client) CacheStats() cache.TieredStats {
	return c.handler.DetailedStats()
}

// BudgetStatus returns a snapshot of the budget ledger.
func (c *Client) BudgetStatus() budget.Status {
	return c.tracker.Status()
}

// ResetBudget zeroes the budget ledger. Administrative operation only.
func (c *Client) ResetBudget() {
	c.tracker.Reset()
}

// InFlight returns the number of provider calls currently executing.
func (c *Client) InFlight() int {
	return c.limiter.InFlight()
}

// Close releases all resources held by the client.
func (c *Client) Close() error {
	if c.proberCancel != nil {
		c.proberCancel()
	}
	err := c.handler.Close()
	c.logger.Info("qaforge client closed")
	return err
}

// callWithFallback walks the model chain starting at the request's model.
// A rate-limited model falls through to the next immediately; a model that
// exhausts its transient retries falls through as well. Fatal errors
// (budget, invalid request, content policy) stop the walk.
func (c *Client) callWithFallback(ctx context.Context, req *types.CompletionRequest) (*types.Completion, error) {
	chain := c.modelChain(req.Model)

	var lastErr error
	for i, model := range chain {
		if i > 0 {
			metrics.FallbackTotal.WithLabelValues(chain[i-1], model).Inc()
			c.logger.Info("falling back to next model",
				"from", chain[i-1],
				"to", model,
			)
		}

		comp, err := c.callWithRetry(ctx, model, req)
		if err == nil {
			return comp, nil
		}
		lastErr = err

		if qferrors.IsBudgetExceeded(err) || !fallbackEligible(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// callWithRetry executes one model with the transient-retry loop. Rate-limit
// errors return immediately so the caller can fall back; transient errors
// back off exponentially with jitter.
func (c *Client) callWithRetry(ctx context.Context, model string, req *types.CompletionRequest) (*types.Completion, error) {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff(attempt)):
			}
		}

		comp, err := c.callOnce(ctx, model, req)
		if err == nil {
			return comp, nil
		}
		lastErr = err

		if !qferrors.IsRetryable(err) {
			return nil, err
		}
		c.logger.Debug("retrying after transient failure",
			"model", model,
			"attempt", attempt+1,
			"error", err,
		)
	}
	return nil, lastErr
}

// callOnce performs exactly one provider call: budget check, rate-limit
// acquisition, optional context-handle attachment, call, usage commit.
func (c *Client) callOnce(ctx context.Context, model string, req *types.CompletionRequest) (*types.Completion, error) {
	callReq := *req
	callReq.Model = model

	estimate := c.tracker.EstimateCost(model,
		tokenizer.EstimatePromptTokens(model, &callReq),
		tokenizer.EstimateCompletionTokens(&callReq),
	)
	if err := c.tracker.Check(estimate); err != nil {
		return nil, err
	}

	permit, err := c.limiter.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer permit.Release()

	c.attachContextHandle(ctx, &callReq)

	callCtx := ctx
	if c.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.config.CallTimeout)
		defer cancel()
	}

	comp, err := c.provider.Complete(callCtx, &callReq)
	if err != nil {
		metrics.ProviderCalls.WithLabelValues(model, "error").Inc()
		return nil, classifyError(err, c.provider.Name(), model)
	}

	metrics.ProviderCalls.WithLabelValues(model, "success").Inc()
	cost := c.tracker.Commit(model, comp.Usage)
	c.logger.Debug("provider call succeeded",
		"model", model,
		"tokens", comp.Usage.TotalTokens,
		"cost_usd", cost,
	)
	return comp, nil
}

// attachContextHandle attaches a provider-side context handle for large
// prompts, creating one on first sight of a prefix. Handle management is
// best-effort: failures degrade to a plain call.
func (c *Client) attachContextHandle(ctx context.Context, req *types.CompletionRequest) {
	if c.ctxCacher == nil || !c.handler.LargePrompt(req) {
		return
	}

	fp := c.handler.ContextFingerprint(req.Model, req.Prompt)
	if handle := c.handler.Handle(ctx, fp); handle != nil {
		req.ContextHandle = handle.Name
		return
	}

	handle, err := c.ctxCacher.CreateCachedContext(ctx, req.Model, req.Prompt, c.config.Cache.LongTTL)
	if err != nil {
		c.logger.Warn("context cache creation failed", "model", req.Model, "error", err)
		return
	}
	c.handler.SaveHandle(ctx, fp, handle)
	req.ContextHandle = handle.Name
}

// modelChain returns the fallback chain starting at the given model, then the
// configured models that haven't been tried yet, in order.
func (c *Client) modelChain(model string) []string {
	chain := []string{model}
	for _, m := range c.config.Models {
		if m != model {
			chain = append(chain, m)
		}
	}
	return chain
}

// backoff computes the exponential backoff for the given attempt (1-based),
// capped and jittered.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.config.RetryBackoff * time.Duration(1<<(attempt-1))
	if c.config.RetryMaxBackoff > 0 && d > c.config.RetryMaxBackoff {
		d = c.config.RetryMaxBackoff
	}
	if c.config.RetryJitter > 0 {
		jitter := 1 + c.config.RetryJitter*(2*rand.Float64()-1)
		d = time.Duration(float64(d) * jitter)
	}
	return d
}

// fallbackEligible reports whether an error justifies trying the next model.
func fallbackEligible(err error) bool {
	if qferrors.IsRateLimit(err) || qferrors.IsRetryable(err) {
		return true
	}
	return false
}

// classifyError maps provider errors into the error taxonomy. Errors already
// in the taxonomy pass through; everything else becomes an internal error.
func classifyError(err error, providerName, model string) error {
	var qfe *qferrors.Error
	if errors.As(err, &qfe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return qferrors.NewTimeoutError(providerName, model, err.Error())
	}
	return qferrors.NewInternalError(providerName, model, err.Error())
}
