package qaforge

import (
	"log/slog"
	"time"

	"github.com/draftline/qaforge/internal/budget"
	"github.com/draftline/qaforge/internal/cache"
	"github.com/draftline/qaforge/internal/config"
	"github.com/draftline/qaforge/internal/evaluate"
	"github.com/draftline/qaforge/internal/generate"
	"github.com/draftline/qaforge/internal/pricing"
	"github.com/draftline/qaforge/internal/resilience"
	"github.com/draftline/qaforge/internal/rules"
	"github.com/draftline/qaforge/internal/workflow"
	"github.com/draftline/qaforge/pkg/provider"
)

// ClientConfig holds all configuration for the qaforge client.
type ClientConfig struct {
	// Provider executes LLM calls. Required.
	Provider provider.Provider

	// ContextCacher manages provider-side context caching. Optional; when nil,
	// New probes whether Provider implements it.
	ContextCacher provider.ContextCacher

	// Models is the ordered model fallback chain. The first entry is the
	// default model for requests that don't name one.
	Models []string

	// Retry behavior for transient failures.
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryMaxBackoff time.Duration
	RetryJitter     float64

	// CallTimeout bounds a single provider call.
	CallTimeout time.Duration

	// Caching
	Cache       cache.HandlerConfig
	Tiered      cache.TieredConfig
	Redis       *cache.RedisConfig
	SharedStore cache.Store // overrides Redis when set

	// Rate limiting
	RateLimit resilience.LimiterConfig

	// Budget
	Budget  budget.TrackerConfig
	Pricing []pricing.ModelPricing

	// Generation
	Generator  generate.GeneratorConfig
	Strategies []generate.Strategy

	// Evaluation
	Evaluator evaluate.EvaluatorConfig
	RuleStore rules.Store
	Rules     map[string][]string

	// Selection workflow
	Workflow workflow.ControllerConfig

	// Logging
	Logger *slog.Logger

	// configErr records a failure from WithConfigFile; New surfaces it.
	configErr error
}

// Option is a function that configures the Client.
type Option func(*ClientConfig)

// defaultConfig returns sensible defaults.
func defaultConfig() *ClientConfig {
	return &ClientConfig{
		MaxRetries:      3,
		RetryBackoff:    time.Second,
		RetryMaxBackoff: 5 * time.Second,
		RetryJitter:     0.2,
		CallTimeout:     30 * time.Second,
		Cache:           cache.DefaultHandlerConfig(),
		Tiered:          cache.DefaultTieredConfig(),
		Generator:       generate.DefaultGeneratorConfig(),
		Evaluator:       evaluate.DefaultEvaluatorConfig(),
		Logger:          slog.Default(),
	}
}

// WithProvider sets the LLM provider. Required.
//
// Example:
//
//	client, err := qaforge.New(
//	    qaforge.WithProvider(myProvider),
//	    qaforge.WithModels("gpt-4o", "gpt-4o-mini"),
//	)
func WithProvider(p provider.Provider) Option {
	return func(c *ClientConfig) {
		c.Provider = p
	}
}

// WithContextCacher sets the provider-side context cache manager.
// Not needed when the provider itself implements ContextCacher.
func WithContextCacher(cc provider.ContextCacher) Option {
	return func(c *ClientConfig) {
		c.ContextCacher = cc
	}
}

// WithModels sets the ordered model fallback chain.
// The first model is the default; later models are tried in order when an
// earlier one is rate limited or exhausts its retries.
func WithModels(models ...string) Option {
	return func(c *ClientConfig) {
		c.Models = models
	}
}

// WithRetry configures retry behavior for transient failures.
// count: number of retry attempts (0 = no retries)
// backoff: initial backoff duration (exponential backoff is applied)
func WithRetry(count int, backoff time.Duration) Option {
	return func(c *ClientConfig) {
		c.MaxRetries = count
		c.RetryBackoff = backoff
	}
}

// WithRetryMaxBackoff sets the maximum backoff duration for retries.
// Use 0 to disable the cap.
func WithRetryMaxBackoff(d time.Duration) Option {
	return func(c *ClientConfig) {
		c.RetryMaxBackoff = d
	}
}

// WithRetryJitter sets the jitter ratio for retries (0.0 - 1.0).
func WithRetryJitter(jitter float64) Option {
	return func(c *ClientConfig) {
		c.RetryJitter = jitter
	}
}

// WithCallTimeout bounds every individual provider call.
func WithCallTimeout(d time.Duration) Option {
	return func(c *ClientConfig) {
		c.CallTimeout = d
	}
}

// WithCacheConfig sets the cache handler configuration (TTL policy,
// size caps, enablement).
func WithCacheConfig(cfg cache.HandlerConfig) Option {
	return func(c *ClientConfig) {
		c.Cache = cfg
	}
}

// WithCacheDisabled turns response caching off entirely.
func WithCacheDisabled() Option {
	return func(c *ClientConfig) {
		c.Cache.Enabled = false
	}
}

// WithRedis enables the shared Redis cache tier.
//
// Example:
//
//	qaforge.WithRedis(cache.RedisConfig{Addr: "localhost:6379"})
func WithRedis(cfg cache.RedisConfig) Option {
	return func(c *ClientConfig) {
		c.Redis = &cfg
	}
}

// WithSharedStore sets a custom shared cache tier implementation.
// This overrides WithRedis.
func WithSharedStore(store cache.Store) Option {
	return func(c *ClientConfig) {
		c.SharedStore = store
	}
}

// WithRateLimit configures the concurrency and per-minute call limits.
func WithRateLimit(cfg resilience.LimiterConfig) Option {
	return func(c *ClientConfig) {
		c.RateLimit = cfg
	}
}

// WithBudget configures the spending ceiling.
//
// Example:
//
//	qaforge.WithBudget(budget.TrackerConfig{MaxCostUSD: 10, SoftCostUSD: 8})
func WithBudget(cfg budget.TrackerConfig) Option {
	return func(c *ClientConfig) {
		c.Budget = cfg
	}
}

// WithPricing adds custom model pricing entries used for budget estimation.
func WithPricing(entries ...pricing.ModelPricing) Option {
	return func(c *ClientConfig) {
		c.Pricing = append(c.Pricing, entries...)
	}
}

// WithGenerator sets the candidate generator configuration.
func WithGenerator(cfg generate.GeneratorConfig) Option {
	return func(c *ClientConfig) {
		c.Generator = cfg
	}
}

// WithStrategies replaces the built-in generation strategy table.
func WithStrategies(strategies ...generate.Strategy) Option {
	return func(c *ClientConfig) {
		c.Strategies = strategies
	}
}

// WithEvaluator sets the quality evaluator configuration.
func WithEvaluator(cfg evaluate.EvaluatorConfig) Option {
	return func(c *ClientConfig) {
		c.Evaluator = cfg
	}
}

// WithRuleStore sets a custom answer-rule store.
func WithRuleStore(store rules.Store) Option {
	return func(c *ClientConfig) {
		c.RuleStore = store
	}
}

// WithRules seeds the default in-memory rule store, keyed by query type.
func WithRules(ruleSet map[string][]string) Option {
	return func(c *ClientConfig) {
		c.Rules = ruleSet
	}
}

// WithWorkflow sets the selection workflow configuration.
func WithWorkflow(cfg workflow.ControllerConfig) Option {
	return func(c *ClientConfig) {
		c.Workflow = cfg
	}
}

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *ClientConfig) {
		c.Logger = logger
	}
}

// WithConfigFile loads settings from a YAML file. Options applied after this
// one override file values.
func WithConfigFile(path string) Option {
	return func(c *ClientConfig) {
		fileCfg, err := config.LoadFromFile(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.applyFileConfig(fileCfg)
	}
}

// applyFileConfig merges a file configuration into the client config.
func (c *ClientConfig) applyFileConfig(f *config.Config) {
	if len(f.Models.Chain) > 0 {
		c.Models = f.Models.Chain
	}
	if f.Models.MaxRetries > 0 {
		c.MaxRetries = f.Models.MaxRetries
	}
	if f.Models.CallTimeout != "" {
		if d, err := time.ParseDuration(f.Models.CallTimeout); err == nil {
			c.CallTimeout = d
		}
	}
	c.Cache = f.Cache.Handler
	c.Tiered = f.Cache.Tiered
	if f.Cache.Redis != nil {
		c.Redis = f.Cache.Redis
	}
	c.RateLimit = f.RateLimit
	c.Budget = f.Budget
	c.Generator = f.Generate
	c.Evaluator = f.Evaluate
	c.Workflow = f.Workflow
	if len(f.Rules) > 0 {
		c.Rules = f.Rules
	}
}
