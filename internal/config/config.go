// Package config provides file-based configuration with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for
// zero-downtime updates.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/draftline/qaforge/internal/budget"
	"github.com/draftline/qaforge/internal/cache"
	"github.com/draftline/qaforge/internal/evaluate"
	"github.com/draftline/qaforge/internal/generate"
	"github.com/draftline/qaforge/internal/resilience"
	"github.com/draftline/qaforge/internal/workflow"
)

// Config is the complete file-configurable surface.
type Config struct {
	Models    ModelsConfig              `yaml:"models"`
	Cache     CacheConfig               `yaml:"cache"`
	RateLimit resilience.LimiterConfig  `yaml:"rate_limit"`
	Budget    budget.TrackerConfig      `yaml:"budget"`
	Generate  generate.GeneratorConfig  `yaml:"generate"`
	Evaluate  evaluate.EvaluatorConfig  `yaml:"evaluate"`
	Workflow  workflow.ControllerConfig `yaml:"workflow"`
	Rules     map[string][]string       `yaml:"rules"`
	Logging   LoggingConfig             `yaml:"logging"`
}

// ModelsConfig defines the model fallback chain and call behavior.
type ModelsConfig struct {
	// Chain is the ordered model fallback chain. The first entry is the
	// primary model.
	Chain []string `yaml:"chain"`
	// MaxRetries is the per-model retry budget for transient failures.
	MaxRetries int `yaml:"max_retries"`
	// CallTimeout bounds a single provider call, e.g. "30s".
	CallTimeout string `yaml:"call_timeout"`
}

// CacheConfig groups the cache tier settings.
type CacheConfig struct {
	Handler cache.HandlerConfig `yaml:"handler"`
	Tiered  cache.TieredConfig  `yaml:"tiered"`
	Redis   *cache.RedisConfig  `yaml:"redis"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Handler: cache.DefaultHandlerConfig(),
			Tiered:  cache.DefaultTieredConfig(),
		},
		Generate: generate.DefaultGeneratorConfig(),
		Evaluate: evaluate.DefaultEvaluatorConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Models.MaxRetries < 0 {
		return fmt.Errorf("models.max_retries cannot be negative")
	}
	if c.RateLimit.MaxConcurrent < 0 {
		return fmt.Errorf("rate_limit.max_concurrent cannot be negative")
	}
	if c.RateLimit.CallsPerMinute < 0 {
		return fmt.Errorf("rate_limit.calls_per_minute cannot be negative")
	}
	if c.Budget.MaxCostUSD < 0 {
		return fmt.Errorf("budget.max_cost_usd cannot be negative")
	}
	if c.Budget.SoftCostUSD > c.Budget.MaxCostUSD && c.Budget.MaxCostUSD > 0 {
		return fmt.Errorf("budget.soft_cost_usd cannot exceed budget.max_cost_usd")
	}
	if c.Evaluate.Epsilon < 0 {
		return fmt.Errorf("evaluate.epsilon cannot be negative")
	}
	if c.Cache.Handler.ShortTTL < 0 || c.Cache.Handler.LongTTL < 0 {
		return fmt.Errorf("cache TTLs cannot be negative")
	}

	seen := make(map[string]bool, len(c.Models.Chain))
	for i, m := range c.Models.Chain {
		if m == "" {
			return fmt.Errorf("models.chain[%d]: model name is empty", i)
		}
		if seen[m] {
			return fmt.Errorf("models.chain[%d]: model %q listed twice", i, m)
		}
		seen[m] = true
	}

	return nil
}
