package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/draftline/qaforge/internal/metrics"
	"github.com/draftline/qaforge/pkg/types"
)

// Tier labels for observability and tier-of-origin tracking.
const (
	TierL1 = "l1"
	TierL2 = "l2"
	TierL3 = "l3"
)

// TieredCache combines the in-process store (L1), an optional shared Redis
// store (L2), and an optional context-handle store (L3).
//
// Reads check L1 first, then L2 with L1 backfill. L3 holds provider-side
// handles, not response bytes, so it is consulted separately via Handle.
// L2 connectivity errors degrade to a miss and are never fatal.
type TieredCache struct {
	local   *MemoryStore
	shared  Store
	context ContextStore
	config  TieredConfig
	logger  *slog.Logger

	localHits  atomic.Int64
	sharedHits atomic.Int64
	misses     atomic.Int64
	backfills  atomic.Int64
}

// TieredConfig holds configuration for TieredCache.
type TieredConfig struct {
	LocalTTL time.Duration `yaml:"local_ttl"` // TTL cap for L1 entries (default: 5 minutes)
}

// DefaultTieredConfig returns sensible defaults.
func DefaultTieredConfig() TieredConfig {
	return TieredConfig{
		LocalTTL: 5 * time.Minute,
	}
}

// NewTieredCache creates a multi-tier cache. shared and contextStore may be
// nil, leaving a pure in-process cache.
func NewTieredCache(local *MemoryStore, shared Store, contextStore ContextStore, cfg TieredConfig, logger *slog.Logger) *TieredCache {
	if cfg.LocalTTL <= 0 {
		cfg.LocalTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TieredCache{
		local:   local,
		shared:  shared,
		context: contextStore,
		config:  cfg,
		logger:  logger,
	}
}

// Get retrieves a cached response, returning the entry and its tier of
// origin, or nil on a full miss.
func (c *TieredCache) Get(ctx context.Context, key string) (*CachedResponse, string, error) {
	if val, err := c.local.Get(ctx, key); err == nil && val != nil {
		if resp := decodeCached(val); resp != nil {
			c.localHits.Add(1)
			metrics.CacheHits.WithLabelValues(TierL1).Inc()
			return resp, TierL1, nil
		}
	}

	if c.shared != nil {
		val, err := c.shared.Get(ctx, key)
		if err != nil {
			// Degraded mode: a shared-store outage is a miss, never a failure.
			c.logger.Warn("shared cache read failed, treating as miss", "error", err)
		} else if val != nil {
			if resp := decodeCached(val); resp != nil {
				c.sharedHits.Add(1)
				metrics.CacheHits.WithLabelValues(TierL2).Inc()
				// Backfill L1, best effort.
				ttl := c.localTTL(0)
				_ = c.local.Set(ctx, key, val, ttl) //nolint:errcheck // backfill is best-effort
				c.backfills.Add(1)
				return resp, TierL2, nil
			}
		}
	}

	c.misses.Add(1)
	metrics.CacheMisses.Inc()
	return nil, "", nil
}

// Set stores a response at L1 and L2. Entries are immutable once written.
func (c *TieredCache) Set(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	if err := c.local.Set(ctx, key, data, c.localTTL(ttl)); err != nil {
		return err
	}
	metrics.CacheSets.Inc()

	if c.shared != nil {
		if err := c.shared.Set(ctx, key, data, ttl); err != nil {
			// Degraded mode: the entry still lives at L1.
			c.logger.Warn("shared cache write failed", "error", err)
		}
	}
	return nil
}

// Handle returns the L3 provider-side context handle for the fingerprint,
// or nil when no live handle exists.
func (c *TieredCache) Handle(ctx context.Context, fingerprint string) *types.ContextHandle {
	if c.context == nil {
		return nil
	}
	h, err := c.context.GetHandle(ctx, fingerprint)
	if err != nil {
		c.logger.Warn("context handle lookup failed", "error", err)
		return nil
	}
	if h != nil {
		metrics.CacheHits.WithLabelValues(TierL3).Inc()
	}
	return h
}

// SaveHandle records a provider-side context handle at L3.
func (c *TieredCache) SaveHandle(ctx context.Context, fingerprint string, handle *types.ContextHandle) {
	if c.context == nil || handle == nil {
		return
	}
	if err := c.context.SaveHandle(ctx, fingerprint, handle); err != nil {
		c.logger.Warn("context handle save failed", "error", err)
	}
}

// Invalidate removes a key from L1 and L2. L3 handles are left to expire
// provider-side.
func (c *TieredCache) Invalidate(ctx context.Context, key string) error {
	_ = c.local.Delete(ctx, key) //nolint:errcheck // best-effort local delete
	metrics.CacheInvalidations.Inc()
	if c.shared != nil {
		return c.shared.Delete(ctx, key)
	}
	return nil
}

// InvalidateFunc removes all L1/L2 keys matching the predicate and reports
// how many entries were removed across both tiers.
func (c *TieredCache) InvalidateFunc(ctx context.Context, predicate func(key string) bool) (int, error) {
	removed, _ := c.local.DeleteFunc(ctx, predicate)
	metrics.CacheInvalidations.Add(float64(removed))

	if c.shared != nil {
		n, err := c.shared.DeleteFunc(ctx, predicate)
		removed += n
		if err != nil {
			c.logger.Warn("shared cache invalidation failed", "error", err)
			return removed, nil
		}
	}
	return removed, nil
}

// localTTL returns the L1 lifetime for an entry. With a shared tier behind
// it, L1 is a short-lived front and its lifetime is capped at the configured
// local TTL; expired entries come back via L2 backfill. Without a shared
// tier L1 is the only copy, so the entry keeps its full TTL.
func (c *TieredCache) localTTL(ttl time.Duration) time.Duration {
	if c.shared == nil && ttl > 0 {
		return ttl
	}
	if ttl > 0 && ttl < c.config.LocalTTL {
		return ttl
	}
	return c.config.LocalTTL
}

// Ping checks both backing stores.
func (c *TieredCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return err
	}
	if c.shared != nil {
		return c.shared.Ping(ctx)
	}
	return nil
}

// Close closes both backing stores.
func (c *TieredCache) Close() error {
	_ = c.local.Close()
	if c.shared != nil {
		return c.shared.Close()
	}
	return nil
}

// Stats returns combined cache statistics.
func (c *TieredCache) Stats() Stats {
	totalHits := c.localHits.Load() + c.sharedHits.Load()
	totalMisses := c.misses.Load()
	total := totalHits + totalMisses

	var hitRate float64
	if total > 0 {
		hitRate = float64(totalHits) / float64(total)
	}

	localStats := c.local.Stats()
	var sharedStats Stats
	if c.shared != nil {
		sharedStats = c.shared.Stats()
	}

	return Stats{
		Hits:    totalHits,
		Misses:  totalMisses,
		Sets:    localStats.Sets,
		Deletes: localStats.Deletes + sharedStats.Deletes,
		Errors:  sharedStats.Errors,
		HitRate: hitRate,
		Size:    c.local.Len(),
	}
}

// TieredStats holds detailed statistics per tier.
type TieredStats struct {
	LocalHits   int64 `json:"local_hits"`
	SharedHits  int64 `json:"shared_hits"`
	Misses      int64 `json:"misses"`
	Backfills   int64 `json:"backfills"`
	LocalStats  Stats `json:"local_stats"`
	SharedStats Stats `json:"shared_stats"`
}

// DetailedStats returns detailed statistics for each cache tier.
func (c *TieredCache) DetailedStats() TieredStats {
	stats := TieredStats{
		LocalHits:  c.localHits.Load(),
		SharedHits: c.sharedHits.Load(),
		Misses:     c.misses.Load(),
		Backfills:  c.backfills.Load(),
		LocalStats: c.local.Stats(),
	}
	if c.shared != nil {
		stats.SharedStats = c.shared.Stats()
	}
	return stats
}

func decodeCached(data []byte) *CachedResponse {
	var resp CachedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		// Invalid cache entry, treat as miss.
		return nil
	}
	return &resp
}
