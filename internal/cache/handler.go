package cache

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/draftline/qaforge/pkg/types"
)

// Control allows per-request cache behavior customization.
type Control struct {
	TTL       time.Duration `json:"ttl,omitempty"`       // custom TTL for this request
	Namespace string        `json:"namespace,omitempty"` // namespace isolation
	NoCache   bool          `json:"no-cache,omitempty"`  // skip cache read (force fresh)
	NoStore   bool          `json:"no-store,omitempty"`  // skip cache write
}

// HandlerConfig holds configuration for the cache handler.
type HandlerConfig struct {
	Enabled bool `yaml:"enabled"`
	// ShortTTL is the TTL for ordinary entries (default: 10 minutes).
	ShortTTL time.Duration `yaml:"short_ttl"`
	// LongTTL is the TTL for entries whose prompt exceeds LargePromptBytes
	// (default: 60 minutes). Large contexts are expensive to regenerate and
	// are expected to be reused across a session.
	LongTTL time.Duration `yaml:"long_ttl"`
	// LargePromptBytes is the prompt size threshold for the long TTL and for
	// provider-side context caching eligibility (default: 8 KiB).
	LargePromptBytes int `yaml:"large_prompt_bytes"`
	// MaxCacheableSize is the maximum response size to cache in bytes
	// (default: 1 MiB).
	MaxCacheableSize int `yaml:"max_cacheable_size"`
}

// DefaultHandlerConfig returns sensible defaults.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		Enabled:          true,
		ShortTTL:         10 * time.Minute,
		LongTTL:          60 * time.Minute,
		LargePromptBytes: 8 * 1024,
		MaxCacheableSize: 1024 * 1024,
	}
}

// Handler provides high-level caching for LLM calls: key derivation,
// serialization, TTL policy, and single-flight loading.
//
// The single-flight guarantee is the central correctness property: for N
// concurrent misses on one fingerprint, exactly one outbound call happens
// and all N callers receive the same result.
type Handler struct {
	tiered  *TieredCache
	keyGen  KeyGenerator
	config  HandlerConfig
	enabled bool
	flight  singleflight.Group
}

// NewHandler creates a new cache handler.
func NewHandler(tiered *TieredCache, keyGen KeyGenerator, cfg HandlerConfig) *Handler {
	if keyGen == nil {
		keyGen = NewKeyGenerator("qaforge")
	}
	if cfg.ShortTTL <= 0 {
		cfg.ShortTTL = 10 * time.Minute
	}
	if cfg.LongTTL <= 0 {
		cfg.LongTTL = 60 * time.Minute
	}
	if cfg.LargePromptBytes <= 0 {
		cfg.LargePromptBytes = 8 * 1024
	}
	if cfg.MaxCacheableSize <= 0 {
		cfg.MaxCacheableSize = 1024 * 1024
	}
	return &Handler{
		tiered:  tiered,
		keyGen:  keyGen,
		config:  cfg,
		enabled: cfg.Enabled,
	}
}

// Key derives the deterministic fingerprint for a request.
func (h *Handler) Key(req *types.CompletionRequest, ctrl *Control) string {
	params := KeyParams{
		Model:       req.Model,
		Prompt:      req.Prompt,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
	}
	if ctrl != nil && ctrl.Namespace != "" {
		params.Namespace = ctrl.Namespace
	}
	return h.keyGen.Generate(params)
}

// TTLFor returns the TTL policy for a request: long TTL for prompts over the
// size threshold, short TTL otherwise. A per-request control TTL wins.
func (h *Handler) TTLFor(req *types.CompletionRequest, ctrl *Control) time.Duration {
	if ctrl != nil && ctrl.TTL > 0 {
		return ctrl.TTL
	}
	if h.LargePrompt(req) {
		return h.config.LongTTL
	}
	return h.config.ShortTTL
}

// LargePrompt reports whether the request's prompt exceeds the context-cache
// size threshold.
func (h *Handler) LargePrompt(req *types.CompletionRequest) bool {
	return len(req.Prompt) >= h.config.LargePromptBytes
}

// Lookup attempts to retrieve a cached completion for the key.
// Returns the completion, the tier of origin, and whether it was found.
func (h *Handler) Lookup(ctx context.Context, key string, ctrl *Control) (*types.Completion, string, bool) {
	if !h.enabled || (ctrl != nil && ctrl.NoCache) {
		return nil, "", false
	}

	cached, tier, err := h.tiered.Get(ctx, key)
	if err != nil || cached == nil {
		return nil, "", false
	}

	var comp types.Completion
	if err := json.Unmarshal(cached.Response, &comp); err != nil {
		// Invalid cache entry, treat as miss.
		return nil, "", false
	}
	comp.Cached = true
	comp.CacheTier = tier
	return &comp, tier, true
}

// Store writes a completion to the cache. Failed calls never reach Store,
// so failed calls never pollute the cache.
func (h *Handler) Store(ctx context.Context, key string, req *types.CompletionRequest, comp *types.Completion, ctrl *Control) error {
	if !h.enabled || (ctrl != nil && ctrl.NoStore) {
		return nil
	}

	data, err := json.Marshal(comp)
	if err != nil {
		return err
	}
	if len(data) > h.config.MaxCacheableSize {
		return nil // too large to cache
	}

	cached := &CachedResponse{
		Timestamp: time.Now().Unix(),
		Response:  data,
		Model:     comp.Model,
		Usage:     comp.Usage,
	}
	return h.tiered.Set(ctx, key, cached, h.TTLFor(req, ctrl))
}

// LoadOrCall returns the cached completion for key, or runs call to produce
// it. Concurrent callers for the same key share a single call; the marker is
// installed atomically with the miss re-check inside the flight group, so two
// callers can never both observe a miss and both go outbound.
//
// The returned boolean reports whether the result was shared with another
// in-flight caller.
func (h *Handler) LoadOrCall(
	ctx context.Context,
	key string,
	req *types.CompletionRequest,
	ctrl *Control,
	call func(ctx context.Context) (*types.Completion, error),
) (*types.Completion, bool, error) {
	if !h.enabled || (ctrl != nil && ctrl.NoCache) {
		comp, err := call(ctx)
		return comp, false, err
	}

	v, err, shared := h.flight.Do(key, func() (any, error) {
		// Re-check under the flight lock: a previous flight for this key may
		// have populated the cache between our miss and now.
		if comp, _, ok := h.Lookup(ctx, key, ctrl); ok {
			return comp, nil
		}

		comp, err := call(ctx)
		if err != nil {
			return nil, err
		}
		if err := h.Store(ctx, key, req, comp, ctrl); err != nil {
			// A cache write failure degrades diagnosability, not correctness.
			return comp, nil
		}
		return comp, nil
	})
	if err != nil {
		return nil, shared, err
	}

	comp, ok := v.(*types.Completion)
	if !ok {
		return nil, shared, nil
	}

	// Hand each caller its own copy so provenance fields can be set freely.
	compCopy := *comp
	return &compCopy, shared, nil
}

// ContextFingerprint derives the L3 fingerprint for a prompt prefix.
func (h *Handler) ContextFingerprint(model, prefix string) string {
	if g, ok := h.keyGen.(*DefaultKeyGenerator); ok {
		return g.GenerateFromRaw("ctx:"+model, prefix)
	}
	return h.keyGen.Generate(KeyParams{Model: model, Prompt: prefix, Namespace: "ctx"})
}

// Handle returns the provider-side context handle for a fingerprint, if any.
func (h *Handler) Handle(ctx context.Context, fingerprint string) *types.ContextHandle {
	if !h.enabled {
		return nil
	}
	return h.tiered.Handle(ctx, fingerprint)
}

// SaveHandle records a provider-side context handle.
func (h *Handler) SaveHandle(ctx context.Context, fingerprint string, handle *types.ContextHandle) {
	if !h.enabled {
		return
	}
	h.tiered.SaveHandle(ctx, fingerprint, handle)
}

// Invalidate removes a single key from L1 and L2.
func (h *Handler) Invalidate(ctx context.Context, key string) error {
	return h.tiered.Invalidate(ctx, key)
}

// InvalidateFunc removes all keys matching the predicate from L1 and L2.
// Triggered by upstream rule-store mutation.
func (h *Handler) InvalidateFunc(ctx context.Context, predicate func(key string) bool) (int, error) {
	return h.tiered.InvalidateFunc(ctx, predicate)
}

// Stats returns combined cache statistics.
func (h *Handler) Stats() Stats {
	return h.tiered.Stats()
}

// DetailedStats returns per-tier cache statistics.
func (h *Handler) DetailedStats() TieredStats {
	return h.tiered.DetailedStats()
}

// Enabled reports whether caching is active.
func (h *Handler) Enabled() bool {
	return h.enabled
}

// Close releases cache resources.
func (h *Handler) Close() error {
	return h.tiered.Close()
}
