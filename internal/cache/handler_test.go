package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/draftline/qaforge/pkg/types"
)

func newTestHandler(t *testing.T, cfg HandlerConfig) *Handler {
	t.Helper()
	local := NewMemoryStore(DefaultMemoryStoreConfig())
	tiered := NewTieredCache(local, nil, NewMemoryContextStore(), DefaultTieredConfig(), nil)
	h := NewHandler(tiered, nil, cfg)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func completionFor(text string) *types.Completion {
	return &types.Completion{
		ID:           "cmpl-1",
		Model:        "gpt-4o",
		Text:         text,
		FinishReason: types.FinishStop,
		Usage:        types.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}
}

func TestHandler_StoreAndLookup(t *testing.T) {
	h := newTestHandler(t, DefaultHandlerConfig())
	ctx := context.Background()

	req := &types.CompletionRequest{Model: "gpt-4o", Prompt: "What was Q3 revenue?"}
	key := h.Key(req, nil)

	_, _, found := h.Lookup(ctx, key, nil)
	require.False(t, found)

	require.NoError(t, h.Store(ctx, key, req, completionFor("$1.2M"), nil))

	comp, tier, found := h.Lookup(ctx, key, nil)
	require.True(t, found)
	require.Equal(t, TierL1, tier)
	require.Equal(t, "$1.2M", comp.Text)
	require.True(t, comp.Cached)
	require.Equal(t, TierL1, comp.CacheTier)
}

func TestHandler_SingleFlight(t *testing.T) {
	h := newTestHandler(t, DefaultHandlerConfig())
	ctx := context.Background()

	req := &types.CompletionRequest{Model: "gpt-4o", Prompt: "expensive question"}
	key := h.Key(req, nil)

	var calls atomic.Int32
	var wg sync.WaitGroup
	results := make([]*types.Completion, 16)

	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			comp, _, err := h.LoadOrCall(ctx, key, req, nil, func(ctx context.Context) (*types.Completion, error) {
				calls.Add(1)
				time.Sleep(20 * time.Millisecond) // widen the concurrency window
				return completionFor("answer"), nil
			})
			require.NoError(t, err)
			results[i] = comp
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), calls.Load(), "concurrent misses for one key must coalesce into one call")
	for _, comp := range results {
		require.NotNil(t, comp)
		require.Equal(t, "answer", comp.Text)
	}
}

func TestHandler_LoadOrCall_PopulatesCache(t *testing.T) {
	h := newTestHandler(t, DefaultHandlerConfig())
	ctx := context.Background()

	req := &types.CompletionRequest{Model: "gpt-4o", Prompt: "q"}
	key := h.Key(req, nil)

	var calls atomic.Int32
	call := func(ctx context.Context) (*types.Completion, error) {
		calls.Add(1)
		return completionFor("a"), nil
	}

	_, _, err := h.LoadOrCall(ctx, key, req, nil, call)
	require.NoError(t, err)

	// Second load must come from the cache.
	comp, _, found := h.Lookup(ctx, key, nil)
	require.True(t, found)
	require.Equal(t, "a", comp.Text)
	require.Equal(t, int32(1), calls.Load())
}

func TestHandler_TTLPolicy(t *testing.T) {
	cfg := DefaultHandlerConfig()
	h := newTestHandler(t, cfg)

	small := &types.CompletionRequest{Model: "gpt-4o", Prompt: "short"}
	large := &types.CompletionRequest{Model: "gpt-4o", Prompt: strings.Repeat("x", cfg.LargePromptBytes)}

	require.Equal(t, cfg.ShortTTL, h.TTLFor(small, nil))
	require.Equal(t, cfg.LongTTL, h.TTLFor(large, nil))
	require.False(t, h.LargePrompt(small))
	require.True(t, h.LargePrompt(large))

	// Per-request control TTL wins over the policy.
	ctrl := &Control{TTL: 3 * time.Minute}
	require.Equal(t, 3*time.Minute, h.TTLFor(large, ctrl))
}

func TestHandler_NoCacheControl(t *testing.T) {
	h := newTestHandler(t, DefaultHandlerConfig())
	ctx := context.Background()

	req := &types.CompletionRequest{Model: "gpt-4o", Prompt: "q"}
	key := h.Key(req, nil)
	require.NoError(t, h.Store(ctx, key, req, completionFor("stale"), nil))

	var calls atomic.Int32
	comp, _, err := h.LoadOrCall(ctx, key, req, &Control{NoCache: true}, func(ctx context.Context) (*types.Completion, error) {
		calls.Add(1)
		return completionFor("fresh"), nil
	})
	require.NoError(t, err)
	require.Equal(t, "fresh", comp.Text)
	require.Equal(t, int32(1), calls.Load())
}

func TestHandler_NoStoreControl(t *testing.T) {
	h := newTestHandler(t, DefaultHandlerConfig())
	ctx := context.Background()

	req := &types.CompletionRequest{Model: "gpt-4o", Prompt: "q"}
	key := h.Key(req, nil)

	require.NoError(t, h.Store(ctx, key, req, completionFor("a"), &Control{NoStore: true}))

	_, _, found := h.Lookup(ctx, key, nil)
	require.False(t, found)
}

func TestHandler_FailedCallNotCached(t *testing.T) {
	h := newTestHandler(t, DefaultHandlerConfig())
	ctx := context.Background()

	req := &types.CompletionRequest{Model: "gpt-4o", Prompt: "q"}
	key := h.Key(req, nil)

	_, _, err := h.LoadOrCall(ctx, key, req, nil, func(ctx context.Context) (*types.Completion, error) {
		return nil, context.DeadlineExceeded
	})
	require.Error(t, err)

	_, _, found := h.Lookup(ctx, key, nil)
	require.False(t, found, "failed calls must never pollute the cache")
}

func TestHandler_OversizeResponseNotCached(t *testing.T) {
	cfg := DefaultHandlerConfig()
	cfg.MaxCacheableSize = 64
	h := newTestHandler(t, cfg)
	ctx := context.Background()

	req := &types.CompletionRequest{Model: "gpt-4o", Prompt: "q"}
	key := h.Key(req, nil)

	require.NoError(t, h.Store(ctx, key, req, completionFor(strings.Repeat("y", 256)), nil))

	_, _, found := h.Lookup(ctx, key, nil)
	require.False(t, found)
}

func TestHandler_Disabled(t *testing.T) {
	cfg := DefaultHandlerConfig()
	cfg.Enabled = false
	h := newTestHandler(t, cfg)
	ctx := context.Background()

	req := &types.CompletionRequest{Model: "gpt-4o", Prompt: "q"}
	key := h.Key(req, nil)

	var calls atomic.Int32
	for i := 0; i < 2; i++ {
		_, _, err := h.LoadOrCall(ctx, key, req, nil, func(ctx context.Context) (*types.Completion, error) {
			calls.Add(1)
			return completionFor("a"), nil
		})
		require.NoError(t, err)
	}
	require.Equal(t, int32(2), calls.Load())
}

func TestHandler_ContextFingerprint(t *testing.T) {
	h := newTestHandler(t, DefaultHandlerConfig())

	a := h.ContextFingerprint("gpt-4o", "prefix content")
	b := h.ContextFingerprint("gpt-4o", "prefix content")
	c := h.ContextFingerprint("gpt-4o-mini", "prefix content")

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}
