package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/draftline/qaforge/pkg/types"
)

func newTestTieredCache(t *testing.T) (*TieredCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	shared := NewRedisStoreFromClient(client, "qaforge-test", 10*time.Minute)

	local := NewMemoryStore(DefaultMemoryStoreConfig())
	tiered := NewTieredCache(local, shared, NewMemoryContextStore(), DefaultTieredConfig(), nil)
	t.Cleanup(func() { _ = tiered.Close() })

	return tiered, mr
}

func testResponse(text string) *CachedResponse {
	return &CachedResponse{
		Timestamp: time.Now().Unix(),
		Response:  []byte(`{"text":"` + text + `"}`),
		Model:     "gpt-4o",
		Usage:     types.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func TestTieredCache_SetAndGetL1(t *testing.T) {
	tc, _ := newTestTieredCache(t)
	ctx := context.Background()

	require.NoError(t, tc.Set(ctx, "key1", testResponse("hello"), time.Minute))

	resp, tier, err := tc.Get(ctx, "key1")
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, TierL1, tier)
	require.Equal(t, "gpt-4o", resp.Model)
}

func TestTieredCache_L2HitBackfillsL1(t *testing.T) {
	tc, _ := newTestTieredCache(t)
	ctx := context.Background()

	require.NoError(t, tc.Set(ctx, "key1", testResponse("hello"), time.Minute))

	// Drop the L1 copy so the next read must come from L2.
	_ = tc.local.Delete(ctx, "key1")

	resp, tier, err := tc.Get(ctx, "key1")
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, TierL2, tier)

	// The L2 hit must have backfilled L1.
	resp, tier, err = tc.Get(ctx, "key1")
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, TierL1, tier)

	stats := tc.DetailedStats()
	require.Equal(t, int64(1), stats.Backfills)
}

func TestTieredCache_SharedOutageDegradesToMiss(t *testing.T) {
	tc, mr := newTestTieredCache(t)
	ctx := context.Background()

	require.NoError(t, tc.Set(ctx, "key1", testResponse("hello"), time.Minute))
	_ = tc.local.Delete(ctx, "key1")

	// A dead shared tier is a miss, never an error.
	mr.Close()

	resp, tier, err := tc.Get(ctx, "key1")
	require.NoError(t, err)
	require.Nil(t, resp)
	require.Empty(t, tier)
}

func TestTieredCache_FullMiss(t *testing.T) {
	tc, _ := newTestTieredCache(t)

	resp, tier, err := tc.Get(context.Background(), "absent")
	require.NoError(t, err)
	require.Nil(t, resp)
	require.Empty(t, tier)
}

func TestTieredCache_Invalidate(t *testing.T) {
	tc, _ := newTestTieredCache(t)
	ctx := context.Background()

	require.NoError(t, tc.Set(ctx, "key1", testResponse("hello"), time.Minute))
	require.NoError(t, tc.Invalidate(ctx, "key1"))

	resp, _, err := tc.Get(ctx, "key1")
	require.NoError(t, err)
	require.Nil(t, resp)
}

func TestTieredCache_InvalidateFunc(t *testing.T) {
	tc, _ := newTestTieredCache(t)
	ctx := context.Background()

	require.NoError(t, tc.Set(ctx, "keep", testResponse("a"), time.Minute))
	require.NoError(t, tc.Set(ctx, "drop-1", testResponse("b"), time.Minute))
	require.NoError(t, tc.Set(ctx, "drop-2", testResponse("c"), time.Minute))

	removed, err := tc.InvalidateFunc(ctx, func(key string) bool {
		return len(key) >= 4 && key[:4] == "drop"
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, removed, 2)

	resp, _, err := tc.Get(ctx, "keep")
	require.NoError(t, err)
	require.NotNil(t, resp)

	resp, _, err = tc.Get(ctx, "drop-1")
	require.NoError(t, err)
	require.Nil(t, resp)
}

func TestTieredCache_ContextHandles(t *testing.T) {
	tc, _ := newTestTieredCache(t)
	ctx := context.Background()

	require.Nil(t, tc.Handle(ctx, "fp-1"))

	handle := &types.ContextHandle{
		Name:      "cachedContents/abc123",
		Model:     "gemini-2.0-flash",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	tc.SaveHandle(ctx, "fp-1", handle)

	got := tc.Handle(ctx, "fp-1")
	require.NotNil(t, got)
	require.Equal(t, "cachedContents/abc123", got.Name)
}

func TestTieredCache_ExpiredHandleIsDropped(t *testing.T) {
	tc, _ := newTestTieredCache(t)
	ctx := context.Background()

	tc.SaveHandle(ctx, "fp-old", &types.ContextHandle{
		Name:      "cachedContents/old",
		Model:     "gemini-2.0-flash",
		ExpiresAt: time.Now().Add(-time.Minute),
	})

	require.Nil(t, tc.Handle(ctx, "fp-old"))
}

func TestTieredCache_LocalOnlyKeepsFullTTL(t *testing.T) {
	local := NewMemoryStore(DefaultMemoryStoreConfig())
	tc := NewTieredCache(local, nil, nil, TieredConfig{LocalTTL: 20 * time.Millisecond}, nil)
	t.Cleanup(func() { _ = tc.Close() })
	ctx := context.Background()

	require.NoError(t, tc.Set(ctx, "k", testResponse("x"), 10*time.Second))

	// With no shared tier to backfill from, the local cap must not shorten
	// the entry's lifetime.
	time.Sleep(50 * time.Millisecond)

	resp, tier, err := tc.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, TierL1, tier)
}

func TestTieredCache_SharedTierCapsLocalTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	shared := NewRedisStoreFromClient(client, "qaforge-test", 10*time.Minute)

	local := NewMemoryStore(DefaultMemoryStoreConfig())
	tc := NewTieredCache(local, shared, nil, TieredConfig{LocalTTL: 20 * time.Millisecond}, nil)
	t.Cleanup(func() { _ = tc.Close() })
	ctx := context.Background()

	require.NoError(t, tc.Set(ctx, "k", testResponse("x"), 10*time.Second))

	time.Sleep(50 * time.Millisecond)

	// The L1 copy expired at the cap, but the entry survives at L2.
	resp, tier, err := tc.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, TierL2, tier)
}

func TestTieredCache_LocalOnly(t *testing.T) {
	local := NewMemoryStore(DefaultMemoryStoreConfig())
	tc := NewTieredCache(local, nil, nil, DefaultTieredConfig(), nil)
	t.Cleanup(func() { _ = tc.Close() })
	ctx := context.Background()

	require.NoError(t, tc.Set(ctx, "k", testResponse("x"), time.Minute))

	resp, tier, err := tc.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, TierL1, tier)

	require.Nil(t, tc.Handle(ctx, "fp"))
	require.NoError(t, tc.Ping(ctx))
}
