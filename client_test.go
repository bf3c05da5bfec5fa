package qaforge

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/draftline/qaforge/internal/budget"
	"github.com/draftline/qaforge/internal/pricing"
	"github.com/draftline/qaforge/internal/resilience"
	qferrors "github.com/draftline/qaforge/pkg/errors"
	"github.com/draftline/qaforge/pkg/types"
)

// mockProvider records every call and delegates to a per-test handler.
type mockProvider struct {
	mu      sync.Mutex
	calls   []types.CompletionRequest
	handler func(req *types.CompletionRequest) (*types.Completion, error)
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Complete(ctx context.Context, req *types.CompletionRequest) (*types.Completion, error) {
	m.mu.Lock()
	m.calls = append(m.calls, *req)
	m.mu.Unlock()
	if m.handler != nil {
		return m.handler(req)
	}
	return &types.Completion{
		Model: req.Model,
		Text:  "answer: 42 million dollars.",
		Usage: types.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockProvider) modelsSeen() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.Model
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, p *mockProvider, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithProvider(p),
		WithModels("m1", "m2"),
		WithRetry(2, time.Millisecond),
		WithRetryJitter(0),
		WithLogger(quietLogger()),
	}
	c, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNew_RequiresProvider(t *testing.T) {
	_, err := New(WithModels("m1"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "provider is required")
}

func TestNew_RequiresModels(t *testing.T) {
	_, err := New(WithProvider(&mockProvider{}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "model is required")
}

func TestInvoke_ValidatesRequest(t *testing.T) {
	c := newTestClient(t, &mockProvider{})

	_, err := c.Invoke(context.Background(), nil)
	require.True(t, qferrors.IsInvalidRequest(err))

	_, err = c.Invoke(context.Background(), &types.CompletionRequest{Model: "m1"})
	require.True(t, qferrors.IsInvalidRequest(err))
}

func TestInvoke_DefaultsToFirstModel(t *testing.T) {
	p := &mockProvider{}
	c := newTestClient(t, p)

	comp, err := c.Invoke(context.Background(), &types.CompletionRequest{Prompt: "q"})
	require.NoError(t, err)
	require.Equal(t, "m1", comp.Model)
	require.Equal(t, []string{"m1"}, p.modelsSeen())
}

func TestInvoke_SecondCallServedFromCache(t *testing.T) {
	p := &mockProvider{}
	c := newTestClient(t, p)

	req := &types.CompletionRequest{Model: "m1", Prompt: "what was revenue?"}

	first, err := c.Invoke(context.Background(), req)
	require.NoError(t, err)
	require.False(t, first.Cached)

	second, err := c.Invoke(context.Background(), req)
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, first.Text, second.Text)

	require.Equal(t, 1, p.callCount())
}

func TestInvoke_CacheDisabledCallsEveryTime(t *testing.T) {
	p := &mockProvider{}
	c := newTestClient(t, p, WithCacheDisabled())

	req := &types.CompletionRequest{Model: "m1", Prompt: "q"}
	_, err := c.Invoke(context.Background(), req)
	require.NoError(t, err)
	_, err = c.Invoke(context.Background(), req)
	require.NoError(t, err)

	require.Equal(t, 2, p.callCount())
}

func TestInvoke_ConcurrentIdenticalRequestsCoalesce(t *testing.T) {
	p := &mockProvider{
		handler: func(req *types.CompletionRequest) (*types.Completion, error) {
			time.Sleep(20 * time.Millisecond)
			return &types.Completion{Model: req.Model, Text: "slow answer."}, nil
		},
	}
	c := newTestClient(t, p)

	req := &types.CompletionRequest{Model: "m1", Prompt: "identical"}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			comp, err := c.Invoke(context.Background(), req)
			require.NoError(t, err)
			require.Equal(t, "slow answer.", comp.Text)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, p.callCount(), "identical concurrent misses must share one provider call")
}

func TestInvoke_RateLimitFallsBackToNextModel(t *testing.T) {
	p := &mockProvider{
		handler: func(req *types.CompletionRequest) (*types.Completion, error) {
			if req.Model == "m1" {
				return nil, qferrors.NewRateLimitError("mock", "m1", "throttled")
			}
			return &types.Completion{
				Model: "m2",
				Text:  "fallback answer.",
				Usage: types.Usage{TotalTokens: 10},
			}, nil
		},
	}
	c := newTestClient(t, p)

	comp, err := c.Invoke(context.Background(), &types.CompletionRequest{Model: "m1", Prompt: "q"})
	require.NoError(t, err)
	require.Equal(t, "m2", comp.Model)
	// Rate limit triggers immediate fallback, not same-model retries.
	require.Equal(t, []string{"m1", "m2"}, p.modelsSeen())

	status := c.BudgetStatus()
	require.Equal(t, int64(1), status.Calls, "usage is committed against the model that answered")
}

func TestInvoke_FallbackAnswerCachedUnderRequestedModel(t *testing.T) {
	p := &mockProvider{
		handler: func(req *types.CompletionRequest) (*types.Completion, error) {
			if req.Model == "m1" {
				return nil, qferrors.NewRateLimitError("mock", "m1", "throttled")
			}
			return &types.Completion{Model: "m2", Text: "fallback answer."}, nil
		},
	}
	c := newTestClient(t, p)

	req := &types.CompletionRequest{Model: "m1", Prompt: "q"}
	first, err := c.Invoke(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "m2", first.Model)

	// The fallback answer is the cached result of the m1 request. The entry
	// records the model that actually answered.
	second, err := c.Invoke(context.Background(), req)
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, "m2", second.Model)
	require.Equal(t, []string{"m1", "m2"}, p.modelsSeen())

	// An explicit m2 request has its own fingerprint and goes to the provider.
	_, err = c.Invoke(context.Background(), &types.CompletionRequest{Model: "m2", Prompt: "q"})
	require.NoError(t, err)
	require.Equal(t, []string{"m1", "m2", "m2"}, p.modelsSeen())
}

func TestInvoke_TransientFailureRetriesSameModel(t *testing.T) {
	var failures int
	var mu sync.Mutex
	p := &mockProvider{
		handler: func(req *types.CompletionRequest) (*types.Completion, error) {
			mu.Lock()
			defer mu.Unlock()
			if failures < 1 {
				failures++
				return nil, qferrors.NewServiceUnavailableError("mock", req.Model, "flaky")
			}
			return &types.Completion{Model: req.Model, Text: "recovered."}, nil
		},
	}
	c := newTestClient(t, p)

	comp, err := c.Invoke(context.Background(), &types.CompletionRequest{Model: "m1", Prompt: "q"})
	require.NoError(t, err)
	require.Equal(t, "recovered.", comp.Text)
	require.Equal(t, []string{"m1", "m1"}, p.modelsSeen())
}

func TestInvoke_RetryExhaustionFallsBack(t *testing.T) {
	p := &mockProvider{
		handler: func(req *types.CompletionRequest) (*types.Completion, error) {
			if req.Model == "m1" {
				return nil, qferrors.NewServiceUnavailableError("mock", "m1", "down")
			}
			return &types.Completion{Model: "m2", Text: "backup."}, nil
		},
	}
	c := newTestClient(t, p)

	comp, err := c.Invoke(context.Background(), &types.CompletionRequest{Model: "m1", Prompt: "q"})
	require.NoError(t, err)
	require.Equal(t, "m2", comp.Model)
	// Two retries on m1 (three attempts), then the fallback.
	require.Equal(t, []string{"m1", "m1", "m1", "m2"}, p.modelsSeen())
}

func TestInvoke_FatalErrorStopsChain(t *testing.T) {
	p := &mockProvider{
		handler: func(req *types.CompletionRequest) (*types.Completion, error) {
			return nil, qferrors.NewContentPolicyError("mock", req.Model, "flagged")
		},
	}
	c := newTestClient(t, p)

	_, err := c.Invoke(context.Background(), &types.CompletionRequest{Model: "m1", Prompt: "q"})
	require.True(t, qferrors.IsContentPolicy(err))
	require.Equal(t, 1, p.callCount(), "content policy failures must not retry or fall back")
}

func TestInvoke_BudgetCeilingBlocksCall(t *testing.T) {
	p := &mockProvider{}
	c := newTestClient(t, p,
		WithBudget(budget.TrackerConfig{MaxCostUSD: 0.001}),
		WithPricing(
			pricing.ModelPricing{Model: "m1", InputCostPer1K: 1, OutputCostPer1K: 1},
			pricing.ModelPricing{Model: "m2", InputCostPer1K: 1, OutputCostPer1K: 1},
		),
	)

	_, err := c.Invoke(context.Background(), &types.CompletionRequest{Model: "m1", Prompt: "q"})
	require.True(t, qferrors.IsBudgetExceeded(err))
	require.Zero(t, p.callCount(), "the provider must not be reached once the ceiling blocks")
}

func TestInvoke_CachedResponseBypassesBudget(t *testing.T) {
	p := &mockProvider{}
	// A one-token ceiling admits the first call and blocks every later one.
	c := newTestClient(t, p, WithBudget(budget.TrackerConfig{MaxTokens: 1}))

	req := &types.CompletionRequest{Model: "m1", Prompt: "q"}
	_, err := c.Invoke(context.Background(), req)
	require.NoError(t, err)

	// The ceiling is now exhausted, but the cached response still serves.
	comp, err := c.Invoke(context.Background(), req)
	require.NoError(t, err)
	require.True(t, comp.Cached)

	_, err = c.Invoke(context.Background(), &types.CompletionRequest{Model: "m1", Prompt: "different"})
	require.True(t, qferrors.IsBudgetExceeded(err))
	require.Equal(t, 1, p.callCount())
}

func TestInvoke_ConcurrencyBounded(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0
	p := &mockProvider{
		handler: func(req *types.CompletionRequest) (*types.Completion, error) {
			mu.Lock()
			inFlight++
			if inFlight > peak {
				peak = inFlight
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			inFlight--
			mu.Unlock()
			return &types.Completion{Model: req.Model, Text: "ok " + req.Prompt}, nil
		},
	}
	c := newTestClient(t, p, WithRateLimit(resilience.LimiterConfig{MaxConcurrent: 2}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Invoke(context.Background(), &types.CompletionRequest{
				Model:  "m1",
				Prompt: strings.Repeat("q", i+1),
			})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.LessOrEqual(t, peak, 2)
}

func TestSetRules_InvalidatesCache(t *testing.T) {
	p := &mockProvider{}
	c := newTestClient(t, p)

	req := &types.CompletionRequest{Model: "m1", Prompt: "q"}
	_, err := c.Invoke(context.Background(), req)
	require.NoError(t, err)
	_, err = c.Invoke(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, p.callCount())

	require.NoError(t, c.SetRules("numeric", []string{"state units"}))

	_, err = c.Invoke(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 2, p.callCount(), "rule changes must flush cached answers")
}

func TestSetRules_ExternalStoreRejected(t *testing.T) {
	c := newTestClient(t, &mockProvider{}, WithRuleStore(staticRules{}))

	err := c.SetRules("numeric", []string{"rule"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "externally managed")
}

type staticRules struct{}

func (staticRules) Rules(ctx context.Context, queryType string) ([]string, error) {
	return nil, nil
}

func TestGenerateAndSelect_EndToEnd(t *testing.T) {
	const answer = "Revenue reached 42 million dollars in the third quarter."
	p := &mockProvider{
		handler: func(req *types.CompletionRequest) (*types.Completion, error) {
			if strings.HasPrefix(req.Prompt, "Grade the answer") {
				return &types.Completion{
					Model: req.Model,
					Text:  `{"accuracy":8,"completeness":7,"clarity":9,"relevance":8}`,
				}, nil
			}
			return &types.Completion{
				Model: req.Model,
				Text:  answer,
				Usage: types.Usage{TotalTokens: 30},
			}, nil
		},
	}
	c := newTestClient(t, p)

	result, err := c.GenerateAndSelect(context.Background(), "What was revenue?", "", "numeric")
	require.NoError(t, err)

	require.Equal(t, StateAccepted, result.State)
	require.Equal(t, answer, result.Answer)
	require.False(t, result.Provenance.Repaired)
	require.Equal(t, 3, result.Provenance.CandidateCount)
	require.Zero(t, result.Provenance.Score.HardViolations())
}

func TestInvalidateCache(t *testing.T) {
	p := &mockProvider{}
	c := newTestClient(t, p)

	req := &types.CompletionRequest{Model: "m1", Prompt: "q"}
	_, err := c.Invoke(context.Background(), req)
	require.NoError(t, err)

	n, err := c.InvalidateCache(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = c.Invoke(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 2, p.callCount())
}

func TestResetBudget(t *testing.T) {
	p := &mockProvider{}
	c := newTestClient(t, p,
		WithPricing(pricing.ModelPricing{Model: "m1", InputCostPer1K: 1, OutputCostPer1K: 1}),
	)

	_, err := c.Invoke(context.Background(), &types.CompletionRequest{Model: "m1", Prompt: "q"})
	require.NoError(t, err)
	require.Positive(t, c.BudgetStatus().SpentCostUSD)

	c.ResetBudget()
	require.Zero(t, c.BudgetStatus().SpentCostUSD)
	require.Zero(t, c.BudgetStatus().Calls)
}
