package generate

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	qferrors "github.com/draftline/qaforge/pkg/errors"
	"github.com/draftline/qaforge/pkg/types"
)

// invokerFunc adapts a function to the Invoker interface.
type invokerFunc func(ctx context.Context, req *types.CompletionRequest) (*types.Completion, error)

func (f invokerFunc) Invoke(ctx context.Context, req *types.CompletionRequest) (*types.Completion, error) {
	return f(ctx, req)
}

func TestStrategy_Render(t *testing.T) {
	s := Strategy{Name: "test", Template: "Q: {{query}}\nC: {{context}}"}
	out := s.Render("what?", "facts")
	require.Equal(t, "Q: what?\nC: facts", out)
}

func TestDefaultStrategies_ClosedTable(t *testing.T) {
	strategies := DefaultStrategies()
	require.Len(t, strategies, 3)

	seen := make(map[int]bool)
	for _, s := range strategies {
		require.False(t, seen[s.Priority], "priorities must be unique")
		seen[s.Priority] = true
	}

	require.Equal(t, 0, PriorityOf(strategies, "numeric-emphasis"))
	require.Equal(t, len(strategies), PriorityOf(strategies, "unknown"))
}

func TestGenerator_AllStrategiesSucceed(t *testing.T) {
	var calls atomic.Int32
	inv := invokerFunc(func(ctx context.Context, req *types.CompletionRequest) (*types.Completion, error) {
		calls.Add(1)
		return &types.Completion{
			Text:  "answer for " + req.Prompt[:20],
			Usage: types.Usage{TotalTokens: 10},
		}, nil
	})

	g := NewGenerator(inv, nil, DefaultGeneratorConfig(), nil)
	candidates, dropped := g.Generate(context.Background(), "q", "c")

	require.Len(t, candidates, 3)
	require.Empty(t, dropped)
	require.Equal(t, int32(3), calls.Load())

	names := make(map[string]bool)
	for _, cand := range candidates {
		names[cand.Strategy] = true
		require.NotEmpty(t, cand.Text)
	}
	require.Len(t, names, 3, "one candidate per strategy")
}

func TestGenerator_PartialFailureDropsStrategy(t *testing.T) {
	inv := invokerFunc(func(ctx context.Context, req *types.CompletionRequest) (*types.Completion, error) {
		if strings.Contains(req.Prompt, "changed over time") {
			// The trend-emphasis template carries this phrase.
			return nil, qferrors.NewServiceUnavailableError("test", req.Model, "boom")
		}
		return &types.Completion{Text: "ok"}, nil
	})

	g := NewGenerator(inv, nil, DefaultGeneratorConfig(), nil)
	candidates, dropped := g.Generate(context.Background(), "q", "c")

	require.Len(t, candidates, 2)
	require.Equal(t, []string{"trend-emphasis"}, dropped)
}

func TestGenerator_AllStrategiesFail(t *testing.T) {
	inv := invokerFunc(func(ctx context.Context, req *types.CompletionRequest) (*types.Completion, error) {
		return nil, qferrors.NewServiceUnavailableError("test", req.Model, "down")
	})

	g := NewGenerator(inv, nil, DefaultGeneratorConfig(), nil)
	candidates, dropped := g.Generate(context.Background(), "q", "c")

	require.Empty(t, candidates)
	require.Len(t, dropped, 3)
	require.Equal(t, []string{"comparison-emphasis", "numeric-emphasis", "trend-emphasis"}, dropped)
}

func TestGenerator_ConcurrentFanOut(t *testing.T) {
	// Three strategies sleeping 50ms each: concurrent execution finishes
	// well under the serial 150ms.
	inv := invokerFunc(func(ctx context.Context, req *types.CompletionRequest) (*types.Completion, error) {
		time.Sleep(50 * time.Millisecond)
		return &types.Completion{Text: "ok"}, nil
	})

	g := NewGenerator(inv, nil, DefaultGeneratorConfig(), nil)

	start := time.Now()
	candidates, _ := g.Generate(context.Background(), "q", "c")
	elapsed := time.Since(start)

	require.Len(t, candidates, 3)
	require.Less(t, elapsed, 120*time.Millisecond)
}

func TestGenerator_RoundTimeout(t *testing.T) {
	cfg := DefaultGeneratorConfig()
	cfg.RoundTimeout = 30 * time.Millisecond

	inv := invokerFunc(func(ctx context.Context, req *types.CompletionRequest) (*types.Completion, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return &types.Completion{Text: "too late"}, nil
		}
	})

	g := NewGenerator(inv, nil, cfg, nil)
	candidates, dropped := g.Generate(context.Background(), "q", "c")

	require.Empty(t, candidates)
	require.Len(t, dropped, 3)
}

func TestGenerator_CustomStrategies(t *testing.T) {
	inv := invokerFunc(func(ctx context.Context, req *types.CompletionRequest) (*types.Completion, error) {
		return &types.Completion{Text: req.Prompt}, nil
	})

	custom := []Strategy{{Name: "only", Template: "{{query}}", Priority: 0}}
	g := NewGenerator(inv, custom, DefaultGeneratorConfig(), nil)

	candidates, dropped := g.Generate(context.Background(), "hello", "")
	require.Empty(t, dropped)
	require.Len(t, candidates, 1)
	require.Equal(t, "only", candidates[0].Strategy)
	require.Equal(t, "hello", candidates[0].Text)
}
