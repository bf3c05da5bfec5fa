package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	qferrors "github.com/draftline/qaforge/pkg/errors"
	"github.com/draftline/qaforge/pkg/types"
)

func newTestProvider(handler http.HandlerFunc) (*Provider, *httptest.Server) {
	srv := httptest.NewServer(handler)
	p := New(WithAPIKey("test-key"), WithBaseURL(srv.URL))
	return p, srv
}

func TestComplete_Success(t *testing.T) {
	p, srv := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "gpt-4o", payload["model"])
		msgs := payload["messages"].([]any)
		require.Len(t, msgs, 1)
		require.Equal(t, "What was revenue?", msgs[0].(map[string]any)["content"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-123",
			"model": "gpt-4o",
			"choices": [{"message": {"content": "Revenue was 42 million."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 8, "total_tokens": 20}
		}`))
	})
	defer srv.Close()

	comp, err := p.Complete(context.Background(), &types.CompletionRequest{
		Model:  "gpt-4o",
		Prompt: "What was revenue?",
	})
	require.NoError(t, err)

	require.Equal(t, "chatcmpl-123", comp.ID)
	require.Equal(t, "Revenue was 42 million.", comp.Text)
	require.Equal(t, types.FinishStop, comp.FinishReason)
	require.Equal(t, 20, comp.Usage.TotalTokens)
}

func TestComplete_RateLimited(t *testing.T) {
	p, srv := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "rate limit exceeded", "type": "requests"}}`))
	})
	defer srv.Close()

	_, err := p.Complete(context.Background(), &types.CompletionRequest{Model: "gpt-4o", Prompt: "q"})
	require.Error(t, err)
	require.True(t, qferrors.IsRateLimit(err))
	require.False(t, qferrors.IsRetryable(err))
	require.Contains(t, err.Error(), "rate limit exceeded")
}

func TestComplete_ContentFilter(t *testing.T) {
	p, srv := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "flagged", "code": "content_filter"}}`))
	})
	defer srv.Close()

	_, err := p.Complete(context.Background(), &types.CompletionRequest{Model: "gpt-4o", Prompt: "q"})
	require.Error(t, err)
	require.True(t, qferrors.IsContentPolicy(err))
}

func TestComplete_InvalidRequest(t *testing.T) {
	p, srv := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "unknown model", "type": "invalid_request_error"}}`))
	})
	defer srv.Close()

	_, err := p.Complete(context.Background(), &types.CompletionRequest{Model: "nope", Prompt: "q"})
	require.Error(t, err)
	require.True(t, qferrors.IsInvalidRequest(err))
	require.False(t, qferrors.IsRetryable(err))
}

func TestComplete_ServerErrorIsRetryable(t *testing.T) {
	p, srv := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error": {"message": "overloaded"}}`))
	})
	defer srv.Close()

	_, err := p.Complete(context.Background(), &types.CompletionRequest{Model: "gpt-4o", Prompt: "q"})
	require.Error(t, err)
	require.True(t, qferrors.IsRetryable(err))
}

func TestComplete_ContextTimeout(t *testing.T) {
	p, srv := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Complete(ctx, &types.CompletionRequest{Model: "gpt-4o", Prompt: "q"})
	require.Error(t, err)
	require.True(t, qferrors.IsTimeout(err))
}

func TestComplete_NoChoices(t *testing.T) {
	p, srv := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": "x", "model": "gpt-4o", "choices": []}`))
	})
	defer srv.Close()

	_, err := p.Complete(context.Background(), &types.CompletionRequest{Model: "gpt-4o", Prompt: "q"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no choices")
}

func TestComplete_FinishReasons(t *testing.T) {
	cases := map[string]types.FinishReason{
		"stop":           types.FinishStop,
		"length":         types.FinishLength,
		"content_filter": types.FinishContentFilter,
	}

	for reason, want := range cases {
		p, srv := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
			resp := map[string]any{
				"id":    "x",
				"model": "gpt-4o",
				"choices": []map[string]any{
					{"message": map[string]any{"content": "hi"}, "finish_reason": reason},
				},
			}
			_ = json.NewEncoder(w).Encode(resp)
		})

		comp, err := p.Complete(context.Background(), &types.CompletionRequest{Model: "gpt-4o", Prompt: "q"})
		srv.Close()
		require.NoError(t, err)
		require.Equal(t, want, comp.FinishReason)
	}
}

func TestComplete_CustomHeaders(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Org")
		_, _ = w.Write([]byte(`{"id": "x", "model": "gpt-4o", "choices": [{"message": {"content": "hi"}}]}`))
	}))
	defer srv.Close()

	p := New(WithAPIKey("k"), WithBaseURL(srv.URL), WithHeader("X-Org", "acme"))
	_, err := p.Complete(context.Background(), &types.CompletionRequest{Model: "gpt-4o", Prompt: "q"})
	require.NoError(t, err)
	require.Equal(t, "acme", got)
}
