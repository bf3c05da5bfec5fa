// Package provider defines the interface between the qaforge control plane
// and an LLM backend. The backend is treated as an opaque remote call that
// returns text, a token-usage report, and a classified outcome.
package provider

import (
	"context"
	"time"

	"github.com/draftline/qaforge/pkg/types"
)

// Provider is implemented by LLM backends.
// Failures must be returned as *errors.Error values from pkg/errors so the
// client can classify them for retry and fallback decisions.
type Provider interface {
	// Name returns the provider identifier used in logs and error values.
	Name() string

	// Complete performs one outbound LLM call. Implementations must honor
	// ctx cancellation and deadlines.
	Complete(ctx context.Context, req *types.CompletionRequest) (*types.Completion, error)
}

// ContextCacher is implemented by providers that support server-side context
// caching of large prompt prefixes. Providers without the capability are
// simply never asked to create handles.
type ContextCacher interface {
	// CreateCachedContext uploads a prompt prefix for reuse and returns the
	// provider-assigned handle. The provider owns the handle's lifetime.
	CreateCachedContext(ctx context.Context, model, prefix string, ttl time.Duration) (*types.ContextHandle, error)
}
