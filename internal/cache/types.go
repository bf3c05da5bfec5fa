// Package cache provides the multi-tier response cache for LLM calls.
// It combines an in-process store (L1), an optional shared Redis store (L2),
// and provider-side context-cache handles (L3), with single-flight loading
// so concurrent misses for one fingerprint issue a single outbound call.
package cache

import (
	"context"
	"time"

	"github.com/draftline/qaforge/pkg/types"
)

// CachedResponse is the serialized form stored at L1 and L2.
// Entries are immutable once written; they are superseded only by explicit
// invalidation or TTL expiry.
type CachedResponse struct {
	Timestamp int64       `json:"timestamp"`
	Response  []byte      `json:"response"`
	Model     string      `json:"model,omitempty"`
	Usage     types.Usage `json:"usage"`
}

// Stats holds cache statistics for monitoring.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Sets    int64   `json:"sets"`
	Deletes int64   `json:"deletes"`
	Errors  int64   `json:"errors"`
	HitRate float64 `json:"hit_rate"`
	Size    int     `json:"size"`
}

// Store is a single cache tier backing store.
type Store interface {
	// Get retrieves a value. Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. If TTL is 0, the store's
	// default TTL is used.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key.
	Delete(ctx context.Context, key string) error

	// DeleteFunc removes all keys for which predicate returns true and
	// reports how many were removed.
	DeleteFunc(ctx context.Context, predicate func(key string) bool) (int, error)

	// Ping checks if the store is healthy.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error

	// Stats returns store statistics.
	Stats() Stats
}

// ContextStore holds provider-side context-cache handles (L3).
// Implementations may be in-memory or shared. Handles are never refreshed
// locally; the provider controls their lifetime.
type ContextStore interface {
	// GetHandle retrieves a handle by fingerprint. Returns nil if absent
	// or past its provider-side expiry.
	GetHandle(ctx context.Context, fingerprint string) (*types.ContextHandle, error)

	// SaveHandle stores a handle under the fingerprint.
	SaveHandle(ctx context.Context, fingerprint string, handle *types.ContextHandle) error

	// DeleteHandle removes a handle.
	DeleteHandle(ctx context.Context, fingerprint string) error
}

// KeyGenerator derives the deterministic content fingerprint used as the
// cache key at every tier.
type KeyGenerator interface {
	Generate(params KeyParams) string
}

// KeyParams contains the inputs that determine a cache key. Two requests
// with equal KeyParams are interchangeable for caching purposes.
type KeyParams struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"`
	TopP        *float64 `json:"top_p"`
	Namespace   string   `json:"namespace,omitempty"`
}
