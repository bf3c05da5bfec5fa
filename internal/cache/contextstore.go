package cache

import (
	"context"
	"sync"
	"time"

	"github.com/draftline/qaforge/pkg/types"
)

// MemoryContextStore is the default in-memory ContextStore implementation.
// It stores provider-side cache handles keyed by prompt-prefix fingerprint.
// Expired handles are dropped lazily on read; the provider owns the actual
// cached content, so nothing is refreshed locally.
type MemoryContextStore struct {
	mu      sync.RWMutex
	handles map[string]*types.ContextHandle
}

// NewMemoryContextStore creates an empty context-handle store.
func NewMemoryContextStore() *MemoryContextStore {
	return &MemoryContextStore{
		handles: make(map[string]*types.ContextHandle),
	}
}

// GetHandle retrieves a handle by fingerprint, or nil if absent or expired.
func (s *MemoryContextStore) GetHandle(ctx context.Context, fingerprint string) (*types.ContextHandle, error) {
	s.mu.RLock()
	h, ok := s.handles[fingerprint]
	s.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if h.Expired() {
		s.mu.Lock()
		delete(s.handles, fingerprint)
		s.mu.Unlock()
		return nil, nil
	}

	hCopy := *h
	return &hCopy, nil
}

// SaveHandle stores a handle under the fingerprint.
func (s *MemoryContextStore) SaveHandle(ctx context.Context, fingerprint string, handle *types.ContextHandle) error {
	if handle == nil {
		return nil
	}
	hCopy := *handle

	s.mu.Lock()
	s.handles[fingerprint] = &hCopy
	s.mu.Unlock()
	return nil
}

// DeleteHandle removes a handle.
func (s *MemoryContextStore) DeleteHandle(ctx context.Context, fingerprint string) error {
	s.mu.Lock()
	delete(s.handles, fingerprint)
	s.mu.Unlock()
	return nil
}

// Cleanup removes all expired handles. Called opportunistically.
func (s *MemoryContextStore) Cleanup(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for fp, h := range s.handles {
		if !h.ExpiresAt.IsZero() && now.After(h.ExpiresAt) {
			delete(s.handles, fp)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored handles.
func (s *MemoryContextStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}
