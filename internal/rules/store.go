// Package rules provides read-only access to answer-quality rule text keyed
// by query type. The backing knowledge store is external; connectivity
// failures degrade to "no additional rules" rather than failing the caller.
package rules

import (
	"context"
	"sync"
)

// Store serves rule text for a query type.
type Store interface {
	// Rules returns the rule texts for the given query type. Implementations
	// may return a connectivity error; callers must treat it as an empty
	// rule set, never as fatal.
	Rules(ctx context.Context, queryType string) ([]string, error)
}

// MutationHook is invoked after a rule set changes, with the affected query
// type. Used to invalidate cached responses built on stale rules.
type MutationHook func(queryType string)

// MemoryStore is an in-memory Store implementation with mutation hooks.
type MemoryStore struct {
	mu    sync.RWMutex
	rules map[string][]string
	hooks []MutationHook
}

// NewMemoryStore creates an empty in-memory rule store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules: make(map[string][]string),
	}
}

// Rules returns the rule texts for the query type.
func (s *MemoryStore) Rules(ctx context.Context, queryType string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.rules[queryType]
	out := make([]string, len(stored))
	copy(out, stored)
	return out, nil
}

// SetRules replaces the rule set for a query type and fires mutation hooks.
func (s *MemoryStore) SetRules(queryType string, texts []string) {
	stored := make([]string, len(texts))
	copy(stored, texts)

	s.mu.Lock()
	s.rules[queryType] = stored
	hooks := make([]MutationHook, len(s.hooks))
	copy(hooks, s.hooks)
	s.mu.Unlock()

	for _, hook := range hooks {
		hook(queryType)
	}
}

// OnMutate registers a hook fired after every rule mutation.
func (s *MemoryStore) OnMutate(hook MutationHook) {
	s.mu.Lock()
	s.hooks = append(s.hooks, hook)
	s.mu.Unlock()
}
