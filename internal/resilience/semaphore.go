// Package resilience provides concurrency and rate control for outbound
// LLM calls.
package resilience

import (
	"context"
	"sync"
)

// Semaphore implements a counting semaphore for concurrency control.
// Waiters are woken in FIFO order so permits are granted roughly in
// request order.
type Semaphore struct {
	mu       sync.Mutex
	capacity int
	current  int
	waiters  []chan struct{}
}

// NewSemaphore creates a new semaphore with the given capacity.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 1
	}
	return &Semaphore{
		capacity: capacity,
		waiters:  make([]chan struct{}, 0),
	}
}

// TryAcquire attempts to acquire a permit without blocking.
func (s *Semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current < s.capacity {
		s.current++
		return true
	}
	return false
}

// Acquire acquires a permit, blocking until one is available or the context
// is cancelled.
func (s *Semaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.current < s.capacity {
		s.current++
		s.mu.Unlock()
		return nil
	}
	waiter := make(chan struct{})
	s.waiters = append(s.waiters, waiter)
	s.mu.Unlock()

	select {
	case <-waiter:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		removed := false
		for i, w := range s.waiters {
			if w == waiter {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				removed = true
				break
			}
		}
		s.mu.Unlock()
		if !removed {
			// The permit was granted concurrently with cancellation; hand it back.
			s.Release()
		}
		return ctx.Err()
	}
}

// Release releases a permit, potentially waking the oldest waiter.
func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current <= 0 {
		return
	}

	if len(s.waiters) > 0 {
		waiter := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(waiter)
		// The permit transfers to the waiter; current stays unchanged.
		return
	}

	s.current--
}

// Current returns the current number of acquired permits.
func (s *Semaphore) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Available returns the number of available permits.
func (s *Semaphore) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity - s.current
}

// Capacity returns the semaphore capacity.
func (s *Semaphore) Capacity() int {
	return s.capacity
}
