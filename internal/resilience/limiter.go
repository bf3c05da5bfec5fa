package resilience

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// LimiterConfig holds configuration for the call limiter.
type LimiterConfig struct {
	// MaxConcurrent bounds outstanding outbound calls. Zero defaults to 8.
	MaxConcurrent int `yaml:"max_concurrent"`
	// CallsPerMinute bounds the rolling per-minute call rate. Zero disables
	// the rate window, leaving only the concurrency bound.
	CallsPerMinute int `yaml:"calls_per_minute"`
	// Burst is the token bucket capacity. Zero defaults to CallsPerMinute/6,
	// at least 1.
	Burst int `yaml:"burst"`
}

// Limiter bounds concurrent and per-minute outbound calls. Acquire suspends
// the caller until both ceilings allow forward progress; it cannot fail, only
// delay (or abort on context cancellation).
type Limiter struct {
	sem    *Semaphore
	bucket *rate.Limiter
}

// Permit represents an acquired slot. It must be released exactly once.
type Permit struct {
	limiter  *Limiter
	released bool
}

// NewLimiter creates a call limiter from the given config.
func NewLimiter(cfg LimiterConfig) *Limiter {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}

	l := &Limiter{sem: NewSemaphore(cfg.MaxConcurrent)}

	if cfg.CallsPerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = cfg.CallsPerMinute / 6
			if burst < 1 {
				burst = 1
			}
		}
		l.bucket = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.CallsPerMinute)), burst)
	}
	return l
}

// Acquire blocks until a concurrency slot and a rate token are both
// available, or the context is cancelled.
func (l *Limiter) Acquire(ctx context.Context) (*Permit, error) {
	if err := l.sem.Acquire(ctx); err != nil {
		return nil, err
	}

	if l.bucket != nil {
		if err := l.bucket.Wait(ctx); err != nil {
			l.sem.Release()
			return nil, err
		}
	}

	return &Permit{limiter: l}, nil
}

// Release returns the concurrency slot. Safe to call once per permit;
// subsequent calls are no-ops.
func (p *Permit) Release() {
	if p == nil || p.released {
		return
	}
	p.released = true
	p.limiter.sem.Release()
}

// InFlight returns the number of currently outstanding permits.
func (l *Limiter) InFlight() int {
	return l.sem.Current()
}
