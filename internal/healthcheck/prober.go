// Package healthcheck provides proactive probing of the shared cache tier.
package healthcheck

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/draftline/qaforge/internal/metrics"
)

const (
	defaultProbeInterval = 30 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// Pinger is the probe target. Implemented by the cache stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config controls the prober behavior.
type Config struct {
	Enabled  bool
	Interval time.Duration
	Timeout  time.Duration
}

// Prober periodically pings the shared cache tier and reports transitions.
// A down shared tier is a degraded mode, not a failure: the cache falls back
// to the local tier, so the prober only logs and updates the health gauge.
type Prober struct {
	cfg     Config
	target  Pinger
	logger  *slog.Logger
	started atomic.Bool
	healthy atomic.Bool
}

// NewProber creates a prober for the given target.
func NewProber(cfg Config, target Pinger, logger *slog.Logger) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultProbeInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Prober{
		cfg:    cfg,
		target: target,
		logger: logger,
	}
	p.healthy.Store(true)
	return p
}

// Start begins the probe loop until the context is canceled.
func (p *Prober) Start(ctx context.Context) {
	if p == nil || !p.cfg.Enabled || p.target == nil {
		return
	}
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	go p.run(ctx)
}

// Healthy reports the result of the most recent probe.
func (p *Prober) Healthy() bool {
	return p.healthy.Load()
}

func (p *Prober) run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.probe(ctx)

	for {
		select {
		case <-ticker.C:
			p.probe(ctx)
		case <-ctx.Done():
			p.logger.Info("cache health prober stopped")
			return
		}
	}
}

func (p *Prober) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	err := p.target.Ping(probeCtx)
	was := p.healthy.Load()

	if err != nil {
		p.healthy.Store(false)
		metrics.SharedCacheUp.Set(0)
		if was {
			p.logger.Warn("shared cache tier unreachable, serving from local tier only",
				"error", err,
			)
		}
		return
	}

	p.healthy.Store(true)
	metrics.SharedCacheUp.Set(1)
	if !was {
		p.logger.Info("shared cache tier recovered")
	}
}
