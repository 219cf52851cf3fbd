// Package poller keeps watched cache keys warm on a fixed interval.
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/cache"
)

// Store is the cache surface the poller needs.
type Store interface {
	Load(ctx context.Context, key cache.Key) (cache.Result, error)
	Peek(key cache.Key) cache.Result
}

// Poller periodically refreshes a set of keys.
type Poller struct {
	store    Store
	keys     []cache.Key
	interval time.Duration
	onCycle  func(Cycle)
	log      *slog.Logger
}

// Cycle summarizes one polling pass.
type Cycle struct {
	Refreshed int
	Skipped   int
	Failed    int
}

// New creates a poller over keys. A non-positive interval defaults to 30s.
func New(store Store, interval time.Duration, keys ...cache.Key) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		store:    store,
		keys:     keys,
		interval: interval,
		log:      slog.Default().With("component", "poller"),
	}
}

// OnCycle registers a callback invoked after every pass.
func (p *Poller) OnCycle(fn func(Cycle)) {
	p.onCycle = fn
}

// Run polls once immediately and then every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.log.Info("poller started", "interval", p.interval, "keys", len(p.keys))

	p.cycle(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.log.Info("poller stopped")
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

// Poll runs one pass. Keys whose entry is still fresh are skipped.
func (p *Poller) Poll(ctx context.Context) Cycle {
	var c Cycle
	for _, k := range p.keys {
		if ctx.Err() != nil {
			break
		}
		if res := p.store.Peek(k); res.OK && res.Fresh {
			c.Skipped++
			continue
		}
		if _, err := p.store.Load(ctx, k); err != nil {
			c.Failed++
			p.log.Warn("poll failed", "key", k.String(), "error", err)
			continue
		}
		c.Refreshed++
	}
	return c
}

func (p *Poller) cycle(ctx context.Context) {
	c := p.Poll(ctx)
	p.log.Debug("poll cycle", "refreshed", c.Refreshed, "skipped", c.Skipped, "failed", c.Failed)
	if p.onCycle != nil {
		p.onCycle(c)
	}
}
