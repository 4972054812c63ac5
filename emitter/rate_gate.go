package emitter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultActionSpacing paces submitters built without an explicit gate.
const DefaultActionSpacing = 300 * time.Millisecond

// RateGate paces venue actions across every wallet served by the process.
// Implementations must be safe for concurrent use.
type RateGate interface {
	Wait(ctx context.Context) error
	// Cooldown blocks every Wait for at least d.
	Cooldown(d time.Duration)
}

// NewRateGate lets one action through per spacing. A spacing of zero or
// less disables pacing; cooldowns still apply.
func NewRateGate(spacing time.Duration) RateGate {
	limit := rate.Inf
	if spacing > 0 {
		limit = rate.Every(spacing)
	}
	return &rateGate{limiter: rate.NewLimiter(limit, 1)}
}

type rateGate struct {
	limiter *rate.Limiter

	mu    sync.Mutex
	until time.Time
}

func (g *rateGate) Wait(ctx context.Context) error {
	if err := g.waitCooldown(ctx); err != nil {
		return err
	}
	return g.limiter.Wait(ctx)
}

func (g *rateGate) waitCooldown(ctx context.Context) error {
	g.mu.Lock()
	wait := time.Until(g.until)
	g.mu.Unlock()
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *rateGate) Cooldown(d time.Duration) {
	if d <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if until := time.Now().Add(d); until.After(g.until) {
		g.until = until
	}
}
