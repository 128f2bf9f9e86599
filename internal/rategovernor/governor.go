// Package rategovernor implements C2 — an AIMD-adapted token bucket guarding
// Transport calls against Telegram's flood-wait penalties. It is built on
// golang.org/x/time/rate (the same package the retrieved project-tachyon
// BandwidthManager uses for its global speed limiter) with a penalize/recover
// layer on top, since plain rate.Limiter has no notion of a server-issued
// penalty.
package rategovernor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config mirrors the RateGovernor options
type Config struct {
	Capacity         int     // B
	RefillPerSecond  float64 // R
	PenaltyFactor    float64 // e.g. 0.5
	RefillFloor      float64 // e.g. 0.1
	RecoveryFactor   float64 // e.g. 1.25
	RecoveryInterval time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:         10,
		RefillPerSecond:  1.0,
		PenaltyFactor:    0.5,
		RefillFloor:      0.1,
		RecoveryFactor:   1.25,
		RecoveryInterval: 60 * time.Second,
	}
}

// Governor is the single mutable, internally synchronized rate-limiting
// state shared by every Fetcher in a Coordinator run .
type Governor struct {
	mu sync.Mutex

	limiter *rate.Limiter
	target  float64 // configured target refill rate, the ceiling for recovery
	current float64 // current refill rate, possibly reduced by a penalty
	floor   float64

	penaltyFactor  float64
	recoveryFactor float64

	lastPenaltyAt time.Time
	penalizedUntil time.Time

	stopRecovery chan struct{}
	recoveryOnce sync.Once
}

// New constructs a Governor and starts its background recovery ticker.
// Callers must call Close when the Coordinator run ends.
func New(cfg Config) *Governor {
	g := &Governor{
		limiter:        rate.NewLimiter(rate.Limit(cfg.RefillPerSecond), cfg.Capacity),
		target:         cfg.RefillPerSecond,
		current:        cfg.RefillPerSecond,
		floor:          cfg.RefillFloor,
		penaltyFactor:  cfg.PenaltyFactor,
		recoveryFactor: cfg.RecoveryFactor,
		lastPenaltyAt:  time.Now(),
		stopRecovery:   make(chan struct{}),
	}
	go g.recoveryLoop(cfg.RecoveryInterval)
	return g
}

// Close stops the background recovery loop.
func (g *Governor) Close() {
	g.recoveryOnce.Do(func() { close(g.stopRecovery) })
}

// Acquire blocks until n tokens are available or ctx is done. rate.Limiter's
// internal wait queue already serves acquisitions FIFO, which gives the
// ±1-slot fairness property 6 requires under steady contention.
func (g *Governor) Acquire(ctx context.Context, n int) error {
	g.mu.Lock()
	until := g.penalizedUntil
	g.mu.Unlock()

	if wait := time.Until(until); wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return g.limiter.WaitN(ctx, n)
}

// Penalize is called when Transport signals a flood-wait of waitSeconds. It
// drains the bucket, blocks all acquisitions for at least waitSeconds, and
// halves the refill rate down to Floor .
func (g *Governor) Penalize(waitSeconds float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.current *= g.penaltyFactor
	if g.current < g.floor {
		g.current = g.floor
	}
	g.limiter.SetLimit(rate.Limit(g.current))
	// Drain the bucket to zero: reserving its full burst forces the next
	// acquisition to wait for fresh tokens rather than spending whatever
	// was left over from before the penalty.
	_ = g.limiter.ReserveN(time.Now(), g.limiter.Burst())

	g.lastPenaltyAt = time.Now()
	until := time.Now().Add(time.Duration(waitSeconds * float64(time.Second)))
	if until.After(g.penalizedUntil) {
		g.penalizedUntil = until
	}
}

// Recover multiplicatively restores the refill rate toward target, called on
// RecoveryInterval cadence after a sustained no-penalty window .
func (g *Governor) Recover() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.current >= g.target {
		return
	}
	g.current *= g.recoveryFactor
	if g.current > g.target {
		g.current = g.target
	}
	g.limiter.SetLimit(rate.Limit(g.current))
}

func (g *Governor) recoveryLoop(interval time.Duration) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.mu.Lock()
			sinceLast := time.Since(g.lastPenaltyAt)
			g.mu.Unlock()
			if sinceLast >= interval {
				g.Recover()
			}
		case <-g.stopRecovery:
			return
		}
	}
}

// CurrentRate reports the live refill rate.
func (g *Governor) CurrentRate() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}
