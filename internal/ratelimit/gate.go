// Package ratelimit provides a shared pacing gate that enforces a minimum
// interval between outbound requests across every worker in a run.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Gate serializes outbound request starts. All clients in a run share one
// gate so concurrent workers cannot multiply the effective request rate.
type Gate struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewGate creates a gate enforcing at least interval between requests.
// A non-positive interval disables pacing.
func NewGate(interval time.Duration) *Gate {
	return &Gate{
		interval: interval,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Wait blocks until the caller may start a request or ctx is cancelled.
// Each successful return reserves the next slot, so N concurrent callers
// are released at least interval apart.
func (g *Gate) Wait(ctx context.Context) error {
	if g.interval <= 0 {
		return ctx.Err()
	}

	g.mu.Lock()
	now := g.now()
	wait := g.next.Sub(now)
	if wait < 0 {
		wait = 0
	}
	start := now.Add(wait)
	g.next = start.Add(g.interval)
	g.mu.Unlock()

	return g.sleep(ctx, wait)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
