package ratelimit

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ConcurrencyGate bounds the number of operations in flight.
// Waiters are admitted in arrival order.
type ConcurrencyGate struct {
	sem      *semaphore.Weighted
	inFlight atomic.Int64
}

// NewConcurrencyGate creates a gate allowing at most max concurrent operations.
// Values below 1 are treated as 1.
func NewConcurrencyGate(max int) *ConcurrencyGate {
	if max < 1 {
		max = 1
	}
	return &ConcurrencyGate{sem: semaphore.NewWeighted(int64(max))}
}

// Admit blocks until a slot is free. The cost is ignored.
func (g *ConcurrencyGate) Admit(ctx context.Context, _ int64) (Permit, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	g.inFlight.Add(1)
	return &releaseOnce{fn: func() {
		g.inFlight.Add(-1)
		g.sem.Release(1)
	}}, nil
}

// InFlight returns the number of currently held permits.
func (g *ConcurrencyGate) InFlight() int64 {
	return g.inFlight.Load()
}
