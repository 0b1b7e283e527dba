package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// ReservoirGate bounds cumulative cost per refill window. Each admission
// consumes its cost from the reservoir; every interval the reservoir is reset
// to its capacity. Consumed budget is not returned on Release.
type ReservoirGate struct {
	mu        sync.Mutex
	capacity  int64
	available int64
	waiters   *list.List // of *reservoirWaiter, FIFO
	refills   int64

	interval time.Duration
	stopOnce sync.Once
	stopCh   chan struct{}
}

type reservoirWaiter struct {
	cost  int64
	ready chan struct{}
}

// NewReservoirGate creates a full reservoir of the given capacity. When
// interval is positive a background goroutine refills it on every tick;
// call Stop to release it. With a zero interval refills happen only through
// Refill.
func NewReservoirGate(capacity int64, interval time.Duration) *ReservoirGate {
	if capacity < 1 {
		capacity = 1
	}
	g := &ReservoirGate{
		capacity:  capacity,
		available: capacity,
		waiters:   list.New(),
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
	if interval > 0 {
		go g.refillLoop()
	}
	return g
}

// Admit consumes cost from the reservoir, waiting for refills while the
// budget is exhausted. Costs above capacity are clamped to capacity so a
// single oversized operation cannot block forever.
func (g *ReservoirGate) Admit(ctx context.Context, cost int64) (Permit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cost = g.clamp(cost)

	g.mu.Lock()
	if g.waiters.Len() == 0 && cost <= g.available {
		g.available -= cost
		g.mu.Unlock()
		return noopPermit{}, nil
	}
	w := &reservoirWaiter{cost: cost, ready: make(chan struct{})}
	elem := g.waiters.PushBack(w)
	g.mu.Unlock()

	select {
	case <-w.ready:
		return noopPermit{}, nil
	case <-ctx.Done():
		g.mu.Lock()
		select {
		case <-w.ready:
			// Granted while we were cancelling; hand the budget back.
			g.available += w.cost
			if g.available > g.capacity {
				g.available = g.capacity
			}
			g.grantLocked()
		default:
			g.waiters.Remove(elem)
			// A large head waiter leaving may unblock smaller ones behind it.
			g.grantLocked()
		}
		g.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Refill resets the reservoir to capacity and admits queued waiters in order.
func (g *ReservoirGate) Refill() {
	g.mu.Lock()
	g.available = g.capacity
	g.refills++
	g.grantLocked()
	g.mu.Unlock()
}

// grantLocked wakes waiters from the head of the queue while budget allows.
// Stops at the first waiter that does not fit so order is preserved.
func (g *ReservoirGate) grantLocked() {
	for {
		front := g.waiters.Front()
		if front == nil {
			return
		}
		w := front.Value.(*reservoirWaiter)
		if w.cost > g.available {
			return
		}
		g.available -= w.cost
		g.waiters.Remove(front)
		close(w.ready)
	}
}

// Available returns the remaining budget in the current window.
func (g *ReservoirGate) Available() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.available
}

// Waiting returns the number of queued admissions.
func (g *ReservoirGate) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiters.Len()
}

// Capacity returns the reservoir ceiling.
func (g *ReservoirGate) Capacity() int64 {
	return g.capacity
}

// Stop halts the refill goroutine. Safe to call multiple times.
func (g *ReservoirGate) Stop() {
	g.stopOnce.Do(func() {
		close(g.stopCh)
	})
}

func (g *ReservoirGate) refillLoop() {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			g.Refill()
		}
	}
}

func (g *ReservoirGate) clamp(cost int64) int64 {
	if cost < 0 {
		return 0
	}
	if cost > g.capacity {
		return g.capacity
	}
	return cost
}
