// Package ratelimit provides composable admission gates and a FIFO work
// scheduler that runs tasks once every gate has admitted them.
package ratelimit

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when work is submitted to a closed scheduler.
var ErrClosed = errors.New("ratelimit: scheduler closed")

// Permit is held for the duration of an admitted operation.
type Permit interface {
	// Release returns whatever the gate reserved. Safe to call more than once.
	Release()
}

// Gate admits operations. Admit blocks until the operation may start or ctx is done.
// cost is the operation's declared weight; gates that only count operations ignore it.
type Gate interface {
	Admit(ctx context.Context, cost int64) (Permit, error)
}

// GateFunc adapts a function to the Gate interface.
type GateFunc func(ctx context.Context, cost int64) (Permit, error)

// Admit calls f(ctx, cost).
func (f GateFunc) Admit(ctx context.Context, cost int64) (Permit, error) {
	return f(ctx, cost)
}

type noopPermit struct{}

func (noopPermit) Release() {}

// releaseOnce runs fn on the first Release call only.
type releaseOnce struct {
	once sync.Once
	fn   func()
}

func (p *releaseOnce) Release() {
	p.once.Do(p.fn)
}

type multiPermit []Permit

func (m multiPermit) Release() {
	// Release in reverse acquisition order.
	for i := len(m) - 1; i >= 0; i-- {
		m[i].Release()
	}
}

type chain []Gate

// Chain composes gates so that an operation passes through every gate, in
// order, before it starts. If a later gate fails, permits already obtained
// are released.
func Chain(gates ...Gate) Gate {
	var c chain
	for _, g := range gates {
		if g != nil {
			c = append(c, g)
		}
	}
	return c
}

func (c chain) Admit(ctx context.Context, cost int64) (Permit, error) {
	permits := make(multiPermit, 0, len(c))
	for _, g := range c {
		p, err := g.Admit(ctx, cost)
		if err != nil {
			permits.Release()
			return nil, err
		}
		permits = append(permits, p)
	}
	return permits, nil
}
