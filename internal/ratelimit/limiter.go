package ratelimit

import (
	"context"
	"time"
)

// Config describes one limiter instance. Zero fields disable the matching gate.
type Config struct {
	MaxConcurrent     int           // max operations in flight
	MinSpacing        time.Duration // min interval between operation starts
	ReservoirCapacity int64         // budget per refill window
	ReservoirInterval time.Duration // refill period
}

// Limiter is a Gate built from a Config: concurrency, then spacing, then reservoir.
type Limiter struct {
	gate        Gate
	concurrency *ConcurrencyGate
	spacing     *SpacingGate
	reservoir   *ReservoirGate
}

// New builds a Limiter. A Config with every field zero admits everything.
func New(cfg Config) *Limiter {
	l := &Limiter{}
	var gates []Gate
	if cfg.MaxConcurrent > 0 {
		l.concurrency = NewConcurrencyGate(cfg.MaxConcurrent)
		gates = append(gates, l.concurrency)
	}
	if cfg.MinSpacing > 0 {
		l.spacing = NewSpacingGate(cfg.MinSpacing)
		gates = append(gates, l.spacing)
	}
	if cfg.ReservoirCapacity > 0 {
		l.reservoir = NewReservoirGate(cfg.ReservoirCapacity, cfg.ReservoirInterval)
		gates = append(gates, l.reservoir)
	}
	l.gate = Chain(gates...)
	return l
}

// Admit passes the operation through every configured gate.
func (l *Limiter) Admit(ctx context.Context, cost int64) (Permit, error) {
	return l.gate.Admit(ctx, cost)
}

// InFlight returns the number of admitted operations not yet released.
// Always 0 without a concurrency gate.
func (l *Limiter) InFlight() int64 {
	if l.concurrency == nil {
		return 0
	}
	return l.concurrency.InFlight()
}

// Reservoir returns the reservoir gate, or nil when not configured.
func (l *Limiter) Reservoir() *ReservoirGate {
	return l.reservoir
}

// Stop releases background resources.
func (l *Limiter) Stop() {
	if l.reservoir != nil {
		l.reservoir.Stop()
	}
}
