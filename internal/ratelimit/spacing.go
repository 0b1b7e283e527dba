package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// SpacingGate enforces a minimum interval between successive admissions,
// independent of how many operations are in flight.
type SpacingGate struct {
	limiter *rate.Limiter
}

// NewSpacingGate creates a gate that starts at most one operation per spacing.
// A zero spacing admits immediately.
func NewSpacingGate(spacing time.Duration) *SpacingGate {
	limit := rate.Inf
	if spacing > 0 {
		limit = rate.Every(spacing)
	}
	return &SpacingGate{limiter: rate.NewLimiter(limit, 1)}
}

// Admit waits for the next start slot. The cost is ignored.
func (g *SpacingGate) Admit(ctx context.Context, _ int64) (Permit, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return noopPermit{}, nil
}
