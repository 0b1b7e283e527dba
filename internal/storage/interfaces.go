package storage

import (
	"context"

	"swapwatch/internal/domain"
)

// SwapStore persists accepted swaps. Rows are append-only and keyed by signature.
type SwapStore interface {
	// Insert adds a swap. Returns ErrDuplicateKey if the signature exists.
	Insert(ctx context.Context, s *domain.DetectedSwap) error

	// Summary returns count and summed amount for asset.
	Summary(ctx context.Context, asset string) (Summary, error)
}

// Summary aggregates stored swaps for one asset.
type Summary struct {
	Count int64
	Total float64
}
