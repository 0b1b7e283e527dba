package postgres

import (
	"context"
	"fmt"

	"swapwatch/internal/domain"
	"swapwatch/internal/storage"
)

// SwapStore implements storage.SwapStore using PostgreSQL.
type SwapStore struct {
	pool *Pool
}

// NewSwapStore creates a new SwapStore.
func NewSwapStore(pool *Pool) *SwapStore {
	return &SwapStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SwapStore = (*SwapStore)(nil)

const swapColumns = `signature, asset, slot, block_time, owner, amount, strategy, running_total, detected_at`

// Insert adds a new swap. Returns ErrDuplicateKey if the signature exists.
func (s *SwapStore) Insert(ctx context.Context, swap *domain.DetectedSwap) error {
	if swap == nil || swap.Signature == "" {
		return storage.ErrInvalidInput
	}

	query := `INSERT INTO detected_swaps (` + swapColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		swap.Signature,
		swap.Asset,
		swap.Slot,
		swap.BlockTime,
		swap.Owner,
		swap.Amount,
		string(swap.Strategy),
		swap.RunningTotal,
		swap.DetectedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert detected swap: %w", err)
	}
	return nil
}

// Summary returns count and total amount for asset.
func (s *SwapStore) Summary(ctx context.Context, asset string) (storage.Summary, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM detected_swaps WHERE asset = $1`

	var sum storage.Summary
	if err := s.pool.QueryRow(ctx, query, asset).Scan(&sum.Count, &sum.Total); err != nil {
		return storage.Summary{}, fmt.Errorf("summarize detected swaps: %w", err)
	}
	return sum, nil
}
