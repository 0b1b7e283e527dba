package clickhouse

import (
	"context"
	"fmt"

	"swapwatch/internal/domain"
	"swapwatch/internal/storage"
)

// SwapStore implements storage.SwapStore using ClickHouse.
type SwapStore struct {
	conn *Conn
}

// NewSwapStore creates a new SwapStore.
func NewSwapStore(conn *Conn) *SwapStore {
	return &SwapStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SwapStore = (*SwapStore)(nil)

const swapColumns = `signature, asset, slot, block_time, owner, amount, strategy, running_total, detected_at`

// Insert adds a swap. MergeTree does not enforce uniqueness, so the signature
// is checked before writing.
func (s *SwapStore) Insert(ctx context.Context, swap *domain.DetectedSwap) error {
	if swap == nil || swap.Signature == "" {
		return storage.ErrInvalidInput
	}

	exists, err := s.exists(ctx, swap.Signature)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO detected_swaps (`+swapColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		swap.Signature, swap.Asset, uint64(swap.Slot), swap.BlockTime, swap.Owner,
		swap.Amount, string(swap.Strategy), swap.RunningTotal, uint64(swap.DetectedAt),
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Summary returns count and total amount for asset.
func (s *SwapStore) Summary(ctx context.Context, asset string) (storage.Summary, error) {
	var count uint64
	var total float64
	err := s.conn.QueryRow(ctx, `
		SELECT count(), sum(amount) FROM detected_swaps FINAL WHERE asset = ?
	`, asset).Scan(&count, &total)
	if err != nil {
		return storage.Summary{}, fmt.Errorf("summarize detected swaps: %w", err)
	}
	return storage.Summary{Count: int64(count), Total: total}, nil
}

func (s *SwapStore) exists(ctx context.Context, signature string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count() FROM detected_swaps WHERE signature = ?`, signature).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
