package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swapwatch/internal/domain"
	"swapwatch/internal/storage"
)

const testAsset = "So11111111111111111111111111111111111111112"

func newTestSwap(sig string, detectedAt int64, amount float64) *domain.DetectedSwap {
	return &domain.DetectedSwap{
		Signature:    sig,
		Asset:        testAsset,
		Slot:         250_000_000,
		BlockTime:    1700000000,
		Owner:        "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
		Amount:       amount,
		Strategy:     domain.StrategyNativeBalanceDiff,
		RunningTotal: amount,
		DetectedAt:   detectedAt,
	}
}

// loadSwap reads a stored row back for comparison.
func loadSwap(t *testing.T, pool *Pool, signature string) *domain.DetectedSwap {
	t.Helper()
	var swap domain.DetectedSwap
	var strategy string
	err := pool.QueryRow(context.Background(), `SELECT `+swapColumns+` FROM detected_swaps WHERE signature = $1`, signature).Scan(
		&swap.Signature, &swap.Asset, &swap.Slot, &swap.BlockTime, &swap.Owner,
		&swap.Amount, &strategy, &swap.RunningTotal, &swap.DetectedAt,
	)
	require.NoError(t, err)
	swap.Strategy = domain.Strategy(strategy)
	return &swap
}

func TestSwapStore_InsertRoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSwapStore(pool)

	swap := newTestSwap("sig-1", 1700000001000, 2.5)
	require.NoError(t, store.Insert(ctx, swap))

	assert.Equal(t, swap, loadSwap(t, pool, "sig-1"))
}

func TestSwapStore_DuplicateKey(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSwapStore(pool)

	require.NoError(t, store.Insert(ctx, newTestSwap("sig-dup", 1000, 1)))

	err := store.Insert(ctx, newTestSwap("sig-dup", 2000, 2))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestSwapStore_InvalidInput(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewSwapStore(pool)
	assert.ErrorIs(t, store.Insert(context.Background(), nil), storage.ErrInvalidInput)
	assert.ErrorIs(t, store.Insert(context.Background(), &domain.DetectedSwap{}), storage.ErrInvalidInput)
}

func TestSwapStore_Summary(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSwapStore(pool)

	empty, err := store.Summary(ctx, testAsset)
	require.NoError(t, err)
	assert.Equal(t, storage.Summary{}, empty)

	for i, ts := range []int64{3000, 1000, 2000, 4000} {
		swap := newTestSwap("sig-sum-"+string(rune('a'+i)), ts, 0.5)
		require.NoError(t, store.Insert(ctx, swap))
	}
	other := newTestSwap("sig-other", 5000, 7)
	other.Asset = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	require.NoError(t, store.Insert(ctx, other))

	sum, err := store.Summary(ctx, testAsset)
	require.NoError(t, err)
	assert.Equal(t, int64(4), sum.Count)
	assert.InDelta(t, 2.0, sum.Total, 1e-9)
}
