package solana

import (
	"context"
	"errors"

	"swapwatch/internal/domain"
)

// Fetch errors. Callers drop the signature on any of them.
var (
	// ErrTransactionNotFound is returned when the node has no record of the signature.
	ErrTransactionNotFound = errors.New("rpc: transaction not found")
	// ErrMalformedTransaction is returned when the result cannot be decoded.
	ErrMalformedTransaction = errors.New("rpc: malformed transaction")
	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = errors.New("rpc: circuit open")
)

// TransactionFetcher retrieves full transactions by signature.
type TransactionFetcher interface {
	// GetTransaction fetches one transaction. It performs a single attempt.
	GetTransaction(ctx context.Context, signature string) (*domain.TransactionRecord, error)
}
