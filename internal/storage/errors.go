package storage

import "errors"

// Storage errors shared by every SwapStore implementation.
var (
	// ErrDuplicateKey is returned when a swap with the same signature was
	// already written. Stores are append-only.
	ErrDuplicateKey = errors.New("duplicate key: swap already stored")

	// ErrInvalidInput is returned for nil swaps or empty signatures.
	ErrInvalidInput = errors.New("invalid input")
)
