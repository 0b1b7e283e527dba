// Package stub provides in-memory fakes of the solana package interfaces.
package stub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"swapwatch/internal/domain"
	"swapwatch/internal/solana"
)

// Fetcher implements solana.TransactionFetcher from an in-memory map.
type Fetcher struct {
	mu           sync.Mutex
	transactions map[string]*domain.TransactionRecord
	errs         map[string]error
	calls        map[string]int
	delay        time.Duration
}

var _ solana.TransactionFetcher = (*Fetcher)(nil)

// NewFetcher creates an empty stub fetcher.
func NewFetcher() *Fetcher {
	return &Fetcher{
		transactions: make(map[string]*domain.TransactionRecord),
		errs:         make(map[string]error),
		calls:        make(map[string]int),
	}
}

// AddTransaction registers rec under its signature.
func (f *Fetcher) AddTransaction(rec *domain.TransactionRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactions[rec.Signature] = rec
}

// FailWith makes fetches of signature return err.
func (f *Fetcher) FailWith(signature string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[signature] = err
}

// SetDelay makes every fetch take at least d.
func (f *Fetcher) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// GetTransaction returns the registered record, the registered error, or
// solana.ErrTransactionNotFound.
func (f *Fetcher) GetTransaction(ctx context.Context, signature string) (*domain.TransactionRecord, error) {
	f.mu.Lock()
	f.calls[signature]++
	rec, ok := f.transactions[signature]
	err := f.errs[signature]
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", solana.ErrTransactionNotFound, signature)
	}
	return rec, nil
}

// Calls returns how many times signature was fetched.
func (f *Fetcher) Calls(signature string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[signature]
}

// TotalCalls returns the number of fetches across all signatures.
func (f *Fetcher) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}
