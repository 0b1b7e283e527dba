package storage

import (
	"context"

	"swapwatch/internal/domain"
)

// Fanout writes every swap to several named stores.
type Fanout struct {
	names  []string
	stores []SwapStore
}

// NewFanout creates an empty fanout.
func NewFanout() *Fanout {
	return &Fanout{}
}

// Add appends a named store.
func (f *Fanout) Add(name string, s SwapStore) {
	f.names = append(f.names, name)
	f.stores = append(f.stores, s)
}

// Len returns the number of stores.
func (f *Fanout) Len() int {
	return len(f.stores)
}

// InsertEach writes to every store and reports each store's result.
// A failure in one store does not stop the others.
func (f *Fanout) InsertEach(ctx context.Context, s *domain.DetectedSwap, report func(name string, err error)) {
	for i, st := range f.stores {
		report(f.names[i], st.Insert(ctx, s))
	}
}

// SinkSummary is one store's view of the swaps persisted for an asset.
type SinkSummary struct {
	Name string
	Summary
	Err error
}

// Summaries queries every store. Stores that fail carry Err and a zero Summary.
func (f *Fanout) Summaries(ctx context.Context, asset string) []SinkSummary {
	out := make([]SinkSummary, 0, len(f.stores))
	for i, st := range f.stores {
		sum, err := st.Summary(ctx, asset)
		out = append(out, SinkSummary{Name: f.names[i], Summary: sum, Err: err})
	}
	return out
}
