package stub

import (
	"context"
	"sync"
	"sync/atomic"

	"swapwatch/internal/domain"
	"swapwatch/internal/solana"
)

// Feed implements solana.LogFeed over a channel the test writes to.
type Feed struct {
	mu      sync.Mutex
	ch      chan domain.LogEvent
	closed  bool
	filters []solana.LogsFilter
	emitted atomic.Int64
}

var _ solana.LogFeed = (*Feed)(nil)

// NewFeed creates a feed with the given buffer.
func NewFeed(buffer int) *Feed {
	return &Feed{ch: make(chan domain.LogEvent, buffer)}
}

// SubscribeLogs records filter and returns the shared channel.
func (f *Feed) SubscribeLogs(_ context.Context, filter solana.LogsFilter) (<-chan domain.LogEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, solana.ErrFeedClosed
	}
	f.filters = append(f.filters, filter)
	return f.ch, nil
}

// Emit delivers ev to the subscriber. It blocks while the buffer is full.
func (f *Feed) Emit(ev domain.LogEvent) {
	f.ch <- ev
	f.emitted.Add(1)
}

// Received returns the number of events emitted.
func (f *Feed) Received() int64 {
	return f.emitted.Load()
}

// Reconnects is always 0; the stub never drops its connection.
func (f *Feed) Reconnects() int64 {
	return 0
}

// Filters returns the filters subscribed so far.
func (f *Feed) Filters() []solana.LogsFilter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]solana.LogsFilter(nil), f.filters...)
}

// Close closes the event channel.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
	return nil
}
