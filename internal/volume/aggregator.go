// Package volume keeps the running total of accepted swap amounts.
package volume

import (
	"math"
	"sync"
	"time"
)

// Snapshot is a consistent view of the aggregate.
type Snapshot struct {
	Total      float64
	Count      int64
	LastUpdate time.Time // zero until the first Record
}

// Aggregator accumulates absolute amounts. The total never decreases.
type Aggregator struct {
	mu    sync.Mutex
	total float64
	count int64
	last  time.Time
	now   func() time.Time
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{now: time.Now}
}

// Record adds |amount| and returns the new total.
// Non-finite amounts are ignored.
func (a *Aggregator) Record(amount float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return a.total
	}
	a.total += math.Abs(amount)
	a.count++
	a.last = a.now()
	return a.total
}

// Total returns the running total.
func (a *Aggregator) Total() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// Count returns the number of recorded amounts.
func (a *Aggregator) Count() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// Snapshot returns total, count and last update together.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{Total: a.total, Count: a.count, LastUpdate: a.last}
}
