package volume

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregator_Record(t *testing.T) {
	a := NewAggregator()

	assert.Equal(t, 1.5, a.Record(1.5))
	assert.Equal(t, 3.5, a.Record(-2.0))
	assert.Equal(t, 3.5, a.Total())
	assert.Equal(t, int64(2), a.Count())

	snap := a.Snapshot()
	assert.Equal(t, 3.5, snap.Total)
	assert.False(t, snap.LastUpdate.IsZero())
}

func TestAggregator_IgnoresNonFinite(t *testing.T) {
	a := NewAggregator()
	a.Record(1)
	a.Record(math.NaN())
	a.Record(math.Inf(-1))

	assert.Equal(t, 1.0, a.Total())
	assert.Equal(t, int64(1), a.Count())
}

func TestAggregator_OrderIndependent(t *testing.T) {
	// Float addition is not associative; compare with a tolerance.
	amounts := []float64{0.1, 2.3, -1.0, 4.5, 0.7, 9.9, -3.2, 1.1}

	forward := NewAggregator()
	for _, v := range amounts {
		forward.Record(v)
	}

	r := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		shuffled := append([]float64(nil), amounts...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		agg := NewAggregator()
		for _, v := range shuffled {
			agg.Record(v)
		}
		assert.InDelta(t, forward.Total(), agg.Total(), 1e-9)
	}
}

func TestAggregator_ConcurrentAndMonotonic(t *testing.T) {
	a := NewAggregator()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prev := 0.0
			for j := 0; j < 100; j++ {
				total := a.Record(-0.5)
				assert.GreaterOrEqual(t, total, prev)
				prev = total
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 500.0, a.Total())
	assert.Equal(t, int64(1000), a.Count())
}
