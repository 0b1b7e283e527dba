package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swapwatch/internal/dedup"
	"swapwatch/internal/discovery"
	"swapwatch/internal/dispatch"
	"swapwatch/internal/domain"
	"swapwatch/internal/observability"
	"swapwatch/internal/ratelimit"
	"swapwatch/internal/solana"
	"swapwatch/internal/solana/stub"
)

type recorder struct {
	mu   sync.Mutex
	recs []*domain.TransactionRecord
}

func (r *recorder) handle(rec *domain.TransactionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.recs)
}

func newTestOrchestrator(t *testing.T, fetcher solana.TransactionFetcher, fetchGate, dispatchGate ratelimit.Gate) (*Orchestrator, *recorder, *dispatch.Bus) {
	t.Helper()
	bus := dispatch.NewBus()
	rec := &recorder{}
	_, err := bus.Subscribe("recorder", rec.handle)
	require.NoError(t, err)

	o := NewOrchestrator(OrchestratorOptions{
		Fetcher:      fetcher,
		Dedup:        dedup.New(0),
		Bus:          bus,
		FetchGate:    fetchGate,
		DispatchGate: dispatchGate,
	})
	o.outcomes = newOutcomeSink(64)
	return o, rec, bus
}

func TestOrchestrator_FetchesOnceUnderConcurrentDuplicates(t *testing.T) {
	fetcher := stub.NewFetcher()
	sig := testSignature(1)
	fetcher.AddTransaction(nativeRecord(sig, 1_000_000_000))
	fetcher.SetDelay(20 * time.Millisecond)

	o, rec, bus := newTestOrchestrator(t, fetcher, nil, nil)

	var wg sync.WaitGroup
	var scheduled sync.Map
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if o.OnCandidate(context.Background(), discovery.Candidate{Signature: sig}) {
				scheduled.Store(i, true)
			}
		}(i)
	}
	wg.Wait()

	n := 0
	scheduled.Range(func(_, _ any) bool { n++; return true })
	assert.Equal(t, 1, n, "exactly one caller schedules the fetch")

	require.NoError(t, o.Shutdown(context.Background()))
	bus.Close()
	bus.Wait()

	assert.Equal(t, 1, fetcher.Calls(sig))
	assert.Equal(t, 1, rec.len())
}

func TestOrchestrator_FetchFailureIsTerminal(t *testing.T) {
	fetcher := stub.NewFetcher()
	sig := testSignature(2)
	fetcher.FailWith(sig, solana.ErrTransactionNotFound)

	o, rec, bus := newTestOrchestrator(t, fetcher, nil, nil)

	require.True(t, o.OnCandidate(context.Background(), discovery.Candidate{Signature: sig}))
	out := waitOutcome(t, o.outcomes.ch, sig)
	assert.Equal(t, StageFetch, out.Stage)
	assert.True(t, errors.Is(out.Err, solana.ErrTransactionNotFound))

	// A later sighting is a duplicate; failures are not retried.
	assert.False(t, o.OnCandidate(context.Background(), discovery.Candidate{Signature: sig}))

	require.NoError(t, o.Shutdown(context.Background()))
	bus.Close()
	bus.Wait()

	assert.Equal(t, 1, fetcher.Calls(sig))
	assert.Equal(t, 0, rec.len())
	assert.Equal(t, int64(1), o.FetchStats().Failed)
}

func TestOrchestrator_DispatchCostUsesRecordSize(t *testing.T) {
	fetcher := stub.NewFetcher()
	sized := testSignature(3)
	unsized := testSignature(4)
	r1 := nativeRecord(sized, 1)
	r1.Size = 1000
	r2 := nativeRecord(unsized, 1)
	r2.Size = 0
	fetcher.AddTransaction(r1)
	fetcher.AddTransaction(r2)

	var mu sync.Mutex
	var costs []int64
	gate := ratelimit.GateFunc(func(_ context.Context, cost int64) (ratelimit.Permit, error) {
		mu.Lock()
		costs = append(costs, cost)
		mu.Unlock()
		return ratelimit.Chain().Admit(context.Background(), cost)
	})

	o, rec, bus := newTestOrchestrator(t, fetcher, nil, gate)
	o.nominalCost = 4096

	o.OnCandidate(context.Background(), discovery.Candidate{Signature: sized})
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	o.OnCandidate(context.Background(), discovery.Candidate{Signature: unsized})
	require.Eventually(t, func() bool { return rec.len() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, o.Shutdown(context.Background()))
	bus.Close()
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{1000, 4096}, costs)
}

func TestOrchestrator_ExhaustedReservoirDelaysDispatchNotFetch(t *testing.T) {
	fetcher := stub.NewFetcher()
	var sigs []string
	for i := byte(10); i < 13; i++ {
		sig := testSignature(i)
		sigs = append(sigs, sig)
		r := nativeRecord(sig, 1)
		r.Size = 100
		fetcher.AddTransaction(r)
	}

	// Budget for two records and no refill within the test.
	reservoir := ratelimit.NewReservoirGate(200, time.Hour)
	defer reservoir.Stop()

	o, rec, bus := newTestOrchestrator(t, fetcher, nil, reservoir)
	for _, sig := range sigs {
		o.OnCandidate(context.Background(), discovery.Candidate{Signature: sig})
	}

	require.Eventually(t, func() bool { return fetcher.TotalCalls() == 3 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return rec.len() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, rec.len())

	reservoir.Refill()
	require.Eventually(t, func() bool { return rec.len() == 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, o.Shutdown(context.Background()))
	bus.Close()
	bus.Wait()
}

func TestOrchestrator_AfterShutdownDropsCandidate(t *testing.T) {
	fetcher := stub.NewFetcher()
	o, _, bus := newTestOrchestrator(t, fetcher, nil, nil)
	require.NoError(t, o.Shutdown(context.Background()))
	bus.Close()

	sig := testSignature(20)
	assert.False(t, o.OnCandidate(context.Background(), discovery.Candidate{Signature: sig}))

	out := waitOutcome(t, o.outcomes.ch, sig)
	assert.Equal(t, StageFetch, out.Stage)
	assert.ErrorIs(t, out.Err, ratelimit.ErrClosed)
	assert.Equal(t, int64(1), o.Rejected())
	assert.Equal(t, 0, fetcher.TotalCalls())
}

func TestOrchestrator_FetchMetricsFromCompletions(t *testing.T) {
	fetcher := stub.NewFetcher()
	ok1, ok2, missing := testSignature(60), testSignature(61), testSignature(62)
	fetcher.AddTransaction(nativeRecord(ok1, 1_000_000_000))
	fetcher.AddTransaction(nativeRecord(ok2, 1_000_000_000))
	fetcher.FailWith(missing, solana.ErrTransactionNotFound)

	metrics := observability.NewMetrics(prometheus.NewRegistry(), "test")
	bus := dispatch.NewBus()
	o := NewOrchestrator(OrchestratorOptions{
		Fetcher: fetcher,
		Dedup:   dedup.New(0),
		Bus:     bus,
		Metrics: metrics,
	})

	for _, sig := range []string{ok1, ok2, missing} {
		require.True(t, o.OnCandidate(context.Background(), discovery.Candidate{Signature: sig}))
	}
	require.NoError(t, o.Shutdown(context.Background()))
	bus.Close()
	bus.Wait()

	// Shutdown returns only after every completion has been recorded.
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Fetches.WithLabelValues(fetchOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Fetches.WithLabelValues(fetchNotFound)))
	assert.Equal(t, int64(0), o.FetchStats().DroppedResults)
}

func TestFetchResult(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{solana.ErrTransactionNotFound, fetchNotFound},
		{solana.ErrMalformedTransaction, fetchMalformed},
		{solana.ErrCircuitOpen, fetchCircuit},
		{context.DeadlineExceeded, fetchTimeout},
		{errors.New("boom"), fetchError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, fetchResult(tt.err), tt.err.Error())
	}
}
