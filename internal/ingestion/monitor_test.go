package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"swapwatch/internal/amount"
	"swapwatch/internal/discovery"
	"swapwatch/internal/domain"
	"swapwatch/internal/ratelimit"
	"swapwatch/internal/solana"
	"swapwatch/internal/solana/stub"
)

type monitorFixture struct {
	monitor *Monitor
	feed    *stub.Feed
	fetcher *stub.Fetcher
	cancel  context.CancelFunc
	done    chan error
}

func startMonitor(t *testing.T, mutate func(*MonitorOptions)) *monitorFixture {
	t.Helper()

	ext, err := amount.NewExtractor(amount.ExtractorOptions{})
	require.NoError(t, err)

	f := &monitorFixture{
		feed:    stub.NewFeed(64),
		fetcher: stub.NewFetcher(),
		done:    make(chan error, 1),
	}
	opts := MonitorOptions{
		Asset:          testAsset,
		Commitment:     solana.CommitmentConfirmed,
		Feed:           f.feed,
		Fetcher:        f.fetcher,
		Filter:         discovery.NewSwapFilter(discovery.FilterOptions{ProgramID: amount.JupiterV6Program}),
		Extractor:      ext,
		Validator:      amount.NewValidator(amount.StrictConfig()),
		FetchLimits:    ratelimit.Config{MaxConcurrent: 4, MinSpacing: time.Millisecond},
		DispatchLimits: ratelimit.Config{ReservoirCapacity: 1 << 20, ReservoirInterval: time.Second},
		OutcomeBuffer:  64,
	}
	if mutate != nil {
		mutate(&opts)
	}

	f.monitor, err = NewMonitor(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() { f.done <- f.monitor.Run(ctx) }()

	require.Eventually(t, func() bool { return len(f.feed.Filters()) == 1 }, time.Second, time.Millisecond)
	return f
}

func (f *monitorFixture) stop(t *testing.T) {
	t.Helper()
	f.cancel()
	select {
	case err := <-f.done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.monitor.Shutdown(ctx))
}

func TestMonitor_SubscribesToAsset(t *testing.T) {
	f := startMonitor(t, nil)
	defer f.stop(t)

	filters := f.feed.Filters()
	require.Len(t, filters, 1)
	assert.Equal(t, []string{testAsset}, filters[0].Mentions)
	assert.Equal(t, solana.CommitmentConfirmed, filters[0].Commitment)
}

func TestMonitor_EndToEnd(t *testing.T) {
	f := startMonitor(t, nil)

	accepted := testSignature(1)
	rejected := testSignature(2)
	failing := testSignature(3)
	unmarked := testSignature(4)

	f.fetcher.AddTransaction(nativeRecord(accepted, 2_000_000_000))
	f.fetcher.AddTransaction(nativeRecord(rejected, 1_234_567_000))
	f.fetcher.FailWith(failing, solana.ErrCircuitOpen)

	f.feed.Emit(swapEvent(accepted, 10))
	f.feed.Emit(swapEvent(accepted, 10)) // duplicate notification
	f.feed.Emit(swapEvent(rejected, 11))
	f.feed.Emit(swapEvent(failing, 12))
	f.feed.Emit(domain.LogEvent{Signature: unmarked, Slot: 13, Logs: []string{"Program log: Instruction: Transfer"}})
	f.feed.Emit(domain.LogEvent{Signature: testSignature(5), Slot: 14, Logs: swapLogs(), Err: map[string]any{"InstructionError": []any{0, "Custom"}}})

	out := f.monitor.Outcomes()
	got := collectOutcomes(t, out, accepted, rejected, failing)
	f.stop(t)
	for o := range out {
		got[o.Signature] = o
	}

	assert.Equal(t, StageAccepted, got[accepted].Stage)
	assert.Equal(t, StageValidate, got[rejected].Stage)
	assert.Equal(t, amount.RejectNotRound, got[rejected].Rejection)
	assert.Equal(t, StageFetch, got[failing].Stage)
	assert.ErrorIs(t, got[failing].Err, solana.ErrCircuitOpen)
	assert.NotContains(t, got, unmarked)

	assert.Equal(t, 1, f.fetcher.Calls(accepted))
	assert.Equal(t, 0, f.fetcher.Calls(unmarked))
	assert.Equal(t, 3, f.fetcher.TotalCalls())

	snap := f.monitor.Aggregator().Snapshot()
	assert.Equal(t, int64(1), snap.Count)
	assert.InDelta(t, 2.0, snap.Total, 1e-9)
}

func TestMonitor_InboundGate(t *testing.T) {
	f := startMonitor(t, func(o *MonitorOptions) {
		o.InboundLimits = &ratelimit.Config{MaxConcurrent: 2, MinSpacing: time.Millisecond}
	})

	var sigs []string
	for i := byte(0); i < 5; i++ {
		sig := testSignature(50 + i)
		sigs = append(sigs, sig)
		f.fetcher.AddTransaction(nativeRecord(sig, 100_000_000))
		f.feed.Emit(swapEvent(sig, int64(i)))
	}
	for sig, o := range collectOutcomes(t, f.monitor.Outcomes(), sigs...) {
		assert.Equal(t, StageAccepted, o.Stage, sig)
	}
	f.stop(t)

	assert.InDelta(t, 0.5, f.monitor.Aggregator().Total(), 1e-9)
}

func TestMonitor_InboundGateNeverBlocksFeed(t *testing.T) {
	f := startMonitor(t, func(o *MonitorOptions) {
		o.InboundLimits = &ratelimit.Config{MinSpacing: 200 * time.Millisecond}
	})

	// More events than the feed buffer holds; a gate admitted inline would
	// stall Emit for roughly 16s.
	start := time.Now()
	for i := 0; i < 80; i++ {
		f.feed.Emit(domain.LogEvent{Signature: testSignature(byte(i)), Err: "feed error"})
	}
	assert.Less(t, time.Since(start), time.Second)

	require.Eventually(t, func() bool {
		return f.monitor.inboundSched.Stats().Queued > 50
	}, time.Second, 5*time.Millisecond)

	f.cancel()
	require.NoError(t, <-f.done)

	// The queued backlog cannot drain in time; shutdown gives up on it.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.monitor.Shutdown(ctx), context.DeadlineExceeded)
}

type breakerFetcher struct {
	*stub.Fetcher
}

func (breakerFetcher) BreakerState() string { return "half-open" }

func TestMonitor_StatusLine(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	f := startMonitor(t, func(o *MonitorOptions) {
		o.Logger = zap.New(core)
		o.Fetcher = breakerFetcher{stub.NewFetcher()}
		o.InboundLimits = &ratelimit.Config{MaxConcurrent: 1}
		o.DedupCapacity = 500
	})

	sig := testSignature(90)
	f.monitor.fetcher.(breakerFetcher).AddTransaction(nativeRecord(sig, 300_000_000))
	f.feed.Emit(swapEvent(sig, 1))
	collectOutcomes(t, f.monitor.Outcomes(), sig)

	f.monitor.logStatus("status")
	f.stop(t)

	entries := logs.FilterMessage("status").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(1), fields["count"])
	assert.InDelta(t, 0.3, fields["total"], 1e-9)
	assert.Equal(t, int64(1), fields["feed_received"])
	assert.Equal(t, int64(0), fields["feed_reconnects"])
	assert.Equal(t, int64(1), fields["processed"])
	assert.Equal(t, int64(0), fields["inbound_queued"])
	assert.Equal(t, "half-open", fields["breaker"])
	assert.Equal(t, int64(1<<20), fields["dispatch_capacity"])
	assert.Equal(t, int64(0), fields["scheduler_rejected"])

	started := logs.FilterMessage("monitor started").All()
	require.Len(t, started, 1)
	assert.Equal(t, int64(500), started[0].ContextMap()["dedup_capacity"])

	assert.Equal(t, 1, logs.FilterMessage("monitor stopped").Len())
}

func TestMonitor_FeedEnded(t *testing.T) {
	f := startMonitor(t, nil)
	require.NoError(t, f.feed.Close())

	select {
	case err := <-f.done:
		assert.ErrorIs(t, err, ErrFeedEnded)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after feed closed")
	}
	f.cancel()
	require.NoError(t, f.monitor.Shutdown(context.Background()))
}

func TestNewMonitor_RequiresComponents(t *testing.T) {
	_, err := NewMonitor(MonitorOptions{})
	assert.Error(t, err)

	_, err = NewMonitor(MonitorOptions{Asset: testAsset})
	assert.Error(t, err)
}
