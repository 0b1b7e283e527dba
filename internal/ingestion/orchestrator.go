package ingestion

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"swapwatch/internal/dedup"
	"swapwatch/internal/discovery"
	"swapwatch/internal/dispatch"
	"swapwatch/internal/observability"
	"swapwatch/internal/ratelimit"
	"swapwatch/internal/solana"
)

// DefaultNominalCost is the dispatch cost charged when a record's size is unknown.
const DefaultNominalCost = 64 << 10

// fetchResultBuffer sizes the fetch scheduler's completion channel.
const fetchResultBuffer = 1024

// Fetch results used as metric labels.
const (
	fetchOK        = "ok"
	fetchNotFound  = "not_found"
	fetchMalformed = "malformed"
	fetchTimeout   = "timeout"
	fetchCircuit   = "circuit_open"
	fetchError     = "error"
)

// OrchestratorOptions configures an Orchestrator.
type OrchestratorOptions struct {
	Fetcher      solana.TransactionFetcher // required
	Dedup        *dedup.Store              // required
	Bus          *dispatch.Bus             // required
	FetchGate    ratelimit.Gate            // bounds getTransaction calls
	DispatchGate ratelimit.Gate            // bounds records handed to the bus
	NominalCost  int64                     // defaults to DefaultNominalCost
	Metrics      *observability.Metrics
	Logger       *zap.Logger
}

// Orchestrator turns candidates into fetched records on the dispatch bus.
// Each signature is fetched at most once and failures are never retried.
type Orchestrator struct {
	fetcher     solana.TransactionFetcher
	dedup       *dedup.Store
	bus         *dispatch.Bus
	fetch       *ratelimit.Scheduler
	dispatch    *ratelimit.Scheduler
	nominalCost int64
	metrics     *observability.Metrics
	logger      *zap.Logger
	outcomes    *outcomeSink

	closedLogged atomic.Bool
	rejected     atomic.Int64
	collected    chan struct{}
}

// NewOrchestrator creates an orchestrator and starts its schedulers.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	if opts.NominalCost <= 0 {
		opts.NominalCost = DefaultNominalCost
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	o := &Orchestrator{
		fetcher:     opts.Fetcher,
		dedup:       opts.Dedup,
		bus:         opts.Bus,
		fetch:       ratelimit.NewScheduler("fetch", opts.FetchGate, ratelimit.WithResults(fetchResultBuffer)),
		dispatch:    ratelimit.NewScheduler("dispatch", opts.DispatchGate),
		nominalCost: opts.NominalCost,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		collected:   make(chan struct{}),
	}
	go o.collectFetchResults()
	return o
}

// collectFetchResults records fetch metrics from the completion channel
// until the fetch scheduler shuts down.
func (o *Orchestrator) collectFetchResults() {
	defer close(o.collected)
	for r := range o.fetch.Results() {
		if errors.Is(r.Err, ratelimit.ErrClosed) {
			continue // never admitted
		}
		result := fetchOK
		if r.Err != nil {
			result = fetchResult(r.Err)
		}
		o.metrics.RecordFetch(result, r.Duration)
	}
}

// OnCandidate admits c through the dedup store and schedules its fetch.
// It never blocks. Returns true if a fetch was scheduled.
func (o *Orchestrator) OnCandidate(ctx context.Context, c discovery.Candidate) bool {
	if ctx.Err() != nil {
		return false
	}
	if !o.dedup.MarkIfNew(c.Signature) {
		o.metrics.RecordDuplicate()
		o.logger.Debug("duplicate candidate", zap.String("signature", c.Signature))
		return false
	}

	err := o.fetch.Schedule(c.Signature, 1, func(ctx context.Context) error {
		return o.fetchOne(ctx, c)
	})
	if err != nil {
		o.dropScheduled(c.Signature, StageFetch, err)
		return false
	}
	return true
}

// fetchOne runs under a fetch permit.
func (o *Orchestrator) fetchOne(ctx context.Context, c discovery.Candidate) error {
	start := time.Now()
	rec, err := o.fetcher.GetTransaction(ctx, c.Signature)
	elapsed := time.Since(start)
	if err != nil {
		o.logger.Error("fetch failed",
			zap.String("signature", c.Signature),
			zap.Int64("slot", c.Slot),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		o.outcomes.emit(Outcome{Signature: c.Signature, Stage: StageFetch, Err: err})
		return err
	}
	cost := rec.Size
	if cost <= 0 {
		cost = o.nominalCost
	}
	o.logger.Info("transaction fetched",
		zap.String("signature", rec.Signature),
		zap.Int64("slot", rec.Slot),
		zap.Int64("cost", cost),
		zap.Duration("elapsed", elapsed),
	)

	err = o.dispatch.Schedule(rec.Signature, cost, func(context.Context) error {
		if err := o.bus.Publish(rec); err != nil {
			o.logger.Error("dispatch failed", zap.String("signature", rec.Signature), zap.Error(err))
			o.outcomes.emit(Outcome{Signature: rec.Signature, Stage: StageDispatch, Err: err})
			return err
		}
		o.metrics.RecordDispatch(cost)
		return nil
	})
	if err != nil {
		o.dropScheduled(rec.Signature, StageDispatch, err)
	}
	return nil
}

// dropScheduled handles work refused by a closed scheduler. The first drop is
// logged; later ones are only counted.
func (o *Orchestrator) dropScheduled(signature string, stage Stage, err error) {
	o.rejected.Add(1)
	if o.closedLogged.CompareAndSwap(false, true) {
		o.logger.Warn("scheduler closed, dropping work",
			zap.String("signature", signature),
			zap.String("stage", string(stage)),
			zap.Error(err),
		)
	}
	o.outcomes.emit(Outcome{Signature: signature, Stage: stage, Err: err})
}

// FetchStats returns the fetch scheduler counters.
func (o *Orchestrator) FetchStats() ratelimit.Stats {
	return o.fetch.Stats()
}

// DispatchStats returns the dispatch scheduler counters.
func (o *Orchestrator) DispatchStats() ratelimit.Stats {
	return o.dispatch.Stats()
}

// Rejected returns the number of signatures dropped because a scheduler was closed.
func (o *Orchestrator) Rejected() int64 {
	return o.rejected.Load()
}

// Shutdown closes the fetch scheduler, then the dispatch scheduler, waiting
// for queued work until ctx expires.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	fetchErr := o.fetch.Shutdown(ctx)
	<-o.collected
	return errors.Join(fetchErr, o.dispatch.Shutdown(ctx))
}

func fetchResult(err error) string {
	switch {
	case errors.Is(err, solana.ErrTransactionNotFound):
		return fetchNotFound
	case errors.Is(err, solana.ErrMalformedTransaction):
		return fetchMalformed
	case errors.Is(err, solana.ErrCircuitOpen):
		return fetchCircuit
	case errors.Is(err, context.DeadlineExceeded):
		return fetchTimeout
	default:
		return fetchError
	}
}
