package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"swapwatch/internal/amount"
	"swapwatch/internal/dedup"
	"swapwatch/internal/discovery"
	"swapwatch/internal/dispatch"
	"swapwatch/internal/domain"
	"swapwatch/internal/observability"
	"swapwatch/internal/ratelimit"
	"swapwatch/internal/solana"
	"swapwatch/internal/storage"
	"swapwatch/internal/volume"
)

// ErrFeedEnded is returned by Run when the log feed closes its channel.
var ErrFeedEnded = errors.New("ingestion: log feed ended")

// throttleThreshold is the inbound wait above which an event counts as throttled.
const throttleThreshold = time.Millisecond

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	Asset      string                    // mint whose logs are subscribed, required
	Commitment string                    // logsSubscribe commitment
	Feed       solana.LogFeed            // required
	Fetcher    solana.TransactionFetcher // required
	Filter     *discovery.SwapFilter     // required
	Extractor  *amount.Extractor         // required
	Validator  *amount.Validator         // required
	Sinks      *storage.Fanout           // optional

	FetchLimits    ratelimit.Config
	DispatchLimits ratelimit.Config
	InboundLimits  *ratelimit.Config // nil disables the inbound gate
	NominalCost    int64
	DedupCapacity  int

	StatusInterval time.Duration // 0 disables the status line
	OutcomeBuffer  int           // 0 disables Outcomes()

	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// feedCounters is implemented by feeds that track delivery and reconnects.
type feedCounters interface {
	Received() int64
	Reconnects() int64
}

// breakerReporter is implemented by fetchers guarded by a circuit breaker.
type breakerReporter interface {
	BreakerState() string
}

// Monitor wires the feed, filter, orchestrator, bus and processor together.
type Monitor struct {
	asset          string
	commitment     string
	feed           solana.LogFeed
	fetcher        solana.TransactionFetcher
	filter         *discovery.SwapFilter
	dedup          *dedup.Store
	bus            *dispatch.Bus
	processorSub   *dispatch.Subscription
	orchestrator   *Orchestrator
	processor      *Processor
	fetchLimiter   *ratelimit.Limiter
	dispatchLimit  *ratelimit.Limiter
	inbound        *ratelimit.Limiter
	inboundSched   *ratelimit.Scheduler
	outcomes       *outcomeSink
	statusInterval time.Duration
	metrics        *observability.Metrics
	logger         *zap.Logger

	inboundClosedLogged atomic.Bool
	stopOnce            sync.Once
}

// NewMonitor builds the pipeline. Nothing runs until Run is called.
func NewMonitor(opts MonitorOptions) (*Monitor, error) {
	switch {
	case opts.Asset == "":
		return nil, errors.New("ingestion: asset is required")
	case opts.Feed == nil:
		return nil, errors.New("ingestion: feed is required")
	case opts.Fetcher == nil:
		return nil, errors.New("ingestion: fetcher is required")
	case opts.Filter == nil:
		return nil, errors.New("ingestion: filter is required")
	case opts.Extractor == nil || opts.Validator == nil:
		return nil, errors.New("ingestion: extractor and validator are required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	m := &Monitor{
		asset:          opts.Asset,
		commitment:     opts.Commitment,
		feed:           opts.Feed,
		fetcher:        opts.Fetcher,
		filter:         opts.Filter,
		dedup:          dedup.New(opts.DedupCapacity),
		bus:            dispatch.NewBus(),
		fetchLimiter:   ratelimit.New(opts.FetchLimits),
		dispatchLimit:  ratelimit.New(opts.DispatchLimits),
		outcomes:       newOutcomeSink(opts.OutcomeBuffer),
		statusInterval: opts.StatusInterval,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
	}
	if opts.InboundLimits != nil {
		m.inbound = ratelimit.New(*opts.InboundLimits)
		m.inboundSched = ratelimit.NewScheduler("inbound", m.inbound)
	}

	m.processor = NewProcessor(ProcessorOptions{
		Asset:      opts.Asset,
		Extractor:  opts.Extractor,
		Validator:  opts.Validator,
		Aggregator: volume.NewAggregator(),
		Sinks:      opts.Sinks,
		Metrics:    opts.Metrics,
		Logger:     opts.Logger.Named("processor"),
	})
	m.processor.outcomes = m.outcomes
	sub, err := m.bus.Subscribe("processor", m.processor.Handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe processor: %w", err)
	}
	m.processorSub = sub

	m.orchestrator = NewOrchestrator(OrchestratorOptions{
		Fetcher:      opts.Fetcher,
		Dedup:        m.dedup,
		Bus:          m.bus,
		FetchGate:    m.fetchLimiter,
		DispatchGate: m.dispatchLimit,
		NominalCost:  opts.NominalCost,
		Metrics:      opts.Metrics,
		Logger:       opts.Logger.Named("orchestrator"),
	})
	m.orchestrator.outcomes = m.outcomes

	return m, nil
}

// Outcomes returns terminal per-signature results, or nil when disabled.
// Outcomes are dropped rather than blocking when the channel is full.
func (m *Monitor) Outcomes() <-chan Outcome {
	return m.outcomes.ch
}

// Aggregator returns the running total.
func (m *Monitor) Aggregator() *volume.Aggregator {
	return m.processor.Aggregator()
}

// Run subscribes to the feed and handles events until ctx is cancelled or
// the feed ends. It does not drain in-flight work; call Shutdown for that.
func (m *Monitor) Run(ctx context.Context) error {
	events, err := m.feed.SubscribeLogs(ctx, solana.LogsFilter{
		Mentions:   []string{m.asset},
		Commitment: m.commitment,
	})
	if err != nil {
		return fmt.Errorf("subscribe logs: %w", err)
	}
	m.logger.Info("monitor started",
		zap.String("asset", m.asset),
		zap.Stringer("required_markers", m.filter.Required()),
		zap.Int("dedup_capacity", m.dedup.Capacity()),
		zap.Bool("inbound_gate", m.inboundSched != nil),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.consume(gctx, events)
	})
	if m.statusInterval > 0 {
		g.Go(func() error {
			m.statusLoop(gctx)
			return nil
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m *Monitor) consume(ctx context.Context, events <-chan domain.LogEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				m.logger.Warn("log feed ended")
				return ErrFeedEnded
			}
			m.dispatchEvent(ctx, ev)
		}
	}
}

// dispatchEvent handles ev inline, or queues it behind the inbound gate.
// It never waits for admission.
func (m *Monitor) dispatchEvent(ctx context.Context, ev domain.LogEvent) {
	if m.inboundSched == nil {
		m.HandleEvent(ctx, ev)
		return
	}

	queued := time.Now()
	err := m.inboundSched.Schedule(ev.Signature, 1, func(taskCtx context.Context) error {
		if time.Since(queued) > throttleThreshold {
			m.metrics.RecordThrottled()
		}
		m.HandleEvent(taskCtx, ev)
		return nil
	})
	if err != nil && m.inboundClosedLogged.CompareAndSwap(false, true) {
		m.logger.Warn("inbound scheduler closed, dropping events", zap.Error(err))
	}
}

// HandleEvent classifies one notification and hands candidates to the
// orchestrator. It never blocks on fetch or dispatch.
func (m *Monitor) HandleEvent(ctx context.Context, ev domain.LogEvent) {
	m.metrics.RecordEvent(ev.Slot)

	c := m.filter.Classify(ev)
	m.metrics.RecordClassification(string(c.Decision), c.Reason)
	if !c.IsCandidate() {
		return
	}
	m.orchestrator.OnCandidate(ctx, c.Candidate)
}

func (m *Monitor) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(m.statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.logStatus("status")
		}
	}
}

func (m *Monitor) logStatus(msg string) {
	snap := m.Aggregator().Snapshot()
	fetch := m.orchestrator.FetchStats()
	disp := m.orchestrator.DispatchStats()

	m.metrics.UpdateLimiter("fetch", fetch.Queued, fetch.InFlight)
	m.metrics.UpdateLimiter("dispatch", disp.Queued, disp.InFlight)

	fields := []zap.Field{
		zap.Float64("total", snap.Total),
		zap.Int64("count", snap.Count),
		zap.Int("dedup_size", m.dedup.Len()),
		zap.Int64("dedup_evicted", m.dedup.Evicted()),
		zap.Int("fetch_queued", fetch.Queued),
		zap.Int64("fetch_in_flight", fetch.InFlight),
		zap.Int64("fetch_failed", fetch.Failed),
		zap.Int("dispatch_queued", disp.Queued),
		zap.Int64("scheduler_rejected", m.orchestrator.Rejected()),
		zap.Int("bus_pending", m.bus.Pending()),
		zap.Int64("processed", m.processorSub.Delivered()),
	}
	if r := m.dispatchLimit.Reservoir(); r != nil {
		fields = append(fields,
			zap.Int64("dispatch_budget", r.Available()),
			zap.Int64("dispatch_capacity", r.Capacity()),
			zap.Int("dispatch_waiting", r.Waiting()),
		)
	}
	if m.inboundSched != nil {
		in := m.inboundSched.Stats()
		m.metrics.UpdateLimiter("inbound", in.Queued, in.InFlight)
		fields = append(fields, zap.Int("inbound_queued", in.Queued))
	}
	if fc, ok := m.feed.(feedCounters); ok {
		fields = append(fields,
			zap.Int64("feed_received", fc.Received()),
			zap.Int64("feed_reconnects", fc.Reconnects()),
		)
	}
	if br, ok := m.fetcher.(breakerReporter); ok {
		fields = append(fields, zap.String("breaker", br.BreakerState()))
	}
	m.logger.Info(msg, fields...)
}

// Shutdown stops accepting events, lets queued fetches and dispatches finish
// within ctx, drains the bus and logs the final total. Safe to call once Run
// has returned; later calls are no-ops.
func (m *Monitor) Shutdown(ctx context.Context) error {
	var err error
	m.stopOnce.Do(func() {
		if closeErr := m.feed.Close(); closeErr != nil && !errors.Is(closeErr, solana.ErrFeedClosed) {
			err = fmt.Errorf("close feed: %w", closeErr)
		}
		if m.inboundSched != nil {
			err = errors.Join(err, m.inboundSched.Shutdown(ctx))
		}

		err = errors.Join(err, m.orchestrator.Shutdown(ctx))
		m.bus.Close()
		m.bus.Wait()

		m.fetchLimiter.Stop()
		m.dispatchLimit.Stop()
		if m.inbound != nil {
			m.inbound.Stop()
		}

		m.logStatus("monitor stopped")
		m.outcomes.close()
	})
	return err
}
