package ingestion

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"swapwatch/internal/amount"
	"swapwatch/internal/domain"
	"swapwatch/internal/observability"
	"swapwatch/internal/storage"
	"swapwatch/internal/volume"
)

// DefaultSinkTimeout bounds one swap write across every sink.
const DefaultSinkTimeout = 5 * time.Second

// ProcessorOptions configures a Processor.
type ProcessorOptions struct {
	Asset       string            // monitored mint, recorded on stored swaps
	Extractor   *amount.Extractor // required
	Validator   *amount.Validator // required
	Aggregator  *volume.Aggregator
	Sinks       *storage.Fanout // optional
	SinkTimeout time.Duration
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	Now         func() time.Time
}

// Processor turns dispatched records into aggregate updates. It runs on a
// single bus subscription, so records are handled one at a time in order.
type Processor struct {
	asset       string
	extractor   *amount.Extractor
	validator   *amount.Validator
	aggregator  *volume.Aggregator
	sinks       *storage.Fanout
	sinkTimeout time.Duration
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time
	outcomes    *outcomeSink
}

// NewProcessor creates a processor, filling defaults.
func NewProcessor(opts ProcessorOptions) *Processor {
	if opts.Aggregator == nil {
		opts.Aggregator = volume.NewAggregator()
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = DefaultSinkTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Processor{
		asset:       opts.Asset,
		extractor:   opts.Extractor,
		validator:   opts.Validator,
		aggregator:  opts.Aggregator,
		sinks:       opts.Sinks,
		sinkTimeout: opts.SinkTimeout,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		now:         opts.Now,
	}
}

// Aggregator returns the running total.
func (p *Processor) Aggregator() *volume.Aggregator {
	return p.aggregator
}

// Handle extracts, validates and aggregates one record. It is a dispatch.Handler.
func (p *Processor) Handle(rec *domain.TransactionRecord) {
	parsed, err := p.extractor.Extract(rec)
	if err != nil {
		sig := ""
		if rec != nil {
			sig = rec.Signature
		}
		if errors.Is(err, amount.ErrNotApplicable) {
			p.logger.Debug("not applicable", zap.String("signature", sig))
		} else {
			p.logger.Error("extract failed", zap.String("signature", sig), zap.Error(err))
		}
		p.outcomes.emit(Outcome{Signature: sig, Stage: StageExtract, Err: err})
		return
	}

	p.logger.Info("amount parsed",
		zap.String("signature", parsed.Signature),
		zap.String("strategy", parsed.Strategy.String()),
		zap.String("owner", parsed.Owner),
		zap.Bool("owner_is_wallet", parsed.OwnerIsWallet),
		zap.Float64("amount", parsed.RawAmount),
	)

	ok, reason := p.validator.Check(parsed.RawAmount)
	if !ok {
		p.metrics.RecordRejected(string(reason))
		p.logger.Info("amount rejected",
			zap.String("signature", parsed.Signature),
			zap.Float64("amount", parsed.RawAmount),
			zap.String("reason", string(reason)),
		)
		p.outcomes.emit(Outcome{
			Signature: parsed.Signature,
			Stage:     StageValidate,
			Rejection: reason,
			Amount:    parsed.RawAmount,
		})
		return
	}

	total := p.aggregator.Record(parsed.RawAmount)
	p.metrics.RecordAccepted(total)
	p.logger.Info("swap accepted",
		zap.String("signature", parsed.Signature),
		zap.Float64("amount", parsed.RawAmount),
		zap.Float64("total", total),
	)

	p.store(rec, parsed, total)
	p.outcomes.emit(Outcome{
		Signature: parsed.Signature,
		Stage:     StageAccepted,
		Amount:    parsed.RawAmount,
		Total:     total,
	})
}

// store writes the accepted swap to every sink. Sink failures are logged
// and never affect the running total.
func (p *Processor) store(rec *domain.TransactionRecord, parsed domain.ParsedAmount, total float64) {
	if p.sinks == nil || p.sinks.Len() == 0 {
		return
	}

	swap := &domain.DetectedSwap{
		Signature:    parsed.Signature,
		Asset:        p.asset,
		Slot:         rec.Slot,
		BlockTime:    rec.BlockTime,
		Owner:        parsed.Owner,
		Amount:       abs(parsed.RawAmount),
		Strategy:     parsed.Strategy,
		RunningTotal: total,
		DetectedAt:   p.now().UnixMilli(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.sinkTimeout)
	defer cancel()

	p.sinks.InsertEach(ctx, swap, func(name string, err error) {
		p.metrics.RecordSinkWrite(name, err)
		switch {
		case err == nil:
		case errors.Is(err, storage.ErrDuplicateKey):
			p.logger.Debug("swap already stored", zap.String("sink", name), zap.String("signature", swap.Signature))
		default:
			p.logger.Error("sink write failed", zap.String("sink", name), zap.String("signature", swap.Signature), zap.Error(err))
		}
	})
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
