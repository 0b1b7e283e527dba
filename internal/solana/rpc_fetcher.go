package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AlekSi/pointer"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"swapwatch/internal/domain"
)

// Default fetcher settings.
const (
	DefaultFetchTimeout     = 30 * time.Second
	DefaultBreakerFailures  = 5
	DefaultBreakerCooldown  = 30 * time.Second
	DefaultBreakerHalfOpen  = 3
	DefaultBreakerResetSpan = 60 * time.Second
)

// RPCFetcher implements TransactionFetcher with solana-go's JSON-RPC client.
// Every call is a single attempt guarded by a circuit breaker.
type RPCFetcher struct {
	client     *rpc.Client
	timeout    time.Duration
	commitment rpc.CommitmentType
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger

	breakerFailures uint32
	breakerCooldown time.Duration
}

// FetcherOption configures RPCFetcher.
type FetcherOption func(*RPCFetcher)

// WithFetchTimeout bounds each getTransaction call.
func WithFetchTimeout(d time.Duration) FetcherOption {
	return func(f *RPCFetcher) {
		f.timeout = d
	}
}

// WithCommitment sets the getTransaction commitment.
func WithCommitment(c string) FetcherOption {
	return func(f *RPCFetcher) {
		if c != "" {
			f.commitment = rpc.CommitmentType(c)
		}
	}
}

// WithBreaker sets consecutive failures before the breaker opens and how long it stays open.
// Zero failures disables the breaker.
func WithBreaker(failures uint32, cooldown time.Duration) FetcherOption {
	return func(f *RPCFetcher) {
		f.breakerFailures = failures
		f.breakerCooldown = cooldown
	}
}

// WithFetcherLogger sets the logger.
func WithFetcherLogger(l *zap.Logger) FetcherOption {
	return func(f *RPCFetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewRPCFetcher creates a fetcher for the given HTTP RPC endpoint.
func NewRPCFetcher(endpoint string, opts ...FetcherOption) *RPCFetcher {
	f := &RPCFetcher{
		client:          rpc.New(endpoint),
		timeout:         DefaultFetchTimeout,
		commitment:      rpc.CommitmentConfirmed,
		logger:          zap.NewNop(),
		breakerFailures: DefaultBreakerFailures,
		breakerCooldown: DefaultBreakerCooldown,
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.breakerFailures > 0 {
		failures := f.breakerFailures
		f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "getTransaction",
			MaxRequests: DefaultBreakerHalfOpen,
			Interval:    DefaultBreakerResetSpan,
			Timeout:     f.breakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			// Not-found is an answer, not a node failure.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrTransactionNotFound)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				f.logger.Warn("circuit breaker state change",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
	}
	return f
}

var _ TransactionFetcher = (*RPCFetcher)(nil)

// GetTransaction fetches signature once with maxSupportedTransactionVersion 0.
func (f *RPCFetcher) GetTransaction(ctx context.Context, signature string) (*domain.TransactionRecord, error) {
	if f.breaker == nil {
		return f.fetch(ctx, signature)
	}

	out, err := f.breaker.Execute(func() (interface{}, error) {
		return f.fetch(ctx, signature)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	if err != nil {
		return nil, err
	}
	return out.(*domain.TransactionRecord), nil
}

// BreakerState returns the breaker state name, "disabled" without a breaker.
func (f *RPCFetcher) BreakerState() string {
	if f.breaker == nil {
		return "disabled"
	}
	return f.breaker.State().String()
}

func (f *RPCFetcher) fetch(ctx context.Context, signature string) (*domain.TransactionRecord, error) {
	sig, err := solanago.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature %q: %v", ErrMalformedTransaction, signature, err)
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	res, err := f.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solanago.EncodingBase64,
		Commitment:                     f.commitment,
		MaxSupportedTransactionVersion: pointer.ToUint64(0),
	})
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && res == nil) {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, signature)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", signature, err)
	}

	rec, err := ToRecord(signature, res)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(res); err == nil {
		rec.Size = int64(len(raw))
	}
	return rec, nil
}
