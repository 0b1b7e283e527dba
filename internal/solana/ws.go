package solana

import (
	"context"

	"swapwatch/internal/domain"
)

// LogFeed delivers logsSubscribe notifications.
type LogFeed interface {
	// SubscribeLogs subscribes to logs mentioning the filter addresses.
	// The returned channel is closed when the feed is closed.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan domain.LogEvent, error)

	// Close closes the underlying connection.
	Close() error
}

// Commitment levels accepted by logsSubscribe and getTransaction.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// LogsFilter selects which transactions are streamed.
type LogsFilter struct {
	// Mentions filters logs of transactions that mention any of these addresses.
	// Empty subscribes to all transactions.
	Mentions []string
	// Commitment defaults to CommitmentConfirmed.
	Commitment string
}

func (f LogsFilter) params() []interface{} {
	mentions := make(map[string]interface{})
	if len(f.Mentions) > 0 {
		mentions["mentions"] = f.Mentions
	} else {
		mentions["all"] = nil
	}
	commitment := f.Commitment
	if commitment == "" {
		commitment = CommitmentConfirmed
	}
	return []interface{}{mentions, map[string]string{"commitment": commitment}}
}
