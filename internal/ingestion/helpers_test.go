package ingestion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"

	"swapwatch/internal/amount"
	"swapwatch/internal/domain"
	"swapwatch/internal/storage"
)

const (
	testAsset = amount.WrappedSOLMint
	testPayer = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
)

// testSignature returns a distinct, well-formed 64-byte base58 signature.
func testSignature(n byte) string {
	b := make([]byte, 64)
	for i := range b {
		b[i] = n + byte(i)
	}
	return base58.Encode(b)
}

func swapLogs() []string {
	return []string{
		"Program " + amount.JupiterV6Program + " invoke [1]",
		"Program log: Instruction: Route",
		"Program TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA invoke [2]",
		"Program log: Instruction: Transfer",
		"Program " + amount.JupiterV6Program + " success",
	}
}

func swapEvent(sig string, slot int64) domain.LogEvent {
	return domain.LogEvent{Signature: sig, Slot: slot, Logs: swapLogs()}
}

// nativeRecord builds a record where the fee payer's balance moves by lamports.
func nativeRecord(sig string, lamports uint64) *domain.TransactionRecord {
	return &domain.TransactionRecord{
		Signature:    sig,
		Slot:         100,
		BlockTime:    1700000000,
		AccountKeys:  []string{testPayer, amount.JupiterV6Program},
		Instructions: []domain.Instruction{{ProgramIndex: 1, Accounts: []int{0}}},
		PreBalances:  []uint64{20_000_000_000, 1},
		PostBalances: []uint64{20_000_000_000 - lamports, 1},
		Size:         2048,
	}
}

// waitOutcome reads outcomes until one for sig arrives.
func waitOutcome(t *testing.T, ch <-chan Outcome, sig string) Outcome {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case o, ok := <-ch:
			if !ok {
				t.Fatalf("outcomes closed before %s", sig)
			}
			if o.Signature == sig {
				return o
			}
		case <-timeout:
			t.Fatalf("no outcome for %s", sig)
		}
	}
}

// collectOutcomes reads outcomes until every sig in sigs has been seen.
func collectOutcomes(t *testing.T, ch <-chan Outcome, sigs ...string) map[string]Outcome {
	t.Helper()
	want := make(map[string]bool, len(sigs))
	for _, s := range sigs {
		want[s] = true
	}
	got := make(map[string]Outcome)
	timeout := time.After(2 * time.Second)
	for len(want) > 0 {
		select {
		case o, ok := <-ch:
			if !ok {
				t.Fatalf("outcomes closed, still waiting for %d", len(want))
			}
			got[o.Signature] = o
			delete(want, o.Signature)
		case <-timeout:
			t.Fatalf("timed out waiting for %d outcomes", len(want))
		}
	}
	return got
}

// recordingStore is a SwapStore that keeps rows in a map.
type recordingStore struct {
	mu   sync.Mutex
	rows map[string]domain.DetectedSwap
}

func newRecordingStore() *recordingStore {
	return &recordingStore{rows: make(map[string]domain.DetectedSwap)}
}

func (s *recordingStore) Insert(_ context.Context, swap *domain.DetectedSwap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[swap.Signature]; ok {
		return storage.ErrDuplicateKey
	}
	s.rows[swap.Signature] = *swap
	return nil
}

func (s *recordingStore) Summary(_ context.Context, asset string) (storage.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum storage.Summary
	for _, r := range s.rows {
		if r.Asset == asset {
			sum.Count++
			sum.Total += r.Amount
		}
	}
	return sum, nil
}

func (s *recordingStore) get(signature string) (domain.DetectedSwap, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[signature]
	return r, ok
}
