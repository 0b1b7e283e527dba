// Package amount derives and screens swap amounts from fetched transactions.
package amount

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"swapwatch/internal/domain"
)

// Well-known addresses.
const (
	// WrappedSOLMint is the SPL mint of wrapped SOL.
	WrappedSOLMint = "So11111111111111111111111111111111111111112"
	// JupiterV6Program is the Jupiter v6 aggregator program.
	JupiterV6Program = "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"
)

// LamportsPerSOL is the default native scaling factor.
const LamportsPerSOL = 1e9

// ErrNotApplicable is returned when no top-level instruction targets the program.
var ErrNotApplicable = errors.New("amount: transaction does not invoke target program")

// ExtractorOptions configures an Extractor.
type ExtractorOptions struct {
	ProgramID     string          // defaults to JupiterV6Program
	Strategy      domain.Strategy // defaults to StrategyNativeBalanceDiff
	ScalingFactor float64         // native units per whole unit, defaults to LamportsPerSOL
	Mint          string          // tagged strategy mint, defaults to WrappedSOLMint
}

// Extractor computes the amount moved by a transaction.
type Extractor struct {
	programID string
	strategy  domain.Strategy
	scale     float64
	mint      string
}

// NewExtractor creates an extractor, filling defaults.
func NewExtractor(opts ExtractorOptions) (*Extractor, error) {
	if opts.ProgramID == "" {
		opts.ProgramID = JupiterV6Program
	}
	if opts.Strategy == "" {
		opts.Strategy = domain.StrategyNativeBalanceDiff
	}
	if !opts.Strategy.IsValid() {
		return nil, fmt.Errorf("amount: unknown strategy %q", opts.Strategy)
	}
	if opts.ScalingFactor == 0 {
		opts.ScalingFactor = LamportsPerSOL
	}
	if opts.ScalingFactor < 0 || math.IsNaN(opts.ScalingFactor) || math.IsInf(opts.ScalingFactor, 0) {
		return nil, fmt.Errorf("amount: invalid scaling factor %v", opts.ScalingFactor)
	}
	if opts.Mint == "" {
		opts.Mint = WrappedSOLMint
	}
	return &Extractor{
		programID: opts.ProgramID,
		strategy:  opts.Strategy,
		scale:     opts.ScalingFactor,
		mint:      opts.Mint,
	}, nil
}

// Strategy returns the configured strategy.
func (e *Extractor) Strategy() domain.Strategy {
	return e.strategy
}

// Extract returns the amount moved by rec. Records that do not invoke the
// target program yield ErrNotApplicable. Missing balances yield a zero
// amount, which the validator rejects.
func (e *Extractor) Extract(rec *domain.TransactionRecord) (domain.ParsedAmount, error) {
	if rec == nil || !rec.InvokesProgram(e.programID) {
		return domain.ParsedAmount{}, ErrNotApplicable
	}

	var out domain.ParsedAmount
	switch e.strategy {
	case domain.StrategyTaggedTokenBalanceDiff:
		out = e.tokenDiff(rec)
	default:
		out = e.nativeDiff(rec)
	}
	out.Signature = rec.Signature
	out.Strategy = e.strategy
	if out.Owner != "" {
		out.OwnerIsWallet = IsWallet(out.Owner)
	}
	return out, nil
}

// nativeDiff measures the fee payer's lamport change.
func (e *Extractor) nativeDiff(rec *domain.TransactionRecord) domain.ParsedAmount {
	var out domain.ParsedAmount
	if len(rec.AccountKeys) > 0 {
		out.Owner = rec.AccountKeys[0]
	}
	if len(rec.PreBalances) == 0 || len(rec.PostBalances) == 0 {
		return out
	}

	pre, post := rec.PreBalances[0], rec.PostBalances[0]
	var diff uint64
	if pre > post {
		diff = pre - post
	} else {
		diff = post - pre
	}
	out.RawAmount = float64(diff) / e.scale
	return out
}

// tokenDiff measures the change of the first mint balance and its owner's post balance.
func (e *Extractor) tokenDiff(rec *domain.TransactionRecord) domain.ParsedAmount {
	var out domain.ParsedAmount

	pre, ok := findBalance(rec.PreTokenBalances, e.mint, "")
	if !ok {
		return out
	}
	out.Owner = pre.Owner

	post, ok := findBalance(rec.PostTokenBalances, e.mint, pre.Owner)
	if !ok {
		return out
	}

	preAmt, err := parseUIAmount(pre.UIAmount)
	if err != nil {
		return out
	}
	postAmt, err := parseUIAmount(post.UIAmount)
	if err != nil {
		return out
	}
	out.RawAmount = math.Abs(postAmt - preAmt)
	return out
}

// findBalance returns the first entry with mint, restricted to owner when set.
func findBalance(balances []domain.TokenBalance, mint, owner string) (domain.TokenBalance, bool) {
	for _, b := range balances {
		if b.Mint != mint {
			continue
		}
		if owner != "" && b.Owner != owner {
			continue
		}
		return b, true
	}
	return domain.TokenBalance{}, false
}

func parseUIAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty amount")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite amount %q", s)
	}
	return v, nil
}
