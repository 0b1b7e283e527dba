package domain

// Strategy selects how a transferred amount is derived from balance snapshots.
type Strategy string

const (
	// StrategyNativeBalanceDiff diffs lamport balances of the fee payer.
	StrategyNativeBalanceDiff Strategy = "native_balance_diff"
	// StrategyTaggedTokenBalanceDiff diffs wrapped SOL token balances keyed by mint and owner.
	StrategyTaggedTokenBalanceDiff Strategy = "tagged_token_balance_diff"
)

// String returns the string representation of Strategy.
func (s Strategy) String() string {
	return string(s)
}

// IsValid checks if the strategy is a known value.
func (s Strategy) IsValid() bool {
	return s == StrategyNativeBalanceDiff || s == StrategyTaggedTokenBalanceDiff
}

// ParsedAmount is the amount extracted from one transaction, before validation.
type ParsedAmount struct {
	Signature     string
	Owner         string // fee payer for native, token owner for tagged
	OwnerIsWallet bool   // owner is an on-curve key rather than a PDA
	RawAmount     float64
	Strategy      Strategy
}
