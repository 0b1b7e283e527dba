package domain

// DetectedSwap is an accepted swap as written to a swap sink.
// Corresponds to detected_swaps table.
type DetectedSwap struct {
	Signature    string   // transaction signature, unique
	Asset        string   // monitored asset mint
	Slot         int64    // Solana slot number
	BlockTime    int64    // Unix seconds, 0 if unknown
	Owner        string   // fee payer (native) or token balance owner (tagged)
	Amount       float64  // validated absolute amount
	Strategy     Strategy // extraction strategy
	RunningTotal float64  // aggregate total after this swap
	DetectedAt   int64    // Unix timestamp in milliseconds
}
