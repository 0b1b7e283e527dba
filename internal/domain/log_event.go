package domain

// LogEvent is a single logsSubscribe notification for the monitored asset.
// Delivery is at-least-once, so the same Signature may arrive more than once.
type LogEvent struct {
	Signature string      // transaction signature (base58)
	Slot      int64       // Solana slot number
	Logs      []string    // program log lines, in emission order
	Err       interface{} // non-nil when the feed flags the transaction as failed
}

// Failed reports whether the feed attached an error to the event.
func (e LogEvent) Failed() bool {
	return e.Err != nil
}
