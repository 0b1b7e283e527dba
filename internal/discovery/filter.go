package discovery

import (
	"strings"

	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"swapwatch/internal/domain"
)

// Decision is the outcome of classifying one log event.
type Decision string

const (
	DecisionCandidate Decision = "candidate"
	DecisionRejected  Decision = "rejected"
)

// Rejection reasons.
const (
	ReasonFeedError      = "feed_error"
	ReasonBadSignature   = "bad_signature"
	ReasonMissingMarkers = "missing_markers"
)

// signatureLen is the decoded size of a transaction signature.
const signatureLen = 64

// Candidate is an event that carried every required marker.
type Candidate struct {
	Signature string
	Slot      int64
	Markers   Markers
}

// Classification is the result of SwapFilter.Classify.
type Classification struct {
	Decision  Decision
	Reason    string // empty for candidates
	Candidate Candidate
}

// IsCandidate reports whether the event should be fetched.
func (c Classification) IsCandidate() bool {
	return c.Decision == DecisionCandidate
}

// FilterOptions configures a SwapFilter.
type FilterOptions struct {
	ProgramID   string     // target program address, required
	Mode        MarkerMode // defaults to MarkerModeRouteTransfer
	RouteTag    string     // defaults to RouteTag
	TransferTag string     // defaults to TransferTag
	SwapTag     string     // defaults to SwapTag

	// SkipSignatureCheck accepts identifiers that are not base58 signatures.
	SkipSignatureCheck bool

	Logger *zap.Logger
}

// SwapFilter classifies raw log events by substring markers.
// It holds no mutable state and is safe for concurrent use.
type SwapFilter struct {
	programID   string
	routeTag    string
	transferTag string
	swapTag     string
	required    Markers
	checkSig    bool
	logger      *zap.Logger
}

// NewSwapFilter creates a filter from opts, filling defaults.
func NewSwapFilter(opts FilterOptions) *SwapFilter {
	if opts.Mode == "" {
		opts.Mode = MarkerModeRouteTransfer
	}
	if opts.RouteTag == "" {
		opts.RouteTag = RouteTag
	}
	if opts.TransferTag == "" {
		opts.TransferTag = TransferTag
	}
	if opts.SwapTag == "" {
		opts.SwapTag = SwapTag
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &SwapFilter{
		programID:   opts.ProgramID,
		routeTag:    opts.RouteTag,
		transferTag: opts.TransferTag,
		swapTag:     opts.SwapTag,
		required:    opts.Mode.Required(),
		checkSig:    !opts.SkipSignatureCheck,
		logger:      opts.Logger,
	}
}

// Required returns the markers a candidate must carry.
func (f *SwapFilter) Required() Markers {
	return f.required
}

// Classify inspects ev and decides whether it is a swap candidate.
// Error-flagged events are never candidates.
func (f *SwapFilter) Classify(ev domain.LogEvent) Classification {
	if ev.Failed() {
		return f.reject(ev, ReasonFeedError, 0)
	}
	if f.checkSig && !validSignature(ev.Signature) {
		return f.reject(ev, ReasonBadSignature, 0)
	}

	m := f.Scan(ev.Logs)
	if !m.Has(f.required) {
		return f.reject(ev, ReasonMissingMarkers, m)
	}

	f.logger.Debug("candidate",
		zap.String("signature", ev.Signature),
		zap.Int64("slot", ev.Slot),
		zap.Stringer("markers", m),
	)
	return Classification{
		Decision: DecisionCandidate,
		Candidate: Candidate{
			Signature: ev.Signature,
			Slot:      ev.Slot,
			Markers:   m,
		},
	}
}

// Scan walks every line once and returns the markers found.
func (f *SwapFilter) Scan(lines []string) Markers {
	var m Markers
	for _, line := range lines {
		if f.programID != "" && strings.Contains(line, f.programID) {
			m |= ProgramPresent
		}
		if strings.Contains(line, f.routeTag) {
			m |= RouteInstruction
		}
		if strings.Contains(line, f.transferTag) {
			m |= TransferInstruction
		}
		if strings.Contains(line, f.swapTag) {
			m |= SwapInstruction
		}
	}
	return m
}

func (f *SwapFilter) reject(ev domain.LogEvent, reason string, m Markers) Classification {
	f.logger.Debug("rejected",
		zap.String("signature", ev.Signature),
		zap.String("reason", reason),
		zap.Stringer("markers", m),
	)
	return Classification{
		Decision: DecisionRejected,
		Reason:   reason,
		Candidate: Candidate{
			Signature: ev.Signature,
			Slot:      ev.Slot,
			Markers:   m,
		},
	}
}

func validSignature(sig string) bool {
	if sig == "" {
		return false
	}
	b, err := base58.Decode(sig)
	return err == nil && len(b) == signatureLen
}
