package ingestion

import (
	"sync"
	"sync/atomic"

	"swapwatch/internal/amount"
)

// Stage names the pipeline step at which a signature reached a terminal state.
type Stage string

const (
	StageFetch    Stage = "fetch"    // fetch failed or could not be scheduled
	StageDispatch Stage = "dispatch" // record could not be handed to the bus
	StageExtract  Stage = "extract"  // record does not invoke the target program
	StageValidate Stage = "validate" // amount rejected by the validator
	StageAccepted Stage = "accepted" // amount added to the running total
)

// Outcome is the terminal result for one signature.
type Outcome struct {
	Signature string
	Stage     Stage
	Err       error            // set for fetch, dispatch and extract
	Rejection amount.Rejection // set for validate
	Amount    float64          // parsed amount, 0 before extraction
	Total     float64          // running total after an accepted swap
}

// outcomeSink delivers outcomes without ever blocking the pipeline.
type outcomeSink struct {
	mu      sync.RWMutex
	ch      chan Outcome
	closed  bool
	dropped atomic.Int64
}

func newOutcomeSink(buffer int) *outcomeSink {
	if buffer <= 0 {
		return &outcomeSink{}
	}
	return &outcomeSink{ch: make(chan Outcome, buffer)}
}

func (s *outcomeSink) emit(o Outcome) {
	if s == nil || s.ch == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- o:
	default:
		s.dropped.Add(1)
	}
}

func (s *outcomeSink) close() {
	if s == nil || s.ch == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
