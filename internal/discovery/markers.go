package discovery

import "strings"

// Markers is the set of log markers observed in an event.
type Markers uint8

const (
	// ProgramPresent is set when a line mentions the target program address.
	ProgramPresent Markers = 1 << iota
	// RouteInstruction is set when a line carries the routing instruction tag.
	RouteInstruction
	// TransferInstruction is set when a line carries the transfer instruction tag.
	TransferInstruction
	// SwapInstruction is set when a line carries the combined swap tag.
	SwapInstruction
)

// Default log tags.
const (
	RouteTag    = "Instruction: Route"
	TransferTag = "Instruction: Transfer"
	SwapTag     = "Instruction: SharedAccountsRoute"
)

// Has reports whether every marker in want is set.
func (m Markers) Has(want Markers) bool {
	return m&want == want
}

// String renders the set as "program|route|transfer".
func (m Markers) String() string {
	if m == 0 {
		return "none"
	}
	var parts []string
	if m&ProgramPresent != 0 {
		parts = append(parts, "program")
	}
	if m&RouteInstruction != 0 {
		parts = append(parts, "route")
	}
	if m&TransferInstruction != 0 {
		parts = append(parts, "transfer")
	}
	if m&SwapInstruction != 0 {
		parts = append(parts, "swap")
	}
	return strings.Join(parts, "|")
}

// MarkerMode selects which instruction tags must co-occur with the program.
type MarkerMode string

const (
	// MarkerModeRouteTransfer requires separate route and transfer tags.
	MarkerModeRouteTransfer MarkerMode = "route_transfer"
	// MarkerModeCombinedSwap requires the single combined swap tag.
	MarkerModeCombinedSwap MarkerMode = "combined_swap"
)

// IsValid reports whether the mode is known.
func (m MarkerMode) IsValid() bool {
	switch m {
	case MarkerModeRouteTransfer, MarkerModeCombinedSwap:
		return true
	}
	return false
}

// Required returns the marker set a candidate must carry in this mode.
func (m MarkerMode) Required() Markers {
	if m == MarkerModeCombinedSwap {
		return ProgramPresent | SwapInstruction
	}
	return ProgramPresent | RouteInstruction | TransferInstruction
}
