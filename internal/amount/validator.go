package amount

import "math"

// Rejection explains why an amount was not counted.
type Rejection string

const (
	RejectZero      Rejection = "zero"
	RejectNonFinite Rejection = "non_finite"
	RejectTooLarge  Rejection = "too_large"
	RejectNotRound  Rejection = "not_round"
)

// Defaults for the round-amount heuristic.
const (
	DefaultEpsilon   = 1e-5
	DefaultMaxAmount = 10.0
	DefaultStep      = 0.1
)

// ValidatorConfig configures the plausibility rules.
type ValidatorConfig struct {
	// MaxAmount rejects |v| >= MaxAmount. Zero disables the bound.
	MaxAmount float64
	// Epsilon is the allowed distance from the nearest multiple of Step.
	Epsilon float64
	// Step is the rounding granularity. Zero disables the round check.
	Step float64
}

// StrictConfig bounds amounts below 10 units. Pairs with the native strategy.
func StrictConfig() ValidatorConfig {
	return ValidatorConfig{MaxAmount: DefaultMaxAmount, Epsilon: DefaultEpsilon, Step: DefaultStep}
}

// LenientConfig has no magnitude bound. Pairs with the tagged strategy.
func LenientConfig() ValidatorConfig {
	return ValidatorConfig{Epsilon: DefaultEpsilon, Step: DefaultStep}
}

// Validator decides whether an extracted amount looks human-authored.
type Validator struct {
	cfg ValidatorConfig
}

// NewValidator creates a validator from cfg.
func NewValidator(cfg ValidatorConfig) *Validator {
	if cfg.Epsilon < 0 {
		cfg.Epsilon = 0
	}
	return &Validator{cfg: cfg}
}

// Config returns the active configuration.
func (v *Validator) Config() ValidatorConfig {
	return v.cfg
}

// IsAcceptable reports whether amount should be counted.
func (v *Validator) IsAcceptable(amount float64) bool {
	ok, _ := v.Check(amount)
	return ok
}

// Check is IsAcceptable with the reason for rejection.
func (v *Validator) Check(amount float64) (bool, Rejection) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return false, RejectNonFinite
	}
	if amount == 0 {
		return false, RejectZero
	}
	abs := math.Abs(amount)
	if v.cfg.MaxAmount > 0 && abs >= v.cfg.MaxAmount {
		return false, RejectTooLarge
	}
	if v.cfg.Step > 0 {
		nearest := math.Round(abs/v.cfg.Step) * v.cfg.Step
		if math.Abs(abs-nearest) > v.cfg.Epsilon {
			return false, RejectNotRound
		}
	}
	return true, ""
}
