package kpi

import "math"

// Shift duration bounds accepted by the basis-change gate, in minutes.
const (
	MinShiftDuration = 1
	MaxShiftDuration = 1440
)

// ValidateShiftDuration accepts whole minutes in [MinShiftDuration,
// MaxShiftDuration]. Values are rejected, never clamped.
func ValidateShiftDuration(v float64) error {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return invalid("shift_duration", "must be a finite number")
	case v != math.Trunc(v):
		return invalid("shift_duration", "must be a whole number of minutes, got %g", v)
	case v < MinShiftDuration || v > MaxShiftDuration:
		return invalid("shift_duration", "must be between %d and %d minutes, got %g",
			MinShiftDuration, MaxShiftDuration, v)
	}
	return nil
}

// ApplyBasisChange returns cfg with TargetBasis set to basis.
//
// Switching to per_shift needs a valid shift duration: proposedShift when
// given, otherwise the one already configured. When the change is rejected
// the returned configuration is cfg unchanged and err is a *ValidationError.
// proposedShift is ignored for the other bases.
func ApplyBasisChange(cfg Configuration, basis TargetBasis, proposedShift *float64) (Configuration, error) {
	if !basis.valid() {
		return cfg, invalid("target_basis", "unknown value %q", basis)
	}
	if basis != PerShift {
		next := cfg
		next.TargetBasis = basis
		return next, nil
	}

	candidate := cfg.ShiftDuration
	if proposedShift != nil {
		candidate = *proposedShift
	} else if candidate == 0 {
		return cfg, invalid("shift_duration", "required when switching to %s", PerShift)
	}
	if err := ValidateShiftDuration(candidate); err != nil {
		return cfg, err
	}

	next := cfg
	next.TargetBasis = PerShift
	next.ShiftDuration = candidate
	return next, nil
}
