package kpi

import (
	"errors"
	"math"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Configuration
		wantField string
	}{
		{"zero value", Configuration{}, ""},
		{"defaults", Defaults(), ""},
		{"per shift with duration", Configuration{TargetBasis: PerShift, ShiftDuration: 480}, ""},
		{"unknown target basis", Configuration{TargetBasis: "daily"}, "target_basis"},
		{"unknown actual basis", Configuration{ActualBasis: "gross"}, "actual_basis"},
		{"unknown time context", Configuration{TimeContext: "always"}, "time_context"},
		{"negative rate", Configuration{TargetRate: -1}, "target_rate"},
		{"NaN output", Configuration{ActualOutput: math.NaN()}, "actual_output"},
		{"per shift without duration", Configuration{TargetBasis: PerShift}, "shift_duration"},
		{"shift duration out of range", Configuration{TargetBasis: PerHour, ShiftDuration: 5000}, "shift_duration"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
			if ve.Field != tc.wantField {
				t.Errorf("Field = %q, want %q", ve.Field, tc.wantField)
			}
		})
	}
}

func TestWithDefaults(t *testing.T) {
	c := Configuration{TargetBasis: PerHour, TargetRate: 10}.WithDefaults()

	if c.TargetBasis != PerHour {
		t.Errorf("TargetBasis overwritten: %q", c.TargetBasis)
	}
	if c.ActualBasis != ActualNet || c.TimeContext != ProductionOnly {
		t.Errorf("enums not defaulted: %q %q", c.ActualBasis, c.TimeContext)
	}
	if c.UnitsPerCycle != 1 || c.IdealOutputPerCycle != 1 {
		t.Errorf("multipliers not defaulted: %g %g", c.UnitsPerCycle, c.IdealOutputPerCycle)
	}
}

func TestSanitized(t *testing.T) {
	c := Configuration{
		TargetBasis:    "bogus",
		TargetRate:     math.Inf(1),
		GoodOutput:     -5,
		DowntimeBudget: 30,
	}.Sanitized()

	if c.TargetBasis != PerCycle {
		t.Errorf("TargetBasis = %q, want per_cycle", c.TargetBasis)
	}
	if c.TargetRate != 0 || c.GoodOutput != 0 {
		t.Errorf("non-finite or negative not coerced: rate %g good %g", c.TargetRate, c.GoodOutput)
	}
	if c.DowntimeBudget != 30 {
		t.Errorf("DowntimeBudget = %g, want 30", c.DowntimeBudget)
	}
}

func TestEffectiveTargetRate(t *testing.T) {
	if got := (Configuration{TargetBasis: PerCycle, UnitsPerCycle: 4}).EffectiveTargetRate(); got != 4 {
		t.Errorf("per_cycle fallback = %g, want 4", got)
	}
	if got := (Configuration{TargetBasis: PerHour}).EffectiveTargetRate(); got != 0 {
		t.Errorf("per_hour with no rate = %g, want 0", got)
	}
}
