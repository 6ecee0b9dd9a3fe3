package kpi

import "math"

// TargetBasis selects the unit the target rate is expressed in.
type TargetBasis string

const (
	PerCycle TargetBasis = "per_cycle"
	PerHour  TargetBasis = "per_hour"
	PerShift TargetBasis = "per_shift"
)

// ActualBasis selects which aggregated duration counts as actual time.
type ActualBasis string

const (
	// ActualNet uses merged activity minus exclusions.
	ActualNet ActualBasis = "net"
	// ActualRaw uses the plain interval sum, overlaps included.
	ActualRaw ActualBasis = "raw"
)

// TimeContext selects whether capped downtime extends the KPI time base.
type TimeContext string

const (
	ProductionOnly         TimeContext = "production_only"
	ProductionPlusDowntime TimeContext = "production_plus_downtime"
)

// Configuration is the per-line KPI configuration. All durations are in
// minutes and all counts in units.
type Configuration struct {
	TargetBasis TargetBasis `yaml:"target_basis" json:"target_basis"`
	ActualBasis ActualBasis `yaml:"actual_basis" json:"actual_basis"`
	TimeContext TimeContext `yaml:"time_context" json:"time_context"`

	// TargetRate is the target output per hour, per shift or per cycle
	// depending on TargetBasis. Under per_cycle a zero rate falls back to
	// UnitsPerCycle.
	TargetRate float64 `yaml:"target_rate" json:"target_rate"`

	CycleTimePerUnit    float64 `yaml:"cycle_time_per_unit" json:"cycle_time_per_unit"`
	UnitsPerCycle       float64 `yaml:"units_per_cycle" json:"units_per_cycle"`
	IdealCycleTime      float64 `yaml:"ideal_cycle_time" json:"ideal_cycle_time"`
	IdealOutputPerCycle float64 `yaml:"ideal_output_per_cycle" json:"ideal_output_per_cycle"`

	ActualOutput    float64 `yaml:"actual_output" json:"actual_output"`
	GoodOutput      float64 `yaml:"good_output" json:"good_output"`
	CompletedCycles float64 `yaml:"completed_cycles" json:"completed_cycles"`

	// ShiftDuration is required only under per_shift. Zero means unset.
	ShiftDuration  float64 `yaml:"shift_duration" json:"shift_duration"`
	DowntimeBudget float64 `yaml:"downtime_budget" json:"downtime_budget"`
}

// Defaults returns the configuration applied to a line nobody configured.
func Defaults() Configuration {
	return Configuration{
		TargetBasis:         PerCycle,
		ActualBasis:         ActualNet,
		TimeContext:         ProductionOnly,
		UnitsPerCycle:       1,
		IdealOutputPerCycle: 1,
	}
}

// WithDefaults fills empty enumerations and zero per-cycle multipliers from
// Defaults. Numeric fields that are legitimately zero are left alone.
func (c Configuration) WithDefaults() Configuration {
	d := Defaults()
	if c.TargetBasis == "" {
		c.TargetBasis = d.TargetBasis
	}
	if c.ActualBasis == "" {
		c.ActualBasis = d.ActualBasis
	}
	if c.TimeContext == "" {
		c.TimeContext = d.TimeContext
	}
	if c.UnitsPerCycle == 0 {
		c.UnitsPerCycle = d.UnitsPerCycle
	}
	if c.IdealOutputPerCycle == 0 {
		c.IdealOutputPerCycle = d.IdealOutputPerCycle
	}
	return c
}

// Sanitized returns a copy safe to compute with: unknown enumerations become
// their defaults and non-finite or negative numbers become 0.
func (c Configuration) Sanitized() Configuration {
	d := Defaults()
	if !c.TargetBasis.valid() {
		c.TargetBasis = d.TargetBasis
	}
	if !c.ActualBasis.valid() {
		c.ActualBasis = d.ActualBasis
	}
	if !c.TimeContext.valid() {
		c.TimeContext = d.TimeContext
	}
	for _, f := range c.numbers() {
		*f.ptr = coerce(*f.ptr)
	}
	return c
}

// Validate reports the first invalid field. An empty enumeration is valid and
// means the default.
func (c Configuration) Validate() error {
	if c.TargetBasis != "" && !c.TargetBasis.valid() {
		return invalid("target_basis", "unknown value %q", c.TargetBasis)
	}
	if c.ActualBasis != "" && !c.ActualBasis.valid() {
		return invalid("actual_basis", "unknown value %q", c.ActualBasis)
	}
	if c.TimeContext != "" && !c.TimeContext.valid() {
		return invalid("time_context", "unknown value %q", c.TimeContext)
	}
	for _, f := range c.numbers() {
		v := *f.ptr
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return invalid(f.name, "must be a finite number")
		}
		if v < 0 {
			return invalid(f.name, "must not be negative, got %g", v)
		}
	}
	if c.TargetBasis == PerShift || c.ShiftDuration != 0 {
		if err := ValidateShiftDuration(c.ShiftDuration); err != nil {
			return err
		}
	}
	return nil
}

// CycleTime is the duration of one cycle: CycleTimePerUnit × UnitsPerCycle.
func (c Configuration) CycleTime() float64 {
	return c.CycleTimePerUnit * c.unitsPerCycle()
}

// EffectiveTargetRate is TargetRate, or UnitsPerCycle under per_cycle when no
// rate was configured.
func (c Configuration) EffectiveTargetRate() float64 {
	if c.TargetRate > 0 {
		return c.TargetRate
	}
	if c.TargetBasis == PerCycle {
		return c.unitsPerCycle()
	}
	return 0
}

func (c Configuration) unitsPerCycle() float64 {
	if c.UnitsPerCycle > 0 {
		return c.UnitsPerCycle
	}
	return 1
}

type numberField struct {
	name string
	ptr  *float64
}

// numbers lists the numeric fields of c (which must be addressable) with
// their config names.
func (c *Configuration) numbers() []numberField {
	return []numberField{
		{"target_rate", &c.TargetRate},
		{"cycle_time_per_unit", &c.CycleTimePerUnit},
		{"units_per_cycle", &c.UnitsPerCycle},
		{"ideal_cycle_time", &c.IdealCycleTime},
		{"ideal_output_per_cycle", &c.IdealOutputPerCycle},
		{"actual_output", &c.ActualOutput},
		{"good_output", &c.GoodOutput},
		{"completed_cycles", &c.CompletedCycles},
		{"shift_duration", &c.ShiftDuration},
		{"downtime_budget", &c.DowntimeBudget},
	}
}

func (b TargetBasis) valid() bool {
	switch b {
	case PerCycle, PerHour, PerShift:
		return true
	}
	return false
}

func (b ActualBasis) valid() bool {
	return b == ActualNet || b == ActualRaw
}

func (t TimeContext) valid() bool {
	return t == ProductionOnly || t == ProductionPlusDowntime
}

// coerce maps non-finite and negative values to 0.
func coerce(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
