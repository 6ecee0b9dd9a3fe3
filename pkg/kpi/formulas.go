package kpi

import "math"

// MaxPerformanceRate caps the performance rate. Output above the theoretical
// maximum usually means the ideal cycle time is configured too slow.
const MaxPerformanceRate = 1.5

// Minutes per hour, for the per_hour target basis.
const minutesPerHour = 60.0

// Target is the computed target output and the number of basis units
// (hours, shifts or cycles) it was computed over.
type Target struct {
	Units  float64 `json:"units"`
	Output float64 `json:"output"`
}

// SafeDiv returns num/den, or 0 when den is zero or either operand or the
// result is not finite.
func SafeDiv(num, den float64) float64 {
	if den == 0 || !finite(den) || !finite(num) {
		return 0
	}
	r := num / den
	if !finite(r) {
		return 0
	}
	return r
}

// CappedDowntime caps downtime at budget when a budget is configured.
// With no budget (<= 0) downtime is returned uncapped.
func CappedDowntime(downtime, budget float64) float64 {
	if budget > 0 {
		return math.Min(downtime, budget)
	}
	return downtime
}

// KPITime is the time base for targets and cycle times: actual time, plus
// capped downtime under production_plus_downtime.
func KPITime(actual, cappedDowntime float64, tc TimeContext) float64 {
	if tc == ProductionPlusDowntime {
		return actual + cappedDowntime
	}
	return actual
}

// TargetWindow is the time span the target was computed against, with
// downtime always included. It is the availability window of the target
// OEE baseline.
func TargetWindow(kpiTime, cappedDowntime float64, tc TimeContext) float64 {
	if tc == ProductionPlusDowntime {
		return kpiTime
	}
	return kpiTime + cappedDowntime
}

// TargetOutput computes the target for kpiTime minutes under cfg's basis.
//
//	per_hour   units = kpiTime / 60
//	per_shift  units = kpiTime / shift_duration   (0 when unset)
//	per_cycle  units = kpiTime / cycle_time
//
//	output = effective_target_rate × units
func TargetOutput(cfg Configuration, kpiTime float64) Target {
	var units float64
	switch cfg.TargetBasis {
	case PerHour:
		units = kpiTime / minutesPerHour
	case PerShift:
		units = SafeDiv(kpiTime, cfg.ShiftDuration)
	default:
		units = SafeDiv(kpiTime, cfg.CycleTime())
	}
	return Target{Units: units, Output: cfg.EffectiveTargetRate() * units}
}

// Availability is the share of window not consumed by downtime, in [0, 1].
func Availability(window, downtime float64) float64 {
	return clamp01(SafeDiv(window-downtime, window))
}

// Utilization is active time over planned time plus downtime, capped at 1.
func Utilization(active, planned, downtime float64) float64 {
	return math.Min(SafeDiv(active, planned+downtime), 1)
}

// TimeEfficiency is planned time over KPI time. It is not capped.
func TimeEfficiency(planned, kpiTime float64) float64 {
	return SafeDiv(planned, kpiTime)
}

// PerformanceRate compares actual output with the theoretical maximum for
// operatingTime:
//
//	theoretical_max = operating_time / ideal_cycle_time × ideal_output_per_cycle
//	performance     = min(actual / theoretical_max, 1.5)
//
// When the ideal cycle time is unset or the theoretical maximum is zero it
// falls back to actual / (completed_cycles × ideal_output_per_cycle), under
// the same cap.
func PerformanceRate(cfg Configuration, operatingTime float64) float64 {
	theoretical := SafeDiv(operatingTime, cfg.IdealCycleTime) * cfg.IdealOutputPerCycle
	var rate float64
	if cfg.IdealCycleTime > 0 && theoretical > 0 {
		rate = SafeDiv(cfg.ActualOutput, theoretical)
	} else {
		rate = SafeDiv(cfg.ActualOutput, cfg.CompletedCycles*cfg.IdealOutputPerCycle)
	}
	return math.Min(rate, MaxPerformanceRate)
}

// QualityRate is good over actual output, in [0, 1]. With no output there is
// nothing to penalise and the rate is 1.
func QualityRate(good, actual float64) float64 {
	if actual <= 0 {
		return 1
	}
	return clamp01(good / actual)
}

// OEECycleBaseline answers "was the available time used well against an
// ideal cycle": availability × quality, performance taken as ideal.
func OEECycleBaseline(availability, quality float64) float64 {
	return clamp01(availability * quality)
}

// OEETargetBaseline answers "was the configured target hit":
// availability × min(productivity, 1) × quality.
func OEETargetBaseline(availability, productivity, quality float64) float64 {
	return clamp01(availability * math.Min(productivity, 1) * quality)
}

// Takt returns the takt time (planned time per target unit), the realised
// cycle time (KPI time per produced unit) and their ratio capped at 1.
func Takt(planned, kpiTime, target, actual float64) (takt, cycle, adherence float64) {
	takt = SafeDiv(planned, target)
	cycle = SafeDiv(kpiTime, actual)
	adherence = math.Min(SafeDiv(takt, cycle), 1)
	return takt, cycle, adherence
}

// OutputGap returns actual − target and that gap as a percentage of target
// (0 when target is 0).
func OutputGap(actual, target float64) (gap, pct float64) {
	gap = actual - target
	return gap, SafeDiv(gap, target) * 100
}

// clamp01 restricts v to the range [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
