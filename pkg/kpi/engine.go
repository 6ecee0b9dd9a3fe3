package kpi

import (
	"math"

	"github.com/linekpi/linekpi/pkg/aggregate"
)

// Baseline selects one of the two OEE variants of a MetricsRecord.
type Baseline string

const (
	BaselineCycle  Baseline = "cycle"
	BaselineTarget Baseline = "target"
)

// Input holds the aggregated durations the engine works from, in minutes.
type Input struct {
	// PlannedTime is the running time of the recording window: total
	// duration minus capped exclusions.
	PlannedTime float64 `json:"planned_time"`
	// RawTime and NetTime are the activity sums selected by ActualBasis.
	RawTime float64 `json:"raw_time"`
	NetTime float64 `json:"net_time"`
	// ActiveTime is the net union of all activity, used for utilization.
	ActiveTime float64 `json:"active_time"`
	// Downtime is planned time with no recorded activity.
	Downtime float64 `json:"downtime"`
}

// InputFromHeads sums aggregated heads into one Input. Downtime is summed per
// head as max(Running − Active, 0).
func InputFromHeads(heads []aggregate.HeadDurations) Input {
	var in Input
	for _, h := range heads {
		in.PlannedTime += h.Running
		in.RawTime += h.Raw
		in.NetTime += h.Net
		in.ActiveTime += h.Active
		in.Downtime += math.Max(h.Running-h.Active, 0)
	}
	return in
}

// Actual returns the actual duration under basis.
func (in Input) Actual(basis ActualBasis) float64 {
	if basis == ActualRaw {
		return in.RawTime
	}
	return in.NetTime
}

func (in Input) sanitized() Input {
	return Input{
		PlannedTime: coerce(in.PlannedTime),
		RawTime:     coerce(in.RawTime),
		NetTime:     coerce(in.NetTime),
		ActiveTime:  coerce(in.ActiveTime),
		Downtime:    coerce(in.Downtime),
	}
}

// MetricsRecord is the full metrics set for one input snapshot.
// Ratios are fractions (1 = 100 %), except GapPercentage.
type MetricsRecord struct {
	PlannedTime    float64 `json:"planned_time"`
	OperatingTime  float64 `json:"operating_time"`
	Downtime       float64 `json:"downtime"`
	CappedDowntime float64 `json:"capped_downtime"`
	KPITime        float64 `json:"kpi_time"`

	TargetUnits  float64 `json:"target_units"`
	TargetOutput float64 `json:"target_output"`
	ActualOutput float64 `json:"actual_output"`
	GoodOutput   float64 `json:"good_output"`

	ProductivityRatio  float64 `json:"productivity_ratio"`
	Availability       float64 `json:"availability"`
	AvailabilityTarget float64 `json:"availability_target"`
	Utilization        float64 `json:"utilization"`
	TimeEfficiency     float64 `json:"time_efficiency"`
	PerformanceRate    float64 `json:"performance_rate"`
	QualityRate        float64 `json:"quality_rate"`
	OEECycle           float64 `json:"oee_cycle"`
	OEETarget          float64 `json:"oee_target"`

	TaktTime        float64 `json:"takt_time"`
	ActualCycleTime float64 `json:"actual_cycle_time"`
	TaktAdherence   float64 `json:"takt_adherence"`

	OutputGap     float64 `json:"output_gap"`
	GapPercentage float64 `json:"gap_percentage"`
}

// OEE returns the OEE variant selected by b. Unknown baselines return the
// cycle baseline.
func (m MetricsRecord) OEE(b Baseline) float64 {
	if b == BaselineTarget {
		return m.OEETarget
	}
	return m.OEECycle
}

// Compute derives the full metrics set from in and cfg. Both are sanitized
// first, so Compute never fails and never returns NaN or Inf.
func Compute(in Input, cfg Configuration) MetricsRecord {
	in = in.sanitized()
	cfg = cfg.Sanitized()

	capped := CappedDowntime(in.Downtime, cfg.DowntimeBudget)
	operating := in.Actual(cfg.ActualBasis)
	kpiTime := KPITime(operating, capped, cfg.TimeContext)
	target := TargetOutput(cfg, kpiTime)

	availability := Availability(in.PlannedTime+cfg.DowntimeBudget, capped)
	availabilityTarget := Availability(TargetWindow(kpiTime, capped, cfg.TimeContext), capped)
	productivity := SafeDiv(cfg.ActualOutput, target.Output)
	quality := QualityRate(cfg.GoodOutput, cfg.ActualOutput)
	takt, cycle, adherence := Takt(in.PlannedTime, kpiTime, target.Output, cfg.ActualOutput)
	gap, gapPct := OutputGap(cfg.ActualOutput, target.Output)

	return MetricsRecord{
		PlannedTime:    in.PlannedTime,
		OperatingTime:  operating,
		Downtime:       in.Downtime,
		CappedDowntime: capped,
		KPITime:        kpiTime,

		TargetUnits:  target.Units,
		TargetOutput: target.Output,
		ActualOutput: cfg.ActualOutput,
		GoodOutput:   cfg.GoodOutput,

		ProductivityRatio:  productivity,
		Availability:       availability,
		AvailabilityTarget: availabilityTarget,
		Utilization:        Utilization(in.ActiveTime, in.PlannedTime, capped),
		TimeEfficiency:     TimeEfficiency(in.PlannedTime, kpiTime),
		PerformanceRate:    PerformanceRate(cfg, operating),
		QualityRate:        quality,
		OEECycle:           OEECycleBaseline(availability, quality),
		OEETarget:          OEETargetBaseline(availabilityTarget, productivity, quality),

		TaktTime:        takt,
		ActualCycleTime: cycle,
		TaktAdherence:   adherence,

		OutputGap:     gap,
		GapPercentage: gapPct,
	}
}
