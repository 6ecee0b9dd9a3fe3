// Package kpi derives production-efficiency metrics from aggregated
// durations and a line configuration.
//
// config.go holds the Configuration record and its enumerations
// (target basis, actual basis, time context) together with Sanitized and
// Validate.
//
// formulas.go provides the individual metrics as small pure functions:
// target output, availability, utilization, time efficiency, performance,
// quality, both OEE baselines, takt adherence and output gap. Every division
// goes through SafeDiv, which yields 0 instead of NaN or Inf.
//
// engine.go builds an Input from aggregate.HeadDurations and combines the
// formulas into a MetricsRecord with Compute. Compute never fails and holds
// no state between calls.
//
// basis.go implements the basis-change gate: switching to per_shift is
// rejected with a *ValidationError until a whole number of minutes in
// [1, 1440] is supplied.
package kpi
