package api

import (
	"fmt"
	"sort"

	"github.com/linekpi/linekpi/server/internal/store"
)

// DiagnosticHint is one human-readable insight about a line's performance.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier (used for dedup/ordering).
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label (≤ 5 words).
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint.
	Value *float64 `json:"value,omitempty"`
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// computeDiagnostics derives diagnostic hints from a line.
// Diagnostics are ordered: critical first, then warnings, then info.
func computeDiagnostics(l *store.Line) []DiagnosticHint {
	if len(l.Heads) == 0 {
		return []DiagnosticHint{{
			Key:   "no_data",
			Level: "info",
			Title: "No data yet",
			Detail: "This line has a configuration but no recorded heads. " +
				"Metrics are all zero until an agent pushes data or a payload is imported.",
		}}
	}

	m := l.Metrics
	cfg := l.Config
	var hints []DiagnosticHint
	add := func(key, level, title, detail string, v float64) {
		hints = append(hints, DiagnosticHint{Key: key, Level: level, Title: title, Detail: detail, Value: &v})
	}

	// ── Intervals outside the recording window ───────────────────────────────
	if n := l.OutOfRange(); n > 0 {
		add("out_of_range", "warning", fmt.Sprintf("%d interval(s) out of range", n),
			"Some intervals start before 0 or end after their head's total duration. "+
				"They are counted as recorded, so durations can exceed the window. "+
				"Check the recording clock or the head's total duration.",
			float64(n))
	}

	// ── Downtime against budget ──────────────────────────────────────────────
	if m.Downtime > cfg.DowntimeBudget && m.Downtime > 0 {
		over := m.Downtime - cfg.DowntimeBudget
		level := "info"
		if cfg.DowntimeBudget > 0 {
			level = "warning"
		}
		add("downtime_over_budget", level, fmt.Sprintf("%.0f min over budget", over),
			fmt.Sprintf("Planned time with no recorded activity is %.1f min against a budget of %.1f min. "+
				"Only the budgeted part enters the time base; the rest counts against availability.",
				m.Downtime, cfg.DowntimeBudget),
			over)
	}

	// ── Availability ─────────────────────────────────────────────────────────
	switch {
	case m.PlannedTime == 0:
	case m.Availability < 0.6:
		add("low_availability", "critical", fmt.Sprintf("%.0f%% availability", m.Availability*100),
			"Downtime is consuming most of the planned window.", m.Availability)
	case m.Availability < 0.85:
		add("low_availability", "warning", fmt.Sprintf("%.0f%% availability", m.Availability*100),
			"Availability is below the usual 85% benchmark.", m.Availability)
	}

	// ── Output against target ────────────────────────────────────────────────
	if m.TargetOutput > 0 {
		switch {
		case m.ProductivityRatio < 0.7:
			add("target_miss", "critical", fmt.Sprintf("%.0f%% behind target", -m.GapPercentage),
				fmt.Sprintf("Actual output %.0f against a target of %.1f units.", m.ActualOutput, m.TargetOutput),
				m.GapPercentage)
		case m.ProductivityRatio < 0.9:
			add("target_miss", "warning", fmt.Sprintf("%.0f%% behind target", -m.GapPercentage),
				fmt.Sprintf("Actual output %.0f against a target of %.1f units.", m.ActualOutput, m.TargetOutput),
				m.GapPercentage)
		case m.ProductivityRatio > 1.1:
			add("target_ahead", "info", fmt.Sprintf("%.0f%% ahead of target", m.GapPercentage),
				"Output is well above target. If this holds, the target rate may be set too low.",
				m.GapPercentage)
		}
	}

	// ── Quality ──────────────────────────────────────────────────────────────
	if m.ActualOutput > 0 && m.QualityRate < 0.99 {
		level := "info"
		if m.QualityRate < 0.95 {
			level = "warning"
		}
		add("quality_loss", level, fmt.Sprintf("%.1f%% good output", m.QualityRate*100),
			fmt.Sprintf("%.0f of %.0f units were not good.", m.ActualOutput-m.GoodOutput, m.ActualOutput),
			m.QualityRate)
	}

	// ── Performance above ideal ──────────────────────────────────────────────
	if m.PerformanceRate > 1 {
		add("performance_over_ideal", "info", "Faster than ideal",
			"Output exceeds what the ideal cycle time allows. "+
				"The ideal cycle time is probably too conservative.",
			m.PerformanceRate)
	}

	// ── Takt ─────────────────────────────────────────────────────────────────
	if m.TaktAdherence > 0 && m.TaktAdherence < 0.9 {
		add("takt_adherence", "info", fmt.Sprintf("%.0f%% takt adherence", m.TaktAdherence*100),
			fmt.Sprintf("Units take %.2f min against a takt of %.2f min.", m.ActualCycleTime, m.TaktTime),
			m.TaktAdherence)
	}

	// ── All clear ────────────────────────────────────────────────────────────
	if len(hints) == 0 {
		add("all_clear", "ok", "All clear",
			fmt.Sprintf("OEE %.0f%% against target, %.0f%% against ideal cycle.", m.OEETarget*100, m.OEECycle*100),
			m.OEETarget)
	}

	sort.SliceStable(hints, func(i, j int) bool { return levelRank[hints[i].Level] < levelRank[hints[j].Level] })
	return hints
}
