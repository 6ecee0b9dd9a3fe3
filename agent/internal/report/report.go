// Package report renders a collect.Result for humans and machines: an
// aligned text report, indented JSON, or a Prometheus text exposition.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/linekpi/linekpi/agent/internal/collect"
	"github.com/linekpi/linekpi/pkg/promfmt"
	"github.com/linekpi/linekpi/pkg/types"
)

// Format selects the output of Write.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatProm Format = "prom"
)

// ParseFormat validates an output format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatText, FormatJSON, FormatProm:
		return Format(s), nil
	}
	return "", fmt.Errorf("report: unknown format %q (want text, json or prom)", s)
}

// Write renders results in format f.
func Write(w io.Writer, f Format, results []*collect.Result) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return fmt.Errorf("report: encode json: %w", err)
		}
		return nil
	case FormatProm:
		b := promfmt.NewBuilder()
		for _, r := range results {
			b.AddRecord(r.LineID, r.Metrics)
			b.AddHeads(r.LineID, r.Durations)
		}
		return promfmt.Write(w, b.Families())
	default:
		for i, r := range results {
			if i > 0 {
				if _, err := fmt.Fprintln(w); err != nil {
					return err
				}
			}
			if err := WriteText(w, r); err != nil {
				return err
			}
		}
		return nil
	}
}

// WriteText writes the text report of one line: durations per head and
// channel, then the metrics record.
func WriteText(w io.Writer, r *collect.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "line %s\tevaluated %s\n", r.LineID, r.EvaluatedAt.Format("2006-01-02 15:04:05"))
	if r.ErrorMessage != "" {
		state := "no data"
		if r.Stale {
			state = "stale"
		}
		fmt.Fprintf(tw, "  import failed (%s)\t%s\n", state, r.ErrorMessage)
	}
	if r.CountersError != "" {
		fmt.Fprintf(tw, "  counters unavailable\t%s\n", r.CountersError)
	}

	for _, h := range r.Durations {
		fmt.Fprintf(tw, "\nhead %s\ttotal %s\trunning %s\texcluded %s\tactive %s\n",
			h.Name, minutes(h.TotalDuration), minutes(h.Running), minutes(h.Excluded), minutes(h.Active))
		if h.OutOfRange > 0 {
			fmt.Fprintf(tw, "  warning\t%d interval(s) outside [0, %s]\n", h.OutOfRange, minutes(h.TotalDuration))
		}
		fmt.Fprintf(tw, "  channel\traw\tmerged\tnet\tnet intervals\n")
		for _, ch := range h.Channels {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n",
				ch.Name, minutes(ch.Raw), minutes(ch.Merged), minutes(ch.Net), intervals(ch.NetIntervals))
		}
		if len(h.Exclusions) > 0 {
			fmt.Fprintf(tw, "  exclusions\t\t\t\t%s\n", intervals(h.Exclusions))
		}
	}

	m := r.Metrics
	fmt.Fprintf(tw, "\nmetrics\t(%s, %s, %s)\n", r.Config.TargetBasis, r.Config.ActualBasis, r.Config.TimeContext)
	rows := []struct {
		name  string
		value string
	}{
		{"planned time", minutes(m.PlannedTime)},
		{"operating time", minutes(m.OperatingTime)},
		{"downtime", fmt.Sprintf("%s (capped %s)", minutes(m.Downtime), minutes(m.CappedDowntime))},
		{"kpi time", minutes(m.KPITime)},
		{"target output", fmt.Sprintf("%.2f", m.TargetOutput)},
		{"actual output", fmt.Sprintf("%.2f (good %.2f)", m.ActualOutput, m.GoodOutput)},
		{"output gap", fmt.Sprintf("%+.2f (%+.1f%%)", m.OutputGap, m.GapPercentage)},
		{"productivity", percent(m.ProductivityRatio)},
		{"availability", fmt.Sprintf("%s (target window %s)", percent(m.Availability), percent(m.AvailabilityTarget))},
		{"utilization", percent(m.Utilization)},
		{"time efficiency", percent(m.TimeEfficiency)},
		{"performance", percent(m.PerformanceRate)},
		{"quality", percent(m.QualityRate)},
		{"oee (cycle)", percent(m.OEECycle)},
		{"oee (target)", percent(m.OEETarget)},
		{"takt time", minutes(m.TaktTime)},
		{"cycle time", minutes(m.ActualCycleTime)},
		{"takt adherence", percent(m.TaktAdherence)},
	}
	for _, row := range rows {
		fmt.Fprintf(tw, "  %s\t%s\n", row.name, row.value)
	}
	return tw.Flush()
}

func minutes(v float64) string {
	return fmt.Sprintf("%.1f min", v)
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

// intervals formats ivs as "[0, 100) [120, 300)".
func intervals(ivs []types.TimeInterval) string {
	if len(ivs) == 0 {
		return "-"
	}
	parts := make([]string, len(ivs))
	for i, iv := range ivs {
		parts[i] = fmt.Sprintf("[%g, %g)", iv.Start, iv.End)
	}
	return strings.Join(parts, " ")
}
