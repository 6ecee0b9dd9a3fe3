// Package promfmt renders KPI metrics records and head durations in the
// Prometheus text exposition format and parses such expositions back.
//
// Families are built with a Builder so several lines can share one
// exposition: every sample carries a "line" label, and head or channel
// samples add "head" and "channel" labels.
package promfmt

import (
	"fmt"
	"io"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/linekpi/linekpi/pkg/aggregate"
	"github.com/linekpi/linekpi/pkg/kpi"
)

// Namespace prefixes every metric name.
const Namespace = "linekpi"

// ContentType is the media type of the text exposition.
var ContentType = string(expfmt.NewFormat(expfmt.TypeTextPlain))

type recordGauge struct {
	name string
	help string
	get  func(kpi.MetricsRecord) float64
}

var recordGauges = []recordGauge{
	{"planned_minutes", "Planned time of the recording window in minutes.", func(m kpi.MetricsRecord) float64 { return m.PlannedTime }},
	{"operating_minutes", "Actual operating time under the configured actual basis.", func(m kpi.MetricsRecord) float64 { return m.OperatingTime }},
	{"downtime_minutes", "Planned time with no recorded activity.", func(m kpi.MetricsRecord) float64 { return m.Downtime }},
	{"kpi_minutes", "Time base used for targets and cycle times.", func(m kpi.MetricsRecord) float64 { return m.KPITime }},
	{"target_output", "Computed target output in units.", func(m kpi.MetricsRecord) float64 { return m.TargetOutput }},
	{"actual_output", "Actual output in units.", func(m kpi.MetricsRecord) float64 { return m.ActualOutput }},
	{"good_output", "Good output in units.", func(m kpi.MetricsRecord) float64 { return m.GoodOutput }},
	{"productivity_ratio", "Actual output over target output.", func(m kpi.MetricsRecord) float64 { return m.ProductivityRatio }},
	{"availability_ratio", "Availability against planned time plus downtime budget.", func(m kpi.MetricsRecord) float64 { return m.Availability }},
	{"availability_target_ratio", "Availability against the target window.", func(m kpi.MetricsRecord) float64 { return m.AvailabilityTarget }},
	{"utilization_ratio", "Active time over planned time plus downtime.", func(m kpi.MetricsRecord) float64 { return m.Utilization }},
	{"time_efficiency_ratio", "Planned time over KPI time.", func(m kpi.MetricsRecord) float64 { return m.TimeEfficiency }},
	{"performance_ratio", "Actual output over theoretical maximum output.", func(m kpi.MetricsRecord) float64 { return m.PerformanceRate }},
	{"quality_ratio", "Good output over actual output.", func(m kpi.MetricsRecord) float64 { return m.QualityRate }},
	{"oee_cycle_ratio", "OEE against the ideal cycle baseline.", func(m kpi.MetricsRecord) float64 { return m.OEECycle }},
	{"oee_target_ratio", "OEE against the configured target baseline.", func(m kpi.MetricsRecord) float64 { return m.OEETarget }},
	{"takt_minutes", "Planned time per target unit.", func(m kpi.MetricsRecord) float64 { return m.TaktTime }},
	{"cycle_minutes", "Realised KPI time per produced unit.", func(m kpi.MetricsRecord) float64 { return m.ActualCycleTime }},
	{"takt_adherence_ratio", "Takt time over realised cycle time, capped at 1.", func(m kpi.MetricsRecord) float64 { return m.TaktAdherence }},
	{"output_gap", "Actual output minus target output.", func(m kpi.MetricsRecord) float64 { return m.OutputGap }},
	{"output_gap_percent", "Output gap as a percentage of target output.", func(m kpi.MetricsRecord) float64 { return m.GapPercentage }},
}

// Builder accumulates samples for one exposition.
type Builder struct {
	families map[string]*dto.MetricFamily
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{families: make(map[string]*dto.MetricFamily)}
}

// AddRecord adds one gauge per metrics record field, labelled with line.
func (b *Builder) AddRecord(line string, m kpi.MetricsRecord) {
	for _, g := range recordGauges {
		b.gauge(g.name, g.help, g.get(m), "line", line)
	}
}

// AddHeads adds head and channel duration gauges, labelled with line.
// Repeated head names within the line, and repeated channel names within a
// head, get a "#n" suffix from the second occurrence on so every series
// keeps a distinct label set.
func (b *Builder) AddHeads(line string, heads []aggregate.HeadDurations) {
	headNames := make([]string, len(heads))
	for i, h := range heads {
		headNames[i] = h.Name
	}
	headNames = uniqueNames(headNames)

	for i, h := range heads {
		head := headNames[i]
		b.gauge("head_total_minutes", "Configured recording window of the head.", h.TotalDuration, "line", line, "head", head)
		b.gauge("head_running_minutes", "Recording window minus capped exclusions.", h.Running, "line", line, "head", head)
		b.gauge("head_active_minutes", "Net duration of the union of all activity.", h.Active, "line", line, "head", head)
		b.gauge("head_excluded_minutes", "Merged exclusion duration.", h.Excluded, "line", line, "head", head)
		b.gauge("head_out_of_range_intervals", "Intervals with an endpoint outside the recording window.", float64(h.OutOfRange), "line", line, "head", head)

		chNames := make([]string, len(h.Channels))
		for j, ch := range h.Channels {
			chNames[j] = ch.Name
		}
		chNames = uniqueNames(chNames)
		for j, ch := range h.Channels {
			for _, kv := range []struct {
				kind string
				v    float64
			}{{"raw", ch.Raw}, {"merged", ch.Merged}, {"net", ch.Net}} {
				b.gauge("channel_minutes", "Channel duration by kind (raw, merged, net).", kv.v,
					"line", line, "head", head, "channel", chNames[j], "kind", kv.kind)
			}
		}
	}
}

// uniqueNames returns names with the n-th repeat of a name (n >= 2)
// renamed to "name#n", skipping suffixes that are already taken.
func uniqueNames(names []string) []string {
	taken := make(map[string]bool, len(names))
	for _, n := range names {
		taken[n] = true
	}
	seen := make(map[string]int, len(names))
	out := make([]string, len(names))
	for i, n := range names {
		seen[n]++
		if seen[n] == 1 {
			out[i] = n
			continue
		}
		k := seen[n]
		alt := fmt.Sprintf("%s#%d", n, k)
		for taken[alt] {
			k++
			alt = fmt.Sprintf("%s#%d", n, k)
		}
		taken[alt] = true
		seen[n] = k
		out[i] = alt
	}
	return out
}

// Families returns the accumulated families sorted by name.
func (b *Builder) Families() []*dto.MetricFamily {
	out := make([]*dto.MetricFamily, 0, len(b.families))
	for _, mf := range b.families {
		out = append(out, mf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out
}

func (b *Builder) gauge(name, help string, v float64, labels ...string) {
	full := Namespace + "_" + name
	mf, ok := b.families[full]
	if !ok {
		mf = &dto.MetricFamily{
			Name: proto.String(full),
			Help: proto.String(help),
			Type: dto.MetricType_GAUGE.Enum(),
		}
		b.families[full] = mf
	}
	m := &dto.Metric{Gauge: &dto.Gauge{Value: proto.Float64(v)}}
	for i := 0; i+1 < len(labels); i += 2 {
		m.Label = append(m.Label, &dto.LabelPair{
			Name:  proto.String(labels[i]),
			Value: proto.String(labels[i+1]),
		})
	}
	mf.Metric = append(mf.Metric, m)
}

// Write renders families as Prometheus text.
func Write(w io.Writer, families []*dto.MetricFamily) error {
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("promfmt: write %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Parse decodes a Prometheus text exposition into metric families.
// A partial result with a non-fatal parse warning is still returned.
func Parse(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("promfmt: parse: %w", err)
	}
	return mfs, nil
}

// Value returns the value of the first sample in mf whose labels include
// every name/value pair in match. ok is false when no sample matches.
func Value(mf *dto.MetricFamily, match ...string) (v float64, ok bool) {
	for _, m := range mf.GetMetric() {
		if !hasLabels(m, match) {
			continue
		}
		if v, ok := sampleValue(m); ok {
			return v, true
		}
	}
	return 0, false
}

// Sum adds up every counter, gauge or untyped sample in mf carrying all of
// labels. ok is false when no sample matches.
func Sum(mf *dto.MetricFamily, labels map[string]string) (total float64, ok bool) {
	match := make([]string, 0, 2*len(labels))
	for name, v := range labels {
		match = append(match, name, v)
	}
	for _, m := range mf.GetMetric() {
		if !hasLabels(m, match) {
			continue
		}
		if v, found := sampleValue(m); found {
			total += v
			ok = true
		}
	}
	return total, ok
}

func sampleValue(m *dto.Metric) (float64, bool) {
	switch {
	case m.Gauge != nil:
		return m.Gauge.GetValue(), true
	case m.Counter != nil:
		return m.Counter.GetValue(), true
	case m.Untyped != nil:
		return m.Untyped.GetValue(), true
	}
	return 0, false
}

func hasLabels(m *dto.Metric, match []string) bool {
	for i := 0; i+1 < len(match); i += 2 {
		found := false
		for _, lp := range m.GetLabel() {
			if lp.GetName() == match[i] && lp.GetValue() == match[i+1] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
