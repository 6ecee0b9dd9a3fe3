package promfmt

import (
	"bytes"
	"strings"
	"testing"

	"github.com/linekpi/linekpi/pkg/aggregate"
	"github.com/linekpi/linekpi/pkg/kpi"
	"github.com/linekpi/linekpi/pkg/types"
)

func TestWriteParse_RoundTrip(t *testing.T) {
	heads := aggregate.Heads([]types.HeadChannel{{
		Name:          "press",
		TotalDuration: 480,
		Channels: []types.Channel{
			{Name: "run", Intervals: []types.TimeInterval{{Start: 0, End: 200}, {Start: 150, End: 300}}},
			{Name: "break", IsExclusion: true, Intervals: []types.TimeInterval{{Start: 100, End: 120}}},
		},
	}})
	rec := kpi.MetricsRecord{Availability: 0.9444, OEETarget: 0.5, OutputGap: -5}

	b := NewBuilder()
	b.AddRecord("line-1", rec)
	b.AddRecord("line-2", kpi.MetricsRecord{Availability: 0.5})
	b.AddHeads("line-1", heads)

	var buf bytes.Buffer
	if err := Write(&buf, b.Families()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.Contains(buf.String(), "# TYPE linekpi_availability_ratio gauge") {
		t.Errorf("exposition missing TYPE line:\n%s", buf.String())
	}

	mfs, err := Parse(&buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	tests := []struct {
		family string
		match  []string
		want   float64
	}{
		{"linekpi_availability_ratio", []string{"line", "line-1"}, 0.9444},
		{"linekpi_availability_ratio", []string{"line", "line-2"}, 0.5},
		{"linekpi_oee_target_ratio", []string{"line", "line-1"}, 0.5},
		{"linekpi_output_gap", []string{"line", "line-1"}, -5},
		{"linekpi_channel_minutes", []string{"head", "press", "channel", "run", "kind", "raw"}, 350},
		{"linekpi_channel_minutes", []string{"head", "press", "channel", "run", "kind", "merged"}, 300},
		{"linekpi_channel_minutes", []string{"head", "press", "channel", "run", "kind", "net"}, 280},
		{"linekpi_head_running_minutes", []string{"head", "press"}, 460},
	}
	for _, tc := range tests {
		got, ok := Value(mfs[tc.family], tc.match...)
		if !ok {
			t.Errorf("%s%v: no sample", tc.family, tc.match)
			continue
		}
		if got != tc.want {
			t.Errorf("%s%v = %g, want %g", tc.family, tc.match, got, tc.want)
		}
	}
}

func TestAddHeads_RepeatedNamesStayDistinct(t *testing.T) {
	run := types.Channel{Name: "run", Intervals: []types.TimeInterval{{Start: 0, End: 10}}}
	longRun := types.Channel{Name: "run", Intervals: []types.TimeInterval{{Start: 0, End: 30}}}
	heads := aggregate.Heads([]types.HeadChannel{
		{Name: "press", TotalDuration: 60, Channels: []types.Channel{run, longRun}},
		{Name: "press", TotalDuration: 60, Channels: []types.Channel{run}},
	})

	b := NewBuilder()
	b.AddHeads("l", heads)
	for _, mf := range b.Families() {
		seen := make(map[string]bool)
		for _, m := range mf.GetMetric() {
			var key strings.Builder
			for _, lp := range m.GetLabel() {
				key.WriteString(lp.GetName() + "=" + lp.GetValue() + ",")
			}
			if seen[key.String()] {
				t.Errorf("%s: duplicate series {%s}", mf.GetName(), key.String())
			}
			seen[key.String()] = true
		}
	}

	var buf bytes.Buffer
	if err := Write(&buf, b.Families()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	mfs, err := Parse(&buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if v, ok := Value(mfs["linekpi_channel_minutes"], "head", "press", "channel", "run#2", "kind", "raw"); !ok || v != 30 {
		t.Errorf("second run channel = %g, %v; want 30", v, ok)
	}
	if _, ok := Value(mfs["linekpi_head_total_minutes"], "head", "press#2"); !ok {
		t.Error("second press head missing")
	}
}

func TestUniqueNames(t *testing.T) {
	got := uniqueNames([]string{"a", "a", "a#2", "b", "a"})
	want := []string{"a", "a#3", "a#2", "b", "a#4"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("uniqueNames = %v, want %v", got, want)
		}
	}
}

func TestFamilies_Sorted(t *testing.T) {
	b := NewBuilder()
	b.AddRecord("l", kpi.MetricsRecord{})
	fams := b.Families()
	if len(fams) != len(recordGauges) {
		t.Fatalf("got %d families, want %d", len(fams), len(recordGauges))
	}
	for i := 1; i < len(fams); i++ {
		if fams[i-1].GetName() >= fams[i].GetName() {
			t.Errorf("families not sorted: %s before %s", fams[i-1].GetName(), fams[i].GetName())
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse(strings.NewReader("# TYPE linekpi_x bogus\n")); err == nil {
		t.Error("expected error for an unknown metric type")
	}
}

func TestValue_NilFamily(t *testing.T) {
	if _, ok := Value(nil); ok {
		t.Error("Value(nil) reported a sample")
	}
}

func TestSum(t *testing.T) {
	text := `# TYPE units_total counter
units_total{line="a",station="out"} 10
units_total{line="a",station="rework"} 2
units_total{line="b",station="out"} 7
`
	mfs, err := Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cases := []struct {
		labels map[string]string
		want   float64
		ok     bool
	}{
		{nil, 19, true},
		{map[string]string{"line": "a"}, 12, true},
		{map[string]string{"line": "b", "station": "out"}, 7, true},
		{map[string]string{"line": "c"}, 0, false},
	}
	for _, tc := range cases {
		got, ok := Sum(mfs["units_total"], tc.labels)
		if got != tc.want || ok != tc.ok {
			t.Errorf("Sum(%v) = %g, %v; want %g, %v", tc.labels, got, ok, tc.want, tc.ok)
		}
	}
	if _, ok := Sum(nil, nil); ok {
		t.Error("Sum(nil) reported a sample")
	}
}
