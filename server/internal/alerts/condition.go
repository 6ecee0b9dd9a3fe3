package alerts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/linekpi/linekpi/server/internal/store"
)

// condition is a parsed "field operator value" rule expression.
type condition struct {
	field     string
	op        string
	threshold float64
}

// parseCondition parses a rule condition string.
//
// Supported expressions (field operator value):
//
//	oee_cycle < 0.65
//	oee_target < 0.6
//	availability < 0.85
//	availability_target < 0.85
//	performance > 1
//	quality < 0.98
//	productivity < 0.9
//	utilization < 0.5
//	takt_adherence < 0.9
//	gap_pct < -10
//	output_gap < -50
//	downtime > 60
//	out_of_range > 0
func parseCondition(cond string) (condition, error) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return condition{}, fmt.Errorf("want \"field op value\", got %q", cond)
	}
	field, op, rhs := parts[0], parts[1], parts[2]
	if _, ok := fields[field]; !ok {
		return condition{}, fmt.Errorf("unknown field %q", field)
	}
	switch op {
	case ">", ">=", "<", "<=", "==":
	default:
		return condition{}, fmt.Errorf("unknown operator %q", op)
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return condition{}, fmt.Errorf("threshold %q: %w", rhs, err)
	}
	return condition{field: field, op: op, threshold: threshold}, nil
}

// eval returns whether the condition fires on l and the value it compared.
func (c condition) eval(l *store.Line) (bool, float64) {
	v := fields[c.field](l)
	return compareFloat(v, c.op, c.threshold), v
}

// fields maps a condition field name to its value on a line.
var fields = map[string]func(*store.Line) float64{
	"oee_cycle":           func(l *store.Line) float64 { return l.Metrics.OEECycle },
	"oee_target":          func(l *store.Line) float64 { return l.Metrics.OEETarget },
	"availability":        func(l *store.Line) float64 { return l.Metrics.Availability },
	"availability_target": func(l *store.Line) float64 { return l.Metrics.AvailabilityTarget },
	"performance":         func(l *store.Line) float64 { return l.Metrics.PerformanceRate },
	"quality":             func(l *store.Line) float64 { return l.Metrics.QualityRate },
	"productivity":        func(l *store.Line) float64 { return l.Metrics.ProductivityRatio },
	"utilization":         func(l *store.Line) float64 { return l.Metrics.Utilization },
	"takt_adherence":      func(l *store.Line) float64 { return l.Metrics.TaktAdherence },
	"gap_pct":             func(l *store.Line) float64 { return l.Metrics.GapPercentage },
	"output_gap":          func(l *store.Line) float64 { return l.Metrics.OutputGap },
	"downtime":            func(l *store.Line) float64 { return l.Metrics.Downtime },
	"out_of_range":        func(l *store.Line) float64 { return float64(l.OutOfRange()) },
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}
