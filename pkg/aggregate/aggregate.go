// Package aggregate applies the interval algebra across a head's channel
// hierarchy and derives the raw, merged and net durations used by reports and
// by the KPI engine.
package aggregate

import (
	"math"

	"github.com/linekpi/linekpi/pkg/interval"
	"github.com/linekpi/linekpi/pkg/types"
)

// ChannelDurations is the duration triple of one activity channel together
// with the interval sets it was derived from.
//
// Raw >= Merged >= Net always holds.
type ChannelDurations struct {
	Name string `json:"name"`

	// Raw sums every interval, counting overlaps once per occurrence.
	Raw float64 `json:"raw"`
	// Merged is the covered duration with overlaps counted once.
	Merged float64 `json:"merged"`
	// Net is Merged minus the head's merged exclusion set.
	Net float64 `json:"net"`

	MergedIntervals []types.TimeInterval `json:"merged_intervals"`
	NetIntervals    []types.TimeInterval `json:"net_intervals"`
}

// HeadDurations aggregates one head.
type HeadDurations struct {
	Name          string             `json:"name"`
	TotalDuration float64            `json:"total_duration"`
	Channels      []ChannelDurations `json:"channels"`

	// Raw, Merged and Net are summed over the activity channels.
	Raw    float64 `json:"raw"`
	Merged float64 `json:"merged"`
	Net    float64 `json:"net"`

	// Active is the net duration of the union of all activity channels:
	// minutes during which at least one activity was recorded, outside any
	// exclusion.
	Active float64 `json:"active"`

	// Exclusions is the merged exclusion set shared by every channel.
	Exclusions []types.TimeInterval `json:"exclusions"`
	// Excluded is the total of Exclusions.
	Excluded float64 `json:"excluded"`
	// CappedExcluded is Excluded capped at TotalDuration.
	CappedExcluded float64 `json:"capped_excluded"`
	// Running is TotalDuration minus CappedExcluded. It is derived from the
	// configured window, not from channel activity.
	Running float64 `json:"running"`

	// OutOfRange counts intervals with an endpoint outside [0, TotalDuration].
	// Such intervals are still included in every sum.
	OutOfRange int `json:"out_of_range"`
}

// Channel computes the duration triple for ch against an already merged
// exclusion set.
func Channel(ch types.Channel, mergedExclusions []types.TimeInterval) ChannelDurations {
	merged := interval.Merge(ch.Intervals)
	net := interval.Subtract(merged, mergedExclusions)
	return ChannelDurations{
		Name:            ch.Name,
		Raw:             interval.Total(ch.Intervals),
		Merged:          interval.Total(merged),
		Net:             interval.Total(net),
		MergedIntervals: merged,
		NetIntervals:    net,
	}
}

// Head aggregates every channel of h.
func Head(h types.HeadChannel) HeadDurations {
	excl := interval.Merge(h.Exclusions())
	total := h.TotalDuration
	if !finiteNonNegative(total) {
		total = 0
	}

	out := HeadDurations{
		Name:          h.Name,
		TotalDuration: total,
		Exclusions:    excl,
		Excluded:      interval.Total(excl),
	}
	out.CappedExcluded = min(out.Excluded, total)
	out.Running = total - out.CappedExcluded

	var all []types.TimeInterval
	for _, ch := range h.Channels {
		out.OutOfRange += countOutOfRange(ch.Intervals, total)
		if ch.IsExclusion {
			continue
		}
		cd := Channel(ch, excl)
		out.Channels = append(out.Channels, cd)
		out.Raw += cd.Raw
		out.Merged += cd.Merged
		out.Net += cd.Net
		all = append(all, cd.MergedIntervals...)
	}
	out.Active = interval.Total(interval.Subtract(all, excl))
	return out
}

// Heads aggregates each head in order.
func Heads(heads []types.HeadChannel) []HeadDurations {
	out := make([]HeadDurations, 0, len(heads))
	for _, h := range heads {
		out = append(out, Head(h))
	}
	return out
}

// countOutOfRange counts valid intervals with an endpoint outside [0, total].
func countOutOfRange(ivs []types.TimeInterval, total float64) int {
	var n int
	for _, iv := range ivs {
		if !iv.Valid() {
			continue
		}
		if iv.Start < 0 || iv.End > total {
			n++
		}
	}
	return n
}

func finiteNonNegative(v float64) bool {
	return v >= 0 && v <= math.MaxFloat64
}
