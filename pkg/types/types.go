package types

import "math"

// TimeInterval is a half-open span [Start, End) measured in minutes from the
// start of the head's recording window.
type TimeInterval struct {
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
}

// Duration returns End - Start. It is negative or zero for invalid intervals.
func (iv TimeInterval) Duration() float64 {
	return iv.End - iv.Start
}

// Valid reports whether both endpoints are finite and Start < End.
// Zero and negative length intervals are never stored.
func (iv TimeInterval) Valid() bool {
	if math.IsNaN(iv.Start) || math.IsInf(iv.Start, 0) ||
		math.IsNaN(iv.End) || math.IsInf(iv.End, 0) {
		return false
	}
	return iv.Start < iv.End
}

// Channel is one sub-channel of a head: either an activity channel or an
// exclusion (cutoff) channel. Intervals may overlap each other freely.
type Channel struct {
	Name        string         `json:"name"`
	Intervals   []TimeInterval `json:"intervals"`
	IsExclusion bool           `json:"is_exclusion"`
}

// HeadChannel groups the sub-channels recorded for one head.
// TotalDuration bounds the recording window [0, TotalDuration].
type HeadChannel struct {
	Name          string    `json:"name"`
	TotalDuration float64   `json:"total_duration"`
	Channels      []Channel `json:"channels"`
}

// Activities returns the non-exclusion sub-channels in input order.
func (h HeadChannel) Activities() []Channel {
	var out []Channel
	for _, ch := range h.Channels {
		if !ch.IsExclusion {
			out = append(out, ch)
		}
	}
	return out
}

// Exclusions returns every interval of every exclusion sub-channel,
// concatenated in input order and not merged.
func (h HeadChannel) Exclusions() []TimeInterval {
	var out []TimeInterval
	for _, ch := range h.Channels {
		if ch.IsExclusion {
			out = append(out, ch.Intervals...)
		}
	}
	return out
}

// Clone returns a deep copy of h that shares no slices with the original.
func (h HeadChannel) Clone() HeadChannel {
	out := HeadChannel{Name: h.Name, TotalDuration: h.TotalDuration}
	if h.Channels != nil {
		out.Channels = make([]Channel, len(h.Channels))
		for i, ch := range h.Channels {
			out.Channels[i] = Channel{Name: ch.Name, IsExclusion: ch.IsExclusion}
			if ch.Intervals != nil {
				out.Channels[i].Intervals = make([]TimeInterval, len(ch.Intervals))
				copy(out.Channels[i].Intervals, ch.Intervals)
			}
		}
	}
	return out
}

// CloneHeads deep-copies a slice of heads.
func CloneHeads(heads []HeadChannel) []HeadChannel {
	if heads == nil {
		return nil
	}
	out := make([]HeadChannel, len(heads))
	for i, h := range heads {
		out[i] = h.Clone()
	}
	return out
}
