package interval

import (
	"cmp"
	"slices"

	"github.com/linekpi/linekpi/pkg/types"
)

// Merge returns the union of ivs as a sorted, pairwise-disjoint set.
//
// An interval is folded into the current run whenever next.Start <= cur.End,
// so exactly touching intervals ([0,10) and [10,20)) merge into [0,20).
// Returns nil when ivs holds no valid interval.
func Merge(ivs []types.TimeInterval) []types.TimeInterval {
	valid := make([]types.TimeInterval, 0, len(ivs))
	for _, iv := range ivs {
		if iv.Valid() {
			valid = append(valid, iv)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	slices.SortStableFunc(valid, func(a, b types.TimeInterval) int {
		return cmp.Compare(a.Start, b.Start)
	})

	out := valid[:1]
	for _, iv := range valid[1:] {
		cur := &out[len(out)-1]
		if iv.Start <= cur.End {
			if iv.End > cur.End {
				cur.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return slices.Clip(out)
}

// Subtract removes every exclusion from ivs and returns what remains.
//
// The sources are merged first, so the result is sorted and disjoint. Each
// exclusion is then applied in input order to the surviving segments: it
// removes a segment it fully covers, shrinks one it overlaps on one side, and
// splits one it lies strictly inside. Exclusions may overlap each other and
// need not be merged; invalid ones are ignored. Touching endpoints do not
// overlap.
func Subtract(ivs, exclusions []types.TimeInterval) []types.TimeInterval {
	segs := Merge(ivs)
	for _, ex := range exclusions {
		if len(segs) == 0 {
			break
		}
		if !ex.Valid() {
			continue
		}
		segs = cut(segs, ex)
	}
	return segs
}

// cut applies a single exclusion to segs, returning a new slice.
func cut(segs []types.TimeInterval, ex types.TimeInterval) []types.TimeInterval {
	out := make([]types.TimeInterval, 0, len(segs)+1)
	for _, s := range segs {
		if ex.End <= s.Start || ex.Start >= s.End {
			out = append(out, s)
			continue
		}
		if ex.Start > s.Start {
			out = append(out, types.TimeInterval{Start: s.Start, End: ex.Start})
		}
		if ex.End < s.End {
			out = append(out, types.TimeInterval{Start: ex.End, End: s.End})
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Total returns the summed length of the valid intervals in ivs.
// Overlaps are counted as many times as they occur; call Merge or Subtract
// first when the actual covered duration is wanted.
func Total(ivs []types.TimeInterval) float64 {
	var sum float64
	for _, iv := range ivs {
		if iv.Valid() {
			sum += iv.Duration()
		}
	}
	return sum
}

// Overlaps reports whether any two valid intervals in ivs overlap.
// Touching endpoints are not an overlap.
func Overlaps(ivs []types.TimeInterval) bool {
	valid := make([]types.TimeInterval, 0, len(ivs))
	for _, iv := range ivs {
		if iv.Valid() {
			valid = append(valid, iv)
		}
	}
	slices.SortFunc(valid, func(a, b types.TimeInterval) int {
		return cmp.Compare(a.Start, b.Start)
	})
	for i := 1; i < len(valid); i++ {
		if valid[i].Start < valid[i-1].End {
			return true
		}
	}
	return false
}
