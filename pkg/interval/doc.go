// Package interval implements set operations on half-open time intervals.
//
// Merge folds overlapping or touching intervals into a sorted, disjoint,
// minimal set. Subtract removes exclusion spans from a set, shrinking or
// splitting segments as needed. Total sums the length of a set.
//
// All functions are pure: inputs are never modified and results never alias
// them. Invalid intervals (non-finite, or Start >= End) are dropped on input.
package interval
