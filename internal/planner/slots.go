package planner

import (
	"slices"
)

// MergeIntervals collapses overlapping or touching intervals. The result is
// sorted by start and every adjacent pair satisfies a.End < b.Start. The
// input slice is not modified.
func MergeIntervals(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}

	sorted := slices.Clone(intervals)
	slices.SortStableFunc(sorted, func(a, b Interval) int {
		return a.Start.Compare(b.Start)
	})

	merged := []Interval{sorted[0]}
	for _, next := range sorted[1:] {
		cur := &merged[len(merged)-1]
		if !next.Start.After(cur.End) {
			if next.End.After(cur.End) {
				cur.End = next.End
			}
			continue
		}
		merged = append(merged, next)
	}
	return merged
}

// FreeSlots returns the parts of the window not covered by busy, which must
// be sorted and disjoint as produced by MergeIntervals. Busy time outside
// the window is ignored.
func FreeSlots(w Window, busy []Interval) []Interval {
	var free []Interval
	cursor := w.Start
	for _, b := range busy {
		end := b.Start
		if end.After(w.End) {
			end = w.End
		}
		if cursor.Before(end) {
			free = append(free, Interval{Start: cursor, End: end})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
	}
	if cursor.Before(w.End) {
		free = append(free, Interval{Start: cursor, End: w.End})
	}
	return free
}
