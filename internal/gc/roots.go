package gc

import "github.com/samber/lo"

// Range is a half-open scan range [Lo, Hi) registered with the collector —
// spec.md §4.8.
type Range struct {
	Lo, Hi uintptr
}

// rootSet and rangeSet are the two dynamically grown vectors spec.md §4.8
// describes. Go slices already grow by doubling, so the "doubling strategy
// starting at capacity 16" is expressed simply as an initial capacity hint
// rather than hand-rolled growth logic.
type rootSet struct {
	roots []uintptr
}

func newRootSet() *rootSet {
	return &rootSet{roots: make([]uintptr, 0, 16)}
}

func (r *rootSet) add(p uintptr) {
	r.roots = append(r.roots, p)
}

// remove deletes every occurrence of p, compacting the slice so
// iteration order of the remaining elements is preserved. Reports whether
// p was found. Grounded on github.com/samber/lo's generic slice filtering,
// adopted here from the teacher's unused indirect dependency graph.
func (r *rootSet) remove(p uintptr) bool {
	before := len(r.roots)
	r.roots = lo.Filter(r.roots, func(v uintptr, _ int) bool { return v != p })
	return len(r.roots) != before
}

func (r *rootSet) forEach(fn func(p uintptr)) {
	for _, p := range r.roots {
		fn(p)
	}
}

type rangeSet struct {
	ranges []Range
}

func newRangeSet() *rangeSet {
	return &rangeSet{ranges: make([]Range, 0, 16)}
}

func (r *rangeSet) add(p uintptr, sz uintptr) {
	r.ranges = append(r.ranges, Range{Lo: p, Hi: p + sz})
}

// remove deletes every range whose Lo matches p. An unknown key is
// silently ignored (spec.md §9 Open Question: "the source tolerates this as
// non-fatal").
func (r *rangeSet) remove(p uintptr) bool {
	before := len(r.ranges)
	r.ranges = lo.Filter(r.ranges, func(v Range, _ int) bool { return v.Lo != p })
	return len(r.ranges) != before
}

func (r *rangeSet) forEach(fn func(rg Range)) {
	for _, rg := range r.ranges {
		fn(rg)
	}
}
