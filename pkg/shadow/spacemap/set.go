package spacemap

import (
	"fmt"

	"github.com/google/btree"
)

// Range is the half-open byte range [Start, End).
type Range struct {
	Start int64
	End   int64
}

// Len returns the number of bytes in r.
func (r Range) Len() int64 { return r.End - r.Start }

func (r Range) String() string { return fmt.Sprintf("[%d,%d)", r.Start, r.End) }

// Overlaps reports whether r and [start, end) share at least one byte.
func (r Range) Overlaps(start, end int64) bool {
	return r.Start < end && start < r.End
}

const btreeDegree = 16

func byStart(a, b Range) bool { return a.Start < b.Start }

// Set is an ordered set of non-overlapping, non-empty ranges.
// It is not safe for concurrent use.
type Set struct {
	tree *btree.BTreeG[Range]
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{tree: btree.NewG(btreeDegree, byStart)}
}

// Empty reports whether the set holds no bytes.
func (s *Set) Empty() bool { return s.tree.Len() == 0 }

// Len returns the number of ranges.
func (s *Set) Len() int { return s.tree.Len() }

// Bytes returns the total number of bytes covered.
func (s *Set) Bytes() int64 {
	var n int64
	s.tree.Ascend(func(r Range) bool {
		n += r.Len()
		return true
	})
	return n
}

// Ranges returns the ranges in ascending order.
func (s *Set) Ranges() []Range {
	out := make([]Range, 0, s.tree.Len())
	s.tree.Ascend(func(r Range) bool {
		out = append(out, r)
		return true
	})
	return out
}

// overlapping returns every range sharing a byte with [start, end), in
// ascending order. With adjacent set, ranges touching the query are
// included too.
func (s *Set) overlapping(start, end int64, adjacent bool) []Range {
	var out []Range
	hit := func(r Range) bool {
		if adjacent {
			return r.Start <= end && start <= r.End
		}
		return r.Overlaps(start, end)
	}
	s.tree.DescendLessOrEqual(Range{Start: start}, func(r Range) bool {
		if hit(r) {
			out = append(out, r)
		}
		return false
	})
	s.tree.AscendGreaterOrEqual(Range{Start: start}, func(r Range) bool {
		if r.Start > end || (!adjacent && r.Start == end) {
			return false
		}
		if hit(r) && (len(out) == 0 || out[len(out)-1] != r) {
			out = append(out, r)
		}
		return true
	})
	return out
}

// LookupOverlap returns the lowest range overlapping [start, end).
func (s *Set) LookupOverlap(start, end int64) (Range, bool) {
	if start >= end {
		return Range{}, false
	}
	var (
		found Range
		ok    bool
	)
	s.tree.DescendLessOrEqual(Range{Start: start}, func(r Range) bool {
		if r.End > start {
			found, ok = r, true
		}
		return false
	})
	if ok {
		return found, true
	}
	s.tree.AscendGreaterOrEqual(Range{Start: start}, func(r Range) bool {
		if r.Start < end {
			found, ok = r, true
		}
		return false
	})
	return found, ok
}

// Insert adds [start, end), merging with overlapping or adjacent ranges.
func (s *Set) Insert(start, end int64) {
	if start >= end {
		return
	}
	for _, r := range s.overlapping(start, end, true) {
		s.tree.Delete(r)
		start = min(start, r.Start)
		end = max(end, r.End)
	}
	s.tree.ReplaceOrInsert(Range{Start: start, End: end})
}

// Remove retires [start, end). An existing range is truncated, deleted, or
// split in two when the removed span falls strictly inside it. It reports
// whether any byte was removed.
func (s *Set) Remove(start, end int64) bool {
	if start >= end {
		return false
	}
	hits := s.overlapping(start, end, false)
	for _, r := range hits {
		s.tree.Delete(r)
		if r.Start < start {
			s.tree.ReplaceOrInsert(Range{Start: r.Start, End: start})
		}
		if r.End > end {
			s.tree.ReplaceOrInsert(Range{Start: end, End: r.End})
		}
	}
	return len(hits) > 0
}

// Clone returns an independent copy of s.
func (s *Set) Clone() *Set {
	return &Set{tree: s.tree.Clone()}
}
