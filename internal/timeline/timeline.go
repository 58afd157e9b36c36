package timeline

import (
	"iter"
	"math"
)

// Timeline is the ordered anchor list for one media item. Anchors live in a
// slice sorted by Position; walking backwards is an index decrement.
//
// A Timeline is not safe for concurrent use.
type Timeline struct {
	anchors []Anchor
}

func New() *Timeline {
	return &Timeline{}
}

// Insert adds an anchor while keeping ascending order. An anchor whose
// position equals existing ones is placed after them, except that the tail
// stays last among equal positions.
func (t *Timeline) Insert(position float64, tail bool) {
	a := Anchor{Position: position, Tail: tail}
	if len(t.anchors) == 0 || before(a, t.anchors[0]) {
		t.anchors = append([]Anchor{a}, t.anchors...)
		return
	}

	i := 0
	for i+1 < len(t.anchors) && !before(a, t.anchors[i+1]) {
		i++
	}
	t.anchors = append(t.anchors, Anchor{})
	copy(t.anchors[i+2:], t.anchors[i+1:])
	t.anchors[i+1] = a
}

// before reports whether a belongs ahead of existing anchor b.
func before(a, b Anchor) bool {
	if a.Position != b.Position {
		return a.Position < b.Position
	}
	return b.Tail && !a.Tail
}

// NearestDelete finds the anchor closest to query and removes it unless it
// is the tail. The found anchor is returned either way so callers can tell a
// protected tail from a real deletion. ok is false only for an empty list.
func (t *Timeline) NearestDelete(query float64) (Anchor, bool) {
	if len(t.anchors) == 0 {
		return Anchor{}, false
	}

	best := 0
	bestDiff := math.Abs(query - t.anchors[0].Position)
	for i := 1; i < len(t.anchors); i++ {
		if diff := math.Abs(query - t.anchors[i].Position); diff < bestDiff {
			best = i
			bestDiff = diff
		}
	}

	found := t.anchors[best]
	if !found.Tail {
		t.anchors = append(t.anchors[:best], t.anchors[best+1:]...)
	}
	return found, true
}

// NextAfter returns the first anchor strictly after current.
func (t *Timeline) NextAfter(current float64) (Anchor, bool) {
	for _, a := range t.anchors {
		if a.Position > current {
			return a, true
		}
	}
	return Anchor{}, false
}

// PrevBefore returns the anchor right before the first anchor at or after
// current. There is no result when that anchor is the first one, or when
// every anchor lies before current.
func (t *Timeline) PrevBefore(current float64) (Anchor, bool) {
	for i, a := range t.anchors {
		if a.Position >= current {
			if i == 0 {
				return Anchor{}, false
			}
			return t.anchors[i-1], true
		}
	}
	return Anchor{}, false
}

// All yields the anchors in ascending order. The sequence can be ranged over
// any number of times.
func (t *Timeline) All() iter.Seq[Anchor] {
	return func(yield func(Anchor) bool) {
		for _, a := range t.anchors {
			if !yield(a) {
				return
			}
		}
	}
}

// Anchors returns a copy of the ordered list.
func (t *Timeline) Anchors() []Anchor {
	out := make([]Anchor, len(t.anchors))
	copy(out, t.anchors)
	return out
}

// Positions returns the persisted form of the list: every non-tail position,
// in order.
func (t *Timeline) Positions() []float64 {
	out := make([]float64, 0, len(t.anchors))
	for a := range t.All() {
		if a.Tail {
			continue
		}
		out = append(out, a.Position)
	}
	return out
}

func (t *Timeline) Len() int {
	return len(t.anchors)
}

func (t *Timeline) Tail() (Anchor, bool) {
	for _, a := range t.anchors {
		if a.Tail {
			return a, true
		}
	}
	return Anchor{}, false
}
