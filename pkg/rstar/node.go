package rstar

import (
	"sort"

	"nirdb/pkg/geometry"
	"nirdb/pkg/storage"
)

// leafNode holds up to MaxBranchFactor points, with one slot of slack so a
// split can run after the overflowing insert. Plain data: it is written to
// disk as its raw in-memory image.
type leafNode struct {
	parent storage.Handle
	count  uint16
	points [MaxBranchFactor + 1]geometry.Point
}

// branchEntry pairs a child with the bounding box of its subtree.
type branchEntry struct {
	bbox  geometry.Rectangle
	child storage.Handle
}

// branchNode holds up to MaxBranchFactor child entries, with one slot of
// slack for splits.
type branchNode struct {
	parent  storage.Handle
	count   uint16
	entries [MaxBranchFactor + 1]branchEntry
}

func (l *leafNode) boundingBox() geometry.Rectangle {
	bb := geometry.Rectangle{LowerLeft: geometry.AtInfinity, UpperRight: geometry.AtNegInfinity}
	for i := uint16(0); i < l.count; i++ {
		bb.Expand(l.points[i])
	}
	return bb
}

func (b *branchNode) boundingBox() geometry.Rectangle {
	bb := geometry.Rectangle{LowerLeft: geometry.AtInfinity, UpperRight: geometry.AtNegInfinity}
	for i := uint16(0); i < b.count; i++ {
		bb.ExpandRect(b.entries[i].bbox)
	}
	return bb
}

// entryIndex finds the entry referencing the given child.
func (b *branchNode) entryIndex(child storage.Handle) int {
	for i := uint16(0); i < b.count; i++ {
		if b.entries[i].child.Same(child) {
			return int(i)
		}
	}
	return -1
}

// removeEntry deletes the entry at the given index, preserving order.
func (b *branchNode) removeEntry(index int) {
	copy(b.entries[index:], b.entries[index+1:int(b.count)])
	b.count--
}

// removePoint deletes the point at the given index.
func (l *leafNode) removePoint(index int) {
	l.points[index] = l.points[l.count-1]
	l.count--
}

// chooseSplitAxis returns the axis whose sorted distributions have the least
// summed margin, following the R* axis selection.
func chooseSplitAxis(boxes []geometry.Rectangle) int {
	bestAxis := 0
	bestMargin := 0.0
	for d := 0; d < geometry.Dimensions; d++ {
		sorted := append([]geometry.Rectangle(nil), boxes...)
		sortBoxesByAxis(sorted, d)
		margin := 0.0
		for k := MinBranchFactor; k <= len(sorted)-MinBranchFactor; k++ {
			margin += boxesBBox(sorted[:k]).Margin() + boxesBBox(sorted[k:]).Margin()
		}
		if d == 0 || margin < bestMargin {
			bestAxis = d
			bestMargin = margin
		}
	}
	return bestAxis
}

// chooseSplitIndex returns the distribution along the already-sorted boxes
// with minimal overlap between the two groups, ties broken on combined area
// and then on the lower split index.
func chooseSplitIndex(boxes []geometry.Rectangle) int {
	bestK := MinBranchFactor
	bestOverlap := 0.0
	bestArea := 0.0
	for k := MinBranchFactor; k <= len(boxes)-MinBranchFactor; k++ {
		left := boxesBBox(boxes[:k])
		right := boxesBBox(boxes[k:])
		overlap := left.ComputeIntersectionArea(right)
		area := left.Area() + right.Area()
		if k == MinBranchFactor || overlap < bestOverlap ||
			(overlap == bestOverlap && area < bestArea) {
			bestK = k
			bestOverlap = overlap
			bestArea = area
		}
	}
	return bestK
}

func sortBoxesByAxis(boxes []geometry.Rectangle, d int) {
	sort.SliceStable(boxes, func(i, j int) bool {
		if boxes[i].LowerLeft[d] != boxes[j].LowerLeft[d] {
			return boxes[i].LowerLeft[d] < boxes[j].LowerLeft[d]
		}
		return boxes[i].UpperRight[d] < boxes[j].UpperRight[d]
	})
}

func boxesBBox(boxes []geometry.Rectangle) geometry.Rectangle {
	bb := geometry.Rectangle{LowerLeft: geometry.AtInfinity, UpperRight: geometry.AtNegInfinity}
	for _, b := range boxes {
		bb.ExpandRect(b)
	}
	return bb
}

// pointBoxes views points as degenerate rectangles so the split heuristics
// apply to leaves and branches alike.
func pointBoxes(points []geometry.Point) []geometry.Rectangle {
	boxes := make([]geometry.Rectangle, len(points))
	for i, p := range points {
		boxes[i] = geometry.Rectangle{LowerLeft: p, UpperRight: p}
	}
	return boxes
}
