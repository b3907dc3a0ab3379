package nir

import (
	"nirdb/pkg/geometry"
	"nirdb/pkg/storage"
)

// leafNode holds up to MaxBranchFactor points, with one slot of slack so a
// split can run after the overflowing insert.
type leafNode struct {
	parent storage.Handle
	count  uint16
	points [MaxBranchFactor + 1]geometry.Point
}

// branch pairs a child with the isothetic polygon bounding its subtree. The
// polygon usually fits the inline encoding; when it outgrows the inline cap
// it moves to a page-resident unbounded polygon reached by extendedPoly, and
// the inline encoding is ignored.
type branch struct {
	child        storage.Handle
	extendedPoly storage.Handle
	poly         geometry.InlineBoundedPolygon
}

// branchNode holds up to MaxBranchFactor branches, with one slot of slack
// for splits.
type branchNode struct {
	parent   storage.Handle
	count    uint16
	branches [MaxBranchFactor + 1]branch
}

// removeBranch deletes the branch at the given index, preserving order.
func (b *branchNode) removeBranch(index int) {
	copy(b.branches[index:], b.branches[index+1:int(b.count)])
	b.count--
}

// branchIndex finds the branch referencing the given child.
func (b *branchNode) branchIndex(child storage.Handle) int {
	for i := uint16(0); i < b.count; i++ {
		if b.branches[i].child.Same(child) {
			return int(i)
		}
	}
	return -1
}

// removePoint deletes the point at the given index.
func (l *leafNode) removePoint(index int) {
	l.points[index] = l.points[l.count-1]
	l.count--
}

func (l *leafNode) boundingBox() geometry.Rectangle {
	bb := geometry.Rectangle{LowerLeft: geometry.AtInfinity, UpperRight: geometry.AtNegInfinity}
	for i := uint16(0); i < l.count; i++ {
		bb.Expand(l.points[i])
	}
	return bb
}
