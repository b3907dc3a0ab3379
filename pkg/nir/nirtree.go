// Package nir implements a paged NIR-Tree: a spatial index whose branch
// regions are isothetic polygons kept pairwise non-overlapping, so a point
// query descends along polygon containment instead of comparing overlapping
// bounding boxes.
package nir

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"nirdb/pkg/checkpoint"
	"nirdb/pkg/config"
	"nirdb/pkg/geometry"
	"nirdb/pkg/index"
	"nirdb/pkg/storage"
)

// NIRTree is a disk-resident NIR-Tree index.
type NIRTree struct {
	root        storage.Handle
	alloc       *storage.Allocator
	ckpt        *checkpoint.Manager
	backingFile string
}

// New opens a NIR-Tree over the given backing file, creating a fresh tree if
// the file is empty and recovering the root from the metadata sidecar
// otherwise.
func New(memoryBudget int64, backingFile string) (*NIRTree, error) {
	alloc, err := storage.NewAllocator(memoryBudget, backingFile)
	if err != nil {
		return nil, err
	}
	ckpt, err := checkpoint.New(backingFile)
	if err != nil {
		return nil, err
	}
	tree := &NIRTree{alloc: alloc, ckpt: ckpt, backingFile: backingFile}

	if alloc.Pool().GetPreexistingPageCount() == 0 {
		rootPin, rootHandle, err := storage.CreateTreeNode[leafNode](alloc, storage.TypeNIRLeaf)
		if err != nil {
			return nil, err
		}
		*rootPin.Deref() = leafNode{parent: storage.NilHandle}
		rootPin.MarkDirty()
		rootPin.Release()
		tree.root = rootHandle
		return tree, nil
	}

	raw, err := os.ReadFile(backingFile + config.MetaSuffix)
	if err != nil {
		return nil, fmt.Errorf("backing file has pages but no readable metadata: %w", err)
	}
	tree.root, err = storage.DecodeHandle(raw)
	if err != nil {
		return nil, err
	}
	return tree, nil
}

// GetName returns the base file name of the backing file.
func (tree *NIRTree) GetName() string {
	return filepath.Base(tree.backingFile)
}

// Allocator exposes the tree's node allocator.
func (tree *NIRTree) Allocator() *storage.Allocator {
	return tree.alloc
}

// WriteMetadata flushes every dirty page, rewrites the root-handle sidecar,
// and appends a checkpoint record.
func (tree *NIRTree) WriteMetadata() error {
	tree.alloc.Pool().FlushAllPages()
	meta := tree.backingFile + config.MetaSuffix
	if err := os.WriteFile(meta, storage.EncodeHandle(tree.root), 0666); err != nil {
		return err
	}
	_, err := tree.ckpt.Record(tree.root, tree.alloc.Pool().GetNumPages())
	return err
}

// Snapshot checkpoints the tree and copies its files to the destination
// directory.
func (tree *NIRTree) Snapshot(destDir string) error {
	if err := tree.WriteMetadata(); err != nil {
		return err
	}
	return tree.ckpt.Snapshot(destDir)
}

// Close checkpoints the tree and closes the backing file.
func (tree *NIRTree) Close() error {
	if err := tree.WriteMetadata(); err != nil {
		return err
	}
	if err := tree.ckpt.Close(); err != nil {
		return err
	}
	return tree.alloc.Pool().Close()
}

// branchPolygon materializes the polygon bounding a branch's subtree,
// whichever encoding it lives in.
func (tree *NIRTree) branchPolygon(b *branch) (geometry.IsotheticPolygon, error) {
	if b.extendedPoly.IsNil() {
		return b.poly.Polygon(), nil
	}
	pin, err := storage.GetTreeNode[geometry.UnboundedPolygon](tree.alloc, b.extendedPoly)
	if err != nil {
		return geometry.IsotheticPolygon{}, err
	}
	poly := pin.Deref().Polygon()
	pin.Release()
	return poly, nil
}

// setBranchPolygon writes a polygon into a branch, moving between the inline
// and page-resident encodings as the basic rectangle count demands. The
// caller holds the pin on the node containing the branch and is responsible
// for marking it dirty.
func (tree *NIRTree) setBranchPolygon(b *branch, poly *geometry.IsotheticPolygon) error {
	if len(poly.BasicRectangles) > maxPolyRects {
		// A polygon never spans two pages: collapse to the bounding box
		// rather than overflow the largest slot.
		simplified := geometry.NewPolygon(poly.BoundingBox)
		poly = &simplified
	}

	if len(poly.BasicRectangles) <= geometry.MaxRectangleCount {
		if !b.extendedPoly.IsNil() {
			if err := tree.freePolygonSlot(b.extendedPoly); err != nil {
				return err
			}
			b.extendedPoly = storage.NilHandle
		}
		b.poly.SetPolygon(poly)
		return nil
	}

	// Reuse the existing slot when it is big enough.
	if !b.extendedPoly.IsNil() {
		pin, err := storage.GetTreeNode[geometry.UnboundedPolygon](tree.alloc, b.extendedPoly)
		if err != nil {
			return err
		}
		if pin.Deref().SetPolygon(poly) {
			pin.MarkDirty()
			pin.Release()
			return nil
		}
		pin.Release()
		if err := tree.freePolygonSlot(b.extendedPoly); err != nil {
			return err
		}
		b.extendedPoly = storage.NilHandle
	}

	capacity := len(poly.BasicRectangles)
	if capacity < geometry.MaxRectangleCount+1 {
		capacity = geometry.MaxRectangleCount + 1
	}
	pin, handle, err := storage.CreateSizedNode[geometry.UnboundedPolygon](
		tree.alloc, geometry.UnboundedPolygonFootprint(capacity), storage.TypePolygon)
	if err != nil {
		return err
	}
	pin.Deref().Init(capacity)
	pin.Deref().SetPolygon(poly)
	pin.MarkDirty()
	pin.Release()
	b.extendedPoly = handle
	return nil
}

// freePolygonSlot returns a page-resident polygon's slot to the allocator.
func (tree *NIRTree) freePolygonSlot(h storage.Handle) error {
	pin, err := storage.GetTreeNode[geometry.UnboundedPolygon](tree.alloc, h)
	if err != nil {
		return err
	}
	capacity := pin.Deref().Capacity()
	pin.Release()
	tree.alloc.Free(h, geometry.UnboundedPolygonFootprint(capacity))
	return nil
}

// Insert adds a point to the tree, expanding and carving branch polygons
// along the descent so sibling polygons stay non-overlapping.
func (tree *NIRTree) Insert(p geometry.Point) error {
	current := tree.root
	for current.Type == storage.TypeNIRBranch {
		pin, err := storage.GetTreeNode[branchNode](tree.alloc, current)
		if err != nil {
			return err
		}
		node := pin.Deref()

		polys := make([]geometry.IsotheticPolygon, node.count)
		for i := 0; i < int(node.count); i++ {
			polys[i], err = tree.branchPolygon(&node.branches[i])
			if err != nil {
				pin.Release()
				return err
			}
		}

		chosen := -1
		for i := range polys {
			if polys[i].ContainsPoint(p) {
				chosen = i
				break
			}
		}

		if chosen == -1 {
			// No polygon owns the point: expand the cheapest one, then
			// carve it around its siblings to restore disjointness.
			var bestExpansion geometry.OptimalExpansion
			for i := range polys {
				expansion := polys[i].ComputeExpansionArea(p)
				if chosen == -1 || expansion.Area < bestExpansion.Area {
					chosen = i
					bestExpansion = expansion
				}
			}
			polys[chosen].ExpandWith(p, bestExpansion)
			for i := range polys {
				if i == chosen {
					continue
				}
				if polys[chosen].StrictIntersectsPolygon(&polys[i]) {
					polys[chosen].IncreaseResolutionPolygon(p, &polys[i])
				}
			}
			if err := tree.setBranchPolygon(&node.branches[chosen], &polys[chosen]); err != nil {
				pin.Release()
				return err
			}
			pin.MarkDirty()
		}

		next := node.branches[chosen].child
		pin.Release()
		current = next
	}

	leafPin, err := storage.GetTreeNode[leafNode](tree.alloc, current)
	if err != nil {
		return err
	}
	leaf := leafPin.Deref()
	leaf.points[leaf.count] = p
	leaf.count++
	overflow := leaf.count > MaxBranchFactor
	leafPin.MarkDirty()
	leafPin.Release()

	if overflow {
		return tree.splitLeaf(current)
	}
	return nil
}

// splitLeaf partitions an overflowing leaf at the median of its widest axis
// and clips the owning polygon to the two half-spaces, keeping the halves
// disjoint from each other and from every sibling.
func (tree *NIRTree) splitLeaf(leafHandle storage.Handle) error {
	leafPin, err := storage.GetTreeNode[leafNode](tree.alloc, leafHandle)
	if err != nil {
		return err
	}
	leaf := leafPin.Deref()
	points := append([]geometry.Point(nil), leaf.points[:leaf.count]...)
	parentHandle := leaf.parent
	leafPin.Release()

	axis := widestAxis(points)
	sort.SliceStable(points, func(i, j int) bool {
		if points[i][axis] != points[j][axis] {
			return points[i][axis] < points[j][axis]
		}
		return points[i].Less(points[j])
	})
	k := len(points) / 2
	left, right := points[:k], points[k:]
	splitValue := right[0][axis]

	leafPin, err = storage.GetTreeNode[leafNode](tree.alloc, leafHandle)
	if err != nil {
		return err
	}
	leaf = leafPin.Deref()
	leaf.count = uint16(len(left))
	copy(leaf.points[:], left)
	leafPin.MarkDirty()
	leafPin.Release()

	siblingPin, siblingHandle, err := storage.CreateTreeNode[leafNode](tree.alloc, storage.TypeNIRLeaf)
	if err != nil {
		return err
	}
	sibling := siblingPin.Deref()
	*sibling = leafNode{parent: parentHandle, count: uint16(len(right))}
	copy(sibling.points[:], right)
	siblingPin.MarkDirty()
	siblingPin.Release()

	if parentHandle.IsNil() {
		return tree.growRoot(leafHandle, siblingHandle, tightPolygon(left), tightPolygon(right))
	}

	parentPin, err := storage.GetTreeNode[branchNode](tree.alloc, parentHandle)
	if err != nil {
		return err
	}
	parent := parentPin.Deref()
	idx := parent.branchIndex(leafHandle)
	if idx == -1 {
		parentPin.Release()
		return fmt.Errorf("leaf %v missing from parent %v", leafHandle, parentHandle)
	}

	oldPoly, err := tree.branchPolygon(&parent.branches[idx])
	if err != nil {
		parentPin.Release()
		return err
	}
	leftPoly := oldPoly.Clone()
	leftPoly.MaxLimit(splitValue, axis)
	leftPoly.Shrink(left)
	rightPoly := oldPoly.Clone()
	rightPoly.MinLimit(splitValue, axis)
	rightPoly.Shrink(right)

	if err := tree.setBranchPolygon(&parent.branches[idx], &leftPoly); err != nil {
		parentPin.Release()
		return err
	}
	parent.branches[parent.count] = branch{child: siblingHandle, extendedPoly: storage.NilHandle}
	if err := tree.setBranchPolygon(&parent.branches[parent.count], &rightPoly); err != nil {
		parentPin.Release()
		return err
	}
	parent.count++
	overflow := parent.count > MaxBranchFactor
	parentPin.MarkDirty()
	parentPin.Release()

	if overflow {
		return tree.splitBranch(parentHandle)
	}
	return nil
}

// splitBranch partitions an overflowing branch node by polygon bounding box
// along the widest axis, each side bounded by the union of its members'
// polygons.
func (tree *NIRTree) splitBranch(branchHandle storage.Handle) error {
	branchPin, err := storage.GetTreeNode[branchNode](tree.alloc, branchHandle)
	if err != nil {
		return err
	}
	node := branchPin.Deref()
	branches := append([]branch(nil), node.branches[:node.count]...)

	polys := make([]geometry.IsotheticPolygon, len(branches))
	for i := range branches {
		polys[i], err = tree.branchPolygon(&branches[i])
		if err != nil {
			branchPin.Release()
			return err
		}
	}
	branchPin.Release()

	union := geometry.Rectangle{LowerLeft: geometry.AtInfinity, UpperRight: geometry.AtNegInfinity}
	for i := range polys {
		union.ExpandRect(polys[i].BoundingBox)
	}
	axis := 0
	widest := 0.0
	for d := 0; d < geometry.Dimensions; d++ {
		if width := union.UpperRight[d] - union.LowerLeft[d]; d == 0 || width > widest {
			axis = d
			widest = width
		}
	}

	order := make([]int, len(branches))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := polys[order[i]].BoundingBox, polys[order[j]].BoundingBox
		if a.LowerLeft[axis] != b.LowerLeft[axis] {
			return a.LowerLeft[axis] < b.LowerLeft[axis]
		}
		return a.UpperRight[axis] < b.UpperRight[axis]
	})
	k := len(order) / 2

	leftBranches := make([]branch, 0, k)
	leftUnion := geometry.IsotheticPolygon{}
	for _, i := range order[:k] {
		leftBranches = append(leftBranches, branches[i])
		leftUnion.Merge(&polys[i])
	}
	rightBranches := make([]branch, 0, len(order)-k)
	rightUnion := geometry.IsotheticPolygon{}
	for _, i := range order[k:] {
		rightBranches = append(rightBranches, branches[i])
		rightUnion.Merge(&polys[i])
	}
	leftUnion.Refine()
	rightUnion.Refine()

	parentHandle, err := tree.rewriteBranches(branchHandle, leftBranches)
	if err != nil {
		return err
	}

	siblingPin, siblingHandle, err := storage.CreateTreeNode[branchNode](tree.alloc, storage.TypeNIRBranch)
	if err != nil {
		return err
	}
	sibling := siblingPin.Deref()
	*sibling = branchNode{parent: parentHandle, count: uint16(len(rightBranches))}
	copy(sibling.branches[:], rightBranches)
	siblingPin.MarkDirty()
	siblingPin.Release()
	for _, b := range rightBranches {
		if err := tree.setParent(b.child, siblingHandle); err != nil {
			return err
		}
	}

	if parentHandle.IsNil() {
		return tree.growRoot(branchHandle, siblingHandle, leftUnion, rightUnion)
	}

	parentPin, err := storage.GetTreeNode[branchNode](tree.alloc, parentHandle)
	if err != nil {
		return err
	}
	parent := parentPin.Deref()
	idx := parent.branchIndex(branchHandle)
	if idx == -1 {
		parentPin.Release()
		return fmt.Errorf("branch %v missing from parent %v", branchHandle, parentHandle)
	}
	if err := tree.setBranchPolygon(&parent.branches[idx], &leftUnion); err != nil {
		parentPin.Release()
		return err
	}
	parent.branches[parent.count] = branch{child: siblingHandle, extendedPoly: storage.NilHandle}
	if err := tree.setBranchPolygon(&parent.branches[parent.count], &rightUnion); err != nil {
		parentPin.Release()
		return err
	}
	parent.count++
	overflow := parent.count > MaxBranchFactor
	parentPin.MarkDirty()
	parentPin.Release()

	if overflow {
		return tree.splitBranch(parentHandle)
	}
	return nil
}

// rewriteBranches replaces a branch node's branches with the given subset
// and reports its parent handle.
func (tree *NIRTree) rewriteBranches(h storage.Handle, branches []branch) (storage.Handle, error) {
	pin, err := storage.GetTreeNode[branchNode](tree.alloc, h)
	if err != nil {
		return storage.NilHandle, err
	}
	node := pin.Deref()
	node.count = uint16(len(branches))
	copy(node.branches[:], branches)
	parent := node.parent
	pin.MarkDirty()
	pin.Release()
	return parent, nil
}

// growRoot replaces the root with a new branch node over the split pair.
func (tree *NIRTree) growRoot(left, right storage.Handle, leftPoly, rightPoly geometry.IsotheticPolygon) error {
	rootPin, rootHandle, err := storage.CreateTreeNode[branchNode](tree.alloc, storage.TypeNIRBranch)
	if err != nil {
		return err
	}
	root := rootPin.Deref()
	*root = branchNode{parent: storage.NilHandle, count: 2}
	root.branches[0] = branch{child: left, extendedPoly: storage.NilHandle}
	root.branches[1] = branch{child: right, extendedPoly: storage.NilHandle}
	if err := tree.setBranchPolygon(&root.branches[0], &leftPoly); err != nil {
		rootPin.Release()
		return err
	}
	if err := tree.setBranchPolygon(&root.branches[1], &rightPoly); err != nil {
		rootPin.Release()
		return err
	}
	rootPin.MarkDirty()
	rootPin.Release()
	if err := tree.setParent(left, rootHandle); err != nil {
		return err
	}
	if err := tree.setParent(right, rootHandle); err != nil {
		return err
	}
	tree.root = rootHandle
	return nil
}

// setParent rewrites a node's parent handle.
func (tree *NIRTree) setParent(h, parent storage.Handle) error {
	if h.Type == storage.TypeNIRLeaf {
		pin, err := storage.GetTreeNode[leafNode](tree.alloc, h)
		if err != nil {
			return err
		}
		pin.Deref().parent = parent
		pin.MarkDirty()
		pin.Release()
		return nil
	}
	pin, err := storage.GetTreeNode[branchNode](tree.alloc, h)
	if err != nil {
		return err
	}
	pin.Deref().parent = parent
	pin.MarkDirty()
	pin.Release()
	return nil
}

// widestAxis returns the dimension along which the points spread the most.
func widestAxis(points []geometry.Point) int {
	bb := geometry.Rectangle{LowerLeft: geometry.AtInfinity, UpperRight: geometry.AtNegInfinity}
	for _, p := range points {
		bb.Expand(p)
	}
	axis := 0
	widest := 0.0
	for d := 0; d < geometry.Dimensions; d++ {
		if width := bb.UpperRight[d] - bb.LowerLeft[d]; d == 0 || width > widest {
			axis = d
			widest = width
		}
	}
	return axis
}

// tightPolygon builds the single-rectangle polygon bounding the points.
func tightPolygon(points []geometry.Point) geometry.IsotheticPolygon {
	bb := geometry.Rectangle{LowerLeft: geometry.AtInfinity, UpperRight: geometry.AtNegInfinity}
	for _, p := range points {
		bb.Expand(p)
	}
	return geometry.NewPolygon(bb)
}

// Remove deletes one occurrence of the point. Removing an absent point
// leaves the tree unchanged.
func (tree *NIRTree) Remove(p geometry.Point) error {
	leafHandle, found, err := tree.findLeaf(tree.root, p)
	if err != nil || !found {
		return err
	}
	leafPin, err := storage.GetTreeNode[leafNode](tree.alloc, leafHandle)
	if err != nil {
		return err
	}
	leaf := leafPin.Deref()
	for i := 0; i < int(leaf.count); i++ {
		if leaf.points[i] == p {
			leaf.removePoint(i)
			break
		}
	}
	count := leaf.count
	parentHandle := leaf.parent
	remaining := append([]geometry.Point(nil), leaf.points[:leaf.count]...)
	leafPin.MarkDirty()
	leafPin.Release()

	if parentHandle.IsNil() {
		return nil
	}

	if count >= MinBranchFactor {
		// Tighten the owning polygon around the surviving points.
		parentPin, err := storage.GetTreeNode[branchNode](tree.alloc, parentHandle)
		if err != nil {
			return err
		}
		parent := parentPin.Deref()
		idx := parent.branchIndex(leafHandle)
		if idx == -1 {
			parentPin.Release()
			return fmt.Errorf("leaf %v missing from parent %v", leafHandle, parentHandle)
		}
		poly, err := tree.branchPolygon(&parent.branches[idx])
		if err != nil {
			parentPin.Release()
			return err
		}
		poly.Shrink(remaining)
		if err := tree.setBranchPolygon(&parent.branches[idx], &poly); err != nil {
			parentPin.Release()
			return err
		}
		parentPin.MarkDirty()
		parentPin.Release()
		return nil
	}

	// Underfull leaf: dissolve it and reinsert the survivors.
	if err := tree.detachNode(leafHandle, parentHandle); err != nil {
		return err
	}
	tree.alloc.Free(leafHandle, leafNodeSize)
	for _, orphan := range remaining {
		if err := tree.Insert(orphan); err != nil {
			return err
		}
	}
	return nil
}

// detachNode removes a child branch from its parent, condensing underfull
// ancestors by reinsertion and shrinking the tree when the root decays to a
// single child.
func (tree *NIRTree) detachNode(child, parentHandle storage.Handle) error {
	parentPin, err := storage.GetTreeNode[branchNode](tree.alloc, parentHandle)
	if err != nil {
		return err
	}
	parent := parentPin.Deref()
	idx := parent.branchIndex(child)
	if idx == -1 {
		parentPin.Release()
		return fmt.Errorf("child %v missing from parent %v", child, parentHandle)
	}
	if !parent.branches[idx].extendedPoly.IsNil() {
		if err := tree.freePolygonSlot(parent.branches[idx].extendedPoly); err != nil {
			parentPin.Release()
			return err
		}
	}
	parent.removeBranch(idx)
	count := parent.count
	grandparent := parent.parent
	parentPin.MarkDirty()
	parentPin.Release()

	if grandparent.IsNil() {
		// Root branch: collapse to its only child when one remains.
		if count == 1 {
			parentPin, err := storage.GetTreeNode[branchNode](tree.alloc, parentHandle)
			if err != nil {
				return err
			}
			only := parentPin.Deref().branches[0]
			parentPin.Release()
			if !only.extendedPoly.IsNil() {
				if err := tree.freePolygonSlot(only.extendedPoly); err != nil {
					return err
				}
			}
			if err := tree.setParent(only.child, storage.NilHandle); err != nil {
				return err
			}
			tree.root = only.child
			tree.alloc.Free(parentHandle, branchNodeSize)
		}
		return nil
	}

	if count >= MinBranchFactor {
		return nil
	}

	// Underfull branch: dissolve the whole subtree and reinsert its points.
	orphans, err := tree.subtreePoints(parentHandle)
	if err != nil {
		return err
	}
	if err := tree.detachNode(parentHandle, grandparent); err != nil {
		return err
	}
	if err := tree.freeSubtree(parentHandle); err != nil {
		return err
	}
	for _, orphan := range orphans {
		if err := tree.Insert(orphan); err != nil {
			return err
		}
	}
	return nil
}

// findLeaf locates a leaf containing the point, descending only branches
// whose polygons contain it.
func (tree *NIRTree) findLeaf(h storage.Handle, p geometry.Point) (storage.Handle, bool, error) {
	if h.Type == storage.TypeNIRLeaf {
		pin, err := storage.GetTreeNode[leafNode](tree.alloc, h)
		if err != nil {
			return storage.NilHandle, false, err
		}
		node := pin.Deref()
		for i := 0; i < int(node.count); i++ {
			if node.points[i] == p {
				pin.Release()
				return h, true, nil
			}
		}
		pin.Release()
		return storage.NilHandle, false, nil
	}

	pin, err := storage.GetTreeNode[branchNode](tree.alloc, h)
	if err != nil {
		return storage.NilHandle, false, err
	}
	node := pin.Deref()
	children := make([]storage.Handle, 0, node.count)
	for i := 0; i < int(node.count); i++ {
		poly, err := tree.branchPolygon(&node.branches[i])
		if err != nil {
			pin.Release()
			return storage.NilHandle, false, err
		}
		if poly.ContainsPoint(p) {
			children = append(children, node.branches[i].child)
		}
	}
	pin.Release()
	for _, child := range children {
		found, ok, err := tree.findLeaf(child, p)
		if err != nil || ok {
			return found, ok, err
		}
	}
	return storage.NilHandle, false, nil
}

// walk visits every leaf under the given node.
func (tree *NIRTree) walk(h storage.Handle, visit func(*leafNode)) error {
	if h.Type == storage.TypeNIRLeaf {
		pin, err := storage.GetTreeNode[leafNode](tree.alloc, h)
		if err != nil {
			return err
		}
		visit(pin.Deref())
		pin.Release()
		return nil
	}
	pin, err := storage.GetTreeNode[branchNode](tree.alloc, h)
	if err != nil {
		return err
	}
	children := make([]storage.Handle, 0, pin.Deref().count)
	for i := 0; i < int(pin.Deref().count); i++ {
		children = append(children, pin.Deref().branches[i].child)
	}
	pin.Release()
	for _, child := range children {
		if err := tree.walk(child, visit); err != nil {
			return err
		}
	}
	return nil
}

// subtreePoints collects every point stored under the given node.
func (tree *NIRTree) subtreePoints(h storage.Handle) ([]geometry.Point, error) {
	var points []geometry.Point
	err := tree.walk(h, func(l *leafNode) {
		points = append(points, l.points[:l.count]...)
	})
	return points, err
}

// freeSubtree returns every node and polygon slot under the given node to
// the allocator.
func (tree *NIRTree) freeSubtree(h storage.Handle) error {
	if h.Type == storage.TypeNIRLeaf {
		tree.alloc.Free(h, leafNodeSize)
		return nil
	}
	pin, err := storage.GetTreeNode[branchNode](tree.alloc, h)
	if err != nil {
		return err
	}
	node := pin.Deref()
	branches := append([]branch(nil), node.branches[:node.count]...)
	pin.Release()
	for _, b := range branches {
		if !b.extendedPoly.IsNil() {
			if err := tree.freePolygonSlot(b.extendedPoly); err != nil {
				return err
			}
		}
		if err := tree.freeSubtree(b.child); err != nil {
			return err
		}
	}
	tree.alloc.Free(h, branchNodeSize)
	return nil
}

// Search returns every indexed point equal to the query point, descending
// along polygon containment.
func (tree *NIRTree) Search(p geometry.Point) ([]geometry.Point, error) {
	results := []geometry.Point{}
	err := tree.searchPoint(tree.root, p, &results)
	return results, err
}

func (tree *NIRTree) searchPoint(h storage.Handle, p geometry.Point, results *[]geometry.Point) error {
	if h.Type == storage.TypeNIRLeaf {
		pin, err := storage.GetTreeNode[leafNode](tree.alloc, h)
		if err != nil {
			return err
		}
		node := pin.Deref()
		for i := 0; i < int(node.count); i++ {
			if node.points[i] == p {
				*results = append(*results, node.points[i])
			}
		}
		pin.Release()
		return nil
	}
	pin, err := storage.GetTreeNode[branchNode](tree.alloc, h)
	if err != nil {
		return err
	}
	node := pin.Deref()
	children := make([]storage.Handle, 0, node.count)
	for i := 0; i < int(node.count); i++ {
		poly, err := tree.branchPolygon(&node.branches[i])
		if err != nil {
			pin.Release()
			return err
		}
		if poly.ContainsPoint(p) {
			children = append(children, node.branches[i].child)
		}
	}
	pin.Release()
	for _, child := range children {
		if err := tree.searchPoint(child, p, results); err != nil {
			return err
		}
	}
	return nil
}

// SearchRectangle returns every indexed point inside the query rectangle,
// descending along polygon intersection.
func (tree *NIRTree) SearchRectangle(r geometry.Rectangle) ([]geometry.Point, error) {
	results := []geometry.Point{}
	err := tree.searchRect(tree.root, r, &results)
	return results, err
}

func (tree *NIRTree) searchRect(h storage.Handle, r geometry.Rectangle, results *[]geometry.Point) error {
	if h.Type == storage.TypeNIRLeaf {
		pin, err := storage.GetTreeNode[leafNode](tree.alloc, h)
		if err != nil {
			return err
		}
		node := pin.Deref()
		for i := 0; i < int(node.count); i++ {
			if r.ContainsPoint(node.points[i]) {
				*results = append(*results, node.points[i])
			}
		}
		pin.Release()
		return nil
	}
	pin, err := storage.GetTreeNode[branchNode](tree.alloc, h)
	if err != nil {
		return err
	}
	node := pin.Deref()
	children := make([]storage.Handle, 0, node.count)
	for i := 0; i < int(node.count); i++ {
		poly, err := tree.branchPolygon(&node.branches[i])
		if err != nil {
			pin.Release()
			return err
		}
		if poly.IntersectsRectangle(r) {
			children = append(children, node.branches[i].child)
		}
	}
	pin.Release()
	for _, child := range children {
		if err := tree.searchRect(child, r, results); err != nil {
			return err
		}
	}
	return nil
}

// ExhaustiveSearch walks every node, ignoring polygons, and returns every
// point equal to the query. It is the reference oracle for Search.
func (tree *NIRTree) ExhaustiveSearch(p geometry.Point) ([]geometry.Point, error) {
	results := []geometry.Point{}
	err := tree.walk(tree.root, func(l *leafNode) {
		for i := 0; i < int(l.count); i++ {
			if l.points[i] == p {
				results = append(results, l.points[i])
			}
		}
	})
	return results, err
}

// AllPoints returns every point in the tree.
func (tree *NIRTree) AllPoints() ([]geometry.Point, error) {
	var points []geometry.Point
	err := tree.walk(tree.root, func(l *leafNode) {
		points = append(points, l.points[:l.count]...)
	})
	return points, err
}

// Checksum returns an order-independent hash over every indexed point.
func (tree *NIRTree) Checksum() (uint64, error) {
	points, err := tree.AllPoints()
	if err != nil {
		return 0, err
	}
	return index.ChecksumPoints(points), nil
}
