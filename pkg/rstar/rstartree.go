// Package rstar implements a paged R*-Tree over multidimensional points.
// Nodes live in allocator slots on the buffer pool's pages and reference each
// other by handle, never by pointer.
package rstar

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

// RStarTree is a disk-resident R*-Tree index.
type RStarTree struct {
	root        storage.Handle
	alloc       *storage.Allocator
	ckpt        *checkpoint.Manager
	backingFile string
}

// New opens an R*-Tree over the given backing file, creating a fresh tree if
// the file is empty and recovering the root from the metadata sidecar
// otherwise.
func New(memoryBudget int64, backingFile string) (*RStarTree, error) {
	alloc, err := storage.NewAllocator(memoryBudget, backingFile)
	if err != nil {
		return nil, err
	}
	ckpt, err := checkpoint.New(backingFile)
	if err != nil {
		return nil, err
	}
	tree := &RStarTree{alloc: alloc, ckpt: ckpt, backingFile: backingFile}

	if alloc.Pool().GetPreexistingPageCount() == 0 {
		rootPin, rootHandle, err := storage.CreateTreeNode[leafNode](alloc, storage.TypeRStarLeaf)
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
func (tree *RStarTree) GetName() string {
	return filepath.Base(tree.backingFile)
}

// Allocator exposes the tree's node allocator.
func (tree *RStarTree) Allocator() *storage.Allocator {
	return tree.alloc
}

// WriteMetadata flushes every dirty page, rewrites the root-handle sidecar,
// and appends a checkpoint record.
func (tree *RStarTree) WriteMetadata() error {
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
func (tree *RStarTree) Snapshot(destDir string) error {
	if err := tree.WriteMetadata(); err != nil {
		return err
	}
	return tree.ckpt.Snapshot(destDir)
}

// Close checkpoints the tree and closes the backing file.
func (tree *RStarTree) Close() error {
	if err := tree.WriteMetadata(); err != nil {
		return err
	}
	if err := tree.ckpt.Close(); err != nil {
		return err
	}
	return tree.alloc.Pool().Close()
}

// Insert adds a point to the tree.
func (tree *RStarTree) Insert(p geometry.Point) error {
	leafHandle, err := tree.chooseLeaf(p)
	if err != nil {
		return err
	}
	leafPin, err := storage.GetTreeNode[leafNode](tree.alloc, leafHandle)
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
		return tree.splitLeaf(leafHandle)
	}
	return tree.adjustUpward(leafHandle)
}

// chooseLeaf descends from the root, at each branch taking the entry whose
// box needs the least area expansion to admit the point, ties broken on
// smaller area then lower index.
func (tree *RStarTree) chooseLeaf(p geometry.Point) (storage.Handle, error) {
	current := tree.root
	for current.Type == storage.TypeRStarBranch {
		pin, err := storage.GetTreeNode[branchNode](tree.alloc, current)
		if err != nil {
			return storage.NilHandle, err
		}
		node := pin.Deref()
		best := 0
		bestExpansion := node.entries[0].bbox.ComputeExpansionArea(p)
		bestArea := node.entries[0].bbox.Area()
		for i := 1; i < int(node.count); i++ {
			expansion := node.entries[i].bbox.ComputeExpansionArea(p)
			area := node.entries[i].bbox.Area()
			if expansion < bestExpansion || (expansion == bestExpansion && area < bestArea) {
				best = i
				bestExpansion = expansion
				bestArea = area
			}
		}
		next := node.entries[best].child
		pin.Release()
		current = next
	}
	return current, nil
}

// adjustUpward recomputes the bounding boxes along the path from the given
// node to the root.
func (tree *RStarTree) adjustUpward(h storage.Handle) error {
	current := h
	for {
		bbox, parent, err := tree.nodeBBoxAndParent(current)
		if err != nil {
			return err
		}
		if parent.IsNil() {
			return nil
		}
		parentPin, err := storage.GetTreeNode[branchNode](tree.alloc, parent)
		if err != nil {
			return err
		}
		parentNode := parentPin.Deref()
		idx := parentNode.entryIndex(current)
		if idx == -1 {
			parentPin.Release()
			return fmt.Errorf("node %v missing from parent %v", current, parent)
		}
		parentNode.entries[idx].bbox = bbox
		parentPin.MarkDirty()
		parentPin.Release()
		current = parent
	}
}

// nodeBBoxAndParent loads a node of either kind and reports its content
// bounding box and parent handle.
func (tree *RStarTree) nodeBBoxAndParent(h storage.Handle) (geometry.Rectangle, storage.Handle, error) {
	if h.Type == storage.TypeRStarLeaf {
		pin, err := storage.GetTreeNode[leafNode](tree.alloc, h)
		if err != nil {
			return geometry.Rectangle{}, storage.NilHandle, err
		}
		defer pin.Release()
		return pin.Deref().boundingBox(), pin.Deref().parent, nil
	}
	pin, err := storage.GetTreeNode[branchNode](tree.alloc, h)
	if err != nil {
		return geometry.Rectangle{}, storage.NilHandle, err
	}
	defer pin.Release()
	return pin.Deref().boundingBox(), pin.Deref().parent, nil
}

// setParent rewrites a node's parent handle.
func (tree *RStarTree) setParent(h, parent storage.Handle) error {
	if h.Type == storage.TypeRStarLeaf {
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

// splitLeaf splits an overflowing leaf R*-style and pushes the new sibling
// into the parent, growing the tree at the root if needed.
func (tree *RStarTree) splitLeaf(leafHandle storage.Handle) error {
	leafPin, err := storage.GetTreeNode[leafNode](tree.alloc, leafHandle)
	if err != nil {
		return err
	}
	leaf := leafPin.Deref()
	points := append([]geometry.Point(nil), leaf.points[:leaf.count]...)

	axis := chooseSplitAxis(pointBoxes(points))
	sort.SliceStable(points, func(i, j int) bool {
		if points[i][axis] != points[j][axis] {
			return points[i][axis] < points[j][axis]
		}
		return points[i].Less(points[j])
	})
	k := chooseSplitIndex(pointBoxes(points))

	leaf.count = uint16(k)
	copy(leaf.points[:], points[:k])
	parentHandle := leaf.parent
	leftBBox := leaf.boundingBox()
	leafPin.MarkDirty()
	leafPin.Release()

	siblingPin, siblingHandle, err := storage.CreateTreeNode[leafNode](tree.alloc, storage.TypeRStarLeaf)
	if err != nil {
		return err
	}
	sibling := siblingPin.Deref()
	*sibling = leafNode{parent: parentHandle, count: uint16(len(points) - k)}
	copy(sibling.points[:], points[k:])
	rightBBox := sibling.boundingBox()
	siblingPin.MarkDirty()
	siblingPin.Release()

	return tree.installSplit(leafHandle, siblingHandle, leftBBox, rightBBox, parentHandle)
}

// splitBranch splits an overflowing branch node along the R*-chosen axis.
func (tree *RStarTree) splitBranch(branchHandle storage.Handle) error {
	branchPin, err := storage.GetTreeNode[branchNode](tree.alloc, branchHandle)
	if err != nil {
		return err
	}
	branch := branchPin.Deref()
	entries := append([]branchEntry(nil), branch.entries[:branch.count]...)

	boxes := make([]geometry.Rectangle, len(entries))
	for i, e := range entries {
		boxes[i] = e.bbox
	}
	axis := chooseSplitAxis(boxes)
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].bbox.LowerLeft[axis] != entries[j].bbox.LowerLeft[axis] {
			return entries[i].bbox.LowerLeft[axis] < entries[j].bbox.LowerLeft[axis]
		}
		return entries[i].bbox.UpperRight[axis] < entries[j].bbox.UpperRight[axis]
	})
	for i, e := range entries {
		boxes[i] = e.bbox
	}
	k := chooseSplitIndex(boxes)

	branch.count = uint16(k)
	copy(branch.entries[:], entries[:k])
	parentHandle := branch.parent
	leftBBox := branch.boundingBox()
	branchPin.MarkDirty()
	branchPin.Release()

	siblingPin, siblingHandle, err := storage.CreateTreeNode[branchNode](tree.alloc, storage.TypeRStarBranch)
	if err != nil {
		return err
	}
	sibling := siblingPin.Deref()
	*sibling = branchNode{parent: parentHandle, count: uint16(len(entries) - k)}
	copy(sibling.entries[:], entries[k:])
	rightBBox := sibling.boundingBox()
	siblingPin.MarkDirty()
	siblingPin.Release()

	// Re-home the children that moved to the sibling.
	for _, e := range entries[k:] {
		if err := tree.setParent(e.child, siblingHandle); err != nil {
			return err
		}
	}

	return tree.installSplit(branchHandle, siblingHandle, leftBBox, rightBBox, parentHandle)
}

// installSplit wires a freshly split pair into the parent, creating a new
// root when the split node was the root.
func (tree *RStarTree) installSplit(left, right storage.Handle, leftBBox, rightBBox geometry.Rectangle, parentHandle storage.Handle) error {
	if parentHandle.IsNil() {
		rootPin, rootHandle, err := storage.CreateTreeNode[branchNode](tree.alloc, storage.TypeRStarBranch)
		if err != nil {
			return err
		}
		root := rootPin.Deref()
		*root = branchNode{parent: storage.NilHandle, count: 2}
		root.entries[0] = branchEntry{bbox: leftBBox, child: left}
		root.entries[1] = branchEntry{bbox: rightBBox, child: right}
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

	parentPin, err := storage.GetTreeNode[branchNode](tree.alloc, parentHandle)
	if err != nil {
		return err
	}
	parent := parentPin.Deref()
	idx := parent.entryIndex(left)
	if idx == -1 {
		parentPin.Release()
		return fmt.Errorf("split node %v missing from parent %v", left, parentHandle)
	}
	parent.entries[idx].bbox = leftBBox
	parent.entries[parent.count] = branchEntry{bbox: rightBBox, child: right}
	parent.count++
	overflow := parent.count > MaxBranchFactor
	parentPin.MarkDirty()
	parentPin.Release()

	if overflow {
		return tree.splitBranch(parentHandle)
	}
	return tree.adjustUpward(parentHandle)
}

// Remove deletes one occurrence of the point. Removing an absent point
// leaves the tree unchanged.
func (tree *RStarTree) Remove(p geometry.Point) error {
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
	orphans := append([]geometry.Point(nil), leaf.points[:leaf.count]...)
	leafPin.MarkDirty()
	leafPin.Release()

	if parentHandle.IsNil() || count >= MinBranchFactor {
		if parentHandle.IsNil() {
			return nil
		}
		return tree.adjustUpward(leafHandle)
	}

	// Underfull leaf: dissolve it and reinsert the survivors.
	if err := tree.detachNode(leafHandle, parentHandle); err != nil {
		return err
	}
	tree.alloc.Free(leafHandle, leafNodeSize)
	for _, orphan := range orphans {
		if err := tree.Insert(orphan); err != nil {
			return err
		}
	}
	return nil
}

// detachNode removes a child entry from its parent, condensing underfull
// ancestors by reinsertion and shrinking the tree when the root decays to a
// single child.
func (tree *RStarTree) detachNode(child, parentHandle storage.Handle) error {
	parentPin, err := storage.GetTreeNode[branchNode](tree.alloc, parentHandle)
	if err != nil {
		return err
	}
	parent := parentPin.Deref()
	idx := parent.entryIndex(child)
	if idx == -1 {
		parentPin.Release()
		return fmt.Errorf("child %v missing from parent %v", child, parentHandle)
	}
	parent.removeEntry(idx)
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
			only := parentPin.Deref().entries[0].child
			parentPin.Release()
			if err := tree.setParent(only, storage.NilHandle); err != nil {
				return err
			}
			tree.root = only
			tree.alloc.Free(parentHandle, branchNodeSize)
		}
		return nil
	}

	if count >= MinBranchFactor {
		return tree.adjustUpward(parentHandle)
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

// findLeaf locates a leaf containing the point, descending only entries
// whose boxes contain it.
func (tree *RStarTree) findLeaf(h storage.Handle, p geometry.Point) (storage.Handle, bool, error) {
	if h.Type == storage.TypeRStarLeaf {
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
	children := make([]storage.Handle, 0, pin.Deref().count)
	for i := 0; i < int(pin.Deref().count); i++ {
		e := pin.Deref().entries[i]
		if e.bbox.ContainsPoint(p) {
			children = append(children, e.child)
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

// subtreePoints collects every point stored under the given node.
func (tree *RStarTree) subtreePoints(h storage.Handle) ([]geometry.Point, error) {
	var points []geometry.Point
	err := tree.walk(h, func(l *leafNode) {
		points = append(points, l.points[:l.count]...)
	})
	return points, err
}

// walk visits every leaf under the given node.
func (tree *RStarTree) walk(h storage.Handle, visit func(*leafNode)) error {
	if h.Type == storage.TypeRStarLeaf {
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
		children = append(children, pin.Deref().entries[i].child)
	}
	pin.Release()
	for _, child := range children {
		if err := tree.walk(child, visit); err != nil {
			return err
		}
	}
	return nil
}

// freeSubtree returns every slot under the given node to the allocator.
func (tree *RStarTree) freeSubtree(h storage.Handle) error {
	if h.Type == storage.TypeRStarLeaf {
		tree.alloc.Free(h, leafNodeSize)
		return nil
	}
	pin, err := storage.GetTreeNode[branchNode](tree.alloc, h)
	if err != nil {
		return err
	}
	children := make([]storage.Handle, 0, pin.Deref().count)
	for i := 0; i < int(pin.Deref().count); i++ {
		children = append(children, pin.Deref().entries[i].child)
	}
	pin.Release()
	for _, child := range children {
		if err := tree.freeSubtree(child); err != nil {
			return err
		}
	}
	tree.alloc.Free(h, branchNodeSize)
	return nil
}

// Search returns every indexed point equal to the query point.
func (tree *RStarTree) Search(p geometry.Point) ([]geometry.Point, error) {
	results := []geometry.Point{}
	err := tree.searchRect(tree.root, geometry.Rectangle{LowerLeft: p, UpperRight: p}, func(found geometry.Point) {
		if found == p {
			results = append(results, found)
		}
	})
	return results, err
}

// SearchRectangle returns every indexed point inside the query rectangle.
func (tree *RStarTree) SearchRectangle(r geometry.Rectangle) ([]geometry.Point, error) {
	results := []geometry.Point{}
	err := tree.searchRect(tree.root, r, func(found geometry.Point) {
		results = append(results, found)
	})
	return results, err
}

func (tree *RStarTree) searchRect(h storage.Handle, r geometry.Rectangle, emit func(geometry.Point)) error {
	if h.Type == storage.TypeRStarLeaf {
		pin, err := storage.GetTreeNode[leafNode](tree.alloc, h)
		if err != nil {
			return err
		}
		node := pin.Deref()
		for i := 0; i < int(node.count); i++ {
			if r.ContainsPoint(node.points[i]) {
				emit(node.points[i])
			}
		}
		pin.Release()
		return nil
	}
	pin, err := storage.GetTreeNode[branchNode](tree.alloc, h)
	if err != nil {
		return err
	}
	children := make([]storage.Handle, 0, pin.Deref().count)
	for i := 0; i < int(pin.Deref().count); i++ {
		e := pin.Deref().entries[i]
		if e.bbox.IntersectsRectangle(r) {
			children = append(children, e.child)
		}
	}
	pin.Release()
	for _, child := range children {
		if err := tree.searchRect(child, r, emit); err != nil {
			return err
		}
	}
	return nil
}

// ExhaustiveSearch walks every node, ignoring bounding boxes, and returns
// every point equal to the query. It is the reference oracle for Search.
func (tree *RStarTree) ExhaustiveSearch(p geometry.Point) ([]geometry.Point, error) {
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
func (tree *RStarTree) AllPoints() ([]geometry.Point, error) {
	var points []geometry.Point
	err := tree.walk(tree.root, func(l *leafNode) {
		points = append(points, l.points[:l.count]...)
	})
	return points, err
}

// Checksum returns an order-independent hash over every indexed point.
func (tree *RStarTree) Checksum() (uint64, error) {
	points, err := tree.AllPoints()
	if err != nil {
		return 0, err
	}
	return index.ChecksumPoints(points), nil
}
