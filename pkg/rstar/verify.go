package rstar

import "nirdb/pkg/storage"

// Validate checks the tree's structural invariants: entry boxes contain
// their subtrees, counts respect the branch factors, and parent handles are
// consistent.
func (tree *RStarTree) Validate() bool {
	ok, err := tree.validateNode(tree.root, storage.NilHandle, true)
	return ok && err == nil
}

func (tree *RStarTree) validateNode(h, expectedParent storage.Handle, isRoot bool) (bool, error) {
	if h.Type == storage.TypeRStarLeaf {
		pin, err := storage.GetTreeNode[leafNode](tree.alloc, h)
		if err != nil {
			return false, err
		}
		defer pin.Release()
		node := pin.Deref()
		if !node.parent.Same(expectedParent) && !(node.parent.IsNil() && expectedParent.IsNil()) {
			return false, nil
		}
		if int(node.count) > MaxBranchFactor {
			return false, nil
		}
		if !isRoot && int(node.count) < MinBranchFactor {
			return false, nil
		}
		return true, nil
	}

	pin, err := storage.GetTreeNode[branchNode](tree.alloc, h)
	if err != nil {
		return false, err
	}
	node := pin.Deref()
	if !node.parent.Same(expectedParent) && !(node.parent.IsNil() && expectedParent.IsNil()) {
		pin.Release()
		return false, nil
	}
	if int(node.count) > MaxBranchFactor || int(node.count) < 2 ||
		(!isRoot && int(node.count) < MinBranchFactor) {
		pin.Release()
		return false, nil
	}
	entries := append([]branchEntry(nil), node.entries[:node.count]...)
	pin.Release()

	for _, e := range entries {
		childBBox, _, err := tree.nodeBBoxAndParent(e.child)
		if err != nil {
			return false, err
		}
		if !e.bbox.ContainsRectangle(childBBox) {
			return false, nil
		}
		ok, err := tree.validateNode(e.child, h, false)
		if err != nil || !ok {
			return ok, err
		}
	}
	return true, nil
}
