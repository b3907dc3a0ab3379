package nir

import (
	"nirdb/pkg/geometry"
	"nirdb/pkg/storage"
)

// Validate checks the tree's structural invariants: every branch polygon
// contains the points of its subtree, sibling polygons never share volume,
// counts respect the branch factors, and parent handles are consistent.
func (tree *NIRTree) Validate() bool {
	ok, err := tree.validateNode(tree.root, storage.NilHandle, true)
	return ok && err == nil
}

func (tree *NIRTree) validateNode(h, expectedParent storage.Handle, isRoot bool) (bool, error) {
	if h.Type == storage.TypeNIRLeaf {
		pin, err := storage.GetTreeNode[leafNode](tree.alloc, h)
		if err != nil {
			return false, err
		}
		defer pin.Release()
		node := pin.Deref()
		if !node.parent.Same(expectedParent) {
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
	if !node.parent.Same(expectedParent) {
		pin.Release()
		return false, nil
	}
	if int(node.count) > MaxBranchFactor || int(node.count) < 2 {
		pin.Release()
		return false, nil
	}
	children := make([]storage.Handle, node.count)
	polys := make([]geometry.IsotheticPolygon, node.count)
	for i := 0; i < int(node.count); i++ {
		children[i] = node.branches[i].child
		polys[i], err = tree.branchPolygon(&node.branches[i])
		if err != nil {
			pin.Release()
			return false, err
		}
	}
	pin.Release()

	// Sibling polygons may share borders, never volume.
	for i := range polys {
		if !polys[i].Valid() {
			return false, nil
		}
		for j := i + 1; j < len(polys); j++ {
			if polys[i].StrictIntersectsPolygon(&polys[j]) {
				return false, nil
			}
		}
	}

	// Every point below a branch lies inside its polygon.
	for i, child := range children {
		contained := true
		err := tree.walk(child, func(l *leafNode) {
			for k := 0; k < int(l.count); k++ {
				if !polys[i].ContainsPoint(l.points[k]) {
					contained = false
				}
			}
		})
		if err != nil {
			return false, err
		}
		if !contained {
			return false, nil
		}
		ok, err := tree.validateNode(child, h, false)
		if err != nil || !ok {
			return ok, err
		}
	}
	return true, nil
}
