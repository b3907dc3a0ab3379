package nir

import (
	"unsafe"

	"nirdb/pkg/geometry"
	"nirdb/pkg/pager"
	"nirdb/pkg/storage"
)

// Branch factors, fixed at build time like the node layouts.
const (
	MinBranchFactor = 3
	MaxBranchFactor = 7
)

// Slot sizes for the allocator's canonical-size assertions. Polygon slots
// are excluded: their size varies with declared capacity.
var (
	leafNodeSize   = uint16(unsafe.Sizeof(leafNode{}))
	branchNodeSize = uint16(unsafe.Sizeof(branchNode{}))
)

// maxPolyRects bounds the basic rectangle count of any page-resident
// polygon: a polygon never spans two pages.
var maxPolyRects = func() int {
	base := int(geometry.UnboundedPolygonFootprint(1))
	rect := int(unsafe.Sizeof(geometry.Rectangle{}))
	return (int(pager.PageDataSize)-base)/rect + 1
}()

func init() {
	storage.RegisterCanonicalSize(storage.TypeNIRLeaf, leafNodeSize)
	storage.RegisterCanonicalSize(storage.TypeNIRBranch, branchNodeSize)
}
