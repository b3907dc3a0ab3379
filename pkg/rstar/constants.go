package rstar

import (
	"unsafe"

	"nirdb/pkg/storage"
)

// Branch factors. The C++-style template parameters become package constants
// because node layouts are fixed at build time.
const (
	MinBranchFactor = 3
	MaxBranchFactor = 7
)

// Slot sizes for the allocator's canonical-size assertions.
var (
	leafNodeSize   = uint16(unsafe.Sizeof(leafNode{}))
	branchNodeSize = uint16(unsafe.Sizeof(branchNode{}))
)

func init() {
	storage.RegisterCanonicalSize(storage.TypeRStarLeaf, leafNodeSize)
	storage.RegisterCanonicalSize(storage.TypeRStarBranch, branchNodeSize)
}
