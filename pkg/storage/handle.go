// Package storage implements the slot-oriented node allocator shared by both
// tree variants. It carves variable-size, type-tagged slots for nodes and
// page-resident polygons out of the pager's pages, and hands out pinned typed
// handles into them.
package storage

import (
	"encoding/binary"
	"fmt"
)

// HandleType is an advisory tag describing what kind of slot a handle
// addresses. It enables debug assertions that allocations and frees agree on
// size; production correctness does not depend on it.
type HandleType uint16

// Slot type tags used by the tree packages.
const (
	TypeUntyped     HandleType = 0
	TypeRStarLeaf   HandleType = 1
	TypeRStarBranch HandleType = 2
	TypeNIRLeaf     HandleType = 3
	TypeNIRBranch   HandleType = 4
	TypePolygon     HandleType = 5
)

// nilPageID marks a handle that addresses nothing.
const nilPageID = ^uint32(0)

// Handle is the logical address of one allocation slot: a (page id, in-page
// offset, type tag) triple. It is plain data and trivially copyable; node
// structs store handles, never pointers, because target slots may live on
// evicted pages.
type Handle struct {
	PageID uint32
	Offset uint16
	Type   HandleType
}

// NilHandle addresses nothing.
var NilHandle = Handle{PageID: nilPageID}

// NewHandle builds a handle for the given slot location.
func NewHandle(pageID uint32, offset uint16, t HandleType) Handle {
	return Handle{PageID: pageID, Offset: offset, Type: t}
}

// IsNil reports whether the handle addresses nothing.
func (h Handle) IsNil() bool {
	return h.PageID == nilPageID
}

// Same compares handles by slot location, ignoring the advisory type tag.
func (h Handle) Same(other Handle) bool {
	return h.PageID == other.PageID && h.Offset == other.Offset
}

func (h Handle) String() string {
	if h.IsNil() {
		return "{nil}"
	}
	return fmt.Sprintf("{PageID: %d, Offset: %d}", h.PageID, h.Offset)
}

// EncodedHandleSize is the size of a handle's on-disk encoding, as stored in
// the metadata sidecar.
const EncodedHandleSize = 8

// EncodeHandle serializes the handle into 8 little-endian bytes.
func EncodeHandle(h Handle) []byte {
	buf := make([]byte, EncodedHandleSize)
	binary.LittleEndian.PutUint32(buf[0:], h.PageID)
	binary.LittleEndian.PutUint16(buf[4:], h.Offset)
	binary.LittleEndian.PutUint16(buf[6:], uint16(h.Type))
	return buf
}

// DecodeHandle deserializes a handle from its on-disk encoding.
func DecodeHandle(buf []byte) (Handle, error) {
	if len(buf) < EncodedHandleSize {
		return NilHandle, fmt.Errorf("handle encoding too short: %d bytes", len(buf))
	}
	return Handle{
		PageID: binary.LittleEndian.Uint32(buf[0:]),
		Offset: binary.LittleEndian.Uint16(buf[4:]),
		Type:   HandleType(binary.LittleEndian.Uint16(buf[6:])),
	}, nil
}
