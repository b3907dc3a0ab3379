package storage

import (
	"fmt"
	"unsafe"

	"nirdb/pkg/geometry"
	"nirdb/pkg/pager"
)

// minSplitSize is the minimum useful remainder when splitting a free-list
// entry. Remainders smaller than the largest anticipated polygon slot are
// kept with the allocation instead of becoming free-list entries that can
// never satisfy a polygon allocation.
var minSplitSize = geometry.UnboundedPolygonFootprint(geometry.MaxRectangleCount + 1)

// canonicalSizes maps a type tag to the slot size every allocation and free
// of that tag must use. The tree packages register their node sizes at init.
var canonicalSizes = map[HandleType]uint16{}

// RegisterCanonicalSize records the slot size for a type tag so frees can be
// checked against it in debug builds.
func RegisterCanonicalSize(t HandleType, size uint16) {
	canonicalSizes[t] = size
}

// Allocator subdivides the pager's pages into variable-size, type-tagged
// slots for tree nodes and unbounded polygons. Freed slots go to a coalescing
// free list and are reused before any new page is opened. The allocator is
// single-threaded, like everything above the pager.
type Allocator struct {
	pool *pager.Pager

	curPage   int64  // Page currently being bump-allocated, or pager.NoPage.
	spaceLeft uint16 // Bytes remaining at the tail of curPage.
	freeList  freeList
}

// NewAllocator opens (or creates) the backing file and sizes the buffer pool
// from the memory budget.
func NewAllocator(memoryBudget int64, backingFile string) (*Allocator, error) {
	pool, err := pager.New(backingFile, memoryBudget)
	if err != nil {
		return nil, err
	}
	return &Allocator{
		pool:    pool,
		curPage: pager.NoPage,
	}, nil
}

// Pool returns the allocator's buffer pool.
func (a *Allocator) Pool() *pager.Pager {
	return a.pool
}

// GetBackingFileName returns the path of the backing file.
func (a *Allocator) GetBackingFileName() string {
	return a.pool.GetFileName()
}

// FreeListLength returns the number of entries on the free list.
func (a *Allocator) FreeListLength() int {
	return a.freeList.length()
}

// FreeListBytes returns the total bytes held by the free list.
func (a *Allocator) FreeListBytes() int {
	return a.freeList.totalBytes()
}

// CurrentPage returns the page currently being bump-allocated, or
// pager.NoPage if none.
func (a *Allocator) CurrentPage() int64 {
	return a.curPage
}

// SpaceLeftInCurrentPage returns the bytes remaining at the tail of the
// current page.
func (a *Allocator) SpaceLeftInCurrentPage() uint16 {
	return a.spaceLeft
}

// CreateTreeNode allocates a slot sized for T and returns a pinned typed
// handle into it together with its logical address. The slot is exclusive to
// the caller until freed.
func CreateTreeNode[T any](a *Allocator, typeCode HandleType) (Pinned[T], Handle, error) {
	var zero T
	return CreateSizedNode[T](a, uint16(unsafe.Sizeof(zero)), typeCode)
}

// CreateSizedNode allocates a slot of an explicit size, used for unbounded
// polygons whose footprint depends on their declared capacity.
func CreateSizedNode[T any](a *Allocator, size uint16, typeCode HandleType) (Pinned[T], Handle, error) {
	if int64(size) > pager.PageDataSize {
		panic(fmt.Sprintf("allocation of %d bytes exceeds page payload %d", size, pager.PageDataSize))
	}
	if debugChecks {
		if canonical, ok := canonicalSizes[typeCode]; ok && canonical != size {
			panic(fmt.Sprintf("allocation size %d does not match canonical size %d for type %d",
				size, canonical, typeCode))
		}
	}

	// Free-list fit first.
	if entry := a.freeList.search(size); !entry.handle.IsNil() {
		remainder := entry.size - size
		if remainder >= minSplitSize {
			a.freeList.insert(freeEntry{
				handle: NewHandle(entry.handle.PageID, entry.handle.Offset+size, typeCode),
				size:   remainder,
			})
		}
		page, err := a.pool.GetPage(int64(entry.handle.PageID))
		if err != nil {
			return Pinned[T]{}, NilHandle, err
		}
		page.SetDirty(true)
		obj := (*T)(unsafe.Pointer(&page.GetData()[entry.handle.Offset]))
		handle := NewHandle(entry.handle.PageID, entry.handle.Offset, typeCode)
		return newPinned(a.pool, obj, page), handle, nil
	}

	// Fall through: bump-allocate, opening a new page if the current one is
	// too full.
	page, offset, err := a.pageToAllocOn(size)
	if err != nil {
		return Pinned[T]{}, NilHandle, err
	}
	page.SetDirty(true)
	obj := (*T)(unsafe.Pointer(&page.GetData()[offset]))
	handle := NewHandle(uint32(page.GetPageNum()), offset, typeCode)
	return newPinned(a.pool, obj, page), handle, nil
}

// pageToAllocOn returns a pinned page with size bytes carved at the returned
// offset. The pin is transferred to the caller.
func (a *Allocator) pageToAllocOn(size uint16) (*pager.Page, uint16, error) {
	if a.curPage != pager.NoPage && int64(a.spaceLeft) >= int64(size) {
		page, err := a.pool.GetPage(a.curPage)
		if err != nil {
			return nil, 0, err
		}
		offset := uint16(pager.PageDataSize) - a.spaceLeft
		a.spaceLeft -= size
		return page, offset, nil
	}

	// The current page cannot hold the slot. Donate its tail to the free
	// list and open a fresh page.
	if a.curPage != pager.NoPage && a.spaceLeft > 0 {
		a.freeList.insert(freeEntry{
			handle: NewHandle(uint32(a.curPage), uint16(pager.PageDataSize)-a.spaceLeft, TypeUntyped),
			size:   a.spaceLeft,
		})
	}
	page, err := a.pool.GetNewPage()
	if err != nil {
		return nil, 0, err
	}
	a.curPage = page.GetPageNum()
	a.spaceLeft = uint16(pager.PageDataSize) - size
	return page, 0, nil
}

// GetTreeNode faults the handle's page in and returns a pinned typed view of
// its slot.
func GetTreeNode[T any](a *Allocator, handle Handle) (Pinned[T], error) {
	if handle.IsNil() {
		return Pinned[T]{}, fmt.Errorf("cannot dereference nil handle")
	}
	if debugChecks && a.freeList.contains(handle) {
		panic(fmt.Sprintf("dereference of freed slot %v", handle))
	}
	page, err := a.pool.GetPage(int64(handle.PageID))
	if err != nil {
		return Pinned[T]{}, err
	}
	obj := (*T)(unsafe.Pointer(&page.GetData()[handle.Offset]))
	return newPinned(a.pool, obj, page), nil
}

// Free returns a slot to the free list, coalescing with adjacent freed
// neighbors on the same page.
func (a *Allocator) Free(handle Handle, size uint16) {
	if handle.IsNil() {
		return
	}
	if debugChecks {
		if canonical, ok := canonicalSizes[handle.Type]; ok && canonical != size {
			panic(fmt.Sprintf("free of %v with size %d, canonical size for type %d is %d",
				handle, size, handle.Type, canonical))
		}
	}
	a.freeList.insert(freeEntry{handle: handle, size: size})
}
