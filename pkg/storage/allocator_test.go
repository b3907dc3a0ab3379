package storage_test

import (
	"testing"

	"nirdb/pkg/geometry"
	"nirdb/pkg/pager"
	"nirdb/pkg/storage"
	"nirdb/pkg/testutils"
)

// node48 stands in for a small tree node.
type node48 struct {
	a, b, c, d, e, f int64
}

// node56 is sized so it does not divide the page payload evenly.
type node56 struct {
	a, b, c, d, e, f, g int64
}

// slot8 is the smallest slot used by the paging tests.
type slot8 struct {
	v uint64
}

const node48Size = 48

// minSplit mirrors the allocator's minimum useful split remainder: the
// footprint of the largest anticipated polygon slot.
var minSplit = int(geometry.UnboundedPolygonFootprint(geometry.MaxRectangleCount + 1))

func setupAllocator(t *testing.T, memoryBudget int64) *storage.Allocator {
	t.Parallel()
	dbname := testutils.GetTempDbFile(t)
	alloc, err := storage.NewAllocator(memoryBudget, dbname)
	if err != nil {
		t.Fatal("Failed to create allocator:", err)
	}
	return alloc
}

func TestAllocator(t *testing.T) {
	t.Run("SingleNode", testSingleNode)
	t.Run("FreeConsecutiveNodes", testFreeConsecutiveNodes)
	t.Run("FreeConsecutiveNodesLargeRemainder", testFreeConsecutiveNodesLargeRemainder)
	t.Run("FreeNonConsecutiveNodes", testFreeNonConsecutiveNodes)
	t.Run("OverflowOnePage", testOverflowOnePage)
	t.Run("DonatePageTail", testDonatePageTail)
	t.Run("HandleRoundTrip", testHandleRoundTrip)
	t.Run("PagedOutData", testPagedOutData)
	t.Run("PinnedScope", testPinnedScope)
	t.Run("FreelistPerfectAllocs", testFreelistPerfectAllocs)
	t.Run("FreelistByteAccounting", testFreelistByteAccounting)
	t.Run("DereferenceFreedSlot", testDereferenceFreedSlot)
}

/*
A single allocation on a fresh allocator lands at page 0, offset 0, and
leaves the free list empty.
*/
func testSingleNode(t *testing.T) {
	alloc := setupAllocator(t, 10*pager.Pagesize)

	pin, handle, err := storage.CreateTreeNode[node48](alloc, storage.TypeUntyped)
	if err != nil {
		t.Fatal("Allocation failed:", err)
	}
	defer pin.Release()

	if pin.IsNil() {
		t.Fatal("Expected a non-nil pinned handle")
	}
	if handle.PageID != 0 || handle.Offset != 0 {
		t.Errorf("Expected handle {0, 0}, found %v", handle)
	}
	if alloc.FreeListLength() != 0 {
		t.Errorf("Expected empty free list, found %d entries", alloc.FreeListLength())
	}
}

/*
Three consecutive allocations land at offsets 0, 48, 96. Freeing them in
order coalesces into a single free entry. A fourth allocation reuses the
freed space at offset 0; the remainder is below the minimum split size, so
the whole entry is consumed.
*/
func testFreeConsecutiveNodes(t *testing.T) {
	alloc := setupAllocator(t, 10*pager.Pagesize)

	var handles []storage.Handle
	for i := 0; i < 3; i++ {
		pin, handle, err := storage.CreateTreeNode[node48](alloc, storage.TypeUntyped)
		if err != nil {
			t.Fatal("Allocation failed:", err)
		}
		if handle.PageID != 0 || int(handle.Offset) != i*node48Size {
			t.Errorf("Expected offset %d, found %v", i*node48Size, handle)
		}
		pin.Release()
		handles = append(handles, handle)
	}

	for _, handle := range handles {
		alloc.Free(handle, node48Size)
		if alloc.FreeListLength() != 1 {
			t.Fatalf("Expected coalesced free list of length 1, found %d", alloc.FreeListLength())
		}
	}

	pin, handle, err := storage.CreateTreeNode[node48](alloc, storage.TypeUntyped)
	if err != nil {
		t.Fatal("Allocation failed:", err)
	}
	pin.Release()
	if handle.PageID != 0 || handle.Offset != 0 {
		t.Errorf("Expected reuse of freed space at {0, 0}, found %v", handle)
	}
	// 3*48 - 48 = 96 bytes of remainder, below the minimum split size.
	if alloc.FreeListLength() != 0 {
		t.Errorf("Expected remainder to be kept with the allocation, free list has %d entries",
			alloc.FreeListLength())
	}
}

/*
When the coalesced free entry is large enough, a reusing allocation splits
it and the remainder stays on the free list.
*/
func testFreeConsecutiveNodesLargeRemainder(t *testing.T) {
	alloc := setupAllocator(t, 10*pager.Pagesize)

	numNodes := minSplit/node48Size + 2
	var handles []storage.Handle
	for i := 0; i < numNodes; i++ {
		pin, handle, err := storage.CreateTreeNode[node48](alloc, storage.TypeUntyped)
		if err != nil {
			t.Fatal("Allocation failed:", err)
		}
		pin.Release()
		handles = append(handles, handle)
	}
	for _, handle := range handles {
		alloc.Free(handle, node48Size)
		if alloc.FreeListLength() != 1 {
			t.Fatalf("Expected coalesced free list of length 1, found %d", alloc.FreeListLength())
		}
	}

	pin, handle, err := storage.CreateTreeNode[node48](alloc, storage.TypeUntyped)
	if err != nil {
		t.Fatal("Allocation failed:", err)
	}
	pin.Release()
	if handle.PageID != 0 || handle.Offset != 0 {
		t.Errorf("Expected reuse of freed space at {0, 0}, found %v", handle)
	}
	if alloc.FreeListLength() != 1 {
		t.Errorf("Expected split remainder on the free list, found %d entries",
			alloc.FreeListLength())
	}
}

/*
Frees separated by live allocations stay as separate free entries, and a
reusing allocation consumes exactly one of them.
*/
func testFreeNonConsecutiveNodes(t *testing.T) {
	alloc := setupAllocator(t, 10*pager.Pagesize)

	numNodes := 11
	var handles []storage.Handle
	for i := 0; i < numNodes; i++ {
		pin, handle, err := storage.CreateTreeNode[node48](alloc, storage.TypeUntyped)
		if err != nil {
			t.Fatal("Allocation failed:", err)
		}
		pin.Release()
		handles = append(handles, handle)
	}

	// 3 frees + 1 live + 3 frees + 1 live + 3 frees.
	for i := 0; i < 3; i++ {
		alloc.Free(handles[i], node48Size)
		if alloc.FreeListLength() != 1 {
			t.Fatalf("Expected 1 free entry, found %d", alloc.FreeListLength())
		}
	}
	for i := 4; i < 7; i++ {
		alloc.Free(handles[i], node48Size)
		if alloc.FreeListLength() != 2 {
			t.Fatalf("Expected 2 free entries, found %d", alloc.FreeListLength())
		}
	}
	for i := 8; i < 11; i++ {
		alloc.Free(handles[i], node48Size)
		if alloc.FreeListLength() != 3 {
			t.Fatalf("Expected 3 free entries, found %d", alloc.FreeListLength())
		}
	}

	pin, handle, err := storage.CreateTreeNode[node48](alloc, storage.TypeUntyped)
	if err != nil {
		t.Fatal("Allocation failed:", err)
	}
	pin.Release()
	if handle.PageID != 0 || handle.Offset != 0 {
		t.Errorf("Expected reuse of the first freed run at {0, 0}, found %v", handle)
	}
	if alloc.FreeListLength() != 2 {
		t.Errorf("Expected 2 remaining free entries, found %d", alloc.FreeListLength())
	}
}

/*
Allocations fill page 0 exactly, then the next one lands on page 1 at
offset 0.
*/
func testOverflowOnePage(t *testing.T) {
	alloc := setupAllocator(t, 10*pager.Pagesize)

	perPage := int(pager.PageDataSize) / node48Size
	for i := 0; i < perPage; i++ {
		pin, handle, err := storage.CreateTreeNode[node48](alloc, storage.TypeUntyped)
		if err != nil {
			t.Fatal("Allocation failed:", err)
		}
		pin.Release()
		if handle.PageID != 0 || int(handle.Offset) != i*node48Size {
			t.Fatalf("Expected {0, %d}, found %v", i*node48Size, handle)
		}
	}

	pin, handle, err := storage.CreateTreeNode[node48](alloc, storage.TypeUntyped)
	if err != nil {
		t.Fatal("Allocation failed:", err)
	}
	pin.Release()
	if handle.PageID != 1 || handle.Offset != 0 {
		t.Errorf("Expected overflow allocation at {1, 0}, found %v", handle)
	}
}

/*
When the current page cannot hold the next slot, its unused tail becomes a
free-list entry.
*/
func testDonatePageTail(t *testing.T) {
	alloc := setupAllocator(t, 10*pager.Pagesize)

	nodeSize := 56
	perPage := int(pager.PageDataSize) / nodeSize
	tail := int(pager.PageDataSize) % nodeSize
	if tail == 0 {
		t.Fatal("node56 should not divide the page payload evenly")
	}
	for i := 0; i < perPage; i++ {
		pin, _, err := storage.CreateTreeNode[node56](alloc, storage.TypeUntyped)
		if err != nil {
			t.Fatal("Allocation failed:", err)
		}
		pin.Release()
	}
	if alloc.FreeListLength() != 0 {
		t.Fatal("Tail should not be donated before overflow")
	}

	pin, handle, err := storage.CreateTreeNode[node56](alloc, storage.TypeUntyped)
	if err != nil {
		t.Fatal("Allocation failed:", err)
	}
	pin.Release()
	if handle.PageID != 1 || handle.Offset != 0 {
		t.Errorf("Expected overflow allocation at {1, 0}, found %v", handle)
	}
	if alloc.FreeListLength() != 1 {
		t.Errorf("Expected the page tail on the free list, found %d entries", alloc.FreeListLength())
	}
	if alloc.FreeListBytes() != tail {
		t.Errorf("Expected %d donated bytes, found %d", tail, alloc.FreeListBytes())
	}
}

/*
GetTreeNode is a left inverse of CreateTreeNode: the typed pointer it
produces refers to the same bytes.
*/
func testHandleRoundTrip(t *testing.T) {
	alloc := setupAllocator(t, 10*pager.Pagesize)

	pin, handle, err := storage.CreateTreeNode[node48](alloc, storage.TypeUntyped)
	if err != nil {
		t.Fatal("Allocation failed:", err)
	}
	*pin.Deref() = node48{a: 1, b: 2, c: 3, d: 4, e: 5, f: 6}
	pin.MarkDirty()
	pin.Release()

	again, err := storage.GetTreeNode[node48](alloc, handle)
	if err != nil {
		t.Fatal("GetTreeNode failed:", err)
	}
	defer again.Release()
	if *again.Deref() != (node48{a: 1, b: 2, c: 3, d: 4, e: 5, f: 6}) {
		t.Error("Dereferenced slot does not hold the written value")
	}
}

/*
With a single-frame pool, filling one page and allocating on the next
forces the first page out. The data must survive the disk round trip.
*/
func testPagedOutData(t *testing.T) {
	alloc := setupAllocator(t, pager.Pagesize)

	perPage := int(pager.PageDataSize) / 8
	var handles []storage.Handle
	for i := 0; i < perPage; i++ {
		pin, handle, err := storage.CreateSizedNode[slot8](alloc, 8, storage.TypeUntyped)
		if err != nil {
			t.Fatal("Allocation failed:", err)
		}
		if handle.PageID != 0 || int(handle.Offset) != i*8 {
			t.Fatalf("Expected {0, %d}, found %v", i*8, handle)
		}
		pin.Deref().v = uint64(i)
		pin.MarkDirty()
		pin.Release()
		handles = append(handles, handle)
	}

	// This lands on the next page, forcing the first page out.
	pin, _, err := storage.CreateSizedNode[slot8](alloc, 8, storage.TypeUntyped)
	if err != nil {
		t.Fatal("Allocation failed:", err)
	}
	pin.Release()

	for i, handle := range handles {
		pin, err := storage.GetTreeNode[slot8](alloc, handle)
		if err != nil {
			t.Fatal("GetTreeNode failed:", err)
		}
		if pin.Deref().v != uint64(i) {
			t.Fatalf("Slot %d holds %d after page-out round trip", i, pin.Deref().v)
		}
		pin.Release()
	}
}

/*
A pinned handle holds exactly one pin on its page; releasing drops it.
Clones pin independently.
*/
func testPinnedScope(t *testing.T) {
	alloc := setupAllocator(t, 2*pager.Pagesize)

	pin, _, err := storage.CreateTreeNode[slot8](alloc, storage.TypeUntyped)
	if err != nil {
		t.Fatal("Allocation failed:", err)
	}
	page := pin.Page()
	if page.PinCount() != 1 {
		t.Fatalf("Expected pin count 1 while handle is live, found %d", page.PinCount())
	}

	pin2, _, err := storage.CreateTreeNode[slot8](alloc, storage.TypeUntyped)
	if err != nil {
		t.Fatal("Allocation failed:", err)
	}
	if page.PinCount() != 2 {
		t.Fatalf("Expected pin count 2 with two live handles, found %d", page.PinCount())
	}

	clone := pin.Clone()
	if page.PinCount() != 3 {
		t.Fatalf("Expected pin count 3 after clone, found %d", page.PinCount())
	}
	clone.Release()
	pin2.Release()
	pin.Release()
	if page.PinCount() != 0 {
		t.Fatalf("Expected pin count 0 after release, found %d", page.PinCount())
	}
}

/*
Freeing a slot and allocating the same size reuses it perfectly without
moving the bump pointer.
*/
func testFreelistPerfectAllocs(t *testing.T) {
	alloc := setupAllocator(t, 2*pager.Pagesize)

	iterations := int(pager.PageDataSize)/8 + 1
	for i := 0; i < iterations; i++ {
		pin, handle, err := storage.CreateSizedNode[slot8](alloc, 8, storage.TypeUntyped)
		if err != nil {
			t.Fatal("Allocation failed:", err)
		}
		pin.Release()
		if alloc.SpaceLeftInCurrentPage() != uint16(pager.PageDataSize)-8 {
			t.Fatalf("Bump pointer moved on a perfect-fit reuse at iteration %d", i)
		}
		alloc.Free(handle, 8)
	}
	if alloc.CurrentPage() != 0 {
		t.Errorf("Expected all traffic on page 0, current page is %d", alloc.CurrentPage())
	}
}

/*
The free list's byte total grows by exactly the freed size and shrinks by
exactly the allocated size when an entry is split.
*/
func testFreelistByteAccounting(t *testing.T) {
	alloc := setupAllocator(t, 10*pager.Pagesize)

	numNodes := minSplit/node48Size + 2
	var handles []storage.Handle
	for i := 0; i < numNodes; i++ {
		pin, handle, err := storage.CreateTreeNode[node48](alloc, storage.TypeUntyped)
		if err != nil {
			t.Fatal("Allocation failed:", err)
		}
		pin.Release()
		handles = append(handles, handle)
	}
	total := 0
	for _, handle := range handles {
		alloc.Free(handle, node48Size)
		total += node48Size
		if alloc.FreeListBytes() != total {
			t.Fatalf("Expected %d free bytes, found %d", total, alloc.FreeListBytes())
		}
	}

	pin, _, err := storage.CreateTreeNode[node48](alloc, storage.TypeUntyped)
	if err != nil {
		t.Fatal("Allocation failed:", err)
	}
	pin.Release()
	if alloc.FreeListBytes() != total-node48Size {
		t.Errorf("Expected a split hit to consume exactly %d bytes, free bytes went from %d to %d",
			node48Size, total, alloc.FreeListBytes())
	}
}

/*
Dereferencing a freed slot is a programming error surfaced by the debug
checks.
*/
func testDereferenceFreedSlot(t *testing.T) {
	alloc := setupAllocator(t, 10*pager.Pagesize)

	pin, handle, err := storage.CreateTreeNode[node48](alloc, storage.TypeUntyped)
	if err != nil {
		t.Fatal("Allocation failed:", err)
	}
	pin.Release()
	alloc.Free(handle, node48Size)

	defer func() {
		if recover() == nil {
			t.Error("Expected a panic when dereferencing a freed slot")
		}
	}()
	_, _ = storage.GetTreeNode[node48](alloc, handle)
}
