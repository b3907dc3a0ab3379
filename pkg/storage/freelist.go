package storage

import (
	"fmt"
	"sort"

	"github.com/bits-and-blooms/bitset"

	"nirdb/pkg/pager"
)

// debugChecks enables the free-list invariant checks and the canonical-size
// assertions on free. Violations panic: they are programming errors, not
// recoverable conditions.
const debugChecks = true

// freeEntry describes one freed slot: its location and its size in bytes.
type freeEntry struct {
	handle Handle
	size   uint16
}

// freeList tracks freed slots, ordered by (page id, offset). Adjacent
// entries on the same page are coalesced on insertion, so entries are always
// pairwise non-overlapping and non-adjacent.
type freeList struct {
	entries []freeEntry
}

// length returns the number of free entries.
func (fl *freeList) length() int {
	return len(fl.entries)
}

// totalBytes returns the sum of all entry sizes.
func (fl *freeList) totalBytes() int {
	total := 0
	for _, e := range fl.entries {
		total += int(e.size)
	}
	return total
}

// contains reports whether the byte at the given location lies within any
// free entry.
func (fl *freeList) contains(h Handle) bool {
	for _, e := range fl.entries {
		if e.handle.PageID == h.PageID &&
			e.handle.Offset <= h.Offset && h.Offset < e.handle.Offset+e.size {
			return true
		}
	}
	return false
}

// insert adds a freed slot, coalescing with same-page neighbors on both
// sides.
func (fl *freeList) insert(block freeEntry) {
	if block.handle.IsNil() || block.size == 0 {
		return
	}
	idx := sort.Search(len(fl.entries), func(i int) bool {
		e := fl.entries[i]
		if e.handle.PageID != block.handle.PageID {
			return e.handle.PageID > block.handle.PageID
		}
		return e.handle.Offset > block.handle.Offset
	})

	// Try to grow the predecessor forward over the new block.
	if idx > 0 {
		prev := &fl.entries[idx-1]
		if prev.handle.PageID == block.handle.PageID &&
			prev.handle.Offset+prev.size == block.handle.Offset {
			prev.size += block.size
			// The grown predecessor may now abut its successor.
			if idx < len(fl.entries) {
				next := fl.entries[idx]
				if next.handle.PageID == prev.handle.PageID &&
					prev.handle.Offset+prev.size == next.handle.Offset {
					prev.size += next.size
					fl.entries = append(fl.entries[:idx], fl.entries[idx+1:]...)
				}
			}
			fl.check()
			return
		}
	}

	// Try to grow the successor backward over the new block.
	if idx < len(fl.entries) {
		next := &fl.entries[idx]
		if next.handle.PageID == block.handle.PageID &&
			block.handle.Offset+block.size == next.handle.Offset {
			next.handle = block.handle
			next.size += block.size
			fl.check()
			return
		}
	}

	// Standalone entry.
	fl.entries = append(fl.entries, freeEntry{})
	copy(fl.entries[idx+1:], fl.entries[idx:])
	fl.entries[idx] = block
	fl.check()
}

// search removes and returns the best-fit entry for the requested size: the
// smallest entry at least size bytes long, ties broken by lowest (page id,
// offset). The zero entry is returned when nothing fits.
func (fl *freeList) search(size uint16) freeEntry {
	best := -1
	for i, e := range fl.entries {
		if e.size < size {
			continue
		}
		if best == -1 || e.size < fl.entries[best].size {
			best = i
		}
	}
	if best == -1 {
		return freeEntry{handle: NilHandle}
	}
	found := fl.entries[best]
	fl.entries = append(fl.entries[:best], fl.entries[best+1:]...)
	fl.check()
	return found
}

// check validates the free-list invariants: entries ordered by (page,
// offset), offsets in range, and same-page entries pairwise non-overlapping
// and non-adjacent.
func (fl *freeList) check() {
	if !debugChecks {
		return
	}
	occupied := make(map[uint32]*bitset.BitSet)
	var prev *freeEntry
	for i := range fl.entries {
		e := &fl.entries[i]
		if e.size == 0 {
			panic("free list: zero-size entry")
		}
		if int(e.handle.Offset)+int(e.size) > int(pager.PageDataSize) {
			panic(fmt.Sprintf("free list: entry %v size %d exceeds page payload", e.handle, e.size))
		}
		if prev != nil {
			if prev.handle.PageID > e.handle.PageID {
				panic("free list: entries out of page order")
			}
			if prev.handle.PageID == e.handle.PageID &&
				prev.handle.Offset+prev.size >= e.handle.Offset {
				panic("free list: overlapping or uncoalesced entries")
			}
		}
		occ := occupied[e.handle.PageID]
		if occ == nil {
			occ = bitset.New(uint(pager.PageDataSize))
			occupied[e.handle.PageID] = occ
		}
		for b := uint(e.handle.Offset); b < uint(e.handle.Offset)+uint(e.size); b++ {
			if occ.Test(b) {
				panic("free list: byte claimed by two entries")
			}
			occ.Set(b)
		}
		prev = e
	}
}
