package pager

import (
	"encoding/binary"
	"sync/atomic"
)

// NoPage is the pagenum for when there is no page being held
const NoPage = -1

// On-disk page header layout. The pin count is serialized for layout
// stability but ignored on read; pins are an in-memory property.
const (
	pageIDOffset   = 0
	dirtyOffset    = 4
	pinCountOffset = 8
	HeaderSize     = 16
)

// Page caches a page from disk and stores additional metadata.
type Page struct {
	pager    *Pager       // Pointer to the pager that this page belongs to
	pagenum  int64        // Unique identifier for the page also denoting its position in the pager's file
	pinCount atomic.Int64 // The number of active references to this page
	dirty    bool         // Flag on whether the page's data has changed and needs to be written to disk
	data     []byte       // The full Pagesize frame, header included
}

// GetPager returns the pager this page belongs to.
func (page *Page) GetPager() *Pager {
	return page.pager
}

// GetPageNum returns the page's pagenum (unique identifier).
func (page *Page) GetPageNum() int64 {
	return page.pagenum
}

// IsDirty reports whether the page's data has changed and needs to be written to disk.
func (page *Page) IsDirty() bool {
	return page.dirty
}

// SetDirty changes the dirty status of a page.
func (page *Page) SetDirty(dirty bool) {
	page.dirty = dirty
}

// GetData returns the page's payload bytes, header excluded.
func (page *Page) GetData() []byte {
	return page.data[HeaderSize:]
}

// PinCount returns the number of active references to this page.
func (page *Page) PinCount() int64 {
	return page.pinCount.Load()
}

// Get increments the pin count, indicating that another holder is using this page.
func (page *Page) Get() {
	page.pinCount.Add(1)
}

// Put decrements the pin count, indicating that a holder is done using this page.
func (page *Page) Put() int64 {
	return page.pinCount.Add(-1)
}

// Update updates this page with `size` bytes of the given data slice at the
// specified payload offset.
func (page *Page) Update(data []byte, offset int64, size int64) {
	page.dirty = true
	copy(page.data[HeaderSize+offset:HeaderSize+offset+size], data)
}

// encodeHeader serializes the header fields into the frame before a write.
func (page *Page) encodeHeader() {
	binary.LittleEndian.PutUint32(page.data[pageIDOffset:], uint32(page.pagenum))
	if page.dirty {
		page.data[dirtyOffset] = 1
	} else {
		page.data[dirtyOffset] = 0
	}
	binary.LittleEndian.PutUint32(page.data[pinCountOffset:], uint32(page.pinCount.Load()))
}
