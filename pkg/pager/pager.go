// Package pager implements the page and buffer pool abstractions shared by
// both spatial indices. Nodes and polygons are carved out of page payloads by
// the slot allocator; the pager only moves whole pages between memory and the
// backing file.
package pager

import (
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	"nirdb/pkg/list"

	"github.com/ncw/directio"
)

// Pagesize is the size of an individual page (ie the maximum number of bytes
// that the page can hold, header included) - defaults to 4kb.
const Pagesize int64 = directio.BlockSize

// PageDataSize is the number of payload bytes in a page.
const PageDataSize int64 = Pagesize - HeaderSize

// Error for when there are no free/unpinned pages to be used
var ErrRanOutOfPages = errors.New("no available pages")

// Pager is a data structure that manages pages of data stored in a file.
type Pager struct {
	file             *os.File // File descriptor for the file that backs this pager on disk.
	numPages         int64    // The number of pages that this pager has access to (both on disk and in memory).
	preexistingPages int64    // The number of pages that were already on disk when the backing file was opened.
	maxFrames        int64    // Frame capacity, memory budget / Pagesize.

	freeList     *list.List[*Page] // A list of pre-allocated (but unused) frames.
	unpinnedList *list.List[*Page] // The frames in memory that have yet to be evicted, but are not currently in use.
	pinnedList   *list.List[*Page] // The frames currently in use by an index.
	// The page table, which maps pagenums to their corresponding pages (stored
	// in a link belonging to the list the page is in).
	pageTable map[int64]*list.Link[*Page]
	ptMtx     sync.Mutex
}

// New constructs a new Pager with a frame budget of memoryBudget bytes,
// backing it with a database file at the specified filePath.
func New(filePath string, memoryBudget int64) (pager *Pager, err error) {
	maxFrames := memoryBudget / Pagesize
	if maxFrames < 1 {
		return nil, errors.New("memory budget below one page")
	}
	pager = &Pager{maxFrames: maxFrames}
	pager.pageTable = make(map[int64]*list.Link[*Page])
	pager.freeList = list.NewList[*Page]()
	pager.unpinnedList = list.NewList[*Page]()
	pager.pinnedList = list.NewList[*Page]()
	frames := directio.AlignedBlock(int(Pagesize * maxFrames))
	for i := int64(0); i < maxFrames; i++ {
		frame := frames[i*Pagesize : (i+1)*Pagesize]
		page := Page{
			pager:   pager,
			pagenum: NoPage,
			dirty:   false,
			data:    frame,
		}
		pager.freeList.PushTail(&page)
	}

	err = pager.Open(filePath)
	if err != nil {
		pager = nil
	}
	return
}

// GetFileName returns the file name/path used to open the pager's backing file.
func (pager *Pager) GetFileName() (filename string) {
	return pager.file.Name()
}

// GetNumPages returns the number of pages.
func (pager *Pager) GetNumPages() (numPages int64) {
	return pager.numPages
}

// GetPreexistingPageCount returns the number of pages that already existed on
// disk when the backing file was opened.
func (pager *Pager) GetPreexistingPageCount() int64 {
	return pager.preexistingPages
}

// GetMaxFrames returns the pager's frame capacity.
func (pager *Pager) GetMaxFrames() int64 {
	return pager.maxFrames
}

// Open (re-)initializes our pager with a database file at the specified filePath.
//
// If the database file didn't exist previously, it is created.
// If the database file does exist but it can't be opened or
// its contents are not properly aligned to Pagesize, returns an error.
// The Pager should not be used if an error is returned.
func (pager *Pager) Open(filePath string) (err error) {
	// Create the necessary prerequisite directories.
	if idx := strings.LastIndex(filePath, "/"); idx != -1 {
		err = os.MkdirAll(filePath[:idx], 0775)
		if err != nil {
			return err
		}
	}
	// Open or create the db file.
	pager.file, err = directio.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return err
	}
	// Get info about the size of the pager.
	var info os.FileInfo
	var len int64
	if info, err = pager.file.Stat(); err == nil {
		len = info.Size()
		if len%Pagesize != 0 {
			return errors.New("backing file has been corrupted")
		}
	}
	pager.numPages = len / Pagesize
	pager.preexistingPages = pager.numPages
	return nil
}

// Close signals our pager to flush all dirty pages to disk
// and close its backing file.
func (pager *Pager) Close() error {
	// Prevent new data from being paged in.
	pager.ptMtx.Lock()
	defer pager.ptMtx.Unlock()
	// Check that no pages are in the pinned list
	if pager.pinnedList.PeekHead() != nil {
		return errors.New("pages are still pinned on close")
	}
	pager.FlushAllPages()
	return pager.file.Close()
}

// fillPageFromDisk populates a page's frame from the data currently on disk.
// Returns an error if there was an io problem reading from disk.
func (pager *Pager) fillPageFromDisk(page *Page) error {
	if _, err := pager.file.Seek(page.pagenum*Pagesize, 0); err != nil {
		return err
	}
	if _, err := pager.file.Read(page.data); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// newPage returns a currently unused frame from the free or unpinned list,
// or an ErrRanOutOfPages if there are no unused frames available.
// The ptMtx should be locked on entry.
func (pager *Pager) newPage(pagenum int64) (newPage *Page, err error) {
	if freeLink := pager.freeList.PeekHead(); freeLink != nil {
		// Check the free list first
		freeLink.PopSelf()
		newPage = freeLink.GetValue()
	} else if unpinLink := pager.unpinnedList.PeekHead(); unpinLink != nil {
		// If no frame was found, evict a page from the unpinned list.
		unpinLink.PopSelf()
		newPage = unpinLink.GetValue()
		pager.FlushPage(newPage)
		delete(pager.pageTable, newPage.pagenum)
	} else {
		// Everything resident is pinned.
		return nil, ErrRanOutOfPages
	}
	newPage.pagenum = pagenum
	newPage.dirty = false
	newPage.pinCount.Store(1)
	return newPage, nil
}

// GetNewPage returns a new pinned Page with the next available pagenum.
func (pager *Pager) GetNewPage() (page *Page, err error) {
	pager.ptMtx.Lock()
	defer pager.ptMtx.Unlock()
	page, err = pager.newPage(pager.numPages)
	if err != nil {
		return nil, err
	}
	// Zero the frame; it may be recycled from an evicted page.
	clear(page.data)
	// Mark dirty so the new page is eventually flushed to disk.
	page.dirty = true
	newLink := pager.pinnedList.PushTail(page)
	pager.pageTable[pager.numPages] = newLink
	pager.numPages++
	return page, nil
}

// GetPage returns an existing pinned Page corresponding to the given pagenum.
func (pager *Pager) GetPage(pagenum int64) (page *Page, err error) {
	var newLink *list.Link[*Page]
	pager.ptMtx.Lock()
	defer pager.ptMtx.Unlock()
	if pagenum < 0 || pagenum > pager.numPages-1 {
		return nil, errors.New("invalid pagenum")
	}
	link, ok := pager.pageTable[pagenum]
	if ok {
		page = link.GetValue()
		// Move the page to the pinned list if needed.
		if link.GetList() == pager.unpinnedList {
			link.PopSelf()
			newLink = pager.pinnedList.PushTail(page)
			pager.pageTable[pagenum] = newLink
		}
		page.Get()
		return page, nil
	}

	// Else, find a frame to hold the page.
	page, err = pager.newPage(pagenum)
	if err != nil {
		return nil, err
	}

	// Read the page in from disk.
	page.dirty = false
	err = pager.fillPageFromDisk(page)
	if err != nil {
		pager.freeList.PushTail(page)
		return nil, err
	}

	newLink = pager.pinnedList.PushTail(page)
	pager.pageTable[pagenum] = newLink
	return page, nil
}

// PutPage releases a reference to a page.
func (pager *Pager) PutPage(page *Page) (err error) {
	pager.ptMtx.Lock()
	defer pager.ptMtx.Unlock()
	ret := page.Put()
	// Check if we can unpin this page; if so, move from pinned to unpinned list.
	if ret == 0 {
		link := pager.pageTable[page.pagenum]
		link.PopSelf()
		newLink := pager.unpinnedList.PushTail(page)
		pager.pageTable[page.pagenum] = newLink
	}
	if ret < 0 {
		return errors.New("pin count for page is < 0")
	}
	return nil
}

// FlushPage flushes a particular page's data to disk if it is dirty.
func (pager *Pager) FlushPage(page *Page) {
	if page.IsDirty() {
		page.SetDirty(false)
		page.encodeHeader()
		pager.file.WriteAt(
			page.data,
			page.pagenum*Pagesize,
		)
	}
}

// FlushAllPages flushes all dirty pages to disk.
func (pager *Pager) FlushAllPages() {
	writer := func(link *list.Link[*Page]) {
		pager.FlushPage(link.GetValue())
	}
	pager.pinnedList.Map(writer)
	pager.unpinnedList.Map(writer)
}
