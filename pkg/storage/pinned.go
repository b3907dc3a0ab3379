package storage

import (
	"unsafe"

	"nirdb/pkg/pager"
)

// Pinned is a typed, scope-bound reference into a slot that keeps the slot's
// page pinned, and therefore resident, for as long as it is held. Acquiring
// one pins the page; Release unpins it. Go has no destructors, so the release
// is explicit: callers pair every acquisition with a Release, often deferred. No
// code may read or mutate a slot's bytes except through a live Pinned.
type Pinned[T any] struct {
	pool *pager.Pager
	obj  *T
	page *pager.Page
}

// newPinned wraps an already-pinned page. The pin acquired from the pager is
// transferred to the returned handle.
func newPinned[T any](pool *pager.Pager, obj *T, page *pager.Page) Pinned[T] {
	return Pinned[T]{pool: pool, obj: obj, page: page}
}

// IsNil reports whether the handle references nothing.
func (p Pinned[T]) IsNil() bool {
	return p.obj == nil
}

// Deref returns the typed view onto the slot. Only valid before Release.
func (p Pinned[T]) Deref() *T {
	return p.obj
}

// Page returns the pinned page frame.
func (p Pinned[T]) Page() *pager.Page {
	return p.page
}

// MarkDirty records that the slot's bytes have been mutated so the page is
// flushed before its frame is reused.
func (p Pinned[T]) MarkDirty() {
	p.page.SetDirty(true)
}

// Clone takes an additional pin on the same slot. Both handles must be
// released independently.
func (p Pinned[T]) Clone() Pinned[T] {
	if p.page != nil {
		p.page.Get()
	}
	return p
}

// Release drops the pin. The typed view must not be used afterwards.
func (p *Pinned[T]) Release() {
	if p.page == nil {
		return
	}
	p.pool.PutPage(p.page)
	p.obj = nil
	p.page = nil
}

// ReinterpretPinned returns a view of the same slot as a different static
// type, taking its own pin on the page. The source handle remains valid.
func ReinterpretPinned[U any, T any](p Pinned[T]) Pinned[U] {
	if p.page != nil {
		p.page.Get()
	}
	return Pinned[U]{pool: p.pool, obj: (*U)(unsafe.Pointer(p.obj)), page: p.page}
}
