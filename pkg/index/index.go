// Package index defines the contract both spatial indices present to
// callers, together with the point hashing used for checksums and the
// query-cache decorator.
package index

import "nirdb/pkg/geometry"

// Index is the interface implemented by both tree variants.
type Index interface {
	// Insert adds a point to the index.
	Insert(p geometry.Point) error

	// Remove deletes one occurrence of the point from the index. Removing a
	// point that is not present is not an error and leaves the index
	// unchanged.
	Remove(p geometry.Point) error

	// Search returns every indexed point equal to the query point.
	Search(p geometry.Point) ([]geometry.Point, error)

	// SearchRectangle returns every indexed point contained in the query
	// rectangle, borders included.
	SearchRectangle(r geometry.Rectangle) ([]geometry.Point, error)

	// ExhaustiveSearch returns every indexed point equal to the query point
	// by walking the whole tree, ignoring all region descriptors. It is the
	// reference oracle for Search.
	ExhaustiveSearch(p geometry.Point) ([]geometry.Point, error)

	// Checksum returns an order-independent hash over every indexed point.
	Checksum() (uint64, error)

	// Validate checks the tree's structural invariants.
	Validate() bool

	// WriteMetadata flushes all dirty pages and rewrites the root-handle
	// sidecar, making the on-disk state reopenable.
	WriteMetadata() error

	// Close checkpoints the index and closes the backing file.
	Close() error

	// GetName returns the base name of the index's backing file.
	GetName() string
}
