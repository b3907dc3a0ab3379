package index

import (
	"github.com/dgraph-io/ristretto/v2"

	"nirdb/pkg/geometry"
)

// CachedIndex decorates an Index with a read-through cache of point-query
// results. Any mutation clears the cache; the underlying index stays the
// single source of truth.
type CachedIndex struct {
	inner Index
	cache *ristretto.Cache[uint64, []geometry.Point]
}

// NewCachedIndex wraps the given index with a cache holding up to maxEntries
// point-query results.
func NewCachedIndex(inner Index, maxEntries int64) (*CachedIndex, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[uint64, []geometry.Point]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedIndex{inner: inner, cache: cache}, nil
}

// Insert adds a point and invalidates cached results.
func (ci *CachedIndex) Insert(p geometry.Point) error {
	ci.cache.Clear()
	return ci.inner.Insert(p)
}

// Remove deletes a point and invalidates cached results.
func (ci *CachedIndex) Remove(p geometry.Point) error {
	ci.cache.Clear()
	return ci.inner.Remove(p)
}

// Search returns the cached result for the point when present, querying the
// underlying index otherwise.
func (ci *CachedIndex) Search(p geometry.Point) ([]geometry.Point, error) {
	key := PointHash(p)
	if hit, ok := ci.cache.Get(key); ok {
		return hit, nil
	}
	result, err := ci.inner.Search(p)
	if err != nil {
		return nil, err
	}
	ci.cache.Set(key, result, 1)
	return result, nil
}

// Wait blocks until pending cache writes are applied. Useful in tests.
func (ci *CachedIndex) Wait() {
	ci.cache.Wait()
}

// SearchRectangle delegates to the underlying index; rectangle results are
// not cached.
func (ci *CachedIndex) SearchRectangle(r geometry.Rectangle) ([]geometry.Point, error) {
	return ci.inner.SearchRectangle(r)
}

// ExhaustiveSearch delegates to the underlying index.
func (ci *CachedIndex) ExhaustiveSearch(p geometry.Point) ([]geometry.Point, error) {
	return ci.inner.ExhaustiveSearch(p)
}

// Checksum delegates to the underlying index.
func (ci *CachedIndex) Checksum() (uint64, error) {
	return ci.inner.Checksum()
}

// Validate delegates to the underlying index.
func (ci *CachedIndex) Validate() bool {
	return ci.inner.Validate()
}

// WriteMetadata delegates to the underlying index.
func (ci *CachedIndex) WriteMetadata() error {
	return ci.inner.WriteMetadata()
}

// Close shuts the cache down and closes the underlying index.
func (ci *CachedIndex) Close() error {
	ci.cache.Close()
	return ci.inner.Close()
}

// GetName delegates to the underlying index.
func (ci *CachedIndex) GetName() string {
	return ci.inner.GetName()
}
