package index

import (
	"encoding/binary"
	"math"

	"nirdb/pkg/geometry"

	"github.com/cespare/xxhash"
	"github.com/spaolacci/murmur3"
)

// pointBytes serializes a point's coordinates for hashing. Bit-exact: two
// points hash equal iff they compare equal.
func pointBytes(p geometry.Point) []byte {
	buf := make([]byte, 8*geometry.Dimensions)
	for d := 0; d < geometry.Dimensions; d++ {
		binary.LittleEndian.PutUint64(buf[8*d:], math.Float64bits(p[d]))
	}
	return buf
}

// PointHash returns the xxHash of a point's coordinates.
func PointHash(p geometry.Point) uint64 {
	return xxhash.Sum64(pointBytes(p))
}

// MurmurPointHash returns the MurmurHash3 hash of a point's coordinates.
func MurmurPointHash(p geometry.Point) uint64 {
	return murmur3.Sum64(pointBytes(p))
}

// ChecksumPoints folds the points of an index into one order-independent
// value, so two trees holding the same multiset of points agree regardless
// of structure.
func ChecksumPoints(points []geometry.Point) uint64 {
	var sum uint64
	for _, p := range points {
		sum += PointHash(p)
	}
	return sum
}
