// Package testutils holds helpers shared by the package tests.
package testutils

import (
	"os"
	"sort"
	"testing"

	"nirdb/pkg/config"
	"nirdb/pkg/geometry"
)

// GetTempDbFile creates a random file to back an index under test, returning
// its name. The file and its sidecars are deleted when the test ends.
func GetTempDbFile(t *testing.T) string {
	tmpfile, err := os.CreateTemp("", "*.db")
	if err != nil {
		t.Fatal(err)
	}

	// Since os.CreateTemp automatically opens the file, we need to close it
	_ = tmpfile.Close()

	EnsureCleanup(t, func() {
		_ = os.Remove(tmpfile.Name())
		_ = os.Remove(tmpfile.Name() + config.MetaSuffix)
		_ = os.Remove(tmpfile.Name() + config.JournalSuffix)
	})
	return tmpfile.Name()
}

// EnsureCleanup queues a cleanup function to run when the test ends.
func EnsureCleanup(t *testing.T, cleanup func()) {
	t.Cleanup(cleanup)
}

// SortPoints orders points lexicographically so result sets can be compared.
func SortPoints(points []geometry.Point) {
	sort.Slice(points, func(i, j int) bool {
		return points[i].Less(points[j])
	})
}

// SamePoints reports whether two result sets hold the same multiset of
// points.
func SamePoints(a, b []geometry.Point) bool {
	if len(a) != len(b) {
		return false
	}
	ac := append([]geometry.Point(nil), a...)
	bc := append([]geometry.Point(nil), b...)
	SortPoints(ac)
	SortPoints(bc)
	for i := range ac {
		if ac[i] != bc[i] {
			return false
		}
	}
	return true
}
