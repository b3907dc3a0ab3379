package rstar_test

import (
	"math/rand"
	"testing"

	"nirdb/pkg/geometry"
	"nirdb/pkg/pager"
	"nirdb/pkg/rstar"
	"nirdb/pkg/testutils"
)

const testBudget = 64 * pager.Pagesize

func setupTree(t *testing.T) (*rstar.RStarTree, string) {
	t.Parallel()
	dbname := testutils.GetTempDbFile(t)
	tree, err := rstar.New(testBudget, dbname)
	if err != nil {
		t.Fatal("Failed to open tree:", err)
	}
	return tree, dbname
}

func randomPoints(seed int64, n int) []geometry.Point {
	rng := rand.New(rand.NewSource(seed))
	points := make([]geometry.Point, n)
	for i := range points {
		points[i] = geometry.NewPoint(rng.Float64()*1000, rng.Float64()*1000)
	}
	return points
}

func insertAll(t *testing.T, tree *rstar.RStarTree, points []geometry.Point) {
	for _, p := range points {
		if err := tree.Insert(p); err != nil {
			t.Fatalf("Failed to insert %v: %s", p, err)
		}
	}
}

func TestRStarTree(t *testing.T) {
	t.Run("SearchOracle", testSearchOracle)
	t.Run("RangeQueries", testRangeQueries)
	t.Run("Duplicates", testDuplicates)
	t.Run("Remove", testRemove)
	t.Run("ChecksumInsertRemove", testChecksumInsertRemove)
	t.Run("Validate", testValidate)
	t.Run("Persistence", testPersistence)
}

/*
For every inserted point and a sample of absent points, Search agrees with
the exhaustive oracle.
*/
func testSearchOracle(t *testing.T) {
	tree, _ := setupTree(t)
	defer tree.Close()
	points := randomPoints(1, 500)
	insertAll(t, tree, points)

	for _, p := range points {
		got, err := tree.Search(p)
		if err != nil {
			t.Fatal(err)
		}
		want, err := tree.ExhaustiveSearch(p)
		if err != nil {
			t.Fatal(err)
		}
		if !testutils.SamePoints(got, want) {
			t.Fatalf("Search(%v) = %v, oracle found %v", p, got, want)
		}
		if len(want) == 0 {
			t.Fatalf("Oracle lost inserted point %v", p)
		}
	}

	for _, p := range randomPoints(2, 50) {
		got, err := tree.Search(p)
		if err != nil {
			t.Fatal(err)
		}
		want, err := tree.ExhaustiveSearch(p)
		if err != nil {
			t.Fatal(err)
		}
		if !testutils.SamePoints(got, want) {
			t.Fatalf("Search(%v) = %v, oracle found %v", p, got, want)
		}
	}
}

/*
Rectangle queries return exactly the points a brute-force filter keeps.
*/
func testRangeQueries(t *testing.T) {
	tree, _ := setupTree(t)
	defer tree.Close()
	points := randomPoints(3, 400)
	insertAll(t, tree, points)

	rng := rand.New(rand.NewSource(4))
	for i := 0; i < 25; i++ {
		ll := geometry.NewPoint(rng.Float64()*900, rng.Float64()*900)
		query := geometry.Rectangle{
			LowerLeft:  ll,
			UpperRight: geometry.NewPoint(ll[0]+rng.Float64()*200, ll[1]+rng.Float64()*200),
		}
		got, err := tree.SearchRectangle(query)
		if err != nil {
			t.Fatal(err)
		}
		want := []geometry.Point{}
		for _, p := range points {
			if query.ContainsPoint(p) {
				want = append(want, p)
			}
		}
		if !testutils.SamePoints(got, want) {
			t.Fatalf("SearchRectangle(%v) returned %d points, expected %d", query, len(got), len(want))
		}
	}
}

/*
Duplicate insertions are all stored and all returned.
*/
func testDuplicates(t *testing.T) {
	tree, _ := setupTree(t)
	defer tree.Close()
	p := geometry.NewPoint(42, 42)
	for i := 0; i < 3; i++ {
		if err := tree.Insert(p); err != nil {
			t.Fatal(err)
		}
	}
	insertAll(t, tree, randomPoints(5, 100))

	got, err := tree.Search(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 copies of %v, found %d", p, len(got))
	}
}

/*
Removing half the points leaves the other half searchable and the removed
half gone.
*/
func testRemove(t *testing.T) {
	tree, _ := setupTree(t)
	defer tree.Close()
	points := randomPoints(6, 300)
	insertAll(t, tree, points)

	removed := points[:150]
	kept := points[150:]
	for _, p := range removed {
		if err := tree.Remove(p); err != nil {
			t.Fatalf("Failed to remove %v: %s", p, err)
		}
	}

	for _, p := range removed {
		got, err := tree.Search(p)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Fatalf("Removed point %v still found", p)
		}
	}
	for _, p := range kept {
		got, err := tree.Search(p)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) == 0 {
			t.Fatalf("Kept point %v lost after removals", p)
		}
	}
	if !tree.Validate() {
		t.Error("Tree invalid after removals")
	}
}

/*
Inserting then removing an absent point leaves the checksum unchanged.
*/
func testChecksumInsertRemove(t *testing.T) {
	tree, _ := setupTree(t)
	defer tree.Close()
	insertAll(t, tree, randomPoints(7, 200))

	before, err := tree.Checksum()
	if err != nil {
		t.Fatal(err)
	}
	p := geometry.NewPoint(-17, 2000)
	if err := tree.Insert(p); err != nil {
		t.Fatal(err)
	}
	if err := tree.Remove(p); err != nil {
		t.Fatal(err)
	}
	after, err := tree.Checksum()
	if err != nil {
		t.Fatal(err)
	}
	if before != after {
		t.Errorf("Checksum changed from %d to %d", before, after)
	}
}

func testValidate(t *testing.T) {
	tree, _ := setupTree(t)
	defer tree.Close()
	insertAll(t, tree, randomPoints(8, 500))
	if !tree.Validate() {
		t.Error("Tree invalid after inserts")
	}
}

/*
Closing the tree and reopening the same backing file yields identical
search results.
*/
func testPersistence(t *testing.T) {
	tree, dbname := setupTree(t)
	points := randomPoints(9, 300)
	insertAll(t, tree, points)
	sumBefore, err := tree.Checksum()
	if err != nil {
		t.Fatal(err)
	}
	if err := tree.Close(); err != nil {
		t.Fatal("Failed to close tree:", err)
	}

	reopened, err := rstar.New(testBudget, dbname)
	if err != nil {
		t.Fatal("Failed to reopen tree:", err)
	}
	defer reopened.Close()

	sumAfter, err := reopened.Checksum()
	if err != nil {
		t.Fatal(err)
	}
	if sumBefore != sumAfter {
		t.Fatalf("Checksum changed across reopen: %d != %d", sumBefore, sumAfter)
	}
	for _, p := range points[:50] {
		got, err := reopened.Search(p)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) == 0 {
			t.Fatalf("Point %v lost across reopen", p)
		}
	}
	if !reopened.Validate() {
		t.Error("Reopened tree invalid")
	}
}
