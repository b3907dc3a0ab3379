package geometry_test

import (
	"math/rand"
	"testing"

	"nirdb/pkg/geometry"
)

func TestRectangle(t *testing.T) {
	t.Run("AreaMargin", testAreaMargin)
	t.Run("ExpansionArea", testExpansionArea)
	t.Run("Containment", testContainment)
	t.Run("Intersection", testIntersection)
	t.Run("BorderOnlyIntersection", testBorderOnlyIntersection)
	t.Run("AlignedForMerging", testAlignedForMerging)
	t.Run("FragmentRoundTrip", testFragmentRoundTrip)
	t.Run("FragmentDisjoint", testFragmentDisjoint)
}

func TestPolygon(t *testing.T) {
	t.Run("ExpandContains", testExpandContains)
	t.Run("ExpandBoundingBox", testExpandBoundingBox)
	t.Run("BoundingBoxInvariant", testBoundingBoxInvariant)
	t.Run("IncreaseResolution", testIncreaseResolution)
	t.Run("Refine", testRefine)
	t.Run("Shrink", testShrink)
	t.Run("Limits", testLimits)
	t.Run("PolygonEquality", testPolygonEquality)
	t.Run("InlineEncodings", testInlineEncodings)
}

func testAreaMargin(t *testing.T) {
	r := geometry.NewRectangle(0, 0, 4, 3)
	if r.Area() != 12 {
		t.Errorf("Expected area 12, found %f", r.Area())
	}
	if r.Margin() != 7 {
		t.Errorf("Expected margin 7, found %f", r.Margin())
	}
}

func testExpansionArea(t *testing.T) {
	r := geometry.NewRectangle(0, 0, 10, 10)
	if got := r.ComputeExpansionArea(geometry.NewPoint(5, 5)); got != 0 {
		t.Errorf("Contained point should cost no expansion, found %f", got)
	}
	// Growing to (20, 10) doubles the area.
	if got := r.ComputeExpansionArea(geometry.NewPoint(20, 10)); got != 100 {
		t.Errorf("Expected expansion area 100, found %f", got)
	}
	expanded := r.CopyExpand(geometry.NewPoint(20, 20))
	if !expanded.ContainsPoint(geometry.NewPoint(20, 20)) {
		t.Error("CopyExpand result should contain the point")
	}
	if r != geometry.NewRectangle(0, 0, 10, 10) {
		t.Error("CopyExpand should not mutate the receiver")
	}
}

func testContainment(t *testing.T) {
	r := geometry.NewRectangle(0, 0, 10, 10)
	if !r.ContainsPoint(geometry.NewPoint(0, 10)) {
		t.Error("Borders should be contained")
	}
	if r.StrictContainsPoint(geometry.NewPoint(0, 10)) {
		t.Error("Borders should not be strictly contained")
	}
	if !r.ContainsRectangle(geometry.NewRectangle(2, 2, 8, 8)) {
		t.Error("Inner rectangle should be contained")
	}
	if r.ContainsRectangle(geometry.NewRectangle(2, 2, 11, 8)) {
		t.Error("Overhanging rectangle should not be contained")
	}
}

func testIntersection(t *testing.T) {
	a := geometry.NewRectangle(0, 0, 10, 10)
	b := geometry.NewRectangle(5, 5, 15, 15)
	if !a.IntersectsRectangle(b) || !b.IntersectsRectangle(a) {
		t.Error("Overlapping rectangles should intersect")
	}
	if got := a.ComputeIntersectionArea(b); got != 25 {
		t.Errorf("Expected intersection area 25, found %f", got)
	}
	clipped := a.Intersection(b)
	if clipped != geometry.NewRectangle(5, 5, 10, 10) {
		t.Errorf("Unexpected intersection %v", clipped)
	}
	c := geometry.NewRectangle(20, 20, 30, 30)
	if a.IntersectsRectangle(c) {
		t.Error("Disjoint rectangles should not intersect")
	}
	if a.Intersection(c).Exists() {
		t.Error("Intersection of disjoint rectangles should not exist")
	}
}

func testBorderOnlyIntersection(t *testing.T) {
	a := geometry.NewRectangle(0, 0, 10, 10)
	b := geometry.NewRectangle(10, 0, 20, 10)
	if !a.BorderOnlyIntersectsRectangle(b) {
		t.Error("Edge-sharing rectangles should intersect border-only")
	}
	c := geometry.NewRectangle(9, 0, 20, 10)
	if a.BorderOnlyIntersectsRectangle(c) {
		t.Error("Volume-sharing rectangles should not be border-only")
	}
}

func testAlignedForMerging(t *testing.T) {
	a := geometry.NewRectangle(0, 0, 10, 10)
	b := geometry.NewRectangle(10, 0, 20, 10)
	if !a.AlignedForMerging(b) {
		t.Error("Abutting rectangles with equal cross sections merge into one rectangle")
	}
	c := geometry.NewRectangle(10, 0, 20, 11)
	if a.AlignedForMerging(c) {
		t.Error("Mismatched cross sections cannot merge into one rectangle")
	}
	d := geometry.NewRectangle(11, 0, 20, 10)
	if a.AlignedForMerging(d) {
		t.Error("Separated rectangles cannot merge into one rectangle")
	}
}

/*
Fragmenting the 10x10 square by the central clip returns disjoint
rectangles whose union is exactly the square minus the clip.
*/
func testFragmentRoundTrip(t *testing.T) {
	square := geometry.NewRectangle(0, 0, 10, 10)
	clip := geometry.NewRectangle(3, 3, 7, 7)
	fragments := square.FragmentRectangle(clip)

	totalArea := 0.0
	for _, f := range fragments {
		totalArea += f.Area()
	}
	if want := square.Area() - clip.Area(); totalArea != want {
		t.Errorf("Expected fragment area %f, found %f", want, totalArea)
	}

	// Sample the square on a grid: points outside the clip are covered,
	// points strictly inside are not.
	for x := 0.5; x < 10; x++ {
		for y := 0.5; y < 10; y++ {
			p := geometry.NewPoint(x, y)
			covered := false
			for _, f := range fragments {
				if f.ContainsPoint(p) {
					covered = true
				}
			}
			if clip.StrictContainsPoint(p) && covered {
				t.Fatalf("Point %v inside the clip is covered by a fragment", p)
			}
			if !clip.ContainsPoint(p) && !covered {
				t.Fatalf("Point %v outside the clip is not covered", p)
			}
		}
	}
}

func testFragmentDisjoint(t *testing.T) {
	square := geometry.NewRectangle(0, 0, 10, 10)
	clip := geometry.NewRectangle(3, 3, 7, 7)
	fragments := square.FragmentRectangle(clip)
	for i := range fragments {
		for j := i + 1; j < len(fragments); j++ {
			if fragments[i].StrictIntersectsRectangle(fragments[j]) {
				t.Fatalf("Fragments %v and %v share volume", fragments[i], fragments[j])
			}
		}
	}
}

/*
Expanding a polygon to admit an outside point keeps the point contained
and grows the bounding box accordingly.
*/
func testExpandContains(t *testing.T) {
	poly := geometry.NewPolygon(geometry.NewRectangle(0, 0, 10, 10))
	p := geometry.NewPoint(20, 20)
	poly.Expand(p)
	if !poly.ContainsPoint(p) {
		t.Error("Polygon should contain the point it was expanded to")
	}
}

func testExpandBoundingBox(t *testing.T) {
	poly := geometry.NewPolygon(geometry.NewRectangle(0, 0, 10, 10))
	poly.Expand(geometry.NewPoint(20, 20))
	if poly.BoundingBox != geometry.NewRectangle(0, 0, 20, 20) {
		t.Errorf("Expected bounding box (0,0,20,20), found %v", poly.BoundingBox)
	}
}

/*
After any sequence of mutations, the cached bounding box equals the union
of the basic rectangles' bounding boxes.
*/
func testBoundingBoxInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	poly := geometry.NewPolygon(geometry.NewRectangle(0, 0, 10, 10))
	for i := 0; i < 100; i++ {
		p := geometry.NewPoint(rng.Float64()*100, rng.Float64()*100)
		switch i % 3 {
		case 0:
			poly.Expand(p)
		case 1:
			clip := geometry.Rectangle{
				LowerLeft:  p,
				UpperRight: geometry.NewPoint(p[0]+5, p[1]+5),
			}
			if !clip.ContainsPoint(poly.BasicRectangles[0].LowerLeft) {
				poly.IncreaseResolution(poly.BasicRectangles[0].LowerLeft, clip)
			}
		case 2:
			poly.Refine()
		}
		if !poly.Exists() {
			t.Fatal("Polygon should never become empty")
		}
		want := poly.BasicRectangles[0]
		for _, r := range poly.BasicRectangles[1:] {
			want.ExpandRect(r)
		}
		if poly.BoundingBox != want {
			t.Fatalf("Cached bounding box %v does not match computed %v", poly.BoundingBox, want)
		}
	}
}

/*
Carving a clip out of a polygon removes the clipped volume while keeping
the pinned point contained.
*/
func testIncreaseResolution(t *testing.T) {
	poly := geometry.NewPolygon(geometry.NewRectangle(0, 0, 10, 10))
	pinned := geometry.NewPoint(1, 1)
	clip := geometry.NewRectangle(5, 5, 15, 15)
	poly.IncreaseResolution(pinned, clip)

	if !poly.ContainsPoint(pinned) {
		t.Error("Pinned point must stay contained")
	}
	if poly.ContainsPoint(geometry.NewPoint(7, 7)) {
		t.Error("Clipped region should no longer be contained")
	}
	if poly.StrictIntersectsRectangle(clip) {
		t.Error("Polygon should share no volume with the clip")
	}
	if !poly.Valid() || !poly.Unique() {
		t.Error("Carving should preserve validity and uniqueness")
	}
}

/*
Refine merges basic rectangles whose union is one rectangle.
*/
func testRefine(t *testing.T) {
	poly := geometry.NewPolygon(geometry.NewRectangle(0, 0, 5, 10))
	other := geometry.NewPolygon(geometry.NewRectangle(5, 0, 10, 10))
	poly.Merge(&other)
	poly.Refine()
	if len(poly.BasicRectangles) != 1 {
		t.Fatalf("Expected one merged rectangle, found %d", len(poly.BasicRectangles))
	}
	if poly.BasicRectangles[0] != geometry.NewRectangle(0, 0, 10, 10) {
		t.Errorf("Unexpected merged rectangle %v", poly.BasicRectangles[0])
	}
}

func testShrink(t *testing.T) {
	poly := geometry.NewPolygon(geometry.NewRectangle(0, 0, 10, 10))
	other := geometry.NewPolygon(geometry.NewRectangle(20, 20, 30, 30))
	poly.Merge(&other)

	points := []geometry.Point{
		geometry.NewPoint(2, 3),
		geometry.NewPoint(4, 5),
	}
	poly.Shrink(points)
	if len(poly.BasicRectangles) != 1 {
		t.Fatalf("Expected the unoccupied rectangle to be dropped, found %d rectangles",
			len(poly.BasicRectangles))
	}
	if poly.BasicRectangles[0] != geometry.NewRectangle(2, 3, 4, 5) {
		t.Errorf("Expected tight bounding rectangle (2,3,4,5), found %v", poly.BasicRectangles[0])
	}
	for _, p := range points {
		if !poly.ContainsPoint(p) {
			t.Errorf("Shrunk polygon must contain pin point %v", p)
		}
	}
}

func testLimits(t *testing.T) {
	poly := geometry.NewPolygon(geometry.NewRectangle(0, 0, 10, 10))
	poly.MaxLimit(6, 0)
	if poly.BoundingBox != geometry.NewRectangle(0, 0, 6, 10) {
		t.Errorf("MaxLimit should clip at x=6, bounding box is %v", poly.BoundingBox)
	}
	poly.MinLimit(2, 1)
	if poly.BoundingBox != geometry.NewRectangle(0, 2, 6, 10) {
		t.Errorf("MinLimit should clip at y=2, bounding box is %v", poly.BoundingBox)
	}
}

func testPolygonEquality(t *testing.T) {
	a := geometry.NewPolygon(geometry.NewRectangle(0, 0, 5, 5))
	second := geometry.NewPolygon(geometry.NewRectangle(6, 6, 9, 9))
	a.Merge(&second)

	b := geometry.NewPolygon(geometry.NewRectangle(6, 6, 9, 9))
	first := geometry.NewPolygon(geometry.NewRectangle(0, 0, 5, 5))
	b.Merge(&first)

	if !a.Equal(&b) {
		t.Error("Polygon equality must ignore basic rectangle order")
	}
}

/*
Both physical encodings round-trip through the working form.
*/
func testInlineEncodings(t *testing.T) {
	poly := geometry.NewPolygon(geometry.NewRectangle(0, 0, 5, 5))
	second := geometry.NewPolygon(geometry.NewRectangle(6, 0, 9, 5))
	poly.Merge(&second)

	var inline geometry.InlineBoundedPolygon
	if !inline.SetPolygon(&poly) {
		t.Fatal("Two rectangles should fit the inline encoding")
	}
	got := inline.Polygon()
	if !got.Equal(&poly) {
		t.Error("Inline encoding round trip changed the polygon")
	}
	if !inline.ContainsPoint(geometry.NewPoint(7, 3)) {
		t.Error("Inline encoding lost containment")
	}

	big := geometry.NewPolygon(geometry.NewRectangle(0, 0, 1, 1))
	for i := 1; i <= geometry.MaxRectangleCount; i++ {
		next := geometry.NewPolygon(geometry.NewRectangle(float64(2*i), 0, float64(2*i+1), 1))
		big.Merge(&next)
	}
	if inline.SetPolygon(&big) {
		t.Error("Inline encoding should reject polygons beyond its capacity")
	}
}
