package geometry

import (
	"fmt"
	"sort"
)

// MaxRectangleCount is the basic rectangle capacity of the inline bounded
// polygon encoding. Polygons that outgrow it move to a page-resident
// unbounded encoding.
const MaxRectangleCount = 5

// OptimalExpansion records which basic rectangle a polygon should grow to
// admit a point, and at what area cost. The decision is taken once by
// ComputeExpansionArea and consumed by Expand.
type OptimalExpansion struct {
	Index int
	Area  float64
}

// IsotheticPolygon is a finite union of axis-aligned basic rectangles with a
// cached bounding box. This is the working form of the polygon algebra; the
// inline encodings convert through it.
type IsotheticPolygon struct {
	BoundingBox     Rectangle
	BasicRectangles []Rectangle
}

// NewPolygon builds a polygon from a single base rectangle.
func NewPolygon(base Rectangle) IsotheticPolygon {
	return IsotheticPolygon{
		BoundingBox:     base,
		BasicRectangles: []Rectangle{base},
	}
}

// Clone returns a deep copy of the polygon.
func (poly *IsotheticPolygon) Clone() IsotheticPolygon {
	out := IsotheticPolygon{BoundingBox: poly.BoundingBox}
	out.BasicRectangles = append(out.BasicRectangles, poly.BasicRectangles...)
	return out
}

// RecomputeBoundingBox refreshes the cached bounding box from the basic
// rectangles. Every mutating operation ends with this.
func (poly *IsotheticPolygon) RecomputeBoundingBox() {
	if len(poly.BasicRectangles) == 0 {
		poly.BoundingBox = Rectangle{AtInfinity, AtNegInfinity}
		return
	}
	bb := poly.BasicRectangles[0]
	for _, r := range poly.BasicRectangles[1:] {
		bb.ExpandRect(r)
	}
	poly.BoundingBox = bb
}

// Area returns the summed volume of the basic rectangles. The result is the
// polygon's volume whenever the basic rectangles are disjoint.
func (poly *IsotheticPolygon) Area() float64 {
	area := 0.0
	for _, r := range poly.BasicRectangles {
		area += r.Area()
	}
	return area
}

// ComputeIntersectionArea returns the summed volume shared with the given
// rectangle.
func (poly *IsotheticPolygon) ComputeIntersectionArea(rect Rectangle) float64 {
	area := 0.0
	for _, r := range poly.BasicRectangles {
		area += r.ComputeIntersectionArea(rect)
	}
	return area
}

// ComputeExpansionArea returns the basic rectangle whose expansion to admit
// the point costs the least area, breaking ties on expansion margin and then
// on index.
func (poly *IsotheticPolygon) ComputeExpansionArea(p Point) OptimalExpansion {
	best := OptimalExpansion{Index: -1, Area: 0}
	bestMargin := 0.0
	for i, r := range poly.BasicRectangles {
		area := r.ComputeExpansionArea(p)
		margin := r.ComputeExpansionMargin(p)
		if best.Index == -1 || area < best.Area || (area == best.Area && margin < bestMargin) {
			best = OptimalExpansion{Index: i, Area: area}
			bestMargin = margin
		}
	}
	return best
}

// Expand grows the polygon to contain the point, using the optimal basic
// rectangle.
func (poly *IsotheticPolygon) Expand(p Point) {
	poly.ExpandWith(p, poly.ComputeExpansionArea(p))
}

// ExpandWith grows the polygon to contain the point using a previously
// computed expansion decision.
func (poly *IsotheticPolygon) ExpandWith(p Point, expansion OptimalExpansion) {
	if expansion.Index < 0 {
		poly.BasicRectangles = append(poly.BasicRectangles, Rectangle{p, p})
	} else {
		poly.BasicRectangles[expansion.Index].Expand(p)
	}
	poly.RecomputeBoundingBox()
}

// ContainsPoint reports whether any basic rectangle contains the point.
func (poly *IsotheticPolygon) ContainsPoint(p Point) bool {
	if !poly.BoundingBox.ContainsPoint(p) {
		return false
	}
	for _, r := range poly.BasicRectangles {
		if r.ContainsPoint(p) {
			return true
		}
	}
	return false
}

// IntersectsRectangle reports whether any basic rectangle intersects the
// given rectangle, borders included.
func (poly *IsotheticPolygon) IntersectsRectangle(rect Rectangle) bool {
	if !poly.BoundingBox.IntersectsRectangle(rect) {
		return false
	}
	for _, r := range poly.BasicRectangles {
		if r.IntersectsRectangle(rect) {
			return true
		}
	}
	return false
}

// StrictIntersectsRectangle reports whether any basic rectangle shares
// non-zero volume with the given rectangle.
func (poly *IsotheticPolygon) StrictIntersectsRectangle(rect Rectangle) bool {
	if !poly.BoundingBox.IntersectsRectangle(rect) {
		return false
	}
	for _, r := range poly.BasicRectangles {
		if r.StrictIntersectsRectangle(rect) {
			return true
		}
	}
	return false
}

// BorderOnlyIntersectsRectangle reports whether the polygon meets the given
// rectangle in a zero-volume boundary region only.
func (poly *IsotheticPolygon) BorderOnlyIntersectsRectangle(rect Rectangle) bool {
	return poly.IntersectsRectangle(rect) && !poly.StrictIntersectsRectangle(rect)
}

// IntersectsPolygon reports whether the two polygons share any point.
func (poly *IsotheticPolygon) IntersectsPolygon(other *IsotheticPolygon) bool {
	if !poly.BoundingBox.IntersectsRectangle(other.BoundingBox) {
		return false
	}
	for _, r := range other.BasicRectangles {
		if poly.IntersectsRectangle(r) {
			return true
		}
	}
	return false
}

// StrictIntersectsPolygon reports whether the two polygons share non-zero
// volume.
func (poly *IsotheticPolygon) StrictIntersectsPolygon(other *IsotheticPolygon) bool {
	if !poly.BoundingBox.IntersectsRectangle(other.BoundingBox) {
		return false
	}
	for _, r := range other.BasicRectangles {
		if poly.StrictIntersectsRectangle(r) {
			return true
		}
	}
	return false
}

// Disjoint reports whether the polygons share no point at all.
func (poly *IsotheticPolygon) Disjoint(other *IsotheticPolygon) bool {
	return !poly.IntersectsPolygon(other)
}

// IntersectionRect returns the pieces of the polygon that lie within the
// given rectangle.
func (poly *IsotheticPolygon) IntersectionRect(rect Rectangle) []Rectangle {
	pieces := make([]Rectangle, 0, len(poly.BasicRectangles))
	for _, r := range poly.BasicRectangles {
		piece := r.Intersection(rect)
		if piece.Exists() {
			pieces = append(pieces, piece)
		}
	}
	return pieces
}

// Intersection replaces the polygon with its geometric intersection with the
// constraint polygon. The basic rectangle count may grow.
func (poly *IsotheticPolygon) Intersection(constraint *IsotheticPolygon) {
	pieces := make([]Rectangle, 0, len(poly.BasicRectangles))
	for _, c := range constraint.BasicRectangles {
		pieces = append(pieces, poly.IntersectionRect(c)...)
	}
	poly.BasicRectangles = pieces
	poly.Deduplicate()
	poly.RecomputeBoundingBox()
}

// IncreaseResolution carves the clipping rectangle out of the polygon while
// preserving containment of the given point. Basic rectangles that intersect
// the clip are replaced by their fragments; fragments are kept when they
// contain the point or share no volume with the clip.
func (poly *IsotheticPolygon) IncreaseResolution(p Point, clip Rectangle) {
	kept := make([]Rectangle, 0, len(poly.BasicRectangles))
	for _, r := range poly.BasicRectangles {
		if !r.IntersectsRectangle(clip) {
			kept = append(kept, r)
			continue
		}
		for _, fragment := range r.FragmentRectangle(clip) {
			if fragment.ContainsPoint(p) || !fragment.StrictIntersectsRectangle(clip) {
				kept = append(kept, fragment)
			}
		}
	}
	poly.BasicRectangles = kept
	poly.Deduplicate()
	poly.Refine()
	poly.RecomputeBoundingBox()
}

// IncreaseResolutionPolygon carves every basic rectangle of the clipping
// polygon out of this polygon.
func (poly *IsotheticPolygon) IncreaseResolutionPolygon(p Point, clip *IsotheticPolygon) {
	for _, c := range clip.BasicRectangles {
		poly.IncreaseResolution(p, c)
	}
}

// MaxLimit clips the polygon to the half-space x_d <= limit.
func (poly *IsotheticPolygon) MaxLimit(limit float64, d int) {
	kept := poly.BasicRectangles[:0]
	for _, r := range poly.BasicRectangles {
		if r.LowerLeft[d] > limit {
			continue
		}
		if r.UpperRight[d] > limit {
			r.UpperRight[d] = limit
		}
		kept = append(kept, r)
	}
	poly.BasicRectangles = kept
	poly.RecomputeBoundingBox()
}

// MinLimit clips the polygon to the half-space x_d >= limit.
func (poly *IsotheticPolygon) MinLimit(limit float64, d int) {
	kept := poly.BasicRectangles[:0]
	for _, r := range poly.BasicRectangles {
		if r.UpperRight[d] < limit {
			continue
		}
		if r.LowerLeft[d] < limit {
			r.LowerLeft[d] = limit
		}
		kept = append(kept, r)
	}
	poly.BasicRectangles = kept
	poly.RecomputeBoundingBox()
}

// Merge takes the set union of the basic rectangles of both polygons.
func (poly *IsotheticPolygon) Merge(other *IsotheticPolygon) {
	poly.BasicRectangles = append(poly.BasicRectangles, other.BasicRectangles...)
	poly.RecomputeBoundingBox()
}

// Remove deletes the basic rectangle at the given index.
func (poly *IsotheticPolygon) Remove(index int) {
	poly.BasicRectangles = append(poly.BasicRectangles[:index], poly.BasicRectangles[index+1:]...)
	poly.RecomputeBoundingBox()
}

// Shrink replaces each basic rectangle with the tight bounding rectangle of
// the pin points it contains, dropping rectangles that contain none.
func (poly *IsotheticPolygon) Shrink(pinPoints []Point) {
	if len(pinPoints) == 0 || len(poly.BasicRectangles) == 0 {
		return
	}
	shrunk := make([]Rectangle, 0, len(poly.BasicRectangles))
	for _, r := range poly.BasicRectangles {
		tight := Rectangle{AtInfinity, AtNegInfinity}
		occupied := false
		for _, p := range pinPoints {
			if r.ContainsPoint(p) {
				tight.Expand(p)
				occupied = true
			}
		}
		if occupied {
			shrunk = append(shrunk, tight)
		}
	}
	poly.BasicRectangles = shrunk
	poly.RecomputeBoundingBox()
}

// Deduplicate removes identical basic rectangles.
func (poly *IsotheticPolygon) Deduplicate() {
	kept := poly.BasicRectangles[:0]
	for _, r := range poly.BasicRectangles {
		duplicate := false
		for _, seen := range kept {
			if seen == r {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, r)
		}
	}
	poly.BasicRectangles = kept
}

// Refine repeatedly merges pairs of basic rectangles whose union is itself a
// rectangle until no such pair remains.
func (poly *IsotheticPolygon) Refine() {
	merged := true
	for merged {
		merged = false
		for i := 0; i < len(poly.BasicRectangles) && !merged; i++ {
			for j := i + 1; j < len(poly.BasicRectangles); j++ {
				if poly.BasicRectangles[i].AlignedForMerging(poly.BasicRectangles[j]) {
					poly.BasicRectangles[i].ExpandRect(poly.BasicRectangles[j])
					poly.BasicRectangles = append(poly.BasicRectangles[:j], poly.BasicRectangles[j+1:]...)
					merged = true
					break
				}
			}
		}
	}
	poly.RecomputeBoundingBox()
}

// Exists reports whether the polygon has any basic rectangles.
func (poly *IsotheticPolygon) Exists() bool {
	return len(poly.BasicRectangles) > 0
}

// Valid reports whether every basic rectangle is itself valid.
func (poly *IsotheticPolygon) Valid() bool {
	for _, r := range poly.BasicRectangles {
		if !r.Exists() {
			return false
		}
	}
	return true
}

// Unique reports whether no two basic rectangles are identical.
func (poly *IsotheticPolygon) Unique() bool {
	for i := range poly.BasicRectangles {
		for j := i + 1; j < len(poly.BasicRectangles); j++ {
			if poly.BasicRectangles[i] == poly.BasicRectangles[j] {
				return false
			}
		}
	}
	return true
}

// LineFree reports whether no basic rectangle has zero volume.
func (poly *IsotheticPolygon) LineFree() bool {
	for _, r := range poly.BasicRectangles {
		if r.Area() == 0.0 {
			return false
		}
	}
	return true
}

// InfFree reports whether no basic rectangle touches an infinity sentinel.
func (poly *IsotheticPolygon) InfFree() bool {
	for _, r := range poly.BasicRectangles {
		for d := 0; d < Dimensions; d++ {
			if r.LowerLeft[d] == AtInfinity[d] || r.LowerLeft[d] == AtNegInfinity[d] ||
				r.UpperRight[d] == AtInfinity[d] || r.UpperRight[d] == AtNegInfinity[d] {
				return false
			}
		}
	}
	return true
}

// Equal compares polygons as sets of basic rectangles, ignoring order.
func (poly *IsotheticPolygon) Equal(other *IsotheticPolygon) bool {
	if len(poly.BasicRectangles) != len(other.BasicRectangles) {
		return false
	}
	a := append([]Rectangle(nil), poly.BasicRectangles...)
	b := append([]Rectangle(nil), other.BasicRectangles...)
	order := func(rects []Rectangle) {
		sort.Slice(rects, func(i, j int) bool {
			if rects[i].LowerLeft != rects[j].LowerLeft {
				return rects[i].LowerLeft.Less(rects[j].LowerLeft)
			}
			return rects[i].UpperRight.Less(rects[j].UpperRight)
		})
	}
	order(a)
	order(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (poly *IsotheticPolygon) String() string {
	return fmt.Sprintf("{bb: %v, rects: %v}", poly.BoundingBox, poly.BasicRectangles)
}
