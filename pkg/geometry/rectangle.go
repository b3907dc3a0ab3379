package geometry

import "fmt"

// Rectangle is an axis-aligned box given by its lower-left and upper-right
// corners, with LowerLeft[d] <= UpperRight[d] in every dimension.
type Rectangle struct {
	LowerLeft  Point
	UpperRight Point
}

// Sentinel rectangles.
var (
	RectAtInfinity    = Rectangle{AtInfinity, AtInfinity}
	RectAtNegInfinity = Rectangle{AtNegInfinity, AtNegInfinity}
	RectAtOrigin      = Rectangle{AtOrigin, AtOrigin}
)

// NewRectangle builds a two-dimensional rectangle from corner coordinates.
func NewRectangle(x, y, xp, yp float64) Rectangle {
	return Rectangle{NewPoint(x, y), NewPoint(xp, yp)}
}

// Exists reports whether the rectangle is non-degenerate as an interval
// product, i.e. LowerLeft <= UpperRight everywhere.
func (r Rectangle) Exists() bool {
	return r.LowerLeft.allBelowEq(r.UpperRight)
}

// Area returns the volume of the rectangle.
func (r Rectangle) Area() float64 {
	area := 1.0
	for d := 0; d < Dimensions; d++ {
		area *= r.UpperRight[d] - r.LowerLeft[d]
	}
	return area
}

// Margin returns the sum of the rectangle's side lengths.
func (r Rectangle) Margin() float64 {
	margin := 0.0
	for d := 0; d < Dimensions; d++ {
		margin += r.UpperRight[d] - r.LowerLeft[d]
	}
	return margin
}

// ComputeIntersectionArea returns the volume shared with the given rectangle.
func (r Rectangle) ComputeIntersectionArea(other Rectangle) float64 {
	area := 1.0
	for d := 0; d < Dimensions; d++ {
		low := r.LowerLeft[d]
		if other.LowerLeft[d] > low {
			low = other.LowerLeft[d]
		}
		high := r.UpperRight[d]
		if other.UpperRight[d] < high {
			high = other.UpperRight[d]
		}
		if high <= low {
			return 0.0
		}
		area *= high - low
	}
	return area
}

// ComputeExpansionArea returns the increase in area required to contain the
// given point.
func (r Rectangle) ComputeExpansionArea(p Point) float64 {
	return r.CopyExpand(p).Area() - r.Area()
}

// ComputeExpansionMargin returns the increase in margin required to contain
// the given point.
func (r Rectangle) ComputeExpansionMargin(p Point) float64 {
	return r.CopyExpand(p).Margin() - r.Margin()
}

// ComputeExpansionAreaRect returns the increase in area required to contain
// the given rectangle.
func (r Rectangle) ComputeExpansionAreaRect(other Rectangle) float64 {
	expanded := r
	expanded.ExpandRect(other)
	return expanded.Area() - r.Area()
}

// Expand grows the rectangle in place to contain the given point.
func (r *Rectangle) Expand(p Point) {
	r.LowerLeft = coordMin(r.LowerLeft, p)
	r.UpperRight = coordMax(r.UpperRight, p)
}

// ExpandRect grows the rectangle in place to contain the given rectangle.
func (r *Rectangle) ExpandRect(other Rectangle) {
	r.LowerLeft = coordMin(r.LowerLeft, other.LowerLeft)
	r.UpperRight = coordMax(r.UpperRight, other.UpperRight)
}

// CopyExpand returns a copy grown to contain the given point.
func (r Rectangle) CopyExpand(p Point) Rectangle {
	out := r
	out.Expand(p)
	return out
}

// AlignedForMerging reports whether the union of the two rectangles is itself
// a rectangle: their interval bounds agree in all dimensions but at most one,
// and in that dimension the intervals touch or overlap.
func (r Rectangle) AlignedForMerging(other Rectangle) bool {
	differing := -1
	for d := 0; d < Dimensions; d++ {
		if r.LowerLeft[d] != other.LowerLeft[d] || r.UpperRight[d] != other.UpperRight[d] {
			if differing != -1 {
				return false
			}
			differing = d
		}
	}
	if differing == -1 {
		// Identical rectangles.
		return true
	}
	d := differing
	return r.UpperRight[d] >= other.LowerLeft[d] && other.UpperRight[d] >= r.LowerLeft[d]
}

// AlignedOpposingBorders reports whether the rectangles abut: some
// dimension has one's upper border equal to the other's lower border.
func (r Rectangle) AlignedOpposingBorders(other Rectangle) bool {
	for d := 0; d < Dimensions; d++ {
		if r.UpperRight[d] == other.LowerLeft[d] || other.UpperRight[d] == r.LowerLeft[d] {
			return true
		}
	}
	return false
}

// IntersectsRectangle reports whether the two rectangles share any point,
// borders included.
func (r Rectangle) IntersectsRectangle(other Rectangle) bool {
	for d := 0; d < Dimensions; d++ {
		if r.LowerLeft[d] > other.UpperRight[d] || other.LowerLeft[d] > r.UpperRight[d] {
			return false
		}
	}
	return true
}

// StrictIntersectsRectangle reports whether the two rectangles share a region
// of non-zero volume.
func (r Rectangle) StrictIntersectsRectangle(other Rectangle) bool {
	for d := 0; d < Dimensions; d++ {
		if r.LowerLeft[d] >= other.UpperRight[d] || other.LowerLeft[d] >= r.UpperRight[d] {
			return false
		}
	}
	return true
}

// BorderOnlyIntersectsRectangle reports whether the two rectangles intersect
// in a shared boundary of zero volume only.
func (r Rectangle) BorderOnlyIntersectsRectangle(other Rectangle) bool {
	return r.IntersectsRectangle(other) && !r.StrictIntersectsRectangle(other)
}

// ContainsPoint reports whether the point lies within the rectangle, borders
// included.
func (r Rectangle) ContainsPoint(p Point) bool {
	return r.LowerLeft.allBelowEq(p) && p.allBelowEq(r.UpperRight)
}

// StrictContainsPoint reports whether the point lies within the rectangle's
// interior.
func (r Rectangle) StrictContainsPoint(p Point) bool {
	return r.LowerLeft.allBelow(p) && p.allBelow(r.UpperRight)
}

// ContainsRectangle reports whether the given rectangle lies entirely within
// this one.
func (r Rectangle) ContainsRectangle(other Rectangle) bool {
	return r.LowerLeft.allBelowEq(other.LowerLeft) && other.UpperRight.allBelowEq(r.UpperRight)
}

// CentrePoint returns the midpoint of the rectangle.
func (r Rectangle) CentrePoint() Point {
	var centre Point
	for d := 0; d < Dimensions; d++ {
		centre[d] = (r.LowerLeft[d] + r.UpperRight[d]) / 2
	}
	return centre
}

// Intersection returns the geometric intersection with the clipping
// rectangle. The result does not Exist if the rectangles are disjoint.
func (r Rectangle) Intersection(clip Rectangle) Rectangle {
	return Rectangle{
		LowerLeft:  coordMax(r.LowerLeft, clip.LowerLeft),
		UpperRight: coordMin(r.UpperRight, clip.UpperRight),
	}
}

// FragmentRectangle decomposes the rectangle minus the clipping rectangle
// into at most 2*Dimensions disjoint rectangles covering exactly the
// remainder. If the rectangles do not intersect, the result is the receiver
// alone.
func (r Rectangle) FragmentRectangle(clip Rectangle) []Rectangle {
	if !r.IntersectsRectangle(clip) {
		return []Rectangle{r}
	}
	core := r.Intersection(clip)
	fragments := make([]Rectangle, 0, 2*Dimensions)
	remainder := r
	for d := 0; d < Dimensions; d++ {
		if remainder.LowerLeft[d] < core.LowerLeft[d] {
			below := remainder
			below.UpperRight[d] = core.LowerLeft[d]
			fragments = append(fragments, below)
		}
		if core.UpperRight[d] < remainder.UpperRight[d] {
			above := remainder
			above.LowerLeft[d] = core.UpperRight[d]
			fragments = append(fragments, above)
		}
		remainder.LowerLeft[d] = core.LowerLeft[d]
		remainder.UpperRight[d] = core.UpperRight[d]
	}
	return fragments
}

func (r Rectangle) String() string {
	return fmt.Sprintf("[%v, %v]", r.LowerLeft, r.UpperRight)
}
