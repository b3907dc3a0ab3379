package geometry

import "unsafe"

// InlineBoundedPolygon is the fixed-capacity polygon encoding stored inline
// in a branch entry. It is plain data: no slices, no pointers, so it can live
// inside a page slot and be written to disk as raw bytes.
type InlineBoundedPolygon struct {
	rectCount       uint32
	boundingBox     Rectangle
	basicRectangles [MaxRectangleCount]Rectangle
}

// Init resets the inline polygon to a single base rectangle.
func (ip *InlineBoundedPolygon) Init(base Rectangle) {
	ip.rectCount = 1
	ip.boundingBox = base
	ip.basicRectangles[0] = base
}

// RectCount returns the number of basic rectangles in use.
func (ip *InlineBoundedPolygon) RectCount() int {
	return int(ip.rectCount)
}

// BoundingBox returns the cached bounding box.
func (ip *InlineBoundedPolygon) BoundingBox() Rectangle {
	return ip.boundingBox
}

// Polygon materializes the inline encoding into the working form.
func (ip *InlineBoundedPolygon) Polygon() IsotheticPolygon {
	poly := IsotheticPolygon{BoundingBox: ip.boundingBox}
	poly.BasicRectangles = append(poly.BasicRectangles, ip.basicRectangles[:ip.rectCount]...)
	return poly
}

// SetPolygon writes the working form back into the inline encoding. Returns
// false without modifying the receiver when the polygon exceeds the inline
// capacity.
func (ip *InlineBoundedPolygon) SetPolygon(poly *IsotheticPolygon) bool {
	if len(poly.BasicRectangles) > MaxRectangleCount {
		return false
	}
	ip.rectCount = uint32(len(poly.BasicRectangles))
	ip.boundingBox = poly.BoundingBox
	copy(ip.basicRectangles[:], poly.BasicRectangles)
	return true
}

// ContainsPoint reports whether any basic rectangle contains the point.
func (ip *InlineBoundedPolygon) ContainsPoint(p Point) bool {
	if !ip.boundingBox.ContainsPoint(p) {
		return false
	}
	for i := uint32(0); i < ip.rectCount; i++ {
		if ip.basicRectangles[i].ContainsPoint(p) {
			return true
		}
	}
	return false
}

// IntersectsRectangle reports whether any basic rectangle intersects the
// given rectangle.
func (ip *InlineBoundedPolygon) IntersectsRectangle(rect Rectangle) bool {
	if !ip.boundingBox.IntersectsRectangle(rect) {
		return false
	}
	for i := uint32(0); i < ip.rectCount; i++ {
		if ip.basicRectangles[i].IntersectsRectangle(rect) {
			return true
		}
	}
	return false
}

// UnboundedPolygon is the page-resident polygon encoding with a declared
// capacity, reached through a node handle. The rectangle array extends past
// the struct's end into the slot the allocator carved for it, so values of
// this type must never be materialized on the stack or copied; they are only
// manipulated through pointers into a pinned page.
type UnboundedPolygon struct {
	rectCount       uint32
	maxRectCount    uint32
	boundingBox     Rectangle
	basicRectangles [1]Rectangle
}

// UnboundedPolygonFootprint returns the slot size in bytes needed for an
// unbounded polygon holding up to maxRects basic rectangles.
func UnboundedPolygonFootprint(maxRects int) uint16 {
	base := unsafe.Sizeof(UnboundedPolygon{})
	return uint16(base + uintptr(maxRects-1)*unsafe.Sizeof(Rectangle{}))
}

// Init prepares a freshly allocated slot to hold up to maxRects rectangles.
func (up *UnboundedPolygon) Init(maxRects int) {
	up.rectCount = 0
	up.maxRectCount = uint32(maxRects)
	up.boundingBox = Rectangle{AtInfinity, AtNegInfinity}
}

// Capacity returns the declared basic rectangle capacity.
func (up *UnboundedPolygon) Capacity() int {
	return int(up.maxRectCount)
}

// RectCount returns the number of basic rectangles in use.
func (up *UnboundedPolygon) RectCount() int {
	return int(up.rectCount)
}

// BoundingBox returns the cached bounding box.
func (up *UnboundedPolygon) BoundingBox() Rectangle {
	return up.boundingBox
}

// rects exposes the flexible rectangle array over the slot's tail.
func (up *UnboundedPolygon) rects() []Rectangle {
	return unsafe.Slice(&up.basicRectangles[0], up.maxRectCount)
}

// Polygon materializes the page-resident encoding into the working form.
func (up *UnboundedPolygon) Polygon() IsotheticPolygon {
	poly := IsotheticPolygon{BoundingBox: up.boundingBox}
	poly.BasicRectangles = append(poly.BasicRectangles, up.rects()[:up.rectCount]...)
	return poly
}

// SetPolygon writes the working form into the slot. Returns false without
// modifying the receiver when the polygon exceeds the declared capacity.
func (up *UnboundedPolygon) SetPolygon(poly *IsotheticPolygon) bool {
	if len(poly.BasicRectangles) > int(up.maxRectCount) {
		return false
	}
	up.rectCount = uint32(len(poly.BasicRectangles))
	up.boundingBox = poly.BoundingBox
	copy(up.rects(), poly.BasicRectangles)
	return true
}

// ContainsPoint reports whether any basic rectangle contains the point.
func (up *UnboundedPolygon) ContainsPoint(p Point) bool {
	if !up.boundingBox.ContainsPoint(p) {
		return false
	}
	for _, r := range up.rects()[:up.rectCount] {
		if r.ContainsPoint(p) {
			return true
		}
	}
	return false
}

// IntersectsRectangle reports whether any basic rectangle intersects the
// given rectangle.
func (up *UnboundedPolygon) IntersectsRectangle(rect Rectangle) bool {
	if !up.boundingBox.IntersectsRectangle(rect) {
		return false
	}
	for _, r := range up.rects()[:up.rectCount] {
		if r.IntersectsRectangle(rect) {
			return true
		}
	}
	return false
}
