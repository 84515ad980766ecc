package annotool

// Bounding box geometry and coordinate space conversions.
//
// Conversions keep full float64 precision. Pixel rounding only happens where an output format
// stores integers, see BoundingBox.Rect.

import (
	"fmt"
	"image"
	"math"
)

// CoordinateSpace tags the convention that the values of a BoundingBox follow.
type CoordinateSpace int

// The supported coordinate spaces.
const (
	// NormalizedCenter is (cx, cy, w, h) as fractions of the image width and height.
	NormalizedCenter CoordinateSpace = iota
	// AbsoluteCorner is (x0, y0, w, h) in pixels, measured from the top-left corner.
	AbsoluteCorner
	// AbsoluteCenter is (cx, cy, w, h) in pixels.
	AbsoluteCenter
)

func (s CoordinateSpace) String() string {
	switch s {
	case NormalizedCenter:
		return "normalized-center"
	case AbsoluteCorner:
		return "absolute-corner"
	case AbsoluteCenter:
		return "absolute-center"
	}
	return fmt.Sprintf("CoordinateSpace(%d)", int(s))
}

// containSlack is the distance in pixels by which a box may exceed the image and still count as
// contained. It absorbs float noise from repeated conversions.
const containSlack = 1e-9

// BoundingBox is an axis-aligned rectangle. It is a value type: edits produce a new box.
type BoundingBox struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
	Space  CoordinateSpace
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("%s(%g, %g, %g, %g)", b.Space, b.X, b.Y, b.Width, b.Height)
}

// Corners returns the absolute corner coordinates x1, y1, x2, y2. b must be in AbsoluteCorner
// space.
func (b BoundingBox) Corners() [4]float64 {
	return [4]float64{b.X, b.Y, b.X + b.Width, b.Y + b.Height}
}

// Rect rounds the absolute corner box b to the nearest integer pixel rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	c := b.Corners()
	return image.Rect(int(math.Round(c[0])), int(math.Round(c[1])),
		int(math.Round(c[2])), int(math.Round(c[3])))
}

// BoxFromCorners creates an AbsoluteCorner box from the corner coordinates x1, y1, x2, y2.
func BoxFromCorners(x1, y1, x2, y2 float64) BoundingBox {
	return BoundingBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1, Space: AbsoluteCorner}
}

// ToSpace converts box to the target coordinate space. The image dimensions are only used, and
// must only be positive, when either space is normalized.
func ToSpace(box BoundingBox, target CoordinateSpace, imageWidth, imageHeight int) (
	BoundingBox, error) {

	out, err := convertSpace(box, target, imageWidth, imageHeight)
	if err != nil {
		return BoundingBox{}, err
	}
	if !positiveFinite(out.Width) || !positiveFinite(out.Height) {
		return BoundingBox{}, &GeometryError{Op: "convert", Box: box,
			Reason: fmt.Sprintf("non-positive width or height in %s", target)}
	}
	return out, nil
}

// convertSpace is ToSpace without the check for a positive size, so that degenerate boxes read
// from a file can still be represented in the canonical space and reported by the validator.
func convertSpace(box BoundingBox, target CoordinateSpace, imageWidth, imageHeight int) (
	BoundingBox, error) {

	fail := func(reason string, args ...interface{}) (BoundingBox, error) {
		return BoundingBox{}, &GeometryError{Op: "convert", Box: box,
			Reason: fmt.Sprintf(reason, args...)}
	}

	if box.Space == target {
		return box, nil
	}
	if (box.Space == NormalizedCenter || target == NormalizedCenter) &&
		(imageWidth <= 0 || imageHeight <= 0) {
		return fail("image dimensions %dx%d are required to convert to %s",
			imageWidth, imageHeight, target)
	}
	w, h := float64(imageWidth), float64(imageHeight)

	// Go through absolute center, the space the others are an affine map away from.
	var cx, cy, bw, bh float64
	switch box.Space {
	case NormalizedCenter:
		cx, cy, bw, bh = box.X*w, box.Y*h, box.Width*w, box.Height*h
	case AbsoluteCorner:
		cx, cy, bw, bh = box.X+box.Width/2, box.Y+box.Height/2, box.Width, box.Height
	case AbsoluteCenter:
		cx, cy, bw, bh = box.X, box.Y, box.Width, box.Height
	default:
		return fail("unknown source space")
	}

	out := BoundingBox{Space: target}
	switch target {
	case NormalizedCenter:
		out.X, out.Y, out.Width, out.Height = cx/w, cy/h, bw/w, bh/h
	case AbsoluteCorner:
		out.X, out.Y, out.Width, out.Height = cx-bw/2, cy-bh/2, bw, bh
	case AbsoluteCenter:
		out.X, out.Y, out.Width, out.Height = cx, cy, bw, bh
	default:
		return fail("unknown target space %s", target)
	}
	return out, nil
}

// ClipToImage intersects box with the image rectangle [0,W]x[0,H] and returns the result in the
// space of box. A box that is already inside the image is returned unchanged.
func ClipToImage(box BoundingBox, imageWidth, imageHeight int) (BoundingBox, error) {
	if imageWidth <= 0 || imageHeight <= 0 {
		return BoundingBox{}, &GeometryError{Op: "clip", Box: box,
			Reason: fmt.Sprintf("invalid image dimensions %dx%d", imageWidth, imageHeight)}
	}

	abs, err := ToSpace(box, AbsoluteCorner, imageWidth, imageHeight)
	if err != nil {
		return BoundingBox{}, err
	}
	w, h := float64(imageWidth), float64(imageHeight)
	if insideImage(abs, w, h, containSlack) {
		return box, nil
	}

	c := abs.Corners()
	clipped := BoxFromCorners(math.Max(c[0], 0), math.Max(c[1], 0),
		math.Min(c[2], w), math.Min(c[3], h))
	if clipped.Width <= 0 || clipped.Height <= 0 {
		return BoundingBox{}, &GeometryError{Op: "clip", Box: box,
			Reason: "box lies outside the image"}
	}

	return ToSpace(clipped, box.Space, imageWidth, imageHeight)
}

// insideImage reports whether the absolute corner box abs lies within [0,w]x[0,h], allowing it to
// exceed the image by at most slack pixels on each side.
func insideImage(abs BoundingBox, w, h, slack float64) bool {
	c := abs.Corners()
	return c[0] >= -slack && c[1] >= -slack && c[2] <= w+slack && c[3] <= h+slack
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
