// Package geometry converts layout-engine bounding boxes into the raster frame
// used for cropping.
package geometry

import (
	"image"
	"math"

	"github.com/spherical/booklet-extractor/internal/domain"
)

// PointsPerInch is the PDF user-space resolution.
const PointsPerInch = 72.0

// ToTopLeft flips a bottom-left-origin box into the top-left frame:
// x0=left, x1=right, y0=pageHeight-top, y1=pageHeight-bottom.
// Boxes already in the top-left frame are returned unchanged. Malformed
// boxes are passed through; size filtering downstream rejects them.
func ToTopLeft(b domain.BoundingBox, pageHeight float64) domain.BoundingBox {
	if b.Frame == domain.FrameTopLeft {
		return b
	}
	return domain.BoundingBox{
		Left:   b.Left,
		Top:    pageHeight - b.Top,
		Right:  b.Right,
		Bottom: pageHeight - b.Bottom,
		Frame:  domain.FrameTopLeft,
		Units:  b.Units,
	}
}

// ToBottomLeft is the inverse of ToTopLeft for the same page height.
func ToBottomLeft(b domain.BoundingBox, pageHeight float64) domain.BoundingBox {
	if b.Frame == domain.FrameBottomLeft {
		return b
	}
	return domain.BoundingBox{
		Left:   b.Left,
		Top:    pageHeight - b.Top,
		Right:  b.Right,
		Bottom: pageHeight - b.Bottom,
		Frame:  domain.FrameBottomLeft,
		Units:  b.Units,
	}
}

// ToPixels scales a point box to pixels at dpi. Pixel boxes pass through.
func ToPixels(b domain.BoundingBox, dpi float64) domain.BoundingBox {
	if b.Units == domain.UnitsPixels || dpi <= 0 {
		return b
	}
	s := dpi / PointsPerInch
	b.Left *= s
	b.Top *= s
	b.Right *= s
	b.Bottom *= s
	b.Units = domain.UnitsPixels
	return b
}

// Normalize brings a layout box into the top-left pixel frame of a raster
// rendered at dpi. pageHeight is in the box's own units.
func Normalize(b domain.BoundingBox, pageHeight, dpi float64) domain.BoundingBox {
	return ToPixels(ToTopLeft(b, pageHeight), dpi)
}

// Pad grows a top-left box by p on every side.
func Pad(b domain.BoundingBox, p float64) domain.BoundingBox {
	b.Left -= p
	b.Top -= p
	b.Right += p
	b.Bottom += p
	return b
}

// Clamp limits a top-left box to [0,width]x[0,height].
func Clamp(b domain.BoundingBox, width, height float64) domain.BoundingBox {
	b.Left = clamp(b.Left, 0, width)
	b.Right = clamp(b.Right, 0, width)
	b.Top = clamp(b.Top, 0, height)
	b.Bottom = clamp(b.Bottom, 0, height)
	return b
}

// Rect converts a top-left pixel box to the smallest integer rectangle
// covering it.
func Rect(b domain.BoundingBox) image.Rectangle {
	return image.Rect(
		int(math.Floor(b.Left)),
		int(math.Floor(b.Top)),
		int(math.Ceil(b.Right)),
		int(math.Ceil(b.Bottom)),
	)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
