// Package figures extracts figure images from booklet pages, either from
// layout-detected regions or, as a fallback, from embedded image objects.
package figures

import (
	"errors"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/spherical/booklet-extractor/internal/domain"
	"github.com/spherical/booklet-extractor/internal/geometry"
)

var (
	// ErrNoFigures signals that the primary strategy accepted no figures.
	ErrNoFigures = errors.New("layout engine reported no usable figures")

	// ErrRegionTooSmall is returned for regions under the minimum size.
	ErrRegionTooSmall = errors.New("region below minimum size")

	// ErrHeaderBand is returned for wide, short regions at the top of a page.
	ErrHeaderBand = errors.New("region looks like a running header")
)

// CropConfig holds the cropper thresholds, in raster pixels.
type CropConfig struct {
	Padding         float64
	MinSize         int
	HeaderMaxY      float64
	HeaderMinAspect float64
	Upscale         float64
}

// DefaultCropConfig returns the thresholds tuned for 72 dpi page rasters.
func DefaultCropConfig() CropConfig {
	return CropConfig{
		Padding:         5,
		MinSize:         30,
		HeaderMaxY:      80,
		HeaderMinAspect: 5,
		Upscale:         2,
	}
}

// Cropper turns normalized boxes into upscaled figure images.
type Cropper struct {
	cfg CropConfig
}

// NewCropper creates a cropper. Upscale below 1 is treated as 1.
func NewCropper(cfg CropConfig) *Cropper {
	if cfg.Upscale < 1 {
		cfg.Upscale = 1
	}
	return &Cropper{cfg: cfg}
}

// Region pads and clamps a top-left pixel box to the page and applies the
// size and header filters.
func (c *Cropper) Region(box domain.BoundingBox, pageWidth, pageHeight int) (domain.BoundingBox, error) {
	if box.Frame != domain.FrameTopLeft || box.Units != domain.UnitsPixels {
		return box, fmt.Errorf("box must be top-left pixels, got %s %s", box.Frame, box.Units)
	}

	r := geometry.Clamp(geometry.Pad(box, c.cfg.Padding), float64(pageWidth), float64(pageHeight))

	w, h := r.Width(), r.Height()
	minSize := float64(c.cfg.MinSize)
	if w < minSize || h < minSize {
		return r, fmt.Errorf("%w: %.0fx%.0f < %d", ErrRegionTooSmall, math.Max(w, 0), math.Max(h, 0), c.cfg.MinSize)
	}

	if r.Top < c.cfg.HeaderMaxY && w/h > c.cfg.HeaderMinAspect {
		return r, fmt.Errorf("%w: y0=%.0f aspect=%.1f", ErrHeaderBand, r.Top, w/h)
	}

	return r, nil
}

// Render crops region out of raster and scales it by the upscale factor.
// The result is re-checked against the minimum size.
func (c *Cropper) Render(raster image.Image, region domain.BoundingBox) (image.Image, error) {
	bounds := raster.Bounds()
	src := geometry.Rect(region).Add(bounds.Min).Intersect(bounds)
	if src.Empty() {
		return nil, fmt.Errorf("%w: region outside raster", ErrRegionTooSmall)
	}

	w := int(math.Round(float64(src.Dx()) * c.cfg.Upscale))
	h := int(math.Round(float64(src.Dy()) * c.cfg.Upscale))
	if w < c.cfg.MinSize || h < c.cfg.MinSize {
		return nil, fmt.Errorf("%w after render: %dx%d", ErrRegionTooSmall, w, h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), raster, src, draw.Src, nil)
	return dst, nil
}
