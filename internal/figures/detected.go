package figures

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/spherical/booklet-extractor/internal/domain"
	"github.com/spherical/booklet-extractor/internal/geometry"
	"github.com/spherical/booklet-extractor/internal/observability"
)

// DetectedStrategy crops layout-engine figure regions out of page rasters.
type DetectedStrategy struct {
	cropper *Cropper
	dpi     float64
	sink    domain.ArtifactSink
	logger  *observability.Logger
}

// NewDetectedStrategy creates the primary figure strategy. Pages are
// rasterized at dpi before cropping.
func NewDetectedStrategy(cropper *Cropper, dpi float64, sink domain.ArtifactSink, logger *observability.Logger) *DetectedStrategy {
	return &DetectedStrategy{
		cropper: cropper,
		dpi:     dpi,
		sink:    sink,
		logger:  logger.WithOperation("figures.detected"),
	}
}

// Extract crops every region of layout. Regions are grouped by page in
// the order the engine reported them; each region's 1-based ordinal within
// its page becomes the figure's sequence index.
func (s *DetectedStrategy) Extract(ctx context.Context, doc domain.RasterDocument, layout domain.NativeLayout) ([]domain.Figure, []domain.Warning, error) {
	byPage := make(map[int][]domain.LayoutRegion)
	var pages []int
	for _, r := range layout.Regions {
		if _, ok := byPage[r.Page]; !ok {
			pages = append(pages, r.Page)
		}
		byPage[r.Page] = append(byPage[r.Page], r)
	}

	var figures []domain.Figure
	var warnings []domain.Warning

	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return figures, warnings, err
		}

		pageFigures, pageWarnings := s.extractPage(ctx, doc, layout, page, byPage[page])
		figures = append(figures, pageFigures...)
		warnings = append(warnings, pageWarnings...)
	}

	return figures, warnings, nil
}

func (s *DetectedStrategy) extractPage(ctx context.Context, doc domain.RasterDocument, layout domain.NativeLayout, page int, regions []domain.LayoutRegion) ([]domain.Figure, []domain.Warning) {
	var warnings []domain.Warning
	warn := func(unit int, err error) {
		s.logger.Warn().Int("page", page).Int("unit", unit).Err(err).Msg("Skipping figure region")
		warnings = append(warnings, domain.Warning{Stage: domain.StageFigures, Page: page, Unit: unit, Err: err})
	}

	if page < 1 || page > doc.PageCount() {
		warn(0, fmt.Errorf("page %d out of range", page))
		return nil, warnings
	}

	pageHeight, err := s.pageHeight(doc, layout, page)
	if err != nil {
		warn(0, err)
		return nil, warnings
	}

	raster, err := doc.Render(ctx, page, s.dpi)
	if err != nil {
		warn(0, fmt.Errorf("render page: %w", err))
		return nil, warnings
	}
	rw, rh := raster.Bounds().Dx(), raster.Bounds().Dy()

	var figures []domain.Figure
	for i, region := range regions {
		index := i + 1

		box := geometry.Normalize(region.BBox, pageHeight, s.dpi)
		clamped, err := s.cropper.Region(box, rw, rh)
		if err != nil {
			warn(index, err)
			continue
		}

		img, err := s.cropper.Render(raster, clamped)
		if err != nil {
			warn(index, err)
			continue
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			warn(index, fmt.Errorf("encode png: %w", err))
			continue
		}

		filename := DetectedFilename(page, index)
		if err := s.sink.WriteImage(ctx, filename, buf.Bytes()); err != nil {
			warn(index, fmt.Errorf("write %s: %w", filename, err))
			continue
		}

		bbox := clamped
		figures = append(figures, domain.Figure{
			Page:          page,
			SequenceIndex: index,
			Filename:      filename,
			SourceType:    domain.SourceDetectedRegion,
			Width:         img.Bounds().Dx(),
			Height:        img.Bounds().Dy(),
			BBox:          &bbox,
		})
	}

	return figures, warnings
}

// pageHeight returns the page height in the units of the layout boxes.
func (s *DetectedStrategy) pageHeight(doc domain.RasterDocument, layout domain.NativeLayout, page int) (float64, error) {
	if size, ok := layout.PageSizes[page]; ok && size.Height > 0 {
		return size.Height, nil
	}
	size, err := doc.PageSize(page)
	if err != nil {
		return 0, fmt.Errorf("page size: %w", err)
	}
	return size.Height, nil
}
