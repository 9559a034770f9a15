// Package textrecon rebuilds reading-order page text from OCR of single
// and two-column page rasters.
package textrecon

import (
	"context"
	"fmt"
	"image"
	"strings"
	"unicode/utf8"

	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/spherical/booklet-extractor/internal/domain"
	"github.com/spherical/booklet-extractor/internal/observability"
)

// Config holds the reconstruction thresholds.
type Config struct {
	// TwoColumnRatio classifies a raster as two-column when
	// width > height*TwoColumnRatio.
	TwoColumnRatio float64
	// ColumnMargin is the overlap, in pixels, each column crop extends
	// past the midline.
	ColumnMargin int
	// NativeTextThreshold is the trimmed character count at which native
	// text is used instead of OCR.
	NativeTextThreshold int
}

// DefaultConfig returns the thresholds used for standard test booklets.
func DefaultConfig() Config {
	return Config{
		TwoColumnRatio:      0.7,
		ColumnMargin:        20,
		NativeTextThreshold: 100,
	}
}

// ClassifyLayout decides the column layout of a raster.
func ClassifyLayout(width, height int, ratio float64) domain.ColumnLayout {
	if width <= 0 || height <= 0 {
		return domain.LayoutUnknown
	}
	if float64(width) > float64(height)*ratio {
		return domain.LayoutTwo
	}
	return domain.LayoutSingle
}

// ErrorText is the placeholder emitted for a page that could not be read.
func ErrorText(err error) string {
	return fmt.Sprintf("[OCR Error: %v]", err)
}

// RenderFunc rasterizes a page on demand.
type RenderFunc func(ctx context.Context) (image.Image, error)

// PageInput describes one page to reconstruct.
type PageInput struct {
	Page   int
	Native string
	Render RenderFunc
	// DPI is the resolution Render rasterizes at.
	DPI float64
}

// Reconstructor produces page text from native text or OCR.
type Reconstructor struct {
	ocr    domain.OCREngine
	cfg    Config
	logger *observability.Logger
}

// New creates a reconstructor.
func New(ocr domain.OCREngine, cfg Config, logger *observability.Logger) *Reconstructor {
	if cfg.TwoColumnRatio <= 0 {
		cfg.TwoColumnRatio = DefaultConfig().TwoColumnRatio
	}
	return &Reconstructor{
		ocr:    ocr,
		cfg:    cfg,
		logger: logger.WithOperation("textrecon"),
	}
}

// Page reconstructs a single page. Failures never abort: the page gets
// placeholder text and a warning is returned alongside it.
func (r *Reconstructor) Page(ctx context.Context, in PageInput) (domain.PageText, *domain.Warning) {
	if native := strings.TrimSpace(in.Native); utf8.RuneCountInString(native) >= r.cfg.NativeTextThreshold {
		return domain.PageText{Page: in.Page, Text: native, Provenance: domain.ProvenanceNative}, nil
	}

	fail := func(err error) (domain.PageText, *domain.Warning) {
		r.logger.Warn().Int("page", in.Page).Err(err).Msg("Page text reconstruction failed")
		return domain.PageText{Page: in.Page, Text: ErrorText(err), Provenance: domain.ProvenanceError},
			&domain.Warning{Stage: domain.StageText, Page: in.Page, Err: err}
	}

	if in.Render == nil {
		return fail(fmt.Errorf("no renderer for page %d", in.Page))
	}
	img, err := in.Render(ctx)
	if err != nil {
		return fail(fmt.Errorf("render: %w", err))
	}

	text, layout, err := r.Reconstruct(ctx, img)
	if err != nil {
		return fail(err)
	}

	b := img.Bounds()
	raster := &domain.Page{
		Index:        in.Page,
		Width:        b.Dx(),
		Height:       b.Dy(),
		RasterDPI:    in.DPI,
		ColumnLayout: layout,
	}

	r.logger.Debug().Int("page", in.Page).Str("layout", string(layout)).Int("chars", len(text)).Msg("Page reconstructed")
	return domain.PageText{Page: in.Page, Text: text, Provenance: domain.ProvenanceOCR, Raster: raster}, nil
}

// Reconstruct OCRs a page raster. Two-column rasters are split at the
// midline with overlapping crops; the left column's text precedes the
// right column's.
func (r *Reconstructor) Reconstruct(ctx context.Context, img image.Image) (string, domain.ColumnLayout, error) {
	b := img.Bounds()
	layout := ClassifyLayout(b.Dx(), b.Dy(), r.cfg.TwoColumnRatio)

	switch layout {
	case domain.LayoutTwo:
		mid := b.Dx() / 2
		left := image.Rect(b.Min.X, b.Min.Y, b.Min.X+mid+r.cfg.ColumnMargin, b.Max.Y).Intersect(b)
		right := image.Rect(b.Min.X+mid-r.cfg.ColumnMargin, b.Min.Y, b.Max.X, b.Max.Y).Intersect(b)

		leftText, err := r.ocr.Recognize(ctx, crop(img, left))
		if err != nil {
			return "", layout, domain.OCRError("Failed to OCR left column", err)
		}
		rightText, err := r.ocr.Recognize(ctx, crop(img, right))
		if err != nil {
			return "", layout, domain.OCRError("Failed to OCR right column", err)
		}
		return strings.TrimSpace(leftText) + "\n\n" + strings.TrimSpace(rightText), layout, nil

	case domain.LayoutSingle:
		text, err := r.ocr.Recognize(ctx, img)
		if err != nil {
			return "", layout, domain.OCRError("Failed to OCR page", err)
		}
		return strings.TrimSpace(text), layout, nil

	default:
		return "", layout, domain.LayoutError("Empty page raster", nil)
	}
}

// ReconstructAll reconstructs pages on a bounded worker pool. Results keep
// the order of inputs. Cancellation is observed between pages.
func (r *Reconstructor) ReconstructAll(ctx context.Context, inputs []PageInput, workers int) ([]domain.PageText, []domain.Warning, error) {
	if workers < 1 {
		workers = 1
	}

	texts := make([]domain.PageText, len(inputs))
	warns := make([]*domain.Warning, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, in := range inputs {
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			texts[i], warns[i] = r.Page(gctx, in)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var warnings []domain.Warning
	for _, w := range warns {
		if w != nil {
			warnings = append(warnings, *w)
		}
	}
	return texts, warnings, nil
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// crop returns the part of img inside r, sharing pixels when the image
// type supports it.
func crop(img image.Image, r image.Rectangle) image.Image {
	if s, ok := img.(subImager); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Copy(dst, image.Point{}, img, r, draw.Src, nil)
	return dst
}
