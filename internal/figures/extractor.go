package figures

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"sort"

	"github.com/spherical/booklet-extractor/internal/domain"
	"github.com/spherical/booklet-extractor/internal/observability"
)

// ErrNoLayout is the fallback cause when no layout engine ran.
var ErrNoLayout = errors.New("no layout result available")

// Outcome is the result of the figure stage.
type Outcome struct {
	Figures  []domain.Figure
	Strategy string
	// FallbackCause is set when the embedded-image strategy replaced layout detection.
	FallbackCause error
	Warnings      []domain.Warning
}

// Linkable returns the figures that may be attached to questions.
func (o *Outcome) Linkable() []domain.Figure {
	out := make([]domain.Figure, 0, len(o.Figures))
	for _, f := range o.Figures {
		if f.SourceType.Linkable() {
			out = append(out, f)
		}
	}
	return out
}

// ExtractorOptions configures the figure stage.
type ExtractorOptions struct {
	IncludePageRenders bool
	PageRenderDPI      float64
}

// Extractor selects between layout-detected figures and the embedded-image
// fallback.
type Extractor struct {
	detected *DetectedStrategy
	embedded *EmbeddedStrategy
	sink     domain.ArtifactSink
	opts     ExtractorOptions
	logger   *observability.Logger
}

// NewExtractor wires both strategies.
func NewExtractor(detected *DetectedStrategy, embedded *EmbeddedStrategy, sink domain.ArtifactSink, opts ExtractorOptions, logger *observability.Logger) *Extractor {
	if opts.PageRenderDPI <= 0 {
		opts.PageRenderDPI = 150
	}
	return &Extractor{
		detected: detected,
		embedded: embedded,
		sink:     sink,
		opts:     opts,
		logger:   logger.WithOperation("figures"),
	}
}

// Extract runs the primary strategy for a native layout result and falls
// back to embedded images when it yields no figures, fails, or when the
// layout stage itself fell back to OCR.
func (e *Extractor) Extract(ctx context.Context, path string, doc domain.RasterDocument, layout domain.ExtractionResult) (*Outcome, error) {
	out := &Outcome{}

	var cause error
	switch res := layout.(type) {
	case domain.NativeLayout:
		figs, warns, err := e.detected.Extract(ctx, doc, res)
		out.Warnings = append(out.Warnings, warns...)
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			cause = err
		case len(figs) == 0:
			cause = ErrNoFigures
		default:
			out.Figures = figs
			out.Strategy = domain.FigureStrategyLayout
		}
	case domain.OcrFallback:
		cause = res.Cause
		if cause == nil {
			cause = ErrNoLayout
		}
	default:
		cause = fmt.Errorf("unsupported layout result %T", layout)
	}

	if out.Strategy == "" {
		out.FallbackCause = cause
		e.logger.Info().Err(cause).Msg("Falling back to embedded image scan")

		figs, warns, err := e.embedded.Extract(ctx, path)
		out.Warnings = append(out.Warnings, warns...)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			e.logger.Warn().Err(err).Msg("Embedded image scan failed")
			out.Warnings = append(out.Warnings, domain.Warning{Stage: domain.StageFigures, Err: err})
			out.Strategy = domain.FigureStrategyNone
		} else {
			out.Figures = figs
			out.Strategy = domain.FigureStrategyEmbedded
		}
	}

	if e.opts.IncludePageRenders {
		renders, warns := e.renderPages(ctx, doc)
		out.Warnings = append(out.Warnings, warns...)
		out.Figures = mergeByPage(renders, out.Figures)
	}

	return out, nil
}

// renderPages saves one full-page render per page as page{N}_img0.png.
func (e *Extractor) renderPages(ctx context.Context, doc domain.RasterDocument) ([]domain.Figure, []domain.Warning) {
	var figures []domain.Figure
	var warnings []domain.Warning

	for page := 1; page <= doc.PageCount(); page++ {
		if ctx.Err() != nil {
			break
		}

		img, err := doc.Render(ctx, page, e.opts.PageRenderDPI)
		if err == nil {
			var buf bytes.Buffer
			if err = png.Encode(&buf, img); err == nil {
				filename := EmbeddedFilename(page, 0, "png")
				if err = e.sink.WriteImage(ctx, filename, buf.Bytes()); err == nil {
					figures = append(figures, domain.Figure{
						Page:       page,
						Filename:   filename,
						SourceType: domain.SourcePageRender,
						Width:      img.Bounds().Dx(),
						Height:     img.Bounds().Dy(),
					})
					continue
				}
			}
		}

		e.logger.Warn().Int("page", page).Err(err).Msg("Could not save page render")
		warnings = append(warnings, domain.Warning{Stage: domain.StageFigures, Page: page, Err: err})
	}

	return figures, warnings
}

// mergeByPage interleaves renders before the figures of the same page while
// keeping extraction order within each page.
func mergeByPage(renders, figures []domain.Figure) []domain.Figure {
	all := make([]domain.Figure, 0, len(renders)+len(figures))
	all = append(all, renders...)
	all = append(all, figures...)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Page < all[j].Page
	})
	return all
}
