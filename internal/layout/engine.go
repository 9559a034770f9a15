// Package layout runs external document-layout engines and turns their
// output into figure regions and per-page text.
package layout

import (
	"context"
	"errors"
	"strings"

	"github.com/spherical/booklet-extractor/internal/domain"
	"github.com/spherical/booklet-extractor/internal/observability"
)

// ErrNoText is returned when a layout result carries no usable text.
var ErrNoText = errors.New("layout engine produced no text")

// Engine analyzes a document's layout.
type Engine interface {
	Name() string
	Analyze(ctx context.Context, path string) (domain.NativeLayout, error)
}

// Detect runs engine over path. Any failure, or a nil engine, yields an
// OcrFallback carrying the cause.
func Detect(ctx context.Context, engine Engine, path string, pages int, logger *observability.Logger) domain.ExtractionResult {
	if engine == nil {
		return domain.OcrFallback{Pages: pages}
	}

	log := logger.WithOperation("layout")
	log.Info().Str("engine", engine.Name()).Msg("Analyzing document layout")

	res, err := engine.Analyze(ctx, path)
	if err != nil {
		log.Warn().Str("engine", engine.Name()).Err(err).Msg("Layout analysis failed, falling back to OCR")
		return domain.OcrFallback{Pages: pages, Cause: err}
	}

	log.Info().
		Str("engine", engine.Name()).
		Int("regions", len(res.Regions)).
		Int("pages", len(res.Pages)).
		Msg("Layout analysis complete")
	return res
}

// Text returns the layout result's page texts, or ErrNoText when every
// page is blank.
func Text(res domain.NativeLayout) ([]domain.PageText, error) {
	for _, p := range res.Pages {
		if strings.TrimSpace(p.Text) != "" {
			return res.Pages, nil
		}
	}
	return nil, ErrNoText
}

// pagesFromText builds page texts numbered 1..n from a page->blocks map.
func pagesFromText(n int, blocks map[int][]string) []domain.PageText {
	pages := make([]domain.PageText, 0, n)
	for page := 1; page <= n; page++ {
		pages = append(pages, domain.PageText{
			Page:       page,
			Text:       strings.Join(blocks[page], "\n\n"),
			Provenance: domain.ProvenanceLayout,
		})
	}
	return pages
}
