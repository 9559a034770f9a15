package figures

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/spherical/booklet-extractor/internal/domain"
	"github.com/spherical/booklet-extractor/internal/observability"
)

// EmbeddedImage is one image object found on a page.
type EmbeddedImage struct {
	Page   int
	Index  int // 1-based, object order within the page
	Data   []byte
	Ext    string
	Width  int // 0 when the document does not declare it
	Height int
}

// ImageSource lists the embedded images of one open document.
type ImageSource interface {
	PageCount() int
	PageImages(ctx context.Context, page int) ([]EmbeddedImage, error)
	Close() error
}

// ImageScanner opens documents for embedded image scanning.
type ImageScanner interface {
	Open(path string) (ImageSource, error)
}

// EmbeddedConfig holds the decorative-image filters.
type EmbeddedConfig struct {
	MinSize  int
	MinBytes int
}

// EmbeddedStrategy extracts embedded image objects as figures. It is the
// fallback when layout detection yields nothing.
type EmbeddedStrategy struct {
	scanner ImageScanner
	cfg     EmbeddedConfig
	sink    domain.ArtifactSink
	logger  *observability.Logger
}

// NewEmbeddedStrategy creates the fallback figure strategy.
func NewEmbeddedStrategy(scanner ImageScanner, cfg EmbeddedConfig, sink domain.ArtifactSink, logger *observability.Logger) *EmbeddedStrategy {
	return &EmbeddedStrategy{
		scanner: scanner,
		cfg:     cfg,
		sink:    sink,
		logger:  logger.WithOperation("figures.embedded"),
	}
}

// Extract scans every page of the document at path. Images under the byte
// or pixel thresholds are skipped silently as decorative.
func (s *EmbeddedStrategy) Extract(ctx context.Context, path string) ([]domain.Figure, []domain.Warning, error) {
	src, err := s.scanner.Open(path)
	if err != nil {
		return nil, nil, domain.ExtractionError("Failed to scan embedded images", err)
	}
	defer src.Close()

	var figures []domain.Figure
	var warnings []domain.Warning

	for page := 1; page <= src.PageCount(); page++ {
		if err := ctx.Err(); err != nil {
			return figures, warnings, err
		}

		images, err := src.PageImages(ctx, page)
		if err != nil {
			s.logger.Warn().Int("page", page).Err(err).Msg("Could not list embedded images")
			warnings = append(warnings, domain.Warning{Stage: domain.StageFigures, Page: page, Err: err})
			continue
		}

		for _, img := range images {
			fig, keep, err := s.extractOne(ctx, img)
			if err != nil {
				s.logger.Warn().Int("page", page).Int("unit", img.Index).Err(err).Msg("Could not extract embedded image")
				warnings = append(warnings, domain.Warning{Stage: domain.StageFigures, Page: page, Unit: img.Index, Err: err})
				continue
			}
			if keep {
				figures = append(figures, fig)
			}
		}
	}

	return figures, warnings, nil
}

func (s *EmbeddedStrategy) extractOne(ctx context.Context, img EmbeddedImage) (domain.Figure, bool, error) {
	if len(img.Data) < s.cfg.MinBytes {
		s.logger.Debug().Int("page", img.Page).Int("unit", img.Index).Int("bytes", len(img.Data)).Msg("Skipping tiny embedded image")
		return domain.Figure{}, false, nil
	}

	w, h := img.Width, img.Height
	if w == 0 || h == 0 {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Data))
		if err != nil {
			return domain.Figure{}, false, fmt.Errorf("decode image header: %w", err)
		}
		w, h = cfg.Width, cfg.Height
	}

	if w < s.cfg.MinSize || h < s.cfg.MinSize {
		s.logger.Debug().Int("page", img.Page).Int("unit", img.Index).Int("width", w).Int("height", h).Msg("Skipping small embedded image")
		return domain.Figure{}, false, nil
	}

	filename := EmbeddedFilename(img.Page, img.Index, img.Ext)
	if err := s.sink.WriteImage(ctx, filename, img.Data); err != nil {
		return domain.Figure{}, false, fmt.Errorf("write %s: %w", filename, err)
	}

	return domain.Figure{
		Page:          img.Page,
		SequenceIndex: img.Index,
		Filename:      filename,
		SourceType:    domain.SourceEmbeddedImage,
		Width:         w,
		Height:        h,
	}, true, nil
}
