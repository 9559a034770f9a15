package domain

import (
	"context"
	"image"
)

// Rasterizer opens documents for page rendering.
type Rasterizer interface {
	Open(path string) (RasterDocument, error)
}

// RasterDocument renders pages of one open document.
type RasterDocument interface {
	// PageCount returns the number of pages.
	PageCount() int

	// Render rasterizes the 1-based page at the given DPI.
	Render(ctx context.Context, page int, dpi float64) (image.Image, error)

	// PageSize returns the page size in points.
	PageSize(page int) (PageSize, error)

	Close() error
}

// OCREngine recognizes English text in a raster.
type OCREngine interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// NativeTextExtractor reads the embedded text layer of a document.
type NativeTextExtractor interface {
	// PageTexts returns one entry per page, index 0 being page 1.
	PageTexts(ctx context.Context, path string) ([]string, error)
}

// ArtifactSink persists conversion outputs.
type ArtifactSink interface {
	WriteImage(ctx context.Context, filename string, data []byte) error
	WriteDocument(ctx context.Context, filename string, data []byte) error
}
