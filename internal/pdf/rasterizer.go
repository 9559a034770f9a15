// Package pdf opens PDF documents for page rendering and native text
// extraction.
package pdf

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/booklet-extractor/internal/domain"
)

// FitzRasterizer renders pages with MuPDF through go-fitz.
type FitzRasterizer struct{}

// NewRasterizer creates a go-fitz rasterizer.
func NewRasterizer() *FitzRasterizer {
	return &FitzRasterizer{}
}

// Open opens the document at path.
func (FitzRasterizer) Open(path string) (domain.RasterDocument, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, domain.ConversionError("Failed to open PDF", err)
	}
	if doc.NumPage() == 0 {
		doc.Close()
		return nil, domain.ValidationError("PDF has no pages", nil)
	}
	return &fitzDocument{doc: doc}, nil
}

type fitzDocument struct {
	mu  sync.Mutex // serializes MuPDF calls
	doc *fitz.Document
}

func (d *fitzDocument) PageCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.NumPage()
}

func (d *fitzDocument) Render(ctx context.Context, page int, dpi float64) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if page < 1 || page > d.doc.NumPage() {
		return nil, domain.ValidationError(fmt.Sprintf("page %d out of range", page), nil)
	}
	img, err := d.doc.ImageDPI(page-1, dpi)
	if err != nil {
		return nil, domain.ConversionError(fmt.Sprintf("Failed to render page %d", page), err)
	}
	return img, nil
}

func (d *fitzDocument) PageSize(page int) (domain.PageSize, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if page < 1 || page > d.doc.NumPage() {
		return domain.PageSize{}, domain.ValidationError(fmt.Sprintf("page %d out of range", page), nil)
	}
	b, err := d.doc.Bound(page - 1)
	if err != nil {
		return domain.PageSize{}, domain.ConversionError(fmt.Sprintf("Failed to read bounds of page %d", page), err)
	}
	return domain.PageSize{Width: float64(b.Dx()), Height: float64(b.Dy())}, nil
}

func (d *fitzDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Close()
}
