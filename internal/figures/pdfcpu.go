package figures

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFCPUScanner lists embedded images with pdfcpu.
type PDFCPUScanner struct{}

// NewPDFCPUScanner creates a pdfcpu-backed scanner.
func NewPDFCPUScanner() *PDFCPUScanner {
	return &PDFCPUScanner{}
}

// Open reads and validates the document.
func (s *PDFCPUScanner) Open(path string) (ImageSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}

	return &pdfcpuSource{ctx: ctx}, nil
}

type pdfcpuSource struct {
	ctx *model.Context
}

func (s *pdfcpuSource) PageCount() int {
	return s.ctx.PageCount
}

// PageImages returns the page's image objects ordered by object number.
func (s *pdfcpuSource) PageImages(ctx context.Context, page int) ([]EmbeddedImage, error) {
	found, err := pdfcpu.ExtractPageImages(s.ctx, page, false)
	if err != nil {
		return nil, fmt.Errorf("extract page images: %w", err)
	}

	objNrs := make([]int, 0, len(found))
	for objNr := range found {
		objNrs = append(objNrs, objNr)
	}
	sort.Ints(objNrs)

	images := make([]EmbeddedImage, 0, len(objNrs))
	for i, objNr := range objNrs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img := found[objNr]
		data, err := io.ReadAll(img)
		if err != nil {
			return nil, fmt.Errorf("read image object %d: %w", objNr, err)
		}

		images = append(images, EmbeddedImage{
			Page:   page,
			Index:  i + 1,
			Data:   data,
			Ext:    img.FileType,
			Width:  img.Width,
			Height: img.Height,
		})
	}

	return images, nil
}

func (s *pdfcpuSource) Close() error {
	return nil
}
