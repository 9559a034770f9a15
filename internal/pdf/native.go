package pdf

import (
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"

	"github.com/spherical/booklet-extractor/internal/domain"
	"github.com/spherical/booklet-extractor/internal/observability"
)

// NativeText reads a document's embedded text layer.
type NativeText struct {
	logger *observability.Logger
}

// NewNativeText creates a native text extractor.
func NewNativeText(logger *observability.Logger) *NativeText {
	return &NativeText{logger: logger.WithOperation("pdf.native")}
}

// PageTexts returns one string per page. A page whose text layer cannot be
// read yields an empty string so OCR takes over for it.
func (n *NativeText) PageTexts(ctx context.Context, path string) ([]string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, domain.ExtractionError(fmt.Sprintf("Failed to open %s for text extraction", path), err)
	}
	defer f.Close()

	numPages := r.NumPage()
	texts := make([]string, numPages)
	fonts := make(map[string]*pdf.Font)

	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		texts[i-1] = n.pageText(r, i, fonts)
	}
	return texts, nil
}

func (n *NativeText) pageText(r *pdf.Reader, page int, fonts map[string]*pdf.Font) (text string) {
	// Malformed content streams panic inside the parser.
	defer func() {
		if rec := recover(); rec != nil {
			n.logger.Debug().Int("page", page).Str("panic", fmt.Sprint(rec)).Msg("Native text unreadable")
			text = ""
		}
	}()

	p := r.Page(page)
	if p.V.IsNull() {
		return ""
	}

	for _, name := range p.Fonts() {
		if _, ok := fonts[name]; !ok {
			font := p.Font(name)
			fonts[name] = &font
		}
	}

	text, err := p.GetPlainText(fonts)
	if err != nil {
		n.logger.Debug().Int("page", page).Err(err).Msg("Native text unreadable")
		return ""
	}
	return text
}
