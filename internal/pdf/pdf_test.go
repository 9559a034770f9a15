package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/booklet-extractor/internal/domain"
	"github.com/spherical/booklet-extractor/internal/observability"
)

// writePDF writes a minimal single-page Letter PDF showing text.
func writePDF(t *testing.T, text string) string {
	t.Helper()

	content := fmt.Sprintf("BT /F1 24 Tf 72 700 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)

	path := filepath.Join(t.TempDir(), "booklet.pdf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestValidator_ValidatePDFPath(t *testing.T) {
	v := NewValidator(observability.Nop())
	dir := t.TempDir()

	notPDF := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notPDF, []byte("hi"), 0o644))
	fakePDF := filepath.Join(dir, "fake.pdf")
	require.NoError(t, os.WriteFile(fakePDF, []byte("PK\x03\x04 zip"), 0o644))

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"empty", "  ", "cannot be empty"},
		{"missing", filepath.Join(dir, "missing.pdf"), "does not exist"},
		{"directory", dir, "is a directory"},
		{"wrong extension", notPDF, "not a PDF"},
		{"no header", fakePDF, "no PDF header"},
		{"valid", writePDF(t, "ok"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidatePDFPath(tt.path)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidator_ValidateDPI(t *testing.T) {
	v := NewValidator(observability.Nop())
	assert.NoError(t, v.ValidateDPI(300))
	assert.Error(t, v.ValidateDPI(10))
	assert.Error(t, v.ValidateDPI(5000))
}

func TestFitzRasterizer(t *testing.T) {
	doc, err := NewRasterizer().Open(writePDF(t, "Hello"))
	require.NoError(t, err)
	defer doc.Close()

	assert.Equal(t, 1, doc.PageCount())

	size, err := doc.PageSize(1)
	require.NoError(t, err)
	assert.Equal(t, domain.PageSize{Width: 612, Height: 792}, size)

	img, err := doc.Render(context.Background(), 1, 72)
	require.NoError(t, err)
	assert.Equal(t, 612, img.Bounds().Dx())
	assert.Equal(t, 792, img.Bounds().Dy())

	_, err = doc.Render(context.Background(), 2, 72)
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}

func TestFitzRasterizer_OpenFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf at all"), 0o644))

	_, err := NewRasterizer().Open(path)
	assert.Error(t, err)
}

func TestNativeText(t *testing.T) {
	texts, err := NewNativeText(observability.Nop()).PageTexts(context.Background(), writePDF(t, "Hello booklet"))
	require.NoError(t, err)
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Hello booklet")
}

func TestNativeText_OpenFailure(t *testing.T) {
	_, err := NewNativeText(observability.Nop()).PageTexts(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	assert.True(t, domain.IsType(err, domain.ErrorTypeExtraction))
}
