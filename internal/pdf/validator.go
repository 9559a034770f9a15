package pdf

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spherical/booklet-extractor/internal/domain"
	"github.com/spherical/booklet-extractor/internal/observability"
)

const largeFileBytes = 100 * 1024 * 1024

var pdfMagic = []byte("%PDF-")

// Validator checks input documents before the pipeline opens them.
type Validator struct {
	logger *observability.Logger
}

// NewValidator creates a new validator instance
func NewValidator(logger *observability.Logger) *Validator {
	return &Validator{logger: logger}
}

// ValidatePDFPath validates that path names a readable PDF file.
func (v *Validator) ValidatePDFPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return domain.ValidationError("file path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ValidationError(fmt.Sprintf("file does not exist: %s", path), err)
		}
		return domain.ValidationError(fmt.Sprintf("cannot access file: %s", path), err)
	}

	if info.IsDir() {
		return domain.ValidationError(fmt.Sprintf("path is a directory, not a file: %s", path), nil)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".pdf" {
		return domain.ValidationError(fmt.Sprintf("file is not a PDF (has extension %s)", ext), nil)
	}

	if info.Size() > largeFileBytes {
		v.logger.Warn().Int64("size_mb", info.Size()/(1024*1024)).Str("path", path).Msg("PDF file is very large, processing may take a while")
	}

	file, err := os.Open(path)
	if err != nil {
		return domain.ValidationError(fmt.Sprintf("cannot open file: %s", path), err)
	}
	defer file.Close()

	header := make([]byte, 1024)
	n, err := io.ReadFull(file, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return domain.ValidationError(fmt.Sprintf("cannot read file: %s", path), err)
	}
	if !bytes.Contains(header[:n], pdfMagic) {
		return domain.ValidationError(fmt.Sprintf("file has no PDF header: %s", path), nil)
	}

	return nil
}

// ValidateDPI checks a render resolution.
func (v *Validator) ValidateDPI(dpi float64) error {
	if dpi < 36 || dpi > 1200 {
		return domain.ValidationError(fmt.Sprintf("dpi must be between 36 and 1200, got %g", dpi), nil)
	}
	return nil
}
