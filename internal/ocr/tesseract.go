// Package ocr recognizes text in page rasters with Tesseract.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract implements domain.OCREngine using gosseract. A fresh client is
// created per call so the engine can be shared by concurrent workers.
type Tesseract struct {
	language      string
	psm           gosseract.PageSegMode
	clientFactory func() *gosseract.Client
}

// NewTesseract creates an engine for language ("eng" when empty).
func NewTesseract(language string) *Tesseract {
	if language == "" {
		language = "eng"
	}
	return &Tesseract{
		language:      language,
		psm:           gosseract.PSM_AUTO,
		clientFactory: gosseract.NewClient,
	}
}

// Language returns the recognition language.
func (e *Tesseract) Language() string {
	return e.language
}

// Recognize returns the text found in img.
func (e *Tesseract) Recognize(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}

	c := e.clientFactory()
	defer c.Close()

	if err := c.SetLanguage(e.language); err != nil {
		return "", fmt.Errorf("set language: %w", err)
	}
	if err := c.SetPageSegMode(e.psm); err != nil {
		return "", fmt.Errorf("set page segmentation mode: %w", err)
	}
	if err := c.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}

	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return text, nil
}
