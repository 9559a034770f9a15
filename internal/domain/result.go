package domain

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Stage names used in warnings and events.
const (
	StageOpen     = "open"
	StageLayout   = "layout"
	StageFigures  = "figures"
	StageText     = "text"
	StageSegment  = "segment"
	StageLink     = "link"
	StageAssemble = "assemble"
)

// Strategy names reported for the figure and text stages.
const (
	FigureStrategyLayout   = "layout_regions"
	FigureStrategyEmbedded = "embedded_images"
	FigureStrategyNone     = "none"

	TextStrategyLayout = "layout_text"
	TextStrategyOCR    = "native_text_with_ocr"
)

// Warning is a recoverable per-unit failure.
type Warning struct {
	Stage string `json:"stage"`
	Page  int    `json:"page,omitempty"`
	Unit  int    `json:"unit,omitempty"`
	Err   error  `json:"-"`
}

func (w Warning) Error() string {
	switch {
	case w.Page > 0 && w.Unit > 0:
		return fmt.Sprintf("%s: page %d unit %d: %v", w.Stage, w.Page, w.Unit, w.Err)
	case w.Page > 0:
		return fmt.Sprintf("%s: page %d: %v", w.Stage, w.Page, w.Err)
	default:
		return fmt.Sprintf("%s: %v", w.Stage, w.Err)
	}
}

func (w Warning) Unwrap() error {
	return w.Err
}

// MarshalJSON includes the error text under "message".
func (w Warning) MarshalJSON() ([]byte, error) {
	type alias Warning
	msg := ""
	if w.Err != nil {
		msg = w.Err.Error()
	}
	return json.Marshal(struct {
		alias
		Message string `json:"message"`
	}{alias(w), msg})
}

// Report accumulates warnings and the strategies that produced the output.
// It is safe for concurrent use by page workers.
type Report struct {
	mu             sync.Mutex
	FigureStrategy string    `json:"figure_strategy"`
	TextStrategy   string    `json:"text_strategy"`
	FallbackCauses []string  `json:"fallback_causes,omitempty"`
	Warnings       []Warning `json:"warnings"`
}

// NewReport returns an empty report.
func NewReport() *Report {
	return &Report{Warnings: []Warning{}}
}

// Warn records a recoverable failure.
func (r *Report) Warn(w Warning) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Warnings = append(r.Warnings, w)
}

// Fallback records why a stage switched to its alternate strategy.
func (r *Report) Fallback(stage string, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FallbackCauses = append(r.FallbackCauses, fmt.Sprintf("%s: %v", stage, cause))
}

// Merge appends the warnings of other.
func (r *Report) Merge(ws []Warning) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Warnings = append(r.Warnings, ws...)
}

// WarningCount returns the number of recorded warnings.
func (r *Report) WarningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Warnings)
}

// ExtractionResult is what the layout stage produced for a document.
// It is either NativeLayout or OcrFallback.
type ExtractionResult interface {
	extractionResult()
}

// LayoutRegion is a figure region reported by a layout engine.
type LayoutRegion struct {
	Page int
	BBox BoundingBox
}

// PageSize is a page's size in the layout engine's units.
type PageSize struct {
	Width  float64
	Height float64
}

// NativeLayout carries a layout engine's text and figure regions.
type NativeLayout struct {
	Engine    string
	Pages     []PageText
	Regions   []LayoutRegion
	PageSizes map[int]PageSize
}

// OcrFallback means no usable layout result exists and text must come from
// native extraction plus OCR. Cause is nil when no layout engine was configured.
type OcrFallback struct {
	Pages int
	Cause error
}

func (NativeLayout) extractionResult() {}
func (OcrFallback) extractionResult()  {}
