package domain

import (
	"encoding/json"
	"time"
)

// ColumnLayout is the text layout assigned to a page before OCR.
type ColumnLayout string

const (
	LayoutUnknown ColumnLayout = ""
	LayoutSingle  ColumnLayout = "single"
	LayoutTwo     ColumnLayout = "two"
)

// Page represents a single source page as rasterized for OCR or cropping.
type Page struct {
	Index        int          `json:"index"` // 1-based
	Width        int          `json:"width"` // raster pixels
	Height       int          `json:"height"`
	RasterDPI    float64      `json:"raster_dpi"`
	ColumnLayout ColumnLayout `json:"column_layout"`
}

// Frame identifies the origin of a bounding box coordinate system.
type Frame string

const (
	// FrameBottomLeft is the PDF user space: origin bottom-left, y grows upward.
	FrameBottomLeft Frame = "bottom_left"
	// FrameTopLeft is the raster space: origin top-left, y grows downward.
	FrameTopLeft Frame = "top_left"
)

// Units of a bounding box.
type Units string

const (
	UnitsPoints Units = "points"
	UnitsPixels Units = "pixels"
)

// BoundingBox is a rectangle tagged with its coordinate frame and units.
// In the top-left frame Left/Top/Right/Bottom read as x0/y0/x1/y1.
type BoundingBox struct {
	Left   float64 `json:"l"`
	Top    float64 `json:"t"`
	Right  float64 `json:"r"`
	Bottom float64 `json:"b"`
	Frame  Frame   `json:"frame"`
	Units  Units   `json:"units"`
}

// Width returns the horizontal extent of the box.
func (b BoundingBox) Width() float64 {
	return b.Right - b.Left
}

// Height returns the vertical extent of the box, respecting its frame.
func (b BoundingBox) Height() float64 {
	if b.Frame == FrameBottomLeft {
		return b.Top - b.Bottom
	}
	return b.Bottom - b.Top
}

// SourceType describes where a figure came from.
type SourceType string

const (
	SourcePageRender     SourceType = "page_render"
	SourceEmbeddedImage  SourceType = "embedded_image"
	SourceDetectedRegion SourceType = "detected_region"
)

// Linkable reports whether figures of this type may be attached to questions.
// Full page renders are never linked.
func (s SourceType) Linkable() bool {
	return s != SourcePageRender
}

// Figure is an extracted image artifact.
type Figure struct {
	Page          int
	SequenceIndex int
	Filename      string
	SourceType    SourceType
	Width         int
	Height        int
	// BBox is set for detected regions and is always top-left frame, pixel units.
	BBox *BoundingBox
}

type figureJSON struct {
	Page       int         `json:"page"`
	Index      int         `json:"index"`
	Filename   string      `json:"filename"`
	Type       SourceType  `json:"type"`
	Dimensions [2]int      `json:"dimensions"`
	BBox       *[4]float64 `json:"bbox,omitempty"`
}

// MarshalJSON writes the figure in the metadata record layout.
func (f Figure) MarshalJSON() ([]byte, error) {
	out := figureJSON{
		Page:       f.Page,
		Index:      f.SequenceIndex,
		Filename:   f.Filename,
		Type:       f.SourceType,
		Dimensions: [2]int{f.Width, f.Height},
	}
	if f.BBox != nil {
		out.BBox = &[4]float64{f.BBox.Left, f.BBox.Top, f.BBox.Right, f.BBox.Bottom}
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the metadata record layout written by MarshalJSON.
func (f *Figure) UnmarshalJSON(data []byte) error {
	var in figureJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*f = Figure{
		Page:          in.Page,
		SequenceIndex: in.Index,
		Filename:      in.Filename,
		SourceType:    in.Type,
		Width:         in.Dimensions[0],
		Height:        in.Dimensions[1],
	}
	if in.BBox != nil {
		f.BBox = &BoundingBox{
			Left: in.BBox[0], Top: in.BBox[1], Right: in.BBox[2], Bottom: in.BBox[3],
			Frame: FrameTopLeft, Units: UnitsPixels,
		}
	}
	return nil
}

// QuestionUnit is one enumerated question cut from the document text.
// Numbers are not unique; sections may restart numbering.
type QuestionUnit struct {
	Number         int    `json:"number"`
	Text           string `json:"text"`
	SourcePageHint int    `json:"source_page_hint"`
}

// Provenance records how a page's text was produced.
type Provenance string

const (
	ProvenanceNative Provenance = "native"
	ProvenanceOCR    Provenance = "ocr"
	ProvenanceLayout Provenance = "layout"
	ProvenanceError  Provenance = "error"
)

// PageText is the reconstructed reading-order text of one page. Raster is
// set when the text was read from a rendered page.
type PageText struct {
	Page       int        `json:"page"`
	Text       string     `json:"text"`
	Provenance Provenance `json:"provenance"`
	Raster     *Page      `json:"raster,omitempty"`
}

// Layout returns the column layout the page was read with.
func (p PageText) Layout() ColumnLayout {
	if p.Raster == nil {
		return LayoutUnknown
	}
	return p.Raster.ColumnLayout
}

// EventType represents the type of stream event
type EventType string

const (
	EventStart          EventType = "start"
	EventStage          EventType = "stage"
	EventPageProcessing EventType = "page_processing"
	EventPageComplete   EventType = "page_complete"
	EventFigure         EventType = "figure"
	EventWarning        EventType = "warning"
	EventError          EventType = "error"
	EventComplete       EventType = "complete"
)

// StreamEvent represents an event emitted during processing
type StreamEvent struct {
	Type       EventType   `json:"type"`
	PageNumber int         `json:"page_number,omitempty"`
	Total      int         `json:"total,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// ProcessingStats contains metadata about the conversion execution
type ProcessingStats struct {
	TotalTime       time.Duration `json:"total_time"`
	PagesProcessed  int           `json:"pages_processed"`
	OCRPages        int           `json:"ocr_pages"`
	NativePages     int           `json:"native_pages"`
	FailedPages     int           `json:"failed_pages"`
	Figures         int           `json:"figures"`
	Questions       int           `json:"questions"`
	LinkedQuestions int           `json:"linked_questions"`
}
