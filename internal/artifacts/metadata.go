package artifacts

import (
	"encoding/json"

	"github.com/spherical/booklet-extractor/internal/domain"
)

// Metadata is the sidecar JSON written next to the Markdown document.
type Metadata struct {
	SourceFile        string                    `json:"source_file"`
	Figures           []domain.Figure           `json:"figures"`
	QuestionFigureMap *domain.QuestionFigureMap `json:"question_figure_map"`
	Pages             []PageSummary             `json:"pages"`
	Report            *domain.Report            `json:"report"`
	Stats             domain.ProcessingStats    `json:"stats"`
}

// PageSummary records the provenance of each page's text.
type PageSummary struct {
	Page       int                 `json:"page"`
	Provenance domain.Provenance   `json:"provenance"`
	Layout     domain.ColumnLayout `json:"layout,omitempty"`
	Chars      int                 `json:"chars"`
}

// Summarize builds page summaries from reconstructed page texts.
func Summarize(pages []domain.PageText) []PageSummary {
	out := make([]PageSummary, 0, len(pages))
	for _, p := range pages {
		out = append(out, PageSummary{
			Page:       p.Page,
			Provenance: p.Provenance,
			Layout:     p.Layout(),
			Chars:      len([]rune(p.Text)),
		})
	}
	return out
}

// Encode renders the metadata as indented JSON.
func (m *Metadata) Encode() ([]byte, error) {
	if m.Figures == nil {
		m.Figures = []domain.Figure{}
	}
	if m.QuestionFigureMap == nil {
		m.QuestionFigureMap = domain.NewQuestionFigureMap()
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
