package markdown

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/spherical/booklet-extractor/internal/domain"
)

// PageSeparator sits between consecutive pages of the document body.
const PageSeparator = "\n\n---\n\n"

// Body concatenates page texts in page order, each under a "## Page N"
// marker. The markers let question units recover their page.
func Body(pages []domain.PageText) string {
	sorted := append([]domain.PageText(nil), pages...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Page < sorted[j].Page })

	parts := make([]string, 0, len(sorted))
	for _, p := range sorted {
		parts = append(parts, fmt.Sprintf("## Page %d\n\n%s", p.Page, strings.TrimSpace(p.Text)))
	}
	return strings.Join(parts, PageSeparator)
}

// Document is everything needed to render the final Markdown file.
type Document struct {
	Title          string
	SourceFile     string
	TotalPages     int
	Body           string // already formatted
	Figures        []domain.Figure
	Links          *domain.QuestionFigureMap
	TextStrategy   string
	FigureStrategy string
	ImagesDir      string
}

// Assemble renders the header, body, question-figure index and figure
// appendix.
func Assemble(doc Document) string {
	imagesDir := doc.ImagesDir
	if imagesDir == "" {
		imagesDir = "images"
	}

	var b strings.Builder

	extracted := 0
	for _, f := range doc.Figures {
		if f.SourceType.Linkable() {
			extracted++
		}
	}

	fmt.Fprintf(&b, "# %s\n\n", doc.Title)
	fmt.Fprintf(&b, "**Source:** %s  \n", doc.SourceFile)
	fmt.Fprintf(&b, "**Total Pages:** %d  \n", doc.TotalPages)
	fmt.Fprintf(&b, "**Figures Extracted:** %d  \n", extracted)
	fmt.Fprintf(&b, "**Conversion Method:** %s  \n", doc.TextStrategy)
	fmt.Fprintf(&b, "**Figure Strategy:** %s\n\n---\n\n", doc.FigureStrategy)

	b.WriteString(strings.TrimSpace(doc.Body))
	b.WriteString("\n")

	if doc.Links != nil && doc.Links.Len() > 0 {
		b.WriteString("\n---\n\n## Question Figures\n\n")
		for _, q := range doc.Links.Questions() {
			files, _ := doc.Links.Get(q)
			refs := make([]string, 0, len(files))
			for _, f := range files {
				refs = append(refs, fmt.Sprintf("[%s](%s)", f, path.Join(imagesDir, f)))
			}
			fmt.Fprintf(&b, "- **Question %d:** %s\n", q, strings.Join(refs, ", "))
		}
	}

	if len(doc.Figures) > 0 {
		b.WriteString(appendix(doc.Figures, imagesDir))
	}

	return b.String()
}

// appendix lists every figure grouped by page, pages ascending, keeping
// extraction order within a page.
func appendix(figures []domain.Figure, imagesDir string) string {
	byPage := make(map[int][]domain.Figure)
	var pages []int
	for _, f := range figures {
		if _, ok := byPage[f.Page]; !ok {
			pages = append(pages, f.Page)
		}
		byPage[f.Page] = append(byPage[f.Page], f)
	}
	sort.Ints(pages)

	var b strings.Builder
	b.WriteString("\n---\n\n## Extracted Figures\n")
	for _, page := range pages {
		fmt.Fprintf(&b, "\n### Page %d\n\n", page)
		for _, f := range byPage[page] {
			alt := fmt.Sprintf("Figure from page %d", page)
			if f.SourceType == domain.SourcePageRender {
				alt = fmt.Sprintf("Page %d", page)
			}
			fmt.Fprintf(&b, "![%s](%s)\n\n", alt, path.Join(imagesDir, f.Filename))
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
