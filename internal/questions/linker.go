package questions

import (
	"regexp"
	"strings"

	"github.com/spherical/booklet-extractor/internal/domain"
)

// DefaultKeywords are the phrases that mark a question as referring to a
// figure.
var DefaultKeywords = []string{
	"figure", "graph", "diagram", "shown", "chart", "table",
	"refer to", "based on", "according to",
	"above", "below", "image", "illustration", "picture",
}

// DefaultPageWindow is the page distance within which figures are linked.
const DefaultPageWindow = 2

// Linker attaches figures to questions whose text references a figure.
type Linker struct {
	pattern *regexp.Regexp
	window  int
}

// NewLinker compiles the keyword set. Keywords match case-insensitively at
// word boundaries, with an optional plural "s"; spaces inside a keyword
// match any run of whitespace. A negative window is treated as zero.
func NewLinker(keywords []string, window int) *Linker {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	if window < 0 {
		window = 0
	}

	alts := make([]string, 0, len(keywords))
	for _, k := range keywords {
		words := strings.Fields(strings.ToLower(k))
		if len(words) == 0 {
			continue
		}
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		alts = append(alts, strings.Join(words, `\s+`))
	}

	var pattern *regexp.Regexp
	if len(alts) > 0 {
		pattern = regexp.MustCompile(`\b(?:` + strings.Join(alts, "|") + `)s?\b`)
	}
	return &Linker{pattern: pattern, window: window}
}

// References reports whether text contains a figure keyword.
func (l *Linker) References(text string) bool {
	if l.pattern == nil {
		return false
	}
	return l.pattern.MatchString(strings.ToLower(text))
}

// Link maps each referencing question to every linkable figure within the
// page window of the question's page hint, in figure order. Questions
// without a keyword, or without a figure in range, get no entry.
func (l *Linker) Link(units []domain.QuestionUnit, figures []domain.Figure) *domain.QuestionFigureMap {
	links := domain.NewQuestionFigureMap()

	for _, u := range units {
		if !l.References(u.Text) {
			continue
		}
		for _, f := range figures {
			if !f.SourceType.Linkable() {
				continue
			}
			if abs(f.Page-u.SourcePageHint) <= l.window {
				links.Add(u.Number, f.Filename)
			}
		}
	}

	return links
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
