// Package questions splits booklet text into numbered question units and
// links figures to the questions that refer to them.
package questions

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spherical/booklet-extractor/internal/domain"
)

var (
	// A question marker at line start: "12. ", "**12.** " or "**12**. ".
	markerPattern = regexp.MustCompile(`(?m)^[ \t]*(?:\*\*)?(\d+)(?:\*\*)?\.(?:\*\*)?\s+`)

	// A page marker heading such as "## Page 3".
	pagePattern = regexp.MustCompile(`(?m)^#{1,6}[ \t]*Page[ \t]+(\d+)`)

	// The last line of a unit when it is a page separator or page heading.
	pageTail = regexp.MustCompile(`(?:^|\n)[ \t]*(?:-{3,}|#{1,6}[ \t]*Page[ \t]+\d+)$`)
)

type pageMark struct {
	offset int
	page   int
}

// Segment splits text into question units. A unit's body runs from its
// marker to the next marker or the end of the text. Numbers are taken as
// written: repeats and gaps are kept. Each unit's page hint is the nearest
// preceding page marker, or 1 when there is none. Page separators trailing
// a unit are not part of its text.
func Segment(text string) []domain.QuestionUnit {
	markers := markerPattern.FindAllStringSubmatchIndex(text, -1)
	if len(markers) == 0 {
		return nil
	}
	pages := pageMarks(text)

	units := make([]domain.QuestionUnit, 0, len(markers))
	for i, m := range markers {
		number, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil {
			// Digit runs too long for int are not question numbers.
			continue
		}

		end := len(text)
		if i+1 < len(markers) {
			end = markers[i+1][0]
		}

		units = append(units, domain.QuestionUnit{
			Number:         number,
			Text:           trimPageTail(text[m[1]:end]),
			SourcePageHint: pageAt(pages, m[0]),
		})
	}
	return units
}

func trimPageTail(s string) string {
	for {
		s = strings.TrimSpace(s)
		loc := pageTail.FindStringIndex(s)
		if loc == nil {
			return s
		}
		s = s[:loc[0]]
	}
}

func pageMarks(text string) []pageMark {
	var marks []pageMark
	for _, m := range pagePattern.FindAllStringSubmatchIndex(text, -1) {
		page, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil {
			continue
		}
		marks = append(marks, pageMark{offset: m[0], page: page})
	}
	return marks
}

// pageAt returns the page of the last mark at or before offset.
func pageAt(marks []pageMark, offset int) int {
	i := sort.Search(len(marks), func(i int) bool { return marks[i].offset > offset })
	if i == 0 {
		return 1
	}
	return marks[i-1].page
}
