// Package markdown normalizes reconstructed booklet text and assembles the
// final Markdown document.
package markdown

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	spaceRun       = regexp.MustCompile(`[\t\v\f\x{85}\p{Z}]+`)
	leadingSpace   = regexp.MustCompile(`(?m)^ +`)
	trailingSpace  = regexp.MustCompile(`(?m) +$`)
	blankLines     = regexp.MustCompile(`\n{3,}`)
	questionNumber = regexp.MustCompile(`(?m)^(\d+)\.\s+`)
	answerChoice   = regexp.MustCompile(`(?m)^([A-J])[.)][ \t]+`)
	passageHeading = regexp.MustCompile(`(?m)^(PASSAGE[ \t]+[IVX]+)\b`)
	testTitle      = regexp.MustCompile(`(?m)^((?:ENGLISH|MATHEMATICS|READING|SCIENCE) TEST)\b`)
)

// Format cleans OCR artifacts and adds structural markup:
//
//	"12. text"      -> "**12.** text"
//	"B) text"       -> "- **B.** text"
//	"PASSAGE II"    -> "### PASSAGE II"
//	"READING TEST"  -> "# READING TEST"
//
// Lines lose their indentation so every marker is recognized on the first
// pass. Format is idempotent.
func Format(text string) string {
	text = norm.NFKC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	text = spaceRun.ReplaceAllString(text, " ")
	text = trailingSpace.ReplaceAllString(text, "")
	text = leadingSpace.ReplaceAllString(text, "")
	text = blankLines.ReplaceAllString(text, "\n\n")

	text = questionNumber.ReplaceAllString(text, "**$1.** ")
	text = answerChoice.ReplaceAllString(text, "- **$1.** ")
	text = passageHeading.ReplaceAllString(text, "### $1")
	text = testTitle.ReplaceAllString(text, "# $1")

	// Markers at the very end leave a dangling space.
	text = trailingSpace.ReplaceAllString(text, "")

	// Only newlines are left to trim; removing them cannot create a new
	// line start.
	return strings.Trim(text, "\n")
}
