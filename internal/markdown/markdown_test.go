package markdown

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/booklet-extractor/internal/domain"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"question number", "12.   What is x?", "**12.** What is x?"},
		{"answer dot", "A. red\nB.\tblue", "- **A.** red\n- **B.** blue"},
		{"answer paren", "F) first", "- **F.** first"},
		{"letter outside range", "K. not a choice", "K. not a choice"},
		{"passage", "PASSAGE IV\nText", "### PASSAGE IV\nText"},
		{"test title", "READING TEST\n40 Questions", "# READING TEST\n40 Questions"},
		{"blank lines", "a\n\n\n\n b \n \n\nc", "a\n\nb\n\nc"},
		{"indented question", "  12. Which graph is shown?", "**12.** Which graph is shown?"},
		{"indented choice", "\tA) first choice", "- **A.** first choice"},
		{"indented passage", " PASSAGE II", "### PASSAGE II"},
		{"unicode spaces", "\u3000\u00a014.\u2003x\u2028", "**14.** x"},
		{"crlf", "a\r\n\r\n\r\nb", "a\n\nb"},
		{"ligature", "ﬁgure", "figure"},
		{"decimal is not a question", "3.5 meters", "3.5 meters"},
		{"dangling marker", "text\n7. ", "text\n7."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.in))
		})
	}
}

func TestFormat_Idempotent(t *testing.T) {
	inputs := []string{
		"ENGLISH TEST\n\n\nPASSAGE I\n\n1.  The  author\tsays\n\nA. yes\nB) no\n\n\n2.\nNext question\n",
		"## Page 1\n\n14. Which diagram   shows it?\n\n---\n\n## Page 2\n\nJ. last  \n",
		"  \n\n  leading space\n\n12. ",
		"1.\n2. both\nA.\n3. x",
		"ｆｕｌｌｗｉｄｔｈ　１２． text",
		"  12. Which graph is shown?",
		"\tA) first choice",
		" PASSAGE II",
		"text\n   READING TEST\n \t 3.  x\n\v B. y",
		"\u2028 12. x\n\u00a0\u00a0C) z\n",
		"1.\n 2. both\n  A.\n 3. x",
	}
	for _, in := range inputs {
		once := Format(in)
		assert.Equal(t, once, Format(once), "input %q", in)
	}
}

func TestBody(t *testing.T) {
	body := Body([]domain.PageText{
		{Page: 2, Text: "second\n"},
		{Page: 1, Text: "  first"},
	})
	assert.Equal(t, "## Page 1\n\nfirst\n\n---\n\n## Page 2\n\nsecond", body)
}

func TestAssemble(t *testing.T) {
	links := domain.NewQuestionFigureMap()
	links.Add(14, "page3_img1.jpeg")
	links.Add(14, "page5_img1.png")

	out := Assemble(Document{
		Title:      "act-2024",
		SourceFile: "act-2024.pdf",
		TotalPages: 5,
		Body:       "## Page 1\n\n**14.** Which diagram?",
		Figures: []domain.Figure{
			{Page: 5, SequenceIndex: 1, Filename: "page5_img1.png", SourceType: domain.SourceEmbeddedImage},
			{Page: 3, SequenceIndex: 0, Filename: "page3_img0.png", SourceType: domain.SourcePageRender},
			{Page: 3, SequenceIndex: 1, Filename: "page3_img1.jpeg", SourceType: domain.SourceEmbeddedImage},
		},
		Links:          links,
		TextStrategy:   domain.TextStrategyOCR,
		FigureStrategy: domain.FigureStrategyEmbedded,
	})

	assert.True(t, strings.HasPrefix(out, "# act-2024\n\n**Source:** act-2024.pdf  \n**Total Pages:** 5  \n**Figures Extracted:** 2  \n"))
	assert.Contains(t, out, "**Conversion Method:** native_text_with_ocr")
	assert.Contains(t, out, "- **Question 14:** [page3_img1.jpeg](images/page3_img1.jpeg), [page5_img1.png](images/page5_img1.png)\n")

	appendixAt := strings.Index(out, "## Extracted Figures")
	require.Positive(t, appendixAt)
	appendix := out[appendixAt:]
	assert.Less(t, strings.Index(appendix, "### Page 3"), strings.Index(appendix, "### Page 5"))
	assert.Less(t, strings.Index(appendix, "(images/page3_img0.png)"), strings.Index(appendix, "(images/page3_img1.jpeg)"))
	assert.Contains(t, appendix, "![Figure from page 5](images/page5_img1.png)")
	assert.Contains(t, appendix, "![Page 3](images/page3_img0.png)")
	assert.True(t, strings.HasSuffix(out, ")\n"))
}

func TestAssemble_NoFiguresNoLinks(t *testing.T) {
	out := Assemble(Document{Title: "x", SourceFile: "x.pdf", Body: "text", ImagesDir: "img"})
	assert.NotContains(t, out, "## Question Figures")
	assert.NotContains(t, out, "## Extracted Figures")
	assert.Contains(t, out, "**Figures Extracted:** 0")
}

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML("a <b>", []byte("# Title\n\n| a | b |\n|---|---|\n| 1 | 2 |\n\n<script>x</script>\n"))
	require.NoError(t, err)

	s := string(html)
	assert.Contains(t, s, "<title>a &lt;b&gt;</title>")
	assert.Contains(t, s, "<h1>Title</h1>")
	assert.Contains(t, s, "<table>")
	assert.NotContains(t, s, "<script>")
}
