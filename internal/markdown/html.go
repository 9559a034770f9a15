package markdown

import (
	"bytes"
	"fmt"
	stdhtml "html"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Raw HTML in OCR output is omitted from the preview.
var converter = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderHTML renders a Markdown document as a standalone HTML page.
func RenderHTML(title string, source []byte) ([]byte, error) {
	var body bytes.Buffer
	if err := converter.Convert(source, &body); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n", stdhtml.EscapeString(title))
	out.Write(body.Bytes())
	out.WriteString("</body>\n</html>\n")
	return out.Bytes(), nil
}
