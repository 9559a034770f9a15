package figures

import (
	"fmt"
	"strings"
)

// DetectedFilename names a layout-detected figure.
func DetectedFilename(page, index int) string {
	return fmt.Sprintf("figure_%d_%d.png", page, index)
}

// EmbeddedFilename names an embedded image or page render. Index 0 is
// reserved for the full page render.
func EmbeddedFilename(page, index int, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "png"
	}
	return fmt.Sprintf("page%d_img%d.%s", page, index, ext)
}
