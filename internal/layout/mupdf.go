package layout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/spherical/booklet-extractor/internal/domain"
	"github.com/spherical/booklet-extractor/internal/observability"
)

// stext.json as written by `mutool draw -F stext.json`. Boxes are in
// points with a top-left origin.
type stextDocument struct {
	Pages []stextPage `json:"pages"`
}

type stextPage struct {
	Blocks []stextBlock `json:"blocks"`
}

type stextBlock struct {
	Type  string      `json:"type"`
	BBox  stextBBox   `json:"bbox"`
	Lines []stextLine `json:"lines"`
}

type stextBBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

type stextLine struct {
	Text string `json:"text"`
}

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// MuPDF analyzes documents with the mutool CLI.
type MuPDF struct {
	bin    string
	run    Runner
	logger *observability.Logger
}

// NewMuPDF creates a mutool-backed engine. bin defaults to "mutool".
func NewMuPDF(bin string, logger *observability.Logger) *MuPDF {
	if bin == "" {
		bin = "mutool"
	}
	return &MuPDF{bin: bin, run: execRunner, logger: logger.WithOperation("layout.mupdf")}
}

// WithRunner replaces the command runner.
func (m *MuPDF) WithRunner(run Runner) *MuPDF {
	m.run = run
	return m
}

func (m *MuPDF) Name() string { return "mupdf" }

// Analyze runs `mutool draw -F stext.json` and converts its output.
func (m *MuPDF) Analyze(ctx context.Context, path string) (domain.NativeLayout, error) {
	args := []string{"draw", "-F", "stext.json", "-o", "-", path}
	m.logger.Debug().Str("bin", m.bin).Strs("args", args).Msg("Running mutool")

	out, err := m.run(ctx, m.bin, args...)
	if err != nil {
		return domain.NativeLayout{}, domain.LayoutError("mutool failed", err)
	}
	return ParseSText(out)
}

// ParseSText converts mutool stext.json output. Image blocks become
// figure regions and text blocks become page text.
func ParseSText(data []byte) (domain.NativeLayout, error) {
	var doc stextDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.NativeLayout{}, domain.LayoutError("Failed to parse stext.json", err)
	}

	res := domain.NativeLayout{Engine: "mupdf"}
	blocks := make(map[int][]string)

	for i, p := range doc.Pages {
		page := i + 1
		for _, b := range p.Blocks {
			switch b.Type {
			case "image":
				res.Regions = append(res.Regions, domain.LayoutRegion{
					Page: page,
					BBox: domain.BoundingBox{
						Left:   b.BBox.X,
						Top:    b.BBox.Y,
						Right:  b.BBox.X + b.BBox.W,
						Bottom: b.BBox.Y + b.BBox.H,
						Frame:  domain.FrameTopLeft,
						Units:  domain.UnitsPoints,
					},
				})
			case "text":
				lines := make([]string, 0, len(b.Lines))
				for _, l := range b.Lines {
					if t := strings.TrimSpace(l.Text); t != "" {
						lines = append(lines, t)
					}
				}
				if len(lines) > 0 {
					blocks[page] = append(blocks[page], strings.Join(lines, "\n"))
				}
			}
		}
	}

	res.Pages = pagesFromText(len(doc.Pages), blocks)
	return res, nil
}
