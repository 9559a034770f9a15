package layout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spherical/booklet-extractor/internal/domain"
	"github.com/spherical/booklet-extractor/internal/observability"
)

const doclingConvertPath = "/v1/convert/file"

// DoclingConfig configures the docling-serve client.
type DoclingConfig struct {
	URL     string
	Timeout time.Duration
	Retry   RetryConfig
}

// Docling analyzes documents with a docling-serve instance.
type Docling struct {
	baseURL    string
	retry      RetryConfig
	httpClient *http.Client
	logger     *observability.Logger
}

// NewDocling creates a docling-serve client.
func NewDocling(cfg DoclingConfig, logger *observability.Logger) *Docling {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &Docling{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		retry:      cfg.Retry,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.WithOperation("layout.docling"),
	}
}

func (d *Docling) Name() string { return "docling" }

// convertResponse is the subset of the docling-serve response we read.
type convertResponse struct {
	Status   string   `json:"status"`
	Errors   []any    `json:"errors"`
	Document struct {
		JSONContent *doclingDocument `json:"json_content"`
	} `json:"document"`
}

type doclingDocument struct {
	Pages    map[string]doclingPage `json:"pages"`
	Texts    []doclingItem          `json:"texts"`
	Pictures []doclingItem          `json:"pictures"`
}

type doclingPage struct {
	PageNo int `json:"page_no"`
	Size   struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	} `json:"size"`
}

type doclingItem struct {
	Text string        `json:"text"`
	Prov []doclingProv `json:"prov"`
}

type doclingProv struct {
	PageNo int         `json:"page_no"`
	BBox   doclingBBox `json:"bbox"`
}

type doclingBBox struct {
	L           float64 `json:"l"`
	T           float64 `json:"t"`
	R           float64 `json:"r"`
	B           float64 `json:"b"`
	CoordOrigin string  `json:"coord_origin"`
}

// Analyze uploads the document and converts the returned structure.
func (d *Docling) Analyze(ctx context.Context, path string) (domain.NativeLayout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.NativeLayout{}, domain.IOError("Failed to read document for layout analysis", err)
	}

	resp, err := retryWithBackoff(ctx, d.retry, d.logger, func() (*http.Response, error) {
		req, err := d.newRequest(ctx, filepath.Base(path), data)
		if err != nil {
			return nil, err
		}
		return d.httpClient.Do(req)
	})
	if err != nil {
		return domain.NativeLayout{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.NativeLayout{}, domain.LayoutError(
			fmt.Sprintf("docling-serve returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var out convertResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.NativeLayout{}, domain.LayoutError("Failed to decode docling-serve response", err)
	}

	switch out.Status {
	case "success", "partial_success", "":
	default:
		return domain.NativeLayout{}, domain.LayoutError(fmt.Sprintf("docling conversion status %q: %v", out.Status, out.Errors), nil)
	}
	if out.Document.JSONContent == nil {
		return domain.NativeLayout{}, domain.LayoutError("docling-serve response has no json_content", nil)
	}

	return convertDoclingDocument(out.Document.JSONContent), nil
}

func (d *Docling) newRequest(ctx context.Context, filename string, data []byte) (*http.Request, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("files", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	for k, v := range map[string]string{
		"to_formats":        "json",
		"do_ocr":            "true",
		"image_export_mode": "placeholder",
	} {
		if err := w.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+doclingConvertPath, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func convertDoclingDocument(doc *doclingDocument) domain.NativeLayout {
	res := domain.NativeLayout{
		Engine:    "docling",
		PageSizes: make(map[int]domain.PageSize, len(doc.Pages)),
	}

	pageCount := 0
	for key, p := range doc.Pages {
		n := p.PageNo
		if n == 0 {
			n, _ = strconv.Atoi(key)
		}
		if n <= 0 {
			continue
		}
		res.PageSizes[n] = domain.PageSize{Width: p.Size.Width, Height: p.Size.Height}
		pageCount = max(pageCount, n)
	}

	for _, pic := range doc.Pictures {
		for _, prov := range pic.Prov {
			res.Regions = append(res.Regions, domain.LayoutRegion{
				Page: prov.PageNo,
				BBox: domain.BoundingBox{
					Left:   prov.BBox.L,
					Top:    prov.BBox.T,
					Right:  prov.BBox.R,
					Bottom: prov.BBox.B,
					Frame:  doclingFrame(prov.BBox.CoordOrigin),
					Units:  domain.UnitsPoints,
				},
			})
		}
	}
	// Group by page, keeping document order within a page.
	sort.SliceStable(res.Regions, func(i, j int) bool { return res.Regions[i].Page < res.Regions[j].Page })

	blocks := make(map[int][]string)
	for _, t := range doc.Texts {
		text := strings.TrimSpace(t.Text)
		if text == "" || len(t.Prov) == 0 {
			continue
		}
		page := t.Prov[0].PageNo
		blocks[page] = append(blocks[page], text)
		pageCount = max(pageCount, page)
	}
	res.Pages = pagesFromText(pageCount, blocks)

	return res
}

func doclingFrame(origin string) domain.Frame {
	if strings.EqualFold(origin, "TOPLEFT") {
		return domain.FrameTopLeft
	}
	return domain.FrameBottomLeft
}
