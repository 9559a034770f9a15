package layout

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/booklet-extractor/internal/domain"
	"github.com/spherical/booklet-extractor/internal/observability"
)

const doclingResponse = `{
  "status": "success",
  "errors": [],
  "document": {
    "json_content": {
      "pages": {
        "1": {"page_no": 1, "size": {"width": 612, "height": 792}},
        "2": {"page_no": 2, "size": {"width": 612, "height": 792}}
      },
      "texts": [
        {"text": "READING TEST", "prov": [{"page_no": 1}]},
        {"text": "  ", "prov": [{"page_no": 1}]},
        {"text": "1. Which diagram shows the cycle?", "prov": [{"page_no": 2}]},
        {"text": "PASSAGE I", "prov": [{"page_no": 1}]}
      ],
      "pictures": [
        {"prov": [{"page_no": 2, "bbox": {"l": 100, "t": 500, "r": 300, "b": 300, "coord_origin": "BOTTOMLEFT"}}]},
        {"prov": [{"page_no": 1, "bbox": {"l": 50, "t": 100, "r": 250, "b": 300, "coord_origin": "TOPLEFT"}}]}
      ]
    }
  }
}`

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func tempPDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "booklet.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 test"), 0o644))
	return path
}

func TestDocling_Analyze(t *testing.T) {
	var gotFile, gotFormat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, doclingConvertPath, r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		gotFormat = r.FormValue("to_formats")
		f, hdr, err := r.FormFile("files")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		gotFile = hdr.Filename + ":" + string(data)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, doclingResponse)
	}))
	defer srv.Close()

	d := NewDocling(DoclingConfig{URL: srv.URL + "/", Retry: fastRetry()}, observability.Nop())
	res, err := d.Analyze(context.Background(), tempPDF(t))
	require.NoError(t, err)

	assert.Equal(t, "booklet.pdf:%PDF-1.4 test", gotFile)
	assert.Equal(t, "json", gotFormat)
	assert.Equal(t, "docling", res.Engine)

	require.Len(t, res.Regions, 2)
	assert.Equal(t, 1, res.Regions[0].Page, "regions grouped by page")
	assert.Equal(t, domain.FrameTopLeft, res.Regions[0].BBox.Frame)
	assert.Equal(t, 2, res.Regions[1].Page)
	assert.Equal(t, domain.BoundingBox{Left: 100, Top: 500, Right: 300, Bottom: 300, Frame: domain.FrameBottomLeft, Units: domain.UnitsPoints}, res.Regions[1].BBox)

	assert.Equal(t, domain.PageSize{Width: 612, Height: 792}, res.PageSizes[2])

	require.Len(t, res.Pages, 2)
	assert.Equal(t, "READING TEST\n\nPASSAGE I", res.Pages[0].Text)
	assert.Equal(t, domain.ProvenanceLayout, res.Pages[0].Provenance)
	assert.Equal(t, "1. Which diagram shows the cycle?", res.Pages[1].Text)
}

func TestDocling_RetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, doclingResponse)
	}))
	defer srv.Close()

	d := NewDocling(DoclingConfig{URL: srv.URL, Retry: fastRetry()}, observability.Nop())
	_, err := d.Analyze(context.Background(), tempPDF(t))
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDocling_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"bad request is not retried", http.StatusBadRequest, `{"detail":"bad file"}`, "returned 400"},
		{"retries exhausted", http.StatusBadGateway, ``, "after 2 retries"},
		{"failed conversion", http.StatusOK, `{"status":"failure","errors":["boom"],"document":{}}`, "failure"},
		{"missing json content", http.StatusOK, `{"status":"success","document":{}}`, "no json_content"},
		{"garbage", http.StatusOK, `not json`, "decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			d := NewDocling(DoclingConfig{URL: srv.URL, Retry: fastRetry()}, observability.Nop())
			_, err := d.Analyze(context.Background(), tempPDF(t))
			require.Error(t, err)
			assert.True(t, domain.IsType(err, domain.ErrorTypeLayout))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: time.Second, MaxBackoff: 5 * time.Second}
	assert.Equal(t, time.Second, calculateBackoff(0, cfg))
	assert.Equal(t, 4*time.Second, calculateBackoff(2, cfg))
	assert.Equal(t, 5*time.Second, calculateBackoff(6, cfg))
}

const stext = `{"pages":[
  {"blocks":[
    {"type":"text","bbox":{"x":72,"y":40,"w":300,"h":20},"lines":[{"text":"SCIENCE TEST"},{"text":" "}]},
    {"type":"image","bbox":{"x":100,"y":200,"w":150,"h":120}}
  ]},
  {"blocks":[]}
]}`

func TestParseSText(t *testing.T) {
	res, err := ParseSText([]byte(stext))
	require.NoError(t, err)

	assert.Equal(t, "mupdf", res.Engine)
	require.Len(t, res.Regions, 1)
	assert.Equal(t, domain.LayoutRegion{
		Page: 1,
		BBox: domain.BoundingBox{Left: 100, Top: 200, Right: 250, Bottom: 320, Frame: domain.FrameTopLeft, Units: domain.UnitsPoints},
	}, res.Regions[0])

	require.Len(t, res.Pages, 2)
	assert.Equal(t, "SCIENCE TEST", res.Pages[0].Text)
	assert.Equal(t, "", res.Pages[1].Text)

	_, err = ParseSText([]byte("{"))
	assert.True(t, domain.IsType(err, domain.ErrorTypeLayout))
}

func TestMuPDF_Analyze(t *testing.T) {
	var gotArgs []string
	m := NewMuPDF("", observability.Nop()).WithRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = append([]string{name}, args...)
		return []byte(stext), nil
	})

	res, err := m.Analyze(context.Background(), "/tmp/b.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"mutool", "draw", "-F", "stext.json", "-o", "-", "/tmp/b.pdf"}, gotArgs)
	assert.Len(t, res.Regions, 1)

	m.WithRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, errors.New("exit status 1")
	})
	_, err = m.Analyze(context.Background(), "/tmp/b.pdf")
	assert.True(t, domain.IsType(err, domain.ErrorTypeLayout))
}

type stubEngine struct {
	res domain.NativeLayout
	err error
}

func (s stubEngine) Name() string { return "stub" }
func (s stubEngine) Analyze(ctx context.Context, path string) (domain.NativeLayout, error) {
	return s.res, s.err
}

func TestDetect(t *testing.T) {
	logger := observability.Nop()

	res := Detect(context.Background(), nil, "x.pdf", 4, logger)
	assert.Equal(t, domain.OcrFallback{Pages: 4}, res)

	cause := errors.New("connection refused")
	res = Detect(context.Background(), stubEngine{err: cause}, "x.pdf", 4, logger)
	fb, ok := res.(domain.OcrFallback)
	require.True(t, ok)
	assert.ErrorIs(t, fb.Cause, cause)

	res = Detect(context.Background(), stubEngine{res: domain.NativeLayout{Engine: "stub"}}, "x.pdf", 4, logger)
	native, ok := res.(domain.NativeLayout)
	require.True(t, ok)
	assert.Equal(t, "stub", native.Engine)
}

func TestText(t *testing.T) {
	_, err := Text(domain.NativeLayout{Pages: []domain.PageText{{Page: 1, Text: " \n"}}})
	assert.ErrorIs(t, err, ErrNoText)

	pages, err := Text(domain.NativeLayout{Pages: []domain.PageText{{Page: 1}, {Page: 2, Text: "x"}}})
	require.NoError(t, err)
	assert.Len(t, pages, 2)
}
