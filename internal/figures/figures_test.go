package figures

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/booklet-extractor/internal/artifacts"
	"github.com/spherical/booklet-extractor/internal/domain"
	"github.com/spherical/booklet-extractor/internal/observability"
)

// fakeDoc renders blank US Letter pages.
type fakeDoc struct {
	pages     int
	renderErr map[int]error
	renders   []int
}

func (d *fakeDoc) PageCount() int { return d.pages }

func (d *fakeDoc) Render(ctx context.Context, page int, dpi float64) (image.Image, error) {
	d.renders = append(d.renders, page)
	if err := d.renderErr[page]; err != nil {
		return nil, err
	}
	s := dpi / 72
	img := image.NewRGBA(image.Rect(0, 0, int(612*s), int(792*s)))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	return img, nil
}

func (d *fakeDoc) PageSize(page int) (domain.PageSize, error) {
	return domain.PageSize{Width: 612, Height: 792}, nil
}

func (d *fakeDoc) Close() error { return nil }

type fakeSource struct {
	pages map[int][]EmbeddedImage
	errs  map[int]error
	count int
}

func (s *fakeSource) PageCount() int { return s.count }

func (s *fakeSource) PageImages(ctx context.Context, page int) ([]EmbeddedImage, error) {
	if err := s.errs[page]; err != nil {
		return nil, err
	}
	return s.pages[page], nil
}

func (s *fakeSource) Close() error { return nil }

type fakeScanner struct {
	src     *fakeSource
	openErr error
}

func (f *fakeScanner) Open(path string) (ImageSource, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.src, nil
}

func bottomLeft(l, t, r, b float64) domain.BoundingBox {
	return domain.BoundingBox{Left: l, Top: t, Right: r, Bottom: b, Frame: domain.FrameBottomLeft, Units: domain.UnitsPoints}
}

func topLeftPx(l, t, r, b float64) domain.BoundingBox {
	return domain.BoundingBox{Left: l, Top: t, Right: r, Bottom: b, Frame: domain.FrameTopLeft, Units: domain.UnitsPixels}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x*7 + y*13) % 256)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestCropper_Region(t *testing.T) {
	c := NewCropper(DefaultCropConfig())

	tests := []struct {
		name    string
		box     domain.BoundingBox
		want    domain.BoundingBox
		wantErr error
	}{
		{
			name: "padded on all sides",
			box:  topLeftPx(100, 200, 300, 400),
			want: topLeftPx(95, 195, 305, 405),
		},
		{
			name: "clamped to page",
			box:  topLeftPx(2, 300, 610, 790),
			want: topLeftPx(0, 295, 612, 792),
		},
		{
			name:    "too small after padding",
			box:     topLeftPx(100, 100, 110, 110),
			wantErr: ErrRegionTooSmall,
		},
		{
			name:    "malformed right before left",
			box:     topLeftPx(300, 100, 100, 300),
			wantErr: ErrRegionTooSmall,
		},
		{
			name:    "running header",
			box:     topLeftPx(20, 12, 590, 42),
			wantErr: ErrHeaderBand,
		},
		{
			name: "wide but below header band",
			box:  topLeftPx(20, 400, 590, 430),
			want: topLeftPx(15, 395, 595, 435),
		},
		{
			name: "near top but not wide",
			box:  topLeftPx(100, 10, 300, 200),
			want: topLeftPx(95, 5, 305, 205),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Region(tt.box, 612, 792)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCropper_RegionRequiresNormalizedBox(t *testing.T) {
	c := NewCropper(DefaultCropConfig())
	_, err := c.Region(bottomLeft(0, 100, 100, 0), 612, 792)
	assert.Error(t, err)
}

func TestCropper_RenderUpscales(t *testing.T) {
	c := NewCropper(DefaultCropConfig())
	raster := image.NewRGBA(image.Rect(0, 0, 612, 792))

	img, err := c.Render(raster, topLeftPx(95, 195, 305, 405))
	require.NoError(t, err)
	assert.Equal(t, 420, img.Bounds().Dx())
	assert.Equal(t, 420, img.Bounds().Dy())
}

func TestCropper_RenderReverifiesSize(t *testing.T) {
	c := NewCropper(CropConfig{MinSize: 30, Upscale: 1})
	raster := image.NewRGBA(image.Rect(0, 0, 20, 20))

	_, err := c.Render(raster, topLeftPx(0, 0, 40, 40))
	assert.ErrorIs(t, err, ErrRegionTooSmall)
}

func TestDetectedStrategy_Extract(t *testing.T) {
	sink := artifacts.NewMemorySink()
	doc := &fakeDoc{pages: 3}
	s := NewDetectedStrategy(NewCropper(DefaultCropConfig()), 72, sink, observability.Nop())

	layout := domain.NativeLayout{
		Engine: "docling",
		Regions: []domain.LayoutRegion{
			{Page: 2, BBox: bottomLeft(100, 500, 300, 300)},
			{Page: 2, BBox: bottomLeft(20, 780, 590, 750)}, // header
			{Page: 2, BBox: bottomLeft(100, 100, 110, 90)}, // tiny
			{Page: 3, BBox: bottomLeft(50, 400, 250, 200)},
			{Page: 9, BBox: bottomLeft(50, 400, 250, 200)}, // no such page
		},
		PageSizes: map[int]domain.PageSize{2: {Width: 612, Height: 792}},
	}

	figs, warns, err := s.Extract(context.Background(), doc, layout)
	require.NoError(t, err)

	require.Len(t, figs, 2)
	assert.Equal(t, "figure_2_1.png", figs[0].Filename)
	assert.Equal(t, domain.SourceDetectedRegion, figs[0].SourceType)
	assert.Equal(t, 420, figs[0].Width)
	assert.Equal(t, 420, figs[0].Height)
	assert.Equal(t, topLeftPx(95, 287, 305, 497), *figs[0].BBox)
	assert.Equal(t, "figure_3_1.png", figs[1].Filename)

	for _, f := range figs {
		assert.GreaterOrEqual(t, f.Width, 30)
		assert.GreaterOrEqual(t, f.Height, 30)
		assert.True(t, f.BBox.Left >= 0 && f.BBox.Left < f.BBox.Right && f.BBox.Right <= 612)
		assert.True(t, f.BBox.Top >= 0 && f.BBox.Top < f.BBox.Bottom && f.BBox.Bottom <= 792)
		_, ok := sink.Image(f.Filename)
		assert.True(t, ok, f.Filename)
	}

	require.Len(t, warns, 3)
	assert.Equal(t, 2, warns[0].Page)
	assert.Equal(t, 2, warns[0].Unit)
	assert.ErrorIs(t, warns[0], ErrHeaderBand)
	assert.Equal(t, 3, warns[1].Unit)
	assert.ErrorIs(t, warns[1], ErrRegionTooSmall)
	assert.Equal(t, 9, warns[2].Page)

	assert.Equal(t, []int{2, 3}, doc.renders, "each page rendered once")
}

func TestDetectedStrategy_RenderFailureIsWarning(t *testing.T) {
	doc := &fakeDoc{pages: 1, renderErr: map[int]error{1: errors.New("mupdf exploded")}}
	s := NewDetectedStrategy(NewCropper(DefaultCropConfig()), 72, artifacts.NewMemorySink(), observability.Nop())

	figs, warns, err := s.Extract(context.Background(), doc, domain.NativeLayout{
		Regions: []domain.LayoutRegion{{Page: 1, BBox: bottomLeft(100, 500, 300, 300)}},
	})
	require.NoError(t, err)
	assert.Empty(t, figs)
	require.Len(t, warns, 1)
	assert.ErrorContains(t, warns[0], "mupdf exploded")
}

func TestEmbeddedStrategy_Filters(t *testing.T) {
	sink := artifacts.NewMemorySink()
	src := &fakeSource{
		count: 3,
		pages: map[int][]EmbeddedImage{
			1: {
				{Page: 1, Index: 1, Data: make([]byte, 5), Ext: "png", Width: 400, Height: 400}, // too few bytes
				{Page: 1, Index: 2, Data: make([]byte, 4000), Ext: "jpg", Width: 40, Height: 400}, // too narrow
				{Page: 1, Index: 3, Data: make([]byte, 4000), Ext: "jpg", Width: 300, Height: 200},
			},
			3: {
				{Page: 3, Index: 1, Data: pngBytes(t, 64, 80), Ext: "png"}, // dimensions from header
				{Page: 3, Index: 2, Data: bytes.Repeat([]byte{0x42}, 2000), Ext: "jpx"},
			},
		},
		errs: map[int]error{2: errors.New("broken resources")},
	}
	s := NewEmbeddedStrategy(&fakeScanner{src: src}, EmbeddedConfig{MinSize: 50, MinBytes: 10}, sink, observability.Nop())

	figs, warns, err := s.Extract(context.Background(), "booklet.pdf")
	require.NoError(t, err)

	require.Len(t, figs, 2)
	assert.Equal(t, "page1_img3.jpg", figs[0].Filename)
	assert.Equal(t, "page3_img1.png", figs[1].Filename)
	assert.Equal(t, 64, figs[1].Width)
	assert.Equal(t, 80, figs[1].Height)
	assert.Equal(t, domain.SourceEmbeddedImage, figs[1].SourceType)
	assert.Equal(t, []string{"page1_img3.jpg", "page3_img1.png"}, sink.ImageNames())

	require.Len(t, warns, 2)
	assert.Equal(t, 2, warns[0].Page)
	assert.Equal(t, 3, warns[1].Page)
	assert.Equal(t, 2, warns[1].Unit)
}

func TestEmbeddedStrategy_OpenFailure(t *testing.T) {
	s := NewEmbeddedStrategy(&fakeScanner{openErr: errors.New("not a pdf")}, EmbeddedConfig{MinSize: 50}, artifacts.NewMemorySink(), observability.Nop())
	_, _, err := s.Extract(context.Background(), "x.pdf")
	assert.True(t, domain.IsType(err, domain.ErrorTypeExtraction))
}

func newTestExtractor(sink domain.ArtifactSink, scanner ImageScanner, opts ExtractorOptions) *Extractor {
	logger := observability.Nop()
	return NewExtractor(
		NewDetectedStrategy(NewCropper(DefaultCropConfig()), 72, sink, logger),
		NewEmbeddedStrategy(scanner, EmbeddedConfig{MinSize: 50, MinBytes: 1000}, sink, logger),
		sink, opts, logger,
	)
}

func embeddedScanner() *fakeScanner {
	return &fakeScanner{src: &fakeSource{
		count: 2,
		pages: map[int][]EmbeddedImage{
			2: {{Page: 2, Index: 1, Data: make([]byte, 5000), Ext: "jpeg", Width: 320, Height: 240}},
		},
	}}
}

func TestExtractor_PrimaryStrategy(t *testing.T) {
	e := newTestExtractor(artifacts.NewMemorySink(), embeddedScanner(), ExtractorOptions{})

	out, err := e.Extract(context.Background(), "b.pdf", &fakeDoc{pages: 2}, domain.NativeLayout{
		Regions: []domain.LayoutRegion{{Page: 1, BBox: bottomLeft(100, 500, 300, 300)}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.FigureStrategyLayout, out.Strategy)
	assert.NoError(t, out.FallbackCause)
	require.Len(t, out.Figures, 1)
	assert.Equal(t, "figure_1_1.png", out.Figures[0].Filename)
}

func TestExtractor_FallsBackWhenLayoutFindsNothing(t *testing.T) {
	tests := []struct {
		name      string
		layout    domain.ExtractionResult
		wantCause error
	}{
		{
			name:      "no regions",
			layout:    domain.NativeLayout{Engine: "docling"},
			wantCause: ErrNoFigures,
		},
		{
			name: "all regions rejected",
			layout: domain.NativeLayout{Regions: []domain.LayoutRegion{
				{Page: 1, BBox: bottomLeft(100, 100, 110, 90)},
			}},
			wantCause: ErrNoFigures,
		},
		{
			name:      "ocr fallback without engine",
			layout:    domain.OcrFallback{Pages: 2},
			wantCause: ErrNoLayout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestExtractor(artifacts.NewMemorySink(), embeddedScanner(), ExtractorOptions{})

			out, err := e.Extract(context.Background(), "b.pdf", &fakeDoc{pages: 2}, tt.layout)
			require.NoError(t, err)
			assert.Equal(t, domain.FigureStrategyEmbedded, out.Strategy)
			assert.ErrorIs(t, out.FallbackCause, tt.wantCause)
			require.NotEmpty(t, out.Figures, "fallback must populate the figure list")
			assert.Equal(t, "page2_img1.jpeg", out.Figures[0].Filename)
		})
	}
}

func TestExtractor_OcrFallbackCauseIsKept(t *testing.T) {
	e := newTestExtractor(artifacts.NewMemorySink(), embeddedScanner(), ExtractorOptions{})
	cause := errors.New("docling: connection refused")

	out, err := e.Extract(context.Background(), "b.pdf", &fakeDoc{pages: 2}, domain.OcrFallback{Pages: 2, Cause: cause})
	require.NoError(t, err)
	assert.ErrorIs(t, out.FallbackCause, cause)
}

func TestExtractor_BothStrategiesFail(t *testing.T) {
	e := newTestExtractor(artifacts.NewMemorySink(), &fakeScanner{openErr: errors.New("encrypted")}, ExtractorOptions{})

	out, err := e.Extract(context.Background(), "b.pdf", &fakeDoc{pages: 1}, domain.OcrFallback{Pages: 1})
	require.NoError(t, err, "figure failures are never fatal")
	assert.Equal(t, domain.FigureStrategyNone, out.Strategy)
	assert.Empty(t, out.Figures)
	assert.NotEmpty(t, out.Warnings)
}

func TestExtractor_PageRendersAreOrderedAndNotLinkable(t *testing.T) {
	sink := artifacts.NewMemorySink()
	e := newTestExtractor(sink, embeddedScanner(), ExtractorOptions{IncludePageRenders: true, PageRenderDPI: 36})

	out, err := e.Extract(context.Background(), "b.pdf", &fakeDoc{pages: 2}, domain.OcrFallback{Pages: 2})
	require.NoError(t, err)

	names := make([]string, 0, len(out.Figures))
	for _, f := range out.Figures {
		names = append(names, f.Filename)
	}
	assert.Equal(t, []string{"page1_img0.png", "page2_img0.png", "page2_img1.jpeg"}, names)
	assert.Equal(t, domain.SourcePageRender, out.Figures[0].SourceType)

	linkable := out.Linkable()
	require.Len(t, linkable, 1)
	assert.Equal(t, "page2_img1.jpeg", linkable[0].Filename)

	_, ok := sink.Image("page1_img0.png")
	assert.True(t, ok)
}

func TestNaming(t *testing.T) {
	assert.Equal(t, "figure_4_2.png", DetectedFilename(4, 2))
	assert.Equal(t, "page3_img1.jpeg", EmbeddedFilename(3, 1, ".JPEG"))
	assert.Equal(t, "page3_img0.png", EmbeddedFilename(3, 0, ""))
}
