package ocr

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os/exec"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/booklet-extractor/internal/cache"
	"github.com/spherical/booklet-extractor/internal/observability"
)

type countingEngine struct {
	calls int32
	err   error
}

func (e *countingEngine) Recognize(ctx context.Context, img image.Image) (string, error) {
	n := atomic.AddInt32(&e.calls, 1)
	if e.err != nil {
		return "", e.err
	}
	return strings.Repeat("x", int(n)), nil
}

func grayWithDot(x, y int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 40, 40))
	img.SetGray(x, y, color.Gray{Y: 200})
	return img
}

func TestCachedEngine(t *testing.T) {
	mem := cache.NewMemoryClient(100)
	defer mem.Close()
	inner := &countingEngine{}
	e := NewCachedEngine(inner, mem, time.Hour, "eng", observability.Nop())
	ctx := context.Background()

	first, err := e.Recognize(ctx, grayWithDot(1, 1))
	require.NoError(t, err)
	again, err := e.Recognize(ctx, grayWithDot(1, 1))
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, int32(1), atomic.LoadInt32(&inner.calls))

	_, err = e.Recognize(ctx, grayWithDot(2, 2))
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&inner.calls))
}

func TestCachedEngine_ErrorsAreNotCached(t *testing.T) {
	mem := cache.NewMemoryClient(100)
	defer mem.Close()
	inner := &countingEngine{err: errors.New("tesseract crashed")}
	e := NewCachedEngine(inner, mem, time.Hour, "eng", observability.Nop())

	_, err := e.Recognize(context.Background(), grayWithDot(1, 1))
	assert.Error(t, err)
	assert.Zero(t, mem.Len())
}

func TestFingerprint(t *testing.T) {
	parent := image.NewRGBA(image.Rect(0, 0, 100, 100))
	parent.Set(60, 10, color.RGBA{R: 255, A: 255})

	left := parent.SubImage(image.Rect(0, 0, 50, 100))
	right := parent.SubImage(image.Rect(50, 0, 100, 100))

	l, err := Fingerprint(left)
	require.NoError(t, err)
	r, err := Fingerprint(right)
	require.NoError(t, err)
	assert.NotEqual(t, l, r)

	copyRight := image.NewRGBA(image.Rect(0, 0, 50, 100))
	copyRight.Set(10, 10, color.RGBA{R: 255, A: 255})
	c, err := Fingerprint(copyRight)
	require.NoError(t, err)
	assert.Equal(t, r, c, "same pixels hash the same regardless of origin")

	p, err := Fingerprint(image.NewPaletted(image.Rect(0, 0, 4, 4), color.Palette{color.White}))
	require.NoError(t, err)
	assert.Len(t, p, 64)
}

func TestTesseract_Recognize(t *testing.T) {
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skipf("Tesseract not available: %v", err)
	}

	img := image.NewGray(image.Rect(0, 0, 200, 80))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}

	e := NewTesseract("")
	assert.Equal(t, "eng", e.Language())

	_, err := e.Recognize(context.Background(), img)
	assert.NoError(t, err)
}

func TestTesseract_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewTesseract("eng").Recognize(ctx, image.NewGray(image.Rect(0, 0, 1, 1)))
	assert.ErrorIs(t, err, context.Canceled)
}
