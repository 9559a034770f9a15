package ocr

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"image"
	"image/png"
	"time"

	"github.com/spherical/booklet-extractor/internal/cache"
	"github.com/spherical/booklet-extractor/internal/domain"
	"github.com/spherical/booklet-extractor/internal/observability"
)

// CachedEngine memoizes OCR results by raster content. Cache failures are
// logged and never fail recognition.
type CachedEngine struct {
	next     domain.OCREngine
	cache    cache.Client
	ttl      time.Duration
	language string
	logger   *observability.Logger
}

// NewCachedEngine wraps next with cache. language is part of every key.
func NewCachedEngine(next domain.OCREngine, c cache.Client, ttl time.Duration, language string, logger *observability.Logger) *CachedEngine {
	return &CachedEngine{
		next:     next,
		cache:    c,
		ttl:      ttl,
		language: language,
		logger:   logger.WithOperation("ocr.cache"),
	}
}

// Recognize returns the cached text for img or runs the wrapped engine.
func (e *CachedEngine) Recognize(ctx context.Context, img image.Image) (string, error) {
	digest, err := Fingerprint(img)
	if err != nil {
		e.logger.Debug().Err(err).Msg("Raster not hashable, skipping cache")
		return e.next.Recognize(ctx, img)
	}
	key := cache.CacheKey("ocr", e.language, digest)

	cached, err := e.cache.Get(ctx, key)
	switch {
	case err == nil:
		e.logger.Debug().Str("key", key).Msg("OCR cache hit")
		return string(cached), nil
	case !errors.Is(err, cache.ErrCacheMiss):
		e.logger.Warn().Err(err).Msg("OCR cache read failed")
	}

	text, err := e.next.Recognize(ctx, img)
	if err != nil {
		return "", err
	}

	if err := e.cache.Set(ctx, key, []byte(text), e.ttl); err != nil {
		e.logger.Warn().Err(err).Msg("OCR cache write failed")
	}
	return text, nil
}

// Fingerprint hashes a raster's size and pixels.
func Fingerprint(img image.Image) (string, error) {
	h := sha256.New()
	b := img.Bounds()
	_ = binary.Write(h, binary.LittleEndian, [2]int64{int64(b.Dx()), int64(b.Dy())})

	switch m := img.(type) {
	case *image.Gray:
		fmt.Fprint(h, "gray")
		hashRows(h, m.Pix, m.Stride, m.PixOffset(b.Min.X, b.Min.Y), b.Dx(), b.Dy())
	case *image.RGBA:
		fmt.Fprint(h, "rgba")
		hashRows(h, m.Pix, m.Stride, m.PixOffset(b.Min.X, b.Min.Y), 4*b.Dx(), b.Dy())
	case *image.NRGBA:
		fmt.Fprint(h, "nrgba")
		hashRows(h, m.Pix, m.Stride, m.PixOffset(b.Min.X, b.Min.Y), 4*b.Dx(), b.Dy())
	default:
		fmt.Fprint(h, "png")
		if err := png.Encode(h, img); err != nil {
			return "", err
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashRows(h hash.Hash, pix []byte, stride, offset, rowBytes, rows int) {
	for y := 0; y < rows; y++ {
		start := offset + y*stride
		h.Write(pix[start : start+rowBytes])
	}
}
