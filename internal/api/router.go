// Package api exposes conversions and run history over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/spherical/booklet-extractor/internal/domain"
	"github.com/spherical/booklet-extractor/internal/extract"
	"github.com/spherical/booklet-extractor/internal/observability"
	"github.com/spherical/booklet-extractor/internal/storage"
)

// Converter runs one conversion.
type Converter interface {
	Process(ctx context.Context, req extract.Request, eventCh chan<- domain.StreamEvent) (*extract.Result, error)
}

// History records and reads conversion runs.
type History interface {
	Start(ctx context.Context, id uuid.UUID, sourceFile, outputDir string) (*storage.Run, error)
	Finish(ctx context.Context, id uuid.UUID, summary storage.RunSummary, figures []domain.Figure, links *domain.QuestionFigureMap) error
	Fail(ctx context.Context, id uuid.UUID, cause error) error
	Get(ctx context.Context, id uuid.UUID) (*storage.RunDetail, error)
	List(ctx context.Context, limit int) ([]*storage.Run, error)
}

// Config holds HTTP API settings.
type Config struct {
	OutputRoot     string
	ImagesDir      string
	MaxUploadBytes int64
	RequestTimeout time.Duration
	ServiceName    string
}

// NewRouter creates the API router. history may be nil, in which case runs
// are not recorded and the history routes answer 503.
func NewRouter(logger *observability.Logger, converter Converter, history History, cfg Config) http.Handler {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "booklet-extractor"
	}
	if cfg.ImagesDir == "" {
		cfg.ImagesDir = "images"
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": cfg.ServiceName})
	})

	h := NewConversionHandler(logger, converter, history, cfg)

	r.Route("/v1/conversions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Get("/markdown", h.Markdown)
			r.Get("/images/{name}", h.Image)
		})
	})

	return r
}

// requestLogger logs one line per request through the service logger.
func requestLogger(logger *observability.Logger) func(http.Handler) http.Handler {
	log := logger.WithOperation("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Dur("duration", time.Since(start)).
				Msg("Request handled")
		})
	}
}
