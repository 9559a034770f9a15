package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spherical/booklet-extractor/internal/artifacts"
	"github.com/spherical/booklet-extractor/internal/domain"
	"github.com/spherical/booklet-extractor/internal/extract"
	"github.com/spherical/booklet-extractor/internal/observability"
	"github.com/spherical/booklet-extractor/internal/storage"
)

// ConversionHandler handles conversion and run history requests.
type ConversionHandler struct {
	logger    *observability.Logger
	converter Converter
	history   History
	cfg       Config
}

// NewConversionHandler creates a new conversion handler.
func NewConversionHandler(logger *observability.Logger, converter Converter, history History, cfg Config) *ConversionHandler {
	return &ConversionHandler{
		logger:    logger.WithOperation("api.conversions"),
		converter: converter,
		history:   history,
		cfg:       cfg,
	}
}

// ConversionDTO represents the API response for a finished conversion.
type ConversionDTO struct {
	ID                string                    `json:"id"`
	Status            storage.RunStatus         `json:"status"`
	SourceFile        string                    `json:"source_file"`
	Documents         []string                  `json:"documents"`
	Figures           []domain.Figure           `json:"figures"`
	QuestionFigureMap *domain.QuestionFigureMap `json:"question_figure_map"`
	Report            *domain.Report            `json:"report"`
	Stats             domain.ProcessingStats    `json:"stats"`
}

// Create handles POST /v1/conversions with a multipart "file" field.
func (h *ConversionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "missing file upload", err.Error())
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if filename == "." || filename == string(filepath.Separator) {
		h.writeError(w, http.StatusBadRequest, "invalid file name", "")
		return
	}

	id := uuid.New()
	runDir := h.runDir(id)

	var run *storage.Run
	if h.history != nil {
		run, err = h.history.Start(ctx, id, filename, runDir)
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to record run")
			h.writeError(w, http.StatusInternalServerError, "failed to record run", err.Error())
			return
		}
	}

	sink, err := artifacts.NewFileSink(runDir, h.cfg.ImagesDir)
	if err != nil {
		h.fail(run, err)
		h.writeError(w, http.StatusInternalServerError, "failed to prepare output", err.Error())
		return
	}

	pdfPath := filepath.Join(runDir, filename)
	if err := saveUpload(pdfPath, file); err != nil {
		h.fail(run, err)
		h.writeError(w, http.StatusBadRequest, "failed to read upload", err.Error())
		return
	}

	log := h.logger.WithRun(id.String())
	log.Info().Str("file", filename).Int64("bytes", header.Size).Msg("Conversion requested")

	result, err := h.converter.Process(ctx, extract.Request{
		Path:      pdfPath,
		Sink:      sink,
		ImagesDir: h.cfg.ImagesDir,
		RunID:     id.String(),
	}, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Conversion failed")
		h.fail(run, err)
		h.writeError(w, statusFor(err), "conversion failed", err.Error())
		return
	}

	if run != nil {
		summary, err := storage.NewRunSummary(result.Report, result.Stats)
		if err == nil {
			err = h.history.Finish(ctx, id, summary, result.Figures, result.Links)
		}
		if err != nil {
			log.Error().Err(err).Msg("Failed to record run result")
		}
	}

	writeJSON(w, http.StatusCreated, ConversionDTO{
		ID:                id.String(),
		Status:            storage.RunStatusSucceeded,
		SourceFile:        result.SourceFile,
		Documents:         result.Documents,
		Figures:           nonNilFigures(result.Figures),
		QuestionFigureMap: result.Links,
		Report:            result.Report,
		Stats:             result.Stats,
	})
}

// List handles GET /v1/conversions?limit=N.
func (h *ConversionHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.requireHistory(w) {
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = n
	}

	runs, err := h.history.List(r.Context(), limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list runs", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// Get handles GET /v1/conversions/{id}.
func (h *ConversionHandler) Get(w http.ResponseWriter, r *http.Request) {
	detail, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// Markdown handles GET /v1/conversions/{id}/markdown.
func (h *ConversionHandler) Markdown(w http.ResponseWriter, r *http.Request) {
	detail, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	if detail.Status != storage.RunStatusSucceeded {
		h.writeError(w, http.StatusConflict, "run has no output", string(detail.Status))
		return
	}
	stem := strings.TrimSuffix(detail.SourceFile, filepath.Ext(detail.SourceFile))
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	http.ServeFile(w, r, filepath.Join(detail.OutputDir, stem+".md"))
}

// Image handles GET /v1/conversions/{id}/images/{name}.
func (h *ConversionHandler) Image(w http.ResponseWriter, r *http.Request) {
	detail, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	name := filepath.Base(chi.URLParam(r, "name"))
	path := filepath.Join(detail.OutputDir, h.cfg.ImagesDir, name)
	if _, err := os.Stat(path); err != nil {
		h.writeError(w, http.StatusNotFound, "image not found", name)
		return
	}
	http.ServeFile(w, r, path)
}

func (h *ConversionHandler) loadRun(w http.ResponseWriter, r *http.Request) (*storage.RunDetail, bool) {
	if !h.requireHistory(w) {
		return nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid id", err.Error())
		return nil, false
	}

	detail, err := h.history.Get(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "run not found", id.String())
		return nil, false
	case err != nil:
		h.writeError(w, http.StatusInternalServerError, "failed to load run", err.Error())
		return nil, false
	}
	return detail, true
}

func (h *ConversionHandler) requireHistory(w http.ResponseWriter) bool {
	if h.history == nil {
		h.writeError(w, http.StatusServiceUnavailable, "run history is disabled", "")
		return false
	}
	return true
}

func (h *ConversionHandler) runDir(id uuid.UUID) string {
	return filepath.Join(h.cfg.OutputRoot, id.String())
}

func (h *ConversionHandler) fail(run *storage.Run, cause error) {
	if run == nil {
		return
	}
	// The request context may already be done.
	if err := h.history.Fail(context.Background(), run.ID, cause); err != nil {
		h.logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("Failed to mark run failed")
	}
}

func saveUpload(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("copy upload: %w", err)
	}
	return dst.Close()
}

// statusFor maps conversion errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case domain.IsType(err, domain.ErrorTypeValidation):
		return http.StatusBadRequest
	case domain.IsType(err, domain.ErrorTypeConversion):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func nonNilFigures(figs []domain.Figure) []domain.Figure {
	if figs == nil {
		return []domain.Figure{}
	}
	return figs
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *ConversionHandler) writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{
		"error":   message,
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	writeJSON(w, status, resp)
}
