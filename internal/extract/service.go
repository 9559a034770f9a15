// Package extract orchestrates a booklet conversion: layout analysis,
// figure extraction, text reconstruction, question linking and artifact
// output.
package extract

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"strings"
	"time"

	"github.com/spherical/booklet-extractor/internal/artifacts"
	"github.com/spherical/booklet-extractor/internal/domain"
	"github.com/spherical/booklet-extractor/internal/figures"
	"github.com/spherical/booklet-extractor/internal/layout"
	"github.com/spherical/booklet-extractor/internal/markdown"
	"github.com/spherical/booklet-extractor/internal/observability"
	"github.com/spherical/booklet-extractor/internal/questions"
	"github.com/spherical/booklet-extractor/internal/textrecon"
)

// Text strategies accepted in Options.
const (
	TextAuto   = "auto"
	TextLayout = "layout"
	TextOCR    = "ocr"
)

// PathValidator checks an input path before it is opened.
type PathValidator interface {
	ValidatePDFPath(path string) error
}

// Dependencies are the collaborators shared by every run. Layout may be nil.
type Dependencies struct {
	Validator  PathValidator
	Rasterizer domain.Rasterizer
	Native     domain.NativeTextExtractor
	Layout     layout.Engine
	Scanner    figures.ImageScanner
	Text       *textrecon.Reconstructor
	Linker     *questions.Linker
}

// Options configures the pipeline.
type Options struct {
	OCRDPI       float64
	FigureDPI    float64
	Crop         figures.CropConfig
	Embedded     figures.EmbeddedConfig
	PageRenders  figures.ExtractorOptions
	TextStrategy string
	Workers      int
	HTML         bool
}

// Request describes one conversion.
type Request struct {
	Path      string
	Sink      domain.ArtifactSink
	ImagesDir string // relative to the document, used in Markdown links
	Title     string // defaults to the file stem
	RunID     string
}

// Result is everything a conversion produced.
type Result struct {
	SourceFile string                    `json:"source_file"`
	Stem       string                    `json:"stem"`
	Markdown   string                    `json:"-"`
	Pages      []domain.PageText         `json:"pages"`
	Figures    []domain.Figure           `json:"figures"`
	Questions  []domain.QuestionUnit     `json:"questions"`
	Links      *domain.QuestionFigureMap `json:"question_figure_map"`
	Report     *domain.Report            `json:"report"`
	Stats      domain.ProcessingStats    `json:"stats"`
	Documents  []string                  `json:"documents"`
}

// Service orchestrates the conversion process
type Service struct {
	deps   Dependencies
	opts   Options
	logger *observability.Logger
}

// NewService creates a new conversion service
func NewService(deps Dependencies, opts Options, logger *observability.Logger) *Service {
	if opts.OCRDPI <= 0 {
		opts.OCRDPI = 300
	}
	if opts.FigureDPI <= 0 {
		opts.FigureDPI = 72
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.TextStrategy == "" {
		opts.TextStrategy = TextAuto
	}
	if opts.Crop == (figures.CropConfig{}) {
		opts.Crop = figures.DefaultCropConfig()
	}
	return &Service{
		deps:   deps,
		opts:   opts,
		logger: logger.WithOperation("extract"),
	}
}

// Process runs the complete conversion. Only failures to open the document,
// cancellation and artifact write failures are returned as errors; all
// per-page and per-figure problems end up in the result's report.
func (s *Service) Process(ctx context.Context, req Request, eventCh chan<- domain.StreamEvent) (*Result, error) {
	startTime := time.Now()

	log := s.logger.WithDocument(req.Path)
	if req.RunID != "" {
		log = log.WithRun(req.RunID)
	}

	s.emitEvent(eventCh, domain.StreamEvent{
		Type:      domain.EventStart,
		Payload:   fmt.Sprintf("Starting conversion of %s", req.Path),
		Timestamp: time.Now(),
	})

	if s.deps.Validator != nil {
		if err := s.deps.Validator.ValidatePDFPath(req.Path); err != nil {
			s.emitError(eventCh, err)
			return nil, err
		}
	}

	doc, err := s.deps.Rasterizer.Open(req.Path)
	if err != nil {
		s.emitError(eventCh, err)
		return nil, err
	}
	defer doc.Close()

	pages := doc.PageCount()
	report := domain.NewReport()
	log.Info().Int("pages", pages).Msg("Document opened")

	native := s.nativeTexts(ctx, req.Path, pages, report, log)

	s.emitStage(eventCh, domain.StageLayout, pages)
	res := layout.Detect(ctx, s.deps.Layout, req.Path, pages, log)
	if fb, ok := res.(domain.OcrFallback); ok && fb.Cause != nil {
		report.Fallback(domain.StageLayout, fb.Cause)
	}
	if err := ctx.Err(); err != nil {
		s.emitError(eventCh, err)
		return nil, err
	}

	s.emitStage(eventCh, domain.StageFigures, pages)
	outcome, err := s.extractFigures(ctx, req, doc, res)
	if err != nil {
		s.emitError(eventCh, err)
		return nil, err
	}
	report.FigureStrategy = outcome.Strategy
	if outcome.FallbackCause != nil {
		report.Fallback(domain.StageFigures, outcome.FallbackCause)
	}
	report.Merge(outcome.Warnings)
	for _, f := range outcome.Figures {
		s.emitEvent(eventCh, domain.StreamEvent{
			Type:       domain.EventFigure,
			PageNumber: f.Page,
			Payload:    f.Filename,
			Timestamp:  time.Now(),
		})
	}

	s.emitStage(eventCh, domain.StageText, pages)
	pageTexts, err := s.pageTexts(ctx, doc, res, native, report, eventCh, log)
	if err != nil {
		s.emitError(eventCh, err)
		return nil, err
	}

	s.emitStage(eventCh, domain.StageSegment, pages)
	body := markdown.Format(markdown.Body(pageTexts))
	units := questions.Segment(body)

	s.emitStage(eventCh, domain.StageLink, pages)
	links := s.deps.Linker.Link(units, outcome.Figures)

	stem := strings.TrimSuffix(filepath.Base(req.Path), filepath.Ext(req.Path))
	title := req.Title
	if title == "" {
		title = stem
	}

	s.emitStage(eventCh, domain.StageAssemble, pages)
	md := markdown.Assemble(markdown.Document{
		Title:          title,
		SourceFile:     filepath.Base(req.Path),
		TotalPages:     pages,
		Body:           body,
		Figures:        outcome.Figures,
		Links:          links,
		TextStrategy:   report.TextStrategy,
		FigureStrategy: report.FigureStrategy,
		ImagesDir:      req.ImagesDir,
	})

	result := &Result{
		SourceFile: filepath.Base(req.Path),
		Stem:       stem,
		Markdown:   md,
		Pages:      pageTexts,
		Figures:    outcome.Figures,
		Questions:  units,
		Links:      links,
		Report:     report,
	}
	result.Stats = stats(result, pages, time.Since(startTime))

	if err := s.writeArtifacts(ctx, req.Sink, result, title); err != nil {
		s.emitError(eventCh, err)
		return nil, err
	}

	for _, w := range report.Warnings {
		s.emitEvent(eventCh, domain.StreamEvent{
			Type:       domain.EventWarning,
			PageNumber: w.Page,
			Payload:    w.Error(),
			Timestamp:  time.Now(),
		})
	}

	s.emitEvent(eventCh, domain.StreamEvent{
		Type:      domain.EventComplete,
		Total:     pages,
		Payload:   result.Stats,
		Timestamp: time.Now(),
	})

	log.Info().
		Int("pages", pages).
		Int("figures", len(result.Figures)).
		Int("questions", len(units)).
		Int("linked", links.Len()).
		Int("warnings", report.WarningCount()).
		Str("text_strategy", report.TextStrategy).
		Str("figure_strategy", report.FigureStrategy).
		Dur("duration", result.Stats.TotalTime).
		Msg("Conversion complete")

	return result, nil
}

// nativeTexts reads the text layer. A failure only costs the native-text
// shortcut, so it is recorded and every page goes through OCR.
func (s *Service) nativeTexts(ctx context.Context, path string, pages int, report *domain.Report, log *observability.Logger) []string {
	if s.deps.Native == nil {
		return nil
	}
	texts, err := s.deps.Native.PageTexts(ctx, path)
	if err != nil {
		log.Warn().Err(err).Msg("Native text extraction failed")
		report.Warn(domain.Warning{Stage: domain.StageText, Err: err})
		return nil
	}
	if len(texts) != pages {
		log.Debug().Int("native_pages", len(texts)).Int("pages", pages).Msg("Native page count differs from raster")
	}
	return texts
}

func (s *Service) extractFigures(ctx context.Context, req Request, doc domain.RasterDocument, res domain.ExtractionResult) (*figures.Outcome, error) {
	detected := figures.NewDetectedStrategy(figures.NewCropper(s.opts.Crop), s.opts.FigureDPI, req.Sink, s.logger)
	embedded := figures.NewEmbeddedStrategy(s.deps.Scanner, s.opts.Embedded, req.Sink, s.logger)
	ex := figures.NewExtractor(detected, embedded, req.Sink, s.opts.PageRenders, s.logger)
	return ex.Extract(ctx, req.Path, doc, res)
}

// pageTexts uses the layout engine's text when allowed and present, and
// otherwise reconstructs every page from native text and OCR.
func (s *Service) pageTexts(ctx context.Context, doc domain.RasterDocument, res domain.ExtractionResult, native []string, report *domain.Report, eventCh chan<- domain.StreamEvent, log *observability.Logger) ([]domain.PageText, error) {
	pages := doc.PageCount()

	if nl, ok := res.(domain.NativeLayout); ok && s.opts.TextStrategy != TextOCR {
		texts, err := layout.Text(nl)
		if err == nil {
			report.TextStrategy = domain.TextStrategyLayout
			for _, p := range texts {
				s.emitPageComplete(eventCh, p.Page, pages)
			}
			return texts, nil
		}
		log.Info().Err(err).Msg("Layout text unusable, reconstructing from native text and OCR")
		report.Fallback(domain.StageText, err)
	}

	report.TextStrategy = domain.TextStrategyOCR

	inputs := make([]textrecon.PageInput, pages)
	for i := range inputs {
		page := i + 1
		in := textrecon.PageInput{
			Page: page,
			DPI:  s.opts.OCRDPI,
			Render: func(ctx context.Context) (image.Image, error) {
				s.emitEvent(eventCh, domain.StreamEvent{
					Type:       domain.EventPageProcessing,
					PageNumber: page,
					Total:      pages,
					Timestamp:  time.Now(),
				})
				return doc.Render(ctx, page, s.opts.OCRDPI)
			},
		}
		if i < len(native) {
			in.Native = native[i]
		}
		inputs[i] = in
	}

	texts, warnings, err := s.deps.Text.ReconstructAll(ctx, inputs, s.opts.Workers)
	if err != nil {
		return nil, err
	}
	report.Merge(warnings)
	for _, p := range texts {
		s.emitPageComplete(eventCh, p.Page, pages)
	}
	return texts, nil
}

func (s *Service) writeArtifacts(ctx context.Context, sink domain.ArtifactSink, result *Result, title string) error {
	mdName := result.Stem + ".md"
	if err := sink.WriteDocument(ctx, mdName, []byte(result.Markdown)); err != nil {
		return err
	}
	result.Documents = append(result.Documents, mdName)

	if s.opts.HTML {
		html, err := markdown.RenderHTML(title, []byte(result.Markdown))
		if err != nil {
			return domain.ExtractionError("Failed to render HTML preview", err)
		}
		htmlName := result.Stem + ".html"
		if err := sink.WriteDocument(ctx, htmlName, html); err != nil {
			return err
		}
		result.Documents = append(result.Documents, htmlName)
	}

	meta := artifacts.Metadata{
		SourceFile:        result.SourceFile,
		Figures:           result.Figures,
		QuestionFigureMap: result.Links,
		Pages:             artifacts.Summarize(result.Pages),
		Report:            result.Report,
		Stats:             result.Stats,
	}
	data, err := meta.Encode()
	if err != nil {
		return domain.ExtractionError("Failed to encode metadata", err)
	}
	metaName := result.Stem + "_metadata.json"
	if err := sink.WriteDocument(ctx, metaName, data); err != nil {
		return err
	}
	result.Documents = append(result.Documents, metaName)

	return nil
}

func stats(r *Result, pages int, elapsed time.Duration) domain.ProcessingStats {
	st := domain.ProcessingStats{
		TotalTime:       elapsed,
		PagesProcessed:  pages,
		Questions:       len(r.Questions),
		LinkedQuestions: r.Links.Len(),
	}
	for _, p := range r.Pages {
		switch p.Provenance {
		case domain.ProvenanceOCR:
			st.OCRPages++
		case domain.ProvenanceNative, domain.ProvenanceLayout:
			st.NativePages++
		case domain.ProvenanceError:
			st.FailedPages++
		}
	}
	for _, f := range r.Figures {
		if f.SourceType.Linkable() {
			st.Figures++
		}
	}
	return st
}

func (s *Service) emitStage(eventCh chan<- domain.StreamEvent, stage string, total int) {
	s.emitEvent(eventCh, domain.StreamEvent{
		Type:      domain.EventStage,
		Total:     total,
		Payload:   stage,
		Timestamp: time.Now(),
	})
}

func (s *Service) emitPageComplete(eventCh chan<- domain.StreamEvent, page, total int) {
	s.emitEvent(eventCh, domain.StreamEvent{
		Type:       domain.EventPageComplete,
		PageNumber: page,
		Total:      total,
		Timestamp:  time.Now(),
	})
}

// emitEvent safely emits an event to the channel
func (s *Service) emitEvent(eventCh chan<- domain.StreamEvent, event domain.StreamEvent) {
	if eventCh != nil {
		select {
		case eventCh <- event:
		default:
			s.logger.Debug().Str("event", string(event.Type)).Msg("Event channel full, dropping event")
		}
	}
}

// emitError emits an error event
func (s *Service) emitError(eventCh chan<- domain.StreamEvent, err error) {
	s.emitEvent(eventCh, domain.StreamEvent{
		Type:      domain.EventError,
		Payload:   err.Error(),
		Timestamp: time.Now(),
	})
}
