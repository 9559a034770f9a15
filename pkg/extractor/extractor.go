// Package extractor is the library entry point for converting test booklets
// into Markdown with linked figures.
package extractor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spherical/booklet-extractor/internal/artifacts"
	"github.com/spherical/booklet-extractor/internal/cache"
	"github.com/spherical/booklet-extractor/internal/config"
	"github.com/spherical/booklet-extractor/internal/domain"
	"github.com/spherical/booklet-extractor/internal/extract"
	"github.com/spherical/booklet-extractor/internal/figures"
	"github.com/spherical/booklet-extractor/internal/layout"
	"github.com/spherical/booklet-extractor/internal/observability"
	"github.com/spherical/booklet-extractor/internal/ocr"
	"github.com/spherical/booklet-extractor/internal/pdf"
	"github.com/spherical/booklet-extractor/internal/questions"
	"github.com/spherical/booklet-extractor/internal/textrecon"
)

// Re-export event and result types for the public API
type (
	StreamEvent       = domain.StreamEvent
	EventType         = domain.EventType
	Figure            = domain.Figure
	QuestionFigureMap = domain.QuestionFigureMap
	Report            = domain.Report
	ProcessingStats   = domain.ProcessingStats
	Result            = extract.Result
	Config            = config.Config
	Logger            = observability.Logger
)

// Event type constants
const (
	EventStart          = domain.EventStart
	EventStage          = domain.EventStage
	EventPageProcessing = domain.EventPageProcessing
	EventPageComplete   = domain.EventPageComplete
	EventFigure         = domain.EventFigure
	EventWarning        = domain.EventWarning
	EventError          = domain.EventError
	EventComplete       = domain.EventComplete
)

// Client is the main entry point for the booklet extractor library.
type Client struct {
	cfg     *config.Config
	service *extract.Service
	cache   cache.Client
	logger  *observability.Logger
}

// Option overrides one collaborator of the client.
type Option func(*collaborators)

type collaborators struct {
	logger     *observability.Logger
	rasterizer domain.Rasterizer
	native     domain.NativeTextExtractor
	nativeSet  bool
	layout     layout.Engine
	layoutSet  bool
	scanner    figures.ImageScanner
	ocr        domain.OCREngine
	cache      cache.Client
}

// WithLogger sets the logger used by every stage.
func WithLogger(logger *observability.Logger) Option {
	return func(c *collaborators) { c.logger = logger }
}

// WithRasterizer replaces the MuPDF page rasterizer.
func WithRasterizer(r domain.Rasterizer) Option {
	return func(c *collaborators) { c.rasterizer = r }
}

// WithNativeText replaces the text-layer reader. Pass nil to always OCR.
func WithNativeText(n domain.NativeTextExtractor) Option {
	return func(c *collaborators) {
		c.native = n
		c.nativeSet = true
	}
}

// WithLayoutEngine replaces the configured layout engine. Pass nil to skip
// layout analysis.
func WithLayoutEngine(e layout.Engine) Option {
	return func(c *collaborators) {
		c.layout = e
		c.layoutSet = true
	}
}

// WithImageScanner replaces the embedded-image scanner.
func WithImageScanner(s figures.ImageScanner) Option {
	return func(c *collaborators) { c.scanner = s }
}

// WithOCREngine replaces the Tesseract engine. The configured cache still
// wraps it.
func WithOCREngine(e domain.OCREngine) Option {
	return func(c *collaborators) { c.ocr = e }
}

// WithCache replaces the configured OCR cache backend. The client closes it.
func WithCache(cc cache.Client) Option {
	return func(c *collaborators) { c.cache = cc }
}

// NewClient creates a client from the default configuration with
// environment overrides applied.
func NewClient(opts ...Option) (*Client, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, domain.ConfigError("Failed to load configuration", err)
	}
	return NewClientWithConfig(cfg, opts...)
}

// NewClientWithConfig creates a client with a custom configuration.
func NewClientWithConfig(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, domain.ConfigError("configuration is required", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, domain.ConfigError("Invalid configuration", err)
	}

	var co collaborators
	for _, opt := range opts {
		opt(&co)
	}

	logger := co.logger
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{
			Level:       cfg.Observability.LogLevel,
			Format:      cfg.Observability.LogFormat,
			ServiceName: cfg.Observability.ServiceName,
		})
	}

	if co.rasterizer == nil {
		co.rasterizer = pdf.NewRasterizer()
	}
	if !co.nativeSet {
		co.native = pdf.NewNativeText(logger)
	}
	if co.scanner == nil {
		co.scanner = figures.NewPDFCPUScanner()
	}
	if !co.layoutSet {
		co.layout = newLayoutEngine(cfg.Layout, logger)
	}

	engine := co.ocr
	if engine == nil {
		engine = ocr.NewTesseract(cfg.Text.Language)
	}

	cc := co.cache
	if cc == nil {
		var err error
		cc, err = newCache(cfg.Cache)
		if err != nil {
			return nil, err
		}
	}
	if cc != nil {
		engine = ocr.NewCachedEngine(engine, cc, cfg.Cache.TTL, cfg.Text.Language, logger)
	}

	reconstructor := textrecon.New(engine, textrecon.Config{
		TwoColumnRatio:      cfg.Text.TwoColumnRatio,
		ColumnMargin:        cfg.Text.ColumnMargin,
		NativeTextThreshold: cfg.Text.NativeTextThreshold,
	}, logger)

	deps := extract.Dependencies{
		Validator:  pdf.NewValidator(logger),
		Rasterizer: co.rasterizer,
		Native:     co.native,
		Layout:     co.layout,
		Scanner:    co.scanner,
		Text:       reconstructor,
		Linker:     questions.NewLinker(cfg.Linker.Keywords, cfg.Linker.PageWindow),
	}

	return &Client{
		cfg:     cfg,
		service: extract.NewService(deps, ServiceOptions(cfg), logger),
		cache:   cc,
		logger:  logger,
	}, nil
}

// ServiceOptions maps the configuration onto pipeline options.
func ServiceOptions(cfg *config.Config) extract.Options {
	return extract.Options{
		OCRDPI:    cfg.Render.OCRDPI,
		FigureDPI: cfg.Render.FigureDPI,
		Crop: figures.CropConfig{
			Padding:         cfg.Figures.Padding,
			MinSize:         cfg.Figures.MinSize,
			HeaderMaxY:      cfg.Figures.HeaderMaxY,
			HeaderMinAspect: cfg.Figures.HeaderMinAspect,
			Upscale:         cfg.Figures.Upscale,
		},
		Embedded: figures.EmbeddedConfig{
			MinSize:  cfg.Figures.EmbeddedMinSize,
			MinBytes: cfg.Figures.EmbeddedMinBytes,
		},
		PageRenders: figures.ExtractorOptions{
			IncludePageRenders: cfg.Figures.IncludePageRenders,
			PageRenderDPI:      cfg.Figures.PageRenderDPI,
		},
		TextStrategy: cfg.Text.Strategy,
		Workers:      cfg.Text.Workers,
		HTML:         cfg.Output.HTML,
	}
}

// newLayoutEngine returns a nil interface, not a typed nil, when disabled.
func newLayoutEngine(cfg config.LayoutConfig, logger *observability.Logger) layout.Engine {
	switch cfg.Engine {
	case "docling":
		return layout.NewDocling(layout.DoclingConfig{
			URL:     cfg.Docling.URL,
			Timeout: cfg.Docling.Timeout,
			Retry: layout.RetryConfig{
				MaxRetries:     cfg.Docling.MaxRetries,
				InitialBackoff: cfg.Docling.InitialBackoff,
				MaxBackoff:     cfg.Docling.MaxBackoff,
			},
		}, logger)
	case "mupdf":
		return layout.NewMuPDF(cfg.MuPDF.Bin, logger)
	default:
		return nil
	}
}

func newCache(cfg config.CacheConfig) (cache.Client, error) {
	switch cfg.Driver {
	case "memory":
		return cache.NewMemoryClient(cfg.MaxEntries), nil
	case "redis":
		rc, err := cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, domain.ConfigError("Failed to connect to OCR cache", err)
		}
		return rc, nil
	default:
		return nil, nil
	}
}

// Config returns the client's configuration.
func (c *Client) Config() *config.Config {
	return c.cfg
}

// Converter returns the underlying pipeline service.
func (c *Client) Converter() *extract.Service {
	return c.service
}

// OutputDir returns the directory a conversion of pdfPath is written to
// when no explicit directory is given: <output.dir>/<stem>.
func (c *Client) OutputDir(pdfPath string) string {
	stem := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
	return filepath.Join(c.cfg.Output.Dir, stem)
}

// Convert runs one conversion and writes its artifacts to outDir, or to
// OutputDir(pdfPath) when outDir is empty. eventCh may be nil; events are
// dropped when it is full.
func (c *Client) Convert(ctx context.Context, pdfPath, outDir string, eventCh chan<- StreamEvent) (*Result, error) {
	req, err := c.request(pdfPath, outDir)
	if err != nil {
		return nil, err
	}
	return c.service.Process(ctx, req, eventCh)
}

// Process streams the events of a conversion into the default output
// directory. The channel is closed when the conversion ends; a failure is
// delivered as a final EventError.
func (c *Client) Process(ctx context.Context, pdfPath string) (<-chan StreamEvent, error) {
	req, err := c.request(pdfPath, "")
	if err != nil {
		return nil, err
	}

	eventCh := make(chan StreamEvent, 256)

	go func() {
		defer close(eventCh)
		// Failures are already on the channel as EventError.
		_, _ = c.service.Process(ctx, req, eventCh)
	}()

	return eventCh, nil
}

func (c *Client) request(pdfPath, outDir string) (extract.Request, error) {
	if _, err := os.Stat(pdfPath); os.IsNotExist(err) {
		return extract.Request{}, domain.ValidationError("PDF file not found", err)
	}
	if outDir == "" {
		outDir = c.OutputDir(pdfPath)
	}

	sink, err := artifacts.NewFileSink(outDir, c.cfg.Output.ImagesDir)
	if err != nil {
		return extract.Request{}, domain.IOError(fmt.Sprintf("Failed to prepare output directory %s", outDir), err)
	}

	return extract.Request{
		Path:      pdfPath,
		Sink:      sink,
		ImagesDir: c.cfg.Output.ImagesDir,
	}, nil
}

// Close releases the OCR cache connection, if any.
func (c *Client) Close() error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Close()
}
