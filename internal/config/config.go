// Package config provides configuration loading for the booklet extractor.
// Supports YAML files, .env files, and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/spherical/booklet-extractor/internal/questions"
)

// Config holds all configuration for the booklet extractor.
type Config struct {
	Output        OutputConfig        `yaml:"output"`
	Render        RenderConfig        `yaml:"render"`
	Layout        LayoutConfig        `yaml:"layout"`
	Figures       FiguresConfig       `yaml:"figures"`
	Text          TextConfig          `yaml:"text"`
	Linker        LinkerConfig        `yaml:"linker"`
	Cache         CacheConfig         `yaml:"cache"`
	Database      DatabaseConfig      `yaml:"database"`
	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// OutputConfig controls where artifacts are written.
type OutputConfig struct {
	Dir       string `yaml:"dir"`
	ImagesDir string `yaml:"images_dir"` // relative to Dir
	HTML      bool   `yaml:"html"`
}

// RenderConfig holds rasterization resolutions.
type RenderConfig struct {
	OCRDPI    float64 `yaml:"ocr_dpi"`
	FigureDPI float64 `yaml:"figure_dpi"`
}

// LayoutConfig selects the layout engine.
type LayoutConfig struct {
	Engine  string        `yaml:"engine"` // docling, mupdf or none
	Docling DoclingConfig `yaml:"docling"`
	MuPDF   MuPDFConfig   `yaml:"mupdf"`
}

// DoclingConfig holds docling-serve client settings.
type DoclingConfig struct {
	URL            string        `yaml:"url"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// MuPDFConfig holds mutool settings.
type MuPDFConfig struct {
	Bin string `yaml:"bin"`
}

// FiguresConfig holds figure cropping and filtering thresholds.
type FiguresConfig struct {
	Padding            float64 `yaml:"padding"`
	MinSize            int     `yaml:"min_size"`
	HeaderMaxY         float64 `yaml:"header_max_y"`
	HeaderMinAspect    float64 `yaml:"header_min_aspect"`
	Upscale            float64 `yaml:"upscale"`
	EmbeddedMinSize    int     `yaml:"embedded_min_size"`
	EmbeddedMinBytes   int     `yaml:"embedded_min_bytes"`
	IncludePageRenders bool    `yaml:"include_page_renders"`
	PageRenderDPI      float64 `yaml:"page_render_dpi"`
}

// TextConfig holds text reconstruction settings.
type TextConfig struct {
	Strategy            string  `yaml:"strategy"` // auto, layout or ocr
	TwoColumnRatio      float64 `yaml:"two_column_ratio"`
	ColumnMargin        int     `yaml:"column_margin"`
	NativeTextThreshold int     `yaml:"native_text_threshold"`
	Language            string  `yaml:"language"`
	Workers             int     `yaml:"workers"`
}

// LinkerConfig holds the figure reference heuristic parameters.
type LinkerConfig struct {
	Keywords   []string `yaml:"keywords"`
	PageWindow int      `yaml:"page_window"`
}

// CacheConfig holds OCR cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // none, memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// DatabaseConfig holds run history settings.
type DatabaseConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxUploadBytes   int64         `yaml:"max_upload_bytes"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads .env files, then the YAML file at path (if any), then applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // .env is optional

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration tuned for standardized test booklets.
func DefaultConfig() *Config {
	return &Config{
		Output: OutputConfig{
			Dir:       "output",
			ImagesDir: "images",
		},
		Render: RenderConfig{
			OCRDPI:    300,
			FigureDPI: 72,
		},
		Layout: LayoutConfig{
			Engine: "none",
			Docling: DoclingConfig{
				URL:            "http://localhost:5001",
				Timeout:        10 * time.Minute,
				MaxRetries:     3,
				InitialBackoff: time.Second,
				MaxBackoff:     30 * time.Second,
			},
			MuPDF: MuPDFConfig{
				Bin: "mutool",
			},
		},
		Figures: FiguresConfig{
			Padding:          5,
			MinSize:          30,
			HeaderMaxY:       80,
			HeaderMinAspect:  5,
			Upscale:          2,
			EmbeddedMinSize:  50,
			EmbeddedMinBytes: 1000,
			PageRenderDPI:    150,
		},
		Text: TextConfig{
			Strategy:            "auto",
			TwoColumnRatio:      0.7,
			ColumnMargin:        20,
			NativeTextThreshold: 100,
			Language:            "eng",
			Workers:             4,
		},
		Linker: LinkerConfig{
			Keywords:   append([]string(nil), questions.DefaultKeywords...),
			PageWindow: questions.DefaultPageWindow,
		},
		Cache: CacheConfig{
			Driver:     "none",
			TTL:        24 * time.Hour,
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
				Prefix:   "booklet:",
			},
		},
		Database: DatabaseConfig{
			Enabled: false,
			Driver:  "sqlite",
			SQLite: SQLiteConfig{
				Path:         "booklet-extractor.db",
				MaxOpenConns: 1,
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8086,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     15 * time.Minute,
			IdleTimeout:      120 * time.Second,
			RequestTimeout:   15 * time.Minute,
			GracefulShutdown: 10 * time.Second,
			MaxUploadBytes:   200 << 20,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "console",
			ServiceName: "booklet-extractor",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Layout.Engine {
	case "docling", "mupdf", "none":
	default:
		return fmt.Errorf("invalid layout engine: %s", c.Layout.Engine)
	}

	switch c.Text.Strategy {
	case "auto", "layout", "ocr":
	default:
		return fmt.Errorf("invalid text strategy: %s", c.Text.Strategy)
	}

	if c.Text.Strategy == "layout" && c.Layout.Engine == "none" {
		return fmt.Errorf("text strategy layout requires a layout engine")
	}

	if c.Render.OCRDPI <= 0 || c.Render.FigureDPI <= 0 {
		return fmt.Errorf("render dpi must be positive")
	}

	if c.Figures.MinSize < 1 || c.Figures.EmbeddedMinSize < 1 {
		return fmt.Errorf("figure minimum sizes must be positive")
	}

	if c.Figures.Upscale < 1 {
		return fmt.Errorf("figure upscale must be at least 1, got %v", c.Figures.Upscale)
	}

	if c.Text.TwoColumnRatio <= 0 {
		return fmt.Errorf("two_column_ratio must be positive")
	}

	if c.Text.Workers < 1 {
		return fmt.Errorf("text workers must be at least 1")
	}

	if c.Linker.PageWindow < 0 {
		return fmt.Errorf("linker page_window cannot be negative")
	}

	if len(c.Linker.Keywords) == 0 {
		return fmt.Errorf("linker keywords cannot be empty")
	}

	switch c.Cache.Driver {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	return nil
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BOOKLET_OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}

	if v := os.Getenv("BOOKLET_LAYOUT_ENGINE"); v != "" {
		cfg.Layout.Engine = v
	}

	if v := os.Getenv("DOCLING_URL"); v != "" {
		cfg.Layout.Docling.URL = v
		if os.Getenv("BOOKLET_LAYOUT_ENGINE") == "" {
			cfg.Layout.Engine = "docling"
		}
	}

	if v := os.Getenv("MUPDF_BIN"); v != "" {
		cfg.Layout.MuPDF.Bin = v
	}

	if v := os.Getenv("BOOKLET_TEXT_STRATEGY"); v != "" {
		cfg.Text.Strategy = v
	}

	if v := os.Getenv("BOOKLET_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Text.Workers = n
		}
	}

	if v := os.Getenv("BOOKLET_PAGE_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Linker.PageWindow = n
		}
	}

	if v := os.Getenv("BOOKLET_KEYWORDS"); v != "" {
		var kws []string
		for _, kw := range strings.Split(v, ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				kws = append(kws, kw)
			}
		}
		cfg.Linker.Keywords = kws
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.Enabled = true
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = v
	}

	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
