// Package config loads and validates crawl configuration via Viper, decodes the
// actor-style input document and normalizes raw extraction option mappings.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/JakeFAU/contextractor/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	Render     RenderConfig     `mapstructure:"render"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Dataset    DatasetConfig    `mapstructure:"dataset"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// CrawlConfig governs the frontier, budgets and worker pool.
type CrawlConfig struct {
	StartURLs           []string            `mapstructure:"start_urls" validate:"dive,url"`
	MaxResultsPerCrawl  int64               `mapstructure:"max_results_per_crawl" validate:"gte=0"`
	MaxPagesPerCrawl    int64               `mapstructure:"max_pages_per_crawl" validate:"gte=0"`
	MaxRequestRetries   int                 `mapstructure:"max_request_retries" validate:"gte=0"`
	PageLoadTimeoutSecs int                 `mapstructure:"page_load_timeout_secs" validate:"gt=0"`
	Concurrency         int                 `mapstructure:"concurrency" validate:"gt=0"`
	LinkSelector        string              `mapstructure:"link_selector"`
	Globs               []string            `mapstructure:"globs"`
	Excludes            []string            `mapstructure:"excludes"`
	PseudoURLs          []string            `mapstructure:"pseudo_urls"`
	KeepURLFragments    bool                `mapstructure:"keep_url_fragments"`
	MaxCrawlingDepth    int                 `mapstructure:"max_crawling_depth" validate:"gte=0"`
	Save                crawler.SaveOptions `mapstructure:"save"`
}

// RenderConfig selects and tunes the render capability.
type RenderConfig struct {
	Backend          string            `mapstructure:"backend" validate:"oneof=http browser"`
	Headless         bool              `mapstructure:"headless"`
	UserAgent        string            `mapstructure:"user_agent"`
	IgnoreSSLErrors  bool              `mapstructure:"ignore_ssl_errors"`
	IgnoreCORSAndCSP bool              `mapstructure:"ignore_cors_and_csp"`
	BrowserLog       bool              `mapstructure:"browser_log"`
	InitialCookies   []Cookie          `mapstructure:"initial_cookies" validate:"dive"`
	CustomHeaders    map[string]string `mapstructure:"custom_http_headers"`
	MaxParallel      int               `mapstructure:"max_parallel" validate:"gte=0"`
	RespectRobots    bool              `mapstructure:"respect_robots"`
	RateLimit        RateLimitConfig   `mapstructure:"rate_limit"`
}

// Cookie is one cookie installed before the first navigation.
type Cookie struct {
	Name     string  `mapstructure:"name" json:"name" validate:"required"`
	Value    string  `mapstructure:"value" json:"value"`
	Domain   string  `mapstructure:"domain" json:"domain"`
	Path     string  `mapstructure:"path" json:"path"`
	URL      string  `mapstructure:"url" json:"url"`
	Secure   bool    `mapstructure:"secure" json:"secure"`
	HTTPOnly bool    `mapstructure:"http_only" json:"httpOnly"`
	Expires  float64 `mapstructure:"expires" json:"expires"`
}

// RateLimitConfig throttles renders per host. Zero RPS disables throttling.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps" validate:"gte=0"`
	Burst int     `mapstructure:"burst" validate:"gte=0"`
}

// ExtractionConfig carries the extraction mode and the raw options mapping.
// Options are normalized and typed by the extraction package.
type ExtractionConfig struct {
	Mode    string         `mapstructure:"mode"`
	Options map[string]any `mapstructure:"options"`
}

// StorageConfig selects the key-value artifact store.
type StorageConfig struct {
	Backend           string             `mapstructure:"backend" validate:"oneof=memory local gcs"`
	KeyValueStoreName string             `mapstructure:"key_value_store_name"`
	Local             LocalStorageConfig `mapstructure:"local"`
	GCS               GCSStorageConfig   `mapstructure:"gcs"`
}

// LocalStorageConfig writes artifacts below a directory.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSStorageConfig writes artifacts to a bucket.
type GCSStorageConfig struct {
	Bucket        string `mapstructure:"bucket"`
	Prefix        string `mapstructure:"prefix"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// DatasetConfig selects where page results are appended.
type DatasetConfig struct {
	Backend  string                `mapstructure:"backend" validate:"oneof=memory jsonl parquet postgres"`
	Name     string                `mapstructure:"name"`
	Path     string                `mapstructure:"path"`
	Postgres PostgresDatasetConfig `mapstructure:"postgres"`
	Parquet  ParquetDatasetConfig  `mapstructure:"parquet"`
}

// PostgresDatasetConfig controls the relational dataset.
type PostgresDatasetConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns" validate:"gte=0"`
}

// ParquetDatasetConfig controls the columnar dataset file.
type ParquetDatasetConfig struct {
	Compression string `mapstructure:"compression" validate:"oneof=none snappy gzip zstd"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port" validate:"gt=0,lte=65535"`
}

// LoggingConfig toggles zap development features and file output.
type LoggingConfig struct {
	Development bool              `mapstructure:"development"`
	Level       string            `mapstructure:"level" validate:"oneof=debug info warn error"`
	File        LoggingFileConfig `mapstructure:"file"`
}

// LoggingFileConfig enables a rotating log file next to stderr output.
type LoggingFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	ProjectID      string `mapstructure:"project_id"`
	ServiceName    string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CONTEXTRACTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.start_urls", []string{})
	v.SetDefault("crawl.max_results_per_crawl", 0)
	v.SetDefault("crawl.max_pages_per_crawl", 0)
	v.SetDefault("crawl.max_request_retries", 3)
	v.SetDefault("crawl.page_load_timeout_secs", 60)
	v.SetDefault("crawl.concurrency", 4)
	v.SetDefault("crawl.link_selector", "")
	v.SetDefault("crawl.keep_url_fragments", false)
	v.SetDefault("crawl.max_crawling_depth", 0)
	v.SetDefault("crawl.save.raw_html", false)
	v.SetDefault("crawl.save.text", false)
	v.SetDefault("crawl.save.json", false)
	v.SetDefault("crawl.save.markdown", true)
	v.SetDefault("crawl.save.xml", false)
	v.SetDefault("crawl.save.xml_tei", false)
	v.SetDefault("render.backend", "browser")
	v.SetDefault("render.headless", true)
	v.SetDefault("render.user_agent", "contextractor/0.1")
	v.SetDefault("render.max_parallel", 0)
	v.SetDefault("render.respect_robots", false)
	v.SetDefault("render.rate_limit.rps", 0)
	v.SetDefault("render.rate_limit.burst", 1)
	v.SetDefault("extraction.mode", "")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local.base_dir", "storage/key_value_stores")
	v.SetDefault("dataset.backend", "jsonl")
	v.SetDefault("dataset.path", "storage/datasets")
	v.SetDefault("dataset.postgres.table", "page_results")
	v.SetDefault("dataset.postgres.max_conns", 4)
	v.SetDefault("dataset.parquet.compression", "snappy")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age_days", 28)
	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.service_name", "contextractor")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid config %s: failed %q (value %v)", first.Namespace(), first.Tag(), first.Value())
		}
		return fmt.Errorf("validate config: %w", err)
	}
	if _, err := crawler.ParseExtractionMode(c.Extraction.Mode); err != nil {
		return fmt.Errorf("extraction.mode: %w", err)
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCS.Bucket == "" {
		return fmt.Errorf("storage.gcs.bucket must be set when storage.backend is gcs")
	}
	if c.Storage.Backend == "local" && c.Storage.Local.BaseDir == "" {
		return fmt.Errorf("storage.local.base_dir must be set when storage.backend is local")
	}
	if c.Dataset.Backend == "postgres" && c.Dataset.Postgres.DSN == "" {
		return fmt.Errorf("dataset.postgres.dsn must be set when dataset.backend is postgres")
	}
	if (c.Dataset.Backend == "jsonl" || c.Dataset.Backend == "parquet") && c.Dataset.Path == "" {
		return fmt.Errorf("dataset.path must be set when dataset.backend is %s", c.Dataset.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Telemetry.TracingEnabled && c.Telemetry.ProjectID == "" {
		return fmt.Errorf("telemetry.project_id must be set when tracing is enabled")
	}
	return nil
}

// PageTimeout converts the per-page load timeout into a duration.
func (c Config) PageTimeout() time.Duration {
	return time.Duration(c.Crawl.PageLoadTimeoutSecs) * time.Second
}

// CrawlSettings builds the immutable per-crawl configuration shared by every
// frontier entry.
func (c Config) CrawlSettings() (*crawler.CrawlConfig, error) {
	mode, err := crawler.ParseExtractionMode(c.Extraction.Mode)
	if err != nil {
		return nil, fmt.Errorf("extraction.mode: %w", err)
	}
	return &crawler.CrawlConfig{
		Save:             c.Crawl.Save,
		Mode:             mode,
		LinkSelector:     strings.TrimSpace(c.Crawl.LinkSelector),
		Globs:            append([]string(nil), c.Crawl.Globs...),
		Excludes:         append([]string(nil), c.Crawl.Excludes...),
		PseudoURLs:       append([]string(nil), c.Crawl.PseudoURLs...),
		KeepURLFragments: c.Crawl.KeepURLFragments,
		MaxCrawlingDepth: c.Crawl.MaxCrawlingDepth,
	}, nil
}
