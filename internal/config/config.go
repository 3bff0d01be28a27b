// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/link-content-scraper/internal/policy/skip"
	localstorage "github.com/JakeFAU/link-content-scraper/internal/storage/local"
)

// EnvPrefix prefixes every environment override, e.g. SCRAPER_SERVER_PORT.
const EnvPrefix = "SCRAPER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ReadHeaderTimeoutSec   int `mapstructure:"read_header_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ExtractorConfig points at the content extraction service.
type ExtractorConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
	// Local serves extraction in-process instead of calling Endpoint.
	Local             bool  `mapstructure:"local"`
	TimeoutSeconds    int   `mapstructure:"timeout_seconds"`
	PDFTimeoutSeconds int   `mapstructure:"pdf_timeout_seconds"`
	MaxRetries        int   `mapstructure:"max_retries"`
	RetryDelaySeconds int   `mapstructure:"retry_delay_seconds"`
	MaxBodyBytes      int64 `mapstructure:"max_body_bytes"`
}

// RateLimitConfig bounds extraction requests per rolling window.
type RateLimitConfig struct {
	Requests      int `mapstructure:"requests"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

// CrawlerConfig governs batching, the worker pool and skip rules.
type CrawlerConfig struct {
	BatchSize          int      `mapstructure:"batch_size"`
	CooldownFraction   float64  `mapstructure:"cooldown_fraction"`
	Concurrency        int      `mapstructure:"concurrency"`
	QueueDepth         int      `mapstructure:"queue_depth"`
	JobTimeoutSeconds  int      `mapstructure:"job_timeout_seconds"`
	UserAgent          string   `mapstructure:"user_agent"`
	SeedTimeoutSeconds int      `mapstructure:"seed_timeout_seconds"`
	SkipDomains        []string `mapstructure:"skip_domains"`
	SkipExtensions     []string `mapstructure:"skip_extensions"`
	SkipPatterns       []string `mapstructure:"skip_patterns"`
}

// HeadlessConfig configures the headless seed renderer.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs   int  `mapstructure:"settle_delay_ms"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
	MinLinks        int  `mapstructure:"min_links"`
}

// ArchiveConfig controls archive naming and retention.
type ArchiveConfig struct {
	WorkDir           string `mapstructure:"work_dir"`
	MaxFilenameLength int    `mapstructure:"max_filename_length"`
	TitleScanLines    int    `mapstructure:"title_scan_lines"`
	RetentionSeconds  int    `mapstructure:"retention_seconds"`
}

// StorageConfig selects where finished archives are mirrored.
type StorageConfig struct {
	// Backend is one of none, memory, local or gcs.
	Backend string              `mapstructure:"backend"`
	Bucket  string              `mapstructure:"bucket"`
	Prefix  string              `mapstructure:"prefix"`
	Local   localstorage.Config `mapstructure:"local"`
}

// PubSubConfig holds metadata for archive notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress event hub and the SSE stream.
type ProgressConfig struct {
	Enabled          bool                `mapstructure:"enabled"`
	LogEnabled       bool                `mapstructure:"log_enabled"`
	BufferSize       int                 `mapstructure:"buffer_size"`
	Batch            ProgressBatchConfig `mapstructure:"batch"`
	SinkTimeoutMs    int                 `mapstructure:"sink_timeout_ms"`
	StreamIntervalMs int                 `mapstructure:"stream_interval_ms"`
}

// ProgressBatchConfig controls hub batching.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	// Level overrides the default level (debug in development, info otherwise).
	Level string `mapstructure:"level"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	}
	return LoadFrom(v)
}

// LoadFrom reads configuration through v, which may already carry bound
// command-line flags.
func LoadFrom(v *viper.Viper) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if v.ConfigFileUsed() != "" {
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_header_timeout_seconds", 5)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("extractor.endpoint", "https://r.jina.ai")
	v.SetDefault("extractor.local", false)
	v.SetDefault("extractor.timeout_seconds", 30)
	v.SetDefault("extractor.pdf_timeout_seconds", 60)
	v.SetDefault("extractor.max_retries", 3)
	v.SetDefault("extractor.retry_delay_seconds", 5)
	v.SetDefault("extractor.max_body_bytes", 20<<20)
	v.SetDefault("ratelimit.requests", 15)
	v.SetDefault("ratelimit.window_seconds", 60)
	v.SetDefault("crawler.batch_size", 10)
	v.SetDefault("crawler.cooldown_fraction", 0.5)
	v.SetDefault("crawler.concurrency", 2)
	v.SetDefault("crawler.queue_depth", 16)
	v.SetDefault("crawler.job_timeout_seconds", 0)
	v.SetDefault("crawler.user_agent", "link-content-scraper/0.1")
	v.SetDefault("crawler.seed_timeout_seconds", 30)
	v.SetDefault("crawler.skip_domains", skip.DefaultDomains)
	v.SetDefault("crawler.skip_extensions", skip.DefaultExtensions)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.settle_delay_ms", 500)
	v.SetDefault("headless.promotion_threshold", 60)
	v.SetDefault("headless.min_links", 5)
	v.SetDefault("archive.work_dir", filepath.Join(os.TempDir(), "link-content-scraper"))
	v.SetDefault("archive.max_filename_length", 100)
	v.SetDefault("archive.title_scan_lines", 30)
	v.SetDefault("archive.retention_seconds", 300)
	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.prefix", "archives")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.batch.max_events", 1000)
	v.SetDefault("progress.batch.max_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 10000)
	v.SetDefault("progress.stream_interval_ms", 500)
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.service_name", "link-content-scraper")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if !c.Extractor.Local && strings.TrimSpace(c.Extractor.Endpoint) == "" {
		return fmt.Errorf("extractor.endpoint must be set unless extractor.local is enabled")
	}
	if c.Extractor.MaxRetries < 0 {
		return fmt.Errorf("extractor.max_retries must be >= 0")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("ratelimit.requests and ratelimit.window_seconds must be > 0")
	}
	if c.Crawler.BatchSize <= 0 {
		return fmt.Errorf("crawler.batch_size must be > 0")
	}
	if c.Crawler.CooldownFraction < 0 {
		return fmt.Errorf("crawler.cooldown_fraction must be >= 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Storage.Backend {
	case "", "none", "memory":
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	return nil
}

// RateWindow returns the limiter window.
func (c Config) RateWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

// BatchCooldown is the pause between link batches, a fraction of the rate window.
func (c Config) BatchCooldown() time.Duration {
	return time.Duration(c.Crawler.CooldownFraction * float64(c.RateWindow()))
}

// JobTimeout bounds a single crawl; zero means unbounded.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Crawler.JobTimeoutSeconds) * time.Second
}

// RetentionDelay is how long a downloaded archive is kept.
func (c Config) RetentionDelay() time.Duration {
	return time.Duration(c.Archive.RetentionSeconds) * time.Second
}

// StreamInterval is the SSE snapshot period.
func (c Config) StreamInterval() time.Duration {
	return time.Duration(c.Progress.StreamIntervalMs) * time.Millisecond
}
