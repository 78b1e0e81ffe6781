package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PaperSize describes a printable page in inches.
type PaperSize struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// LoggerConfig controls log level and file rotation.
type LoggerConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Config is the complete service configuration.
type Config struct {
	Server struct {
		Host    string `yaml:"host"`
		Port    string `yaml:"port"`
		Prefork bool   `yaml:"prefork"`
	} `yaml:"server"`

	Limits struct {
		MaxUploadBytes   int `yaml:"max_upload_bytes"`
		MaxHTMLBytes     int `yaml:"max_html_bytes"`
		MaxDocumentBytes int `yaml:"max_document_bytes"`
	} `yaml:"limits"`

	Logger LoggerConfig `yaml:"logger"`

	Cache struct {
		HTMLCacheEnabled bool          `yaml:"html_cache_enabled"`
		HTMLCacheTTL     time.Duration `yaml:"html_cache_ttl"`
		RedisHost        string        `yaml:"redis_host"`
		RateLimitDB      int           `yaml:"redis_rate_db"`
		HTMLCacheDB      int           `yaml:"redis_html_db"`
	} `yaml:"cache"`

	Pandoc struct {
		Path        string `yaml:"path"`
		TimeoutSecs int    `yaml:"timeout_secs"`
		TempDir     string `yaml:"temp_dir"`
	} `yaml:"pandoc"`

	Export struct {
		Filename      string `yaml:"filename"`
		DefaultFormat string `yaml:"default_format"`
		TempDir       string `yaml:"temp_dir"`
	} `yaml:"export"`

	PDF struct {
		Enabled         bool                 `yaml:"enabled"`
		DefaultPaper    string               `yaml:"default_paper"`
		PaperSizes      map[string]PaperSize `yaml:"paper_sizes"`
		Margin          float64              `yaml:"margin"`
		TimeoutSecs     int                  `yaml:"timeout_secs"`
		ChromePath      string               `yaml:"chrome_path"`
		ChromeNoSandbox bool                 `yaml:"chrome_no_sandbox"`
	} `yaml:"pdf"`

	Diff struct {
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"diff"`

	RateLimiter struct {
		Interval          time.Duration `yaml:"interval"`
		UserLimit         int           `yaml:"user_limit"`
		EnableUserLimiter bool          `yaml:"enable_user_limiter"`
	} `yaml:"rate_limiter"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
}

const defaultConfigPath = "config.yaml"

// Default returns the configuration used when no file is present.
func Default() Config {
	var cfg Config
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = ":5000"

	cfg.Limits.MaxUploadBytes = 32 * 1024 * 1024
	cfg.Limits.MaxHTMLBytes = 8 * 1024 * 1024
	cfg.Limits.MaxDocumentBytes = 32 * 1024 * 1024

	cfg.Logger.Level = "info"
	cfg.Logger.MaxSizeMB = 10
	cfg.Logger.MaxBackups = 3
	cfg.Logger.MaxAgeDays = 7

	cfg.Cache.HTMLCacheTTL = time.Minute
	cfg.Cache.HTMLCacheDB = 1

	cfg.Pandoc.Path = "pandoc"
	cfg.Pandoc.TimeoutSecs = 60

	cfg.Export.Filename = "version_3.docx"
	cfg.Export.DefaultFormat = "docx"

	cfg.PDF.DefaultPaper = "A4"
	cfg.PDF.PaperSizes = map[string]PaperSize{
		"A4":     {Width: 8.27, Height: 11.69},
		"LETTER": {Width: 8.5, Height: 11},
	}
	cfg.PDF.Margin = 0.4
	cfg.PDF.TimeoutSecs = 30
	cfg.PDF.ChromeNoSandbox = true

	cfg.RateLimiter.Interval = time.Minute

	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"
	return cfg
}

// Load reads the file named by CONFIG_PATH (or config.yaml) and applies
// environment overrides. A missing file yields the defaults.
func Load() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultConfigPath
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		applyEnv(&cfg)
		mustValidate(cfg)
		return cfg
	}
	return LoadFrom(path)
}

// LoadFrom reads the given YAML file on top of the defaults. It panics when the
// file cannot be read or contains invalid values.
func LoadFrom(path string) Config {
	data, err := os.ReadFile(path)
	if err != nil {
		panic(fmt.Sprintf("config: read %s: %v", path, err))
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		panic(fmt.Sprintf("config: parse %s: %v", path, err))
	}
	applyEnv(&cfg)
	mustValidate(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = ":" + strings.TrimPrefix(v, ":")
	}
	if v := os.Getenv("PANDOC_BIN"); v != "" {
		cfg.Pandoc.Path = v
	}
	// Common container env var for the browser binary.
	if cfg.PDF.ChromePath == "" {
		if v := os.Getenv("CHROME_BIN"); v != "" {
			cfg.PDF.ChromePath = v
		}
	}
}

func mustValidate(cfg Config) {
	if err := Validate(cfg); err != nil {
		panic("config: " + err.Error())
	}
}

// Validate reports the first invalid value in cfg.
func Validate(cfg Config) error {
	switch {
	case cfg.Server.Port == "":
		return errors.New("server.port is empty")
	case cfg.Limits.MaxUploadBytes <= 0:
		return errors.New("limits.max_upload_bytes must be positive")
	case cfg.Limits.MaxHTMLBytes <= 0:
		return errors.New("limits.max_html_bytes must be positive")
	case cfg.Limits.MaxDocumentBytes <= 0:
		return errors.New("limits.max_document_bytes must be positive")
	case cfg.Pandoc.Path == "":
		return errors.New("pandoc.path is empty")
	case cfg.Pandoc.TimeoutSecs < 0:
		return errors.New("pandoc.timeout_secs must not be negative")
	case cfg.Export.Filename == "":
		return errors.New("export.filename is empty")
	case cfg.Export.DefaultFormat == "":
		return errors.New("export.default_format is empty")
	case cfg.RateLimiter.UserLimit < 0:
		return errors.New("rate_limiter.user_limit must not be negative")
	case cfg.RateLimiter.UserLimit > 0 && cfg.RateLimiter.Interval <= 0:
		return errors.New("rate_limiter.interval must be positive when user_limit is set")
	case cfg.Diff.Timeout < 0:
		return errors.New("diff.timeout must not be negative")
	}
	if cfg.PDF.Enabled {
		if _, ok := cfg.PDF.PaperSizes[cfg.PDF.DefaultPaper]; !ok {
			return fmt.Errorf("pdf.default_paper %q is not in pdf.paper_sizes", cfg.PDF.DefaultPaper)
		}
		if cfg.PDF.TimeoutSecs <= 0 {
			return errors.New("pdf.timeout_secs must be positive")
		}
	}
	return nil
}
