package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// Config represents the application configuration
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Images   ImagesConfig   `yaml:"images"`
	Document DocumentConfig `yaml:"document"`
	Cache    CacheConfig    `yaml:"cache"`
	Log      LogConfig      `yaml:"log"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	Slot    string `yaml:"slot"`
}

type ImagesConfig struct {
	MaxLongEdge     int `yaml:"max_long_edge"`
	JPEGQuality     int `yaml:"jpeg_quality"`
	MaxSourcePixels int `yaml:"max_source_pixels"`
	Concurrency     int `yaml:"concurrency"`
}

type DocumentConfig struct {
	MarginMM     float64 `yaml:"margin_mm"`
	AllowUpscale bool    `yaml:"allow_upscale"`
	OutputDir    string  `yaml:"output_dir"`
}

// CacheConfig bounds the generated document cache. Size 0 disables it.
type CacheConfig struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: BackendFile,
			Path:    "./testprint-data/folders.json",
			Slot:    "tg.folders",
		},
		Images: ImagesConfig{
			MaxLongEdge:     1600,
			JPEGQuality:     85,
			MaxSourcePixels: 120_000_000,
			Concurrency:     4,
		},
		Document: DocumentConfig{
			MarginMM:  10,
			OutputDir: ".",
		},
		Cache: CacheConfig{
			Size: 16,
			TTL:  10 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, a .env file in the working directory and TESTPRINT_* environment
// variables, in increasing order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// A missing .env is normal
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Store.Backend = getEnv("TESTPRINT_STORE_BACKEND", c.Store.Backend)
	c.Store.Path = getEnv("TESTPRINT_STORE_PATH", c.Store.Path)
	c.Store.Slot = getEnv("TESTPRINT_STORE_SLOT", c.Store.Slot)
	c.Document.OutputDir = getEnv("TESTPRINT_OUTPUT_DIR", c.Document.OutputDir)
	c.Log.Level = getEnv("TESTPRINT_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("TESTPRINT_LOG_FORMAT", c.Log.Format)

	ints := []struct {
		key string
		dst *int
	}{
		{"TESTPRINT_MAX_LONG_EDGE", &c.Images.MaxLongEdge},
		{"TESTPRINT_JPEG_QUALITY", &c.Images.JPEGQuality},
		{"TESTPRINT_MAX_SOURCE_PIXELS", &c.Images.MaxSourcePixels},
		{"TESTPRINT_CONCURRENCY", &c.Images.Concurrency},
		{"TESTPRINT_CACHE_SIZE", &c.Cache.Size},
	}
	for _, e := range ints {
		v := os.Getenv(e.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", e.key, err)
		}
		*e.dst = n
	}

	if v := os.Getenv("TESTPRINT_MARGIN_MM"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("TESTPRINT_MARGIN_MM: %w", err)
		}
		c.Document.MarginMM = f
	}
	if v := os.Getenv("TESTPRINT_ALLOW_UPSCALE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TESTPRINT_ALLOW_UPSCALE: %w", err)
		}
		c.Document.AllowUpscale = b
	}
	if v := os.Getenv("TESTPRINT_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TESTPRINT_CACHE_TTL: %w", err)
		}
		c.Cache.TTL = d
	}
	return nil
}

// Validate checks that every setting is usable
func (c *Config) Validate() error {
	return validation.Errors{
		"store":    c.Store.Validate(),
		"images":   c.Images.Validate(),
		"document": c.Document.Validate(),
		"cache":    c.Cache.Validate(),
		"log":      c.Log.Validate(),
	}.Filter()
}

func (s StoreConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Backend, validation.Required, validation.In(BackendFile, BackendSQLite, BackendBolt, BackendMemory)),
		validation.Field(&s.Path, validation.When(s.Backend != BackendMemory, validation.Required)),
		validation.Field(&s.Slot, validation.Required),
	)
}

func (i ImagesConfig) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.MaxLongEdge, validation.Required, validation.Min(1)),
		validation.Field(&i.JPEGQuality, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&i.MaxSourcePixels, validation.Required, validation.Min(1)),
		validation.Field(&i.Concurrency, validation.Required, validation.Min(1)),
	)
}

func (d DocumentConfig) Validate() error {
	return validation.ValidateStruct(&d,
		// two margins must leave room on a 210mm wide page
		validation.Field(&d.MarginMM, validation.Min(0.0), validation.Max(104.0)),
		validation.Field(&d.OutputDir, validation.Required),
	)
}

func (c CacheConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Size, validation.Min(0)),
		validation.Field(&c.TTL, validation.Min(time.Duration(0))),
	)
}

func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.Required, validation.In("trace", "debug", "info", "warn", "error")),
		validation.Field(&l.Format, validation.Required, validation.In("console", "json")),
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
