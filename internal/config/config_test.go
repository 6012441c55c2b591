package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// chdirTemp runs the test from an empty directory so no stray .env is read
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Store.Backend != BackendFile {
		t.Errorf("Expected backend %q, got %q", BackendFile, cfg.Store.Backend)
	}
	if cfg.Images.MaxLongEdge != 1600 {
		t.Errorf("Expected max_long_edge 1600, got %d", cfg.Images.MaxLongEdge)
	}
	if cfg.Images.JPEGQuality != 85 {
		t.Errorf("Expected jpeg_quality 85, got %d", cfg.Images.JPEGQuality)
	}
	if cfg.Document.MarginMM != 10 {
		t.Errorf("Expected margin_mm 10, got %v", cfg.Document.MarginMM)
	}
	if cfg.Cache.TTL != 10*time.Minute {
		t.Errorf("Expected cache ttl 10m, got %v", cfg.Cache.TTL)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := chdirTemp(t)
	configFile := filepath.Join(dir, "config.yaml")

	configContent := `
store:
  backend: sqlite
  path: "data/testprint.db"
  slot: "classroom"

images:
  max_long_edge: 2000
  jpeg_quality: 90
  concurrency: 8

document:
  margin_mm: 5
  allow_upscale: true
  output_dir: "out"

cache:
  size: 4
  ttl: 30s

log:
  level: debug
  format: json
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Store.Backend != BackendSQLite || cfg.Store.Path != "data/testprint.db" || cfg.Store.Slot != "classroom" {
		t.Errorf("Unexpected store config: %+v", cfg.Store)
	}
	if cfg.Images.MaxLongEdge != 2000 || cfg.Images.JPEGQuality != 90 || cfg.Images.Concurrency != 8 {
		t.Errorf("Unexpected images config: %+v", cfg.Images)
	}
	// Unset keys keep their defaults
	if cfg.Images.MaxSourcePixels != 120_000_000 {
		t.Errorf("Expected default max_source_pixels, got %d", cfg.Images.MaxSourcePixels)
	}
	if cfg.Document.MarginMM != 5 || !cfg.Document.AllowUpscale || cfg.Document.OutputDir != "out" {
		t.Errorf("Unexpected document config: %+v", cfg.Document)
	}
	if cfg.Cache.Size != 4 || cfg.Cache.TTL != 30*time.Second {
		t.Errorf("Unexpected cache config: %+v", cfg.Cache)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Unexpected log config: %+v", cfg.Log)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := chdirTemp(t)

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("TESTPRINT_STORE_BACKEND=bolt\nTESTPRINT_STORE_PATH=from-dotenv.bolt\n"), 0644); err != nil {
		t.Fatalf("Failed to create .env: %v", err)
	}
	// The real environment wins over .env
	t.Setenv("TESTPRINT_STORE_PATH", "from-env.bolt")
	t.Setenv("TESTPRINT_MAX_LONG_EDGE", "1200")
	t.Setenv("TESTPRINT_MARGIN_MM", "12.5")
	t.Setenv("TESTPRINT_ALLOW_UPSCALE", "true")
	t.Setenv("TESTPRINT_CACHE_TTL", "1h")

	// godotenv sets variables for the whole process
	t.Cleanup(func() { os.Unsetenv("TESTPRINT_STORE_BACKEND") })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Store.Backend != BackendBolt {
		t.Errorf("Expected backend from .env, got %q", cfg.Store.Backend)
	}
	if cfg.Store.Path != "from-env.bolt" {
		t.Errorf("Expected path from environment, got %q", cfg.Store.Path)
	}
	if cfg.Images.MaxLongEdge != 1200 {
		t.Errorf("Expected max_long_edge 1200, got %d", cfg.Images.MaxLongEdge)
	}
	if cfg.Document.MarginMM != 12.5 || !cfg.Document.AllowUpscale {
		t.Errorf("Unexpected document config: %+v", cfg.Document)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("Expected cache ttl 1h, got %v", cfg.Cache.TTL)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unknown backend",
			yaml:    "store:\n  backend: postgres\n",
			wantErr: "Backend",
		},
		{
			name:    "quality out of range",
			yaml:    "images:\n  jpeg_quality: 101\n",
			wantErr: "JPEGQuality",
		},
		{
			name:    "margin too wide",
			yaml:    "document:\n  margin_mm: 110\n",
			wantErr: "MarginMM",
		},
		{
			name:    "bad log format",
			yaml:    "log:\n  format: xml\n",
			wantErr: "Format",
		},
		{
			name:    "unparsable env",
			env:     map[string]string{"TESTPRINT_CONCURRENCY": "lots"},
			wantErr: "TESTPRINT_CONCURRENCY",
		},
		{
			name:    "malformed yaml",
			yaml:    "store: [",
			wantErr: "parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := chdirTemp(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := ""
			if tt.yaml != "" {
				path = filepath.Join(dir, "config.yaml")
				if err := os.WriteFile(path, []byte(tt.yaml), 0644); err != nil {
					t.Fatalf("Failed to create test config: %v", err)
				}
			}

			_, err := Load(path)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	chdirTemp(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestMemoryBackendNeedsNoPath(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = BackendMemory
	cfg.Store.Path = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}
