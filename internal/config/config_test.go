package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"ok", func(*Config) {}, false},
		{"no_model", func(c *Config) { c.Provider.Model = "" }, true},
		{"zero_concurrency", func(c *Config) { c.Execution.DefaultConcurrency = 0 }, true},
		{"negative_raw_bytes", func(c *Config) { c.Extraction.MaxRawBytes = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := `
provider:
  model: gemini-2.5-pro
  cache_ttl: 30m
execution:
  tier: tier1
  default_concurrency: 12
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("PBATCH_MODEL", "")
	t.Setenv("PBATCH_API_KEY", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.Model != "gemini-2.5-pro" {
		t.Errorf("model = %q", cfg.Provider.Model)
	}
	if cfg.Provider.CacheTTL != 30*time.Minute {
		t.Errorf("cache ttl = %v", cfg.Provider.CacheTTL)
	}
	if cfg.Execution.DefaultConcurrency != 12 {
		t.Errorf("concurrency = %d", cfg.Execution.DefaultConcurrency)
	}
	if cfg.Provider.APIKey != "env-key" {
		t.Errorf("api key = %q, want the env fallback", cfg.Provider.APIKey)
	}

	// Explicit PBATCH_API_KEY wins over GEMINI_API_KEY.
	t.Setenv("PBATCH_API_KEY", "pbatch-key")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.APIKey != "pbatch-key" {
		t.Errorf("api key = %q, want pbatch-key", cfg.Provider.APIKey)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("PBATCH_API_KEY", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if cfg.Provider.Model != Default().Provider.Model {
		t.Errorf("model = %q", cfg.Provider.Model)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("provider: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("malformed yaml must error")
	}
}

func TestRateFor(t *testing.T) {
	cfg := Default()
	entry, ok := cfg.RateFor("free", "gemini-2.5-flash")
	if !ok || entry.RequestsPerMinute != 10 {
		t.Errorf("entry = %+v, ok = %v", entry, ok)
	}
	if _, ok := cfg.RateFor("free", "unknown-model"); ok {
		t.Error("unknown model must report no constraint")
	}
}
