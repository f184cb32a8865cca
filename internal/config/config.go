// Package config holds the resolved configuration for a batch run.
// Configuration is always passed explicitly; there is no ambient global.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Provider   ProviderConfig   `yaml:"provider"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Extraction ExtractionConfig `yaml:"extraction"`
	RateTable  []RateEntry      `yaml:"rate_table"`
}

// ProviderConfig configures the generation provider adapter.
type ProviderConfig struct {
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	FallbackModel     string        `yaml:"fallback_model"`
	SystemInstruction string        `yaml:"system_instruction"`
	Timeout           time.Duration `yaml:"timeout"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
}

// ExecutionConfig configures dispatch behavior.
type ExecutionConfig struct {
	// DefaultConcurrency bounds fan-out when the caller gives no override.
	DefaultConcurrency int `yaml:"default_concurrency"`
	// Tier selects the rate-table row set ("free", "tier1", ...).
	Tier string `yaml:"tier"`
	// Simulate skips real provider traffic and rate constraints.
	Simulate bool `yaml:"simulate"`
}

// ExtractionConfig configures the result extraction chain.
type ExtractionConfig struct {
	// MaxRawBytes truncates oversized raw responses before extraction.
	MaxRawBytes int `yaml:"max_raw_bytes"`
	// Diagnostics collects per-transform attempt details.
	Diagnostics bool `yaml:"diagnostics"`
}

// RateEntry maps (tier, model) to per-minute ceilings. A missing entry means
// "no constraint known", not zero.
type RateEntry struct {
	Tier              string `yaml:"tier"`
	Model             string `yaml:"model"`
	RequestsPerMinute int    `yaml:"rpm"`
	TokensPerMinute   int    `yaml:"tpm"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Provider: ProviderConfig{
			Model:    "gemini-2.5-flash",
			Timeout:  10 * time.Minute,
			CacheTTL: time.Hour,
		},
		Execution: ExecutionConfig{
			DefaultConcurrency: 4,
			Tier:               "free",
		},
		Extraction: ExtractionConfig{
			MaxRawBytes: 1 << 20,
		},
		RateTable: []RateEntry{
			{Tier: "free", Model: "gemini-2.5-flash", RequestsPerMinute: 10, TokensPerMinute: 250_000},
			{Tier: "free", Model: "gemini-2.5-pro", RequestsPerMinute: 5, TokensPerMinute: 250_000},
			{Tier: "tier1", Model: "gemini-2.5-flash", RequestsPerMinute: 1000, TokensPerMinute: 1_000_000},
			{Tier: "tier1", Model: "gemini-2.5-pro", RequestsPerMinute: 150, TokensPerMinute: 2_000_000},
		},
	}
}

// Load reads a YAML config file over the defaults, then applies environment
// overrides. A missing file is not an error; env-only setups are common.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

// applyEnv layers PBATCH_* environment variables over the file values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("PBATCH_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("PBATCH_MODEL"); v != "" {
		cfg.Provider.Model = v
	}
	if v := os.Getenv("PBATCH_TIER"); v != "" {
		cfg.Execution.Tier = v
	}
	if v := os.Getenv("PBATCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Execution.DefaultConcurrency = n
		}
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Provider.Model == "" {
		return fmt.Errorf("provider.model is required")
	}
	if c.Execution.DefaultConcurrency < 1 {
		return fmt.Errorf("execution.default_concurrency must be >= 1, got %d", c.Execution.DefaultConcurrency)
	}
	if c.Extraction.MaxRawBytes < 0 {
		return fmt.Errorf("extraction.max_raw_bytes must be >= 0")
	}
	return nil
}

// RateFor looks up the ceilings for (tier, model). ok is false when no entry
// exists, meaning the caller should treat the pair as unconstrained.
func (c Config) RateFor(tier, model string) (RateEntry, bool) {
	for _, e := range c.RateTable {
		if e.Tier == tier && e.Model == model {
			return e, true
		}
	}
	return RateEntry{}, false
}
