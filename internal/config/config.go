// Package config holds all inlay configuration.
// Configuration is loaded from a YAML file, overridden by INLAY_* environment
// variables, and validated before the engine starts. Each concern keeps its
// sub-config in its own file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all inlay configuration.
type Config struct {
	// Browser attachment / launch settings
	Browser BrowserConfig `yaml:"browser"`

	// Network tap settings (listing endpoint, header capture)
	Intercept InterceptConfig `yaml:"intercept"`

	// File-reference lookup settings
	Resolve ResolveConfig `yaml:"resolve"`

	// Candidate extraction rules and heuristics
	Extract ExtractConfig `yaml:"extract"`

	// Injected artifact sizing
	Render RenderConfig `yaml:"render"`

	// Mutation-driven scan scheduling
	Scan ScanConfig `yaml:"scan"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless:            false,
			ViewportWidth:       1920,
			ViewportHeight:      1080,
			NavigationTimeoutMs: 30000,
			PagePattern:         "platform.openai.com/logs",
		},
		Intercept: InterceptConfig{
			ListingPattern:      `/v1/conversations/([A-Za-z0-9_-]+)/items`,
			OrganizationHeader:  "OpenAI-Organization",
			ProjectHeader:       "OpenAI-Project",
			MaxBodyBytes:        8 << 20,
			BodySettleTimeoutMs: 10000,
		},
		Resolve: ResolveConfig{
			LookupURLTemplate: "https://api.openai.com/v1/files/{file_id}/download",
			CooldownMs:        30000,
			TimeoutMs:         15000,
		},
		Extract: ExtractConfig{
			MarkdownImages:    true,
			FileImages:        true,
			PlaceholderImages: true,
			PlaceholderMarker: "[image]",
			ProximityWindow:   3,
		},
		Render: RenderConfig{
			MaxWidthPx:   420,
			MaxHeightPx:  420,
			ShowCaptions: true,
		},
		Scan: ScanConfig{
			DebounceMs:       250,
			PollIntervalMs:   500,
			MaxRootsPerCycle: 16,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults;
// environment overrides are applied either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("INLAY_DEBUGGER_URL"); url != "" {
		c.Browser.DebuggerURL = url
	}
	if pat := os.Getenv("INLAY_PAGE_PATTERN"); pat != "" {
		c.Browser.PagePattern = pat
	}
	if url := os.Getenv("INLAY_LOOKUP_URL"); url != "" {
		c.Resolve.LookupURLTemplate = url
	}
	if tok := os.Getenv("INLAY_AUTHORIZATION"); tok != "" {
		c.Intercept.SeedAuthorization = tok
	}
	if lvl := os.Getenv("INLAY_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
	if os.Getenv("INLAY_DEBUG") != "" {
		c.Logging.Debug = true
		c.Logging.Level = "debug"
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if err := c.Intercept.validate(); err != nil {
		return fmt.Errorf("intercept: %w", err)
	}
	if err := c.Resolve.validate(); err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	if err := c.Extract.validate(); err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	if err := c.Scan.validate(); err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	return nil
}

// NavigationTimeout returns the browser navigation timeout.
func (c *Config) NavigationTimeout() time.Duration {
	if c.Browser.NavigationTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Browser.NavigationTimeoutMs) * time.Millisecond
}

// Cooldown returns the lookup failure cooldown.
func (c *Config) Cooldown() time.Duration {
	if c.Resolve.CooldownMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Resolve.CooldownMs) * time.Millisecond
}

// LookupTimeout returns the per-lookup HTTP timeout.
func (c *Config) LookupTimeout() time.Duration {
	if c.Resolve.TimeoutMs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Resolve.TimeoutMs) * time.Millisecond
}

// Debounce returns the mutation debounce interval.
func (c *Config) Debounce() time.Duration {
	if c.Scan.DebounceMs <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(c.Scan.DebounceMs) * time.Millisecond
}

// PollInterval returns the page event bridge poll interval.
func (c *Config) PollInterval() time.Duration {
	if c.Scan.PollIntervalMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.Scan.PollIntervalMs) * time.Millisecond
}
