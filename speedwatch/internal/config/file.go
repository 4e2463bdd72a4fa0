// Package config handles speedwatch daemon configuration from YAML files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/vscd/speedwatch/internal/settings"
)

// Config is the top-level speedwatch configuration.
type Config struct {
	Browser  BrowserConfig  `yaml:"browser"`
	Pages    []PageConfig   `yaml:"pages"`
	Engine   EngineConfig   `yaml:"engine"`
	Settings SettingsConfig `yaml:"settings"`
	Sinks    []SinkConfig   `yaml:"sinks"`
	HTTP     HTTPConfig     `yaml:"http"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote      string `yaml:"remote"`
	Headless    *bool  `yaml:"headless"`
	Stealth     bool   `yaml:"stealth"`
	MaxPages    int    `yaml:"max_pages"`
	XvfbDisplay string `yaml:"xvfb_display"`
	// MemoryLimit in bytes of JS heap before Chrome is recycled.
	MemoryLimit     int64         `yaml:"memory_limit"`
	RecycleInterval time.Duration `yaml:"recycle_interval"`
	// ResourceBlocking lists resource types to drop (image, font, stylesheet).
	ResourceBlocking []string `yaml:"resource_blocking"`
}

// IsHeadless defaults to true when unset.
func (b BrowserConfig) IsHeadless() bool {
	return b.Headless == nil || *b.Headless
}

// PageConfig defines a page to control.
type PageConfig struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

// EngineConfig carries the engine's delays. Zero values keep the engine
// defaults.
type EngineConfig struct {
	Cooldown       time.Duration `yaml:"cooldown"`
	Show           time.Duration `yaml:"show"`
	SaveDelay      time.Duration `yaml:"save_delay"`
	IdleDocument   time.Duration `yaml:"idle_document"`
	IdleShadow     time.Duration `yaml:"idle_shadow"`
	Bootstrap      time.Duration `yaml:"bootstrap"`
	LightScan      time.Duration `yaml:"light_scan"`
	FullScanDelay  time.Duration `yaml:"full_scan_delay"`
	MaxShadowDepth int           `yaml:"max_shadow_depth"`
}

// SettingsConfig locates the settings store and overrides its defaults.
type SettingsConfig struct {
	DB            string         `yaml:"db"`
	WatchInterval time.Duration  `yaml:"watch_interval"`
	Defaults      map[string]any `yaml:"defaults"` // keyed like the stored settings
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type       string  `yaml:"type"` // stdout | webhook | prometheus
	URL        string  `yaml:"url"`  // for webhook
	Retries    int     `yaml:"retries"`
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int     `yaml:"burst"`
}

// HTTPConfig is the control API listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Browser.MaxPages <= 0 {
		c.Browser.MaxPages = 8
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Settings.DB == "" {
		c.Settings.DB = "speedwatch.db"
	}
	if c.Settings.WatchInterval <= 0 {
		c.Settings.WatchInterval = 500 * time.Millisecond
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = "127.0.0.1:8420"
	}
	for i := range c.Sinks {
		if c.Sinks[i].Type == "webhook" && c.Sinks[i].Retries <= 0 {
			c.Sinks[i].Retries = 3
		}
	}
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Pages))
	for i, p := range c.Pages {
		if p.ID == "" || p.URL == "" {
			return fmt.Errorf("config: page %d: id and url are required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("config: duplicate page id %q", p.ID)
		}
		seen[p.ID] = true
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout", "prometheus":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sink %d: webhook needs a url", i)
			}
		default:
			return fmt.Errorf("config: sink %d: unknown type %q", i, s.Type)
		}
	}
	return nil
}

// BaseSettings returns the factory settings with the configured defaults
// laid over them.
func (c *Config) BaseSettings() (settings.Snapshot, error) {
	base := settings.Defaults()
	if len(c.Settings.Defaults) == 0 {
		return base, nil
	}
	raw, err := json.Marshal(c.Settings.Defaults)
	if err != nil {
		return base, fmt.Errorf("config: settings defaults: %w", err)
	}
	if err := json.Unmarshal(raw, &base); err != nil {
		return settings.Defaults(), fmt.Errorf("config: settings defaults: %w", err)
	}
	return base, nil
}
