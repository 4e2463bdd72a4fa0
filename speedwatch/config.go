package speedwatch

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/vscd/speedwatch/internal/config"
)

// Config is the top-level speedwatch configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// PageConfig defines a page to control.
type PageConfig = config.PageConfig

// EngineConfig overrides the engine's delays.
type EngineConfig = config.EngineConfig

// SettingsConfig locates the shared settings store.
type SettingsConfig = config.SettingsConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// ParseConfig parses YAML configuration bytes.
func ParseConfig(data []byte) (*Config, error) {
	return config.Parse(data)
}

// WatchConfigFile calls fn with each valid version of the file at path
// until ctx is done.
func WatchConfigFile(ctx context.Context, path string, logger *slog.Logger, fn func(*Config)) error {
	return config.Watch(ctx, path, config.DefaultReloadDebounce, logger, fn)
}
