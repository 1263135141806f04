// Package config handles fleetmsg configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration structure for fleetmsg.
type Config struct {
	// API settings for the remote messaging service.
	API APIConfig `yaml:"api" mapstructure:"api"`

	// Cache settings for the local directory cache.
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Sync settings for the messaging synchronization core.
	Sync SyncConfig `yaml:"sync" mapstructure:"sync"`

	// TUI settings
	TUI TUIConfig `yaml:"tui" mapstructure:"tui"`
}

// APIConfig contains remote service settings.
type APIConfig struct {
	// BaseURL is the root of the messaging API.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// Token is the bearer credential attached to every request.
	Token string `yaml:"token" mapstructure:"token"`

	// SessionID is the optional secondary session identifier header.
	SessionID string `yaml:"session_id" mapstructure:"session_id"`

	// Role identifies this client's side of conversations
	// (admin, driver, carrier).
	Role string `yaml:"role" mapstructure:"role"`

	// RequestTimeout bounds every request/response call that has no
	// explicit deadline. Streams are exempt.
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`

	// RetryDelay is the fixed wait before the single initial-load retry.
	RetryDelay time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
}

// CacheConfig contains local cache settings.
type CacheConfig struct {
	// Path is the SQLite cache file path (default: data dir/fleetmsg.db).
	Path string `yaml:"path" mapstructure:"path"`

	// DataDir is where fleetmsg stores local data.
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// SyncConfig contains tunables for the synchronization core.
type SyncConfig struct {
	// FastPageSize is the first-paint message page (latest N).
	FastPageSize int `yaml:"fast_page_size" mapstructure:"fast_page_size"`

	// FillPageSize is the background fill page cap.
	FillPageSize int `yaml:"fill_page_size" mapstructure:"fill_page_size"`

	// DirectoryLimit caps the direct-thread listing.
	DirectoryLimit int `yaml:"directory_limit" mapstructure:"directory_limit"`

	// UnreadDebounce coalesces bursts of refresh requests.
	UnreadDebounce time.Duration `yaml:"unread_debounce" mapstructure:"unread_debounce"`

	// ChannelPollInterval refreshes broadcast channels, which have no
	// per-channel delta stream.
	ChannelPollInterval time.Duration `yaml:"channel_poll_interval" mapstructure:"channel_poll_interval"`

	// StreamBuffer is the event channel buffer for push streams.
	StreamBuffer int `yaml:"stream_buffer" mapstructure:"stream_buffer"`
}

// TUIConfig contains TUI settings.
type TUIConfig struct {
	// RefreshInterval is how often to refresh the display.
	RefreshInterval time.Duration `yaml:"refresh_interval" mapstructure:"refresh_interval"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		API: APIConfig{
			Role:           "driver",
			RequestTimeout: 15 * time.Second,
			RetryDelay:     800 * time.Millisecond,
		},
		Cache: CacheConfig{
			DataDir: filepath.Join(homeDir, ".local", "share", "fleetmsg"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Sync: SyncConfig{
			FastPageSize:        30,
			FillPageSize:        200,
			DirectoryLimit:      100,
			UnreadDebounce:      350 * time.Millisecond,
			ChannelPollInterval: 45 * time.Second,
			StreamBuffer:        256,
		},
		TUI: TUIConfig{
			RefreshInterval: 500 * time.Millisecond,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.API.RequestTimeout < time.Second {
		return fmt.Errorf("api.request_timeout must be at least 1s")
	}
	switch c.API.Role {
	case "admin", "driver", "carrier":
	default:
		return fmt.Errorf("api.role must be one of admin, driver, carrier")
	}
	if c.Sync.FastPageSize < 1 {
		return fmt.Errorf("sync.fast_page_size must be at least 1")
	}
	if c.Sync.FillPageSize < c.Sync.FastPageSize {
		return fmt.Errorf("sync.fill_page_size must be >= sync.fast_page_size")
	}
	if c.Sync.UnreadDebounce < 50*time.Millisecond {
		return fmt.Errorf("sync.unread_debounce must be at least 50ms")
	}
	if c.Sync.ChannelPollInterval < time.Second {
		return fmt.Errorf("sync.channel_poll_interval must be at least 1s")
	}
	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Cache.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.Cache.DataDir, err)
	}
	return nil
}

// CachePath returns the full cache database path.
func (c *Config) CachePath() string {
	if c.Cache.Path != "" {
		return c.Cache.Path
	}
	return filepath.Join(c.Cache.DataDir, "fleetmsg.db")
}
