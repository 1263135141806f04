package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Load loads configuration with proper precedence:
// defaults < config file < env vars
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// Config file is optional, only error if explicitly specified
		if l.configFile != "" {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

func expandPaths(cfg *Config) {
	cfg.Cache.Path = expandTilde(cfg.Cache.Path)
	cfg.Cache.DataDir = expandTilde(cfg.Cache.DataDir)
}

func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "fleetmsg"))
	}
	homeDir, _ := os.UserHomeDir()
	if homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "fleetmsg"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("FLEETMSG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	l.setDefaults(cfg)
	bindEnvVars(v)
	v.AutomaticEnv()
}

func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	// API
	v.SetDefault("api.base_url", cfg.API.BaseURL)
	v.SetDefault("api.token", cfg.API.Token)
	v.SetDefault("api.session_id", cfg.API.SessionID)
	v.SetDefault("api.role", cfg.API.Role)
	v.SetDefault("api.request_timeout", cfg.API.RequestTimeout)
	v.SetDefault("api.retry_delay", cfg.API.RetryDelay)

	// Cache
	v.SetDefault("cache.path", cfg.Cache.Path)
	v.SetDefault("cache.data_dir", cfg.Cache.DataDir)

	// Logging
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.enable_caller", cfg.Logging.EnableCaller)

	// Sync
	v.SetDefault("sync.fast_page_size", cfg.Sync.FastPageSize)
	v.SetDefault("sync.fill_page_size", cfg.Sync.FillPageSize)
	v.SetDefault("sync.directory_limit", cfg.Sync.DirectoryLimit)
	v.SetDefault("sync.unread_debounce", cfg.Sync.UnreadDebounce)
	v.SetDefault("sync.channel_poll_interval", cfg.Sync.ChannelPollInterval)
	v.SetDefault("sync.stream_buffer", cfg.Sync.StreamBuffer)

	// TUI
	v.SetDefault("tui.refresh_interval", cfg.TUI.RefreshInterval)
}

func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, use defaults
			return nil
		}
		return err
	}

	return nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}

// LoadDefault loads configuration with default search paths.
func LoadDefault() (*Config, error) {
	return NewLoader().Load()
}

// bindEnvVars binds environment variables for config keys.
// Viper's Unmarshal has issues with env vars on nested structs unless
// explicitly bound.
func bindEnvVars(v *viper.Viper) {
	envBindings := []string{
		"api.base_url",
		"api.token",
		"api.session_id",
		"api.role",
		"api.request_timeout",
		"api.retry_delay",
		"cache.path",
		"cache.data_dir",
		"logging.level",
		"logging.format",
		"logging.enable_caller",
		"sync.fast_page_size",
		"sync.fill_page_size",
		"sync.directory_limit",
		"sync.unread_debounce",
		"sync.channel_poll_interval",
		"sync.stream_buffer",
		"tui.refresh_interval",
	}

	for _, key := range envBindings {
		envVar := "FLEETMSG_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, envVar)
	}
}
