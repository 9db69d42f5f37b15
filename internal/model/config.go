package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// BackendConfig points at the hosted backend project.
type BackendConfig struct {
	// URL is the project root (e.g., https://abc.supabase.co).
	URL string `mapstructure:"url" yaml:"url"`

	// AnonKey is the public API key sent with every request.
	AnonKey string `mapstructure:"anon_key" yaml:"anon_key"`

	// ProbeTable is the table read by the health probe.
	ProbeTable string `mapstructure:"probe_table" yaml:"probe_table"`
}

// RealtimeConfig holds realtime socket settings.
type RealtimeConfig struct {
	HeartbeatSec int `mapstructure:"heartbeat_sec" yaml:"heartbeat_sec"`
}

// NotificationsConfig holds notification history settings.
type NotificationsConfig struct {
	HistoryCap int `mapstructure:"history_cap" yaml:"history_cap"`
}

// HealthConfig holds connection health monitor settings.
type HealthConfig struct {
	IntervalSec int `mapstructure:"interval_sec" yaml:"interval_sec"`
}

// StorageConfig selects and configures the local persistence backend.
type StorageConfig struct {
	// Driver is "sqlite" or "redis".
	Driver   string `mapstructure:"driver" yaml:"driver"`
	Path     string `mapstructure:"path" yaml:"path"`
	RedisURL string `mapstructure:"redis_url" yaml:"redis_url"`
}

// LogConfig holds logging preferences.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Backend       BackendConfig       `mapstructure:"backend" yaml:"backend"`
	Realtime      RealtimeConfig      `mapstructure:"realtime" yaml:"realtime"`
	Notifications NotificationsConfig `mapstructure:"notifications" yaml:"notifications"`
	Health        HealthConfig        `mapstructure:"health" yaml:"health"`
	Storage       StorageConfig       `mapstructure:"storage" yaml:"storage"`
	Log           LogConfig           `mapstructure:"log" yaml:"log"`
}

// HeartbeatInterval returns the realtime heartbeat period.
func (c *AppConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.Realtime.HeartbeatSec) * time.Second
}

// HealthInterval returns the health probe period.
func (c *AppConfig) HealthInterval() time.Duration {
	return time.Duration(c.Health.IntervalSec) * time.Second
}

// Validate checks the settings that have no usable default.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Backend.URL == "" {
		errs = append(errs, errors.New("backend.url is required"))
	}
	if c.Backend.AnonKey == "" {
		errs = append(errs, errors.New("backend.anon_key is required"))
	}
	switch c.Storage.Driver {
	case "sqlite", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	if c.Storage.Driver == "redis" && c.Storage.RedisURL == "" {
		errs = append(errs, errors.New("storage.redis_url is required for the redis driver"))
	}
	return errors.Join(errs...)
}

// ConfigDir returns ~/.config/auditwatch, falling back to the working
// directory when the home directory is unknown.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "auditwatch")
}

// DefaultConfigPath returns the default path for the configuration file.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Backend: BackendConfig{
			ProbeTable: "profiles",
		},
		Realtime: RealtimeConfig{
			HeartbeatSec: 25,
		},
		Notifications: NotificationsConfig{
			HistoryCap: HistoryCap,
		},
		Health: HealthConfig{
			IntervalSec: 300,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   filepath.Join(ConfigDir(), "auditwatch.db"),
		},
		Log: LogConfig{
			Level: "info",
			File:  filepath.Join(ConfigDir(), "auditwatch.log"),
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Environment variables prefixed with AUDITWATCH_ override file values
// (AUDITWATCH_BACKEND_URL overrides backend.url). A missing file yields
// the defaults plus any environment overrides.
func LoadConfig(path string) (*AppConfig, error) {
	def := defaultAppConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("auditwatch")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default so AutomaticEnv can see it on Unmarshal.
	v.SetDefault("backend.url", def.Backend.URL)
	v.SetDefault("backend.anon_key", def.Backend.AnonKey)
	v.SetDefault("backend.probe_table", def.Backend.ProbeTable)
	v.SetDefault("realtime.heartbeat_sec", def.Realtime.HeartbeatSec)
	v.SetDefault("notifications.history_cap", def.Notifications.HistoryCap)
	v.SetDefault("health.interval_sec", def.Health.IntervalSec)
	v.SetDefault("storage.driver", def.Storage.Driver)
	v.SetDefault("storage.path", def.Storage.Path)
	v.SetDefault("storage.redis_url", def.Storage.RedisURL)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.file", def.Log.File)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Notifications.HistoryCap <= 0 || cfg.Notifications.HistoryCap > HistoryCap {
		cfg.Notifications.HistoryCap = HistoryCap
	}
	if cfg.Health.IntervalSec <= 0 {
		cfg.Health.IntervalSec = def.Health.IntervalSec
	}
	if cfg.Realtime.HeartbeatSec <= 0 {
		cfg.Realtime.HeartbeatSec = def.Realtime.HeartbeatSec
	}
	cfg.Backend.URL = strings.TrimRight(cfg.Backend.URL, "/")

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("backend", cfg.Backend)
	v.Set("realtime", cfg.Realtime)
	v.Set("notifications", cfg.Notifications)
	v.Set("health", cfg.Health)
	v.Set("storage", cfg.Storage)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
