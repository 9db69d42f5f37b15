package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, HistoryCap, cfg.Notifications.HistoryCap)
	assert.Equal(t, 300, cfg.Health.IntervalSec)
	assert.Equal(t, 25, cfg.Realtime.HeartbeatSec)
	assert.Equal(t, "profiles", cfg.Backend.ProbeTable)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, filepath.Join(home, ".config", "auditwatch", "auditwatch.db"), cfg.Storage.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Backend.URL)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	tests := []struct {
		name   string
		file   string
		env    map[string]string
		assert func(t *testing.T, cfg *AppConfig)
	}{
		{
			name: "file values",
			file: "backend:\n  url: https://abc.supabase.co/\n  anon_key: anon\n" +
				"health:\n  interval_sec: 60\n",
			assert: func(t *testing.T, cfg *AppConfig) {
				assert.Equal(t, "https://abc.supabase.co", cfg.Backend.URL)
				assert.Equal(t, "anon", cfg.Backend.AnonKey)
				assert.Equal(t, 60, cfg.Health.IntervalSec)
				assert.Equal(t, 25, cfg.Realtime.HeartbeatSec)
			},
		},
		{
			name: "env overrides file",
			file: "backend:\n  url: https://abc.supabase.co\n",
			env: map[string]string{
				"AUDITWATCH_BACKEND_URL":      "https://override.supabase.co",
				"AUDITWATCH_BACKEND_ANON_KEY": "env-key",
				"AUDITWATCH_STORAGE_DRIVER":   "redis",
			},
			assert: func(t *testing.T, cfg *AppConfig) {
				assert.Equal(t, "https://override.supabase.co", cfg.Backend.URL)
				assert.Equal(t, "env-key", cfg.Backend.AnonKey)
				assert.Equal(t, "redis", cfg.Storage.Driver)
			},
		},
		{
			name: "out of range values fall back",
			file: "notifications:\n  history_cap: 500\n" +
				"health:\n  interval_sec: -1\n" +
				"realtime:\n  heartbeat_sec: 0\n",
			assert: func(t *testing.T, cfg *AppConfig) {
				assert.Equal(t, HistoryCap, cfg.Notifications.HistoryCap)
				assert.Equal(t, 300, cfg.Health.IntervalSec)
				assert.Equal(t, 25, cfg.Realtime.HeartbeatSec)
			},
		},
		{
			name: "smaller history cap is kept",
			file: "notifications:\n  history_cap: 20\n",
			assert: func(t *testing.T, cfg *AppConfig) {
				assert.Equal(t, 20, cfg.Notifications.HistoryCap)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.file), 0o600))

			cfg, err := LoadConfig(path)
			require.NoError(t, err)
			tt.assert(t, cfg)
		})
	}
}

func TestLoadConfig_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: [unterminated"), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	want := defaultAppConfig()
	want.Backend.URL = "https://abc.supabase.co"
	want.Backend.AnonKey = "anon"
	want.Notifications.HistoryCap = 30
	want.Health.IntervalSec = 120
	want.Storage = StorageConfig{Driver: "redis", RedisURL: "redis://localhost:6379/0"}
	want.Log.Level = "debug"

	require.NoError(t, SaveConfig(path, want))

	got, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestAppConfig_Validate(t *testing.T) {
	valid := func() *AppConfig {
		cfg := defaultAppConfig()
		cfg.Backend.URL = "https://abc.supabase.co"
		cfg.Backend.AnonKey = "anon"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(cfg *AppConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(*AppConfig) {}},
		{name: "missing url", mutate: func(cfg *AppConfig) { cfg.Backend.URL = "" }, wantErr: "backend.url"},
		{name: "missing key", mutate: func(cfg *AppConfig) { cfg.Backend.AnonKey = "" }, wantErr: "backend.anon_key"},
		{name: "unknown driver", mutate: func(cfg *AppConfig) { cfg.Storage.Driver = "bolt" }, wantErr: "storage.driver"},
		{
			name:    "redis without url",
			mutate:  func(cfg *AppConfig) { cfg.Storage.Driver = "redis" },
			wantErr: "storage.redis_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigDurations(t *testing.T) {
	cfg := defaultAppConfig()
	assert.Equal(t, "25s", cfg.HeartbeatInterval().String())
	assert.Equal(t, "5m0s", cfg.HealthInterval().String())
}
