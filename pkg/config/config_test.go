package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
backend:
  base_url: https://api.example.com
  token: secret
  voice_url: wss://api.example.com/voice
session:
  connect_timeout: 5s
  batch_size: 10
checkpoint:
  provider: redis
  redis:
    addr: localhost:6379
    ttl: 24h
log_level: debug
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, "wss://api.example.com/voice", cfg.Backend.VoiceURL)
	assert.Equal(t, 5*time.Second, cfg.Session.ConnectTimeout)
	assert.Equal(t, 10, cfg.Session.BatchSize)
	assert.Equal(t, 24*time.Hour, cfg.Checkpoint.Redis.TTL)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
backend:
  base_url: https://api.example.com
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Session.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Session.BatchIdleFlush)
	assert.Equal(t, 3*time.Second, cfg.Session.ClosingDelay)
	assert.Equal(t, 10*time.Second, cfg.Session.ConnectTimeout)
	assert.Equal(t, "memory", cfg.Checkpoint.Provider)
	assert.Equal(t, 9090, cfg.Observability.MetricsPort)
	assert.Equal(t, "none", cfg.Observability.TraceExport)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestTokenFromEnvironment(t *testing.T) {
	t.Setenv("SESSIONKIT_BACKEND_TOKEN", "env-token")
	path := writeConfig(t, `
backend:
  base_url: https://api.example.com
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Backend.Token)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing base URL", func(c *Config) { c.Backend.BaseURL = "" }},
		{"redis without addr", func(c *Config) {
			c.Checkpoint.Provider = "redis"
			c.Checkpoint.Redis.Addr = ""
		}},
		{"firestore without project", func(c *Config) {
			c.Checkpoint.Provider = "firestore"
			c.Checkpoint.Firestore.ProjectID = ""
		}},
		{"unknown provider", func(c *Config) { c.Checkpoint.Provider = "dynamo" }},
		{"unknown trace exporter", func(c *Config) { c.Observability.TraceExport = "jaeger" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Backend.BaseURL = "https://api.example.com"
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
