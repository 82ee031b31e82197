// Package config loads sessionkit configuration from YAML with
// environment fallbacks for credentials.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// Backend Configuration
	Backend BackendConfig `yaml:"backend"`

	// Session Configuration
	Session SessionConfig `yaml:"session"`

	// Checkpoint Storage
	Checkpoint CheckpointConfig `yaml:"checkpoint"`

	// Observability
	Observability ObservabilityConfig `yaml:"observability"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// BackendConfig holds coaching backend connection settings
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	// VoiceURL is the WebSocket endpoint carrying the provider event
	// envelope for voice sessions.
	VoiceURL string        `yaml:"voice_url"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SessionConfig holds live-session tuning
type SessionConfig struct {
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	CapabilityTimeout time.Duration `yaml:"capability_timeout"`
	ClosingDelay      time.Duration `yaml:"closing_delay"`
	BatchSize         int           `yaml:"batch_size"`
	BatchIdleFlush    time.Duration `yaml:"batch_idle_flush"`
}

// CheckpointConfig selects and configures checkpoint storage
type CheckpointConfig struct {
	Provider string `yaml:"provider"` // memory, redis, firestore

	Redis struct {
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"redis"`

	Firestore struct {
		ProjectID   string `yaml:"project_id"`
		Credentials string `yaml:"credentials"`
		Collection  string `yaml:"collection"`
	} `yaml:"firestore"`
}

// ObservabilityConfig holds metrics and tracing settings
type ObservabilityConfig struct {
	MetricsPort  int    `yaml:"metrics_port"`
	TraceExport  string `yaml:"trace_export"` // none, stdout, otlp
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

// Default returns a configuration with all defaults applied and
// credentials taken from the environment.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 30 * time.Second
	}
	if c.Session.ConnectTimeout == 0 {
		c.Session.ConnectTimeout = 10 * time.Second
	}
	if c.Session.CapabilityTimeout == 0 {
		c.Session.CapabilityTimeout = 10 * time.Second
	}
	if c.Session.ClosingDelay == 0 {
		c.Session.ClosingDelay = 3 * time.Second
	}
	if c.Session.BatchSize == 0 {
		c.Session.BatchSize = 5
	}
	if c.Session.BatchIdleFlush == 0 {
		c.Session.BatchIdleFlush = 2 * time.Second
	}
	if c.Checkpoint.Provider == "" {
		c.Checkpoint.Provider = "memory"
	}
	if c.Observability.MetricsPort == 0 {
		c.Observability.MetricsPort = 9090
	}
	if c.Observability.TraceExport == "" {
		c.Observability.TraceExport = "none"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Load credentials from environment if not in config
func (c *Config) applyEnv() {
	if c.Backend.Token == "" {
		c.Backend.Token = os.Getenv("SESSIONKIT_BACKEND_TOKEN")
	}
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = os.Getenv("SESSIONKIT_BACKEND_URL")
	}
	if c.Checkpoint.Redis.Addr == "" {
		c.Checkpoint.Redis.Addr = os.Getenv("REDIS_ADDR")
	}
	if c.Checkpoint.Firestore.ProjectID == "" {
		c.Checkpoint.Firestore.ProjectID = os.Getenv("GCP_PROJECT")
	}
	if c.Checkpoint.Firestore.Credentials == "" {
		c.Checkpoint.Firestore.Credentials = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}

	switch c.Checkpoint.Provider {
	case "memory":
	case "redis":
		if c.Checkpoint.Redis.Addr == "" {
			return fmt.Errorf("checkpoint.redis.addr is required for the redis provider")
		}
	case "firestore":
		if c.Checkpoint.Firestore.ProjectID == "" {
			return fmt.Errorf("checkpoint.firestore.project_id is required for the firestore provider")
		}
	default:
		return fmt.Errorf("unknown checkpoint provider: %s", c.Checkpoint.Provider)
	}

	switch c.Observability.TraceExport {
	case "none", "stdout", "otlp":
	default:
		return fmt.Errorf("unknown trace exporter: %s", c.Observability.TraceExport)
	}
	return nil
}
