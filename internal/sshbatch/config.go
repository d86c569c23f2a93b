package sshbatch

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds engine-wide defaults, loaded from YAML via a
// DefaultConfig() constructor with explicit fields only — no dynamic
// settings blob.
type Config struct {
	DefaultPort              int     `yaml:"default_port"`
	DefaultConnectTimeout    int     `yaml:"default_connect_timeout"` // seconds
	DefaultKeepAliveInterval int     `yaml:"default_keep_alive_interval"`
	DefaultMaxConcurrent     int     `yaml:"default_max_concurrent"`
	DefaultReconnectAttempts int     `yaml:"default_reconnect_attempts"`
	DefaultReconnectDelay    float64 `yaml:"default_reconnect_delay_base"`

	EventChannelBuffer int `yaml:"event_channel_buffer"`

	AuditEndpoint string `yaml:"audit_endpoint"`
	HistoryDSN    string `yaml:"history_dsn"` // Postgres DSN for internal/runstore; empty disables history
}

// DefaultConfig returns a config with sane defaults.
func DefaultConfig() Config {
	return Config{
		DefaultPort:              22,
		DefaultConnectTimeout:    30,
		DefaultKeepAliveInterval: 30,
		DefaultMaxConcurrent:     50,
		DefaultReconnectAttempts: 3,
		DefaultReconnectDelay:    1.0,
		EventChannelBuffer:       256,
	}
}

// LoadConfig reads and parses a YAML config file on top of DefaultConfig,
// so any field absent from the file keeps its default value.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// TemplateFromConfig builds a SessionConfig template (no Target) from
// engine defaults, ready to be overridden per-batch.
func (c Config) TemplateFromConfig() SessionConfig {
	return SessionConfig{
		ConnectTimeout:     time.Duration(c.DefaultConnectTimeout) * time.Second,
		KeepAliveInterval:  time.Duration(c.DefaultKeepAliveInterval) * time.Second,
		ReconnectAttempts:  c.DefaultReconnectAttempts,
		ReconnectDelayBase: c.DefaultReconnectDelay,
	}
}
