// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Playback PlaybackConfig `yaml:"playback"`
	Engine   EngineConfig   `yaml:"engine"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig represents media server connection configuration.
type ServerConfig struct {
	BaseURL    string `yaml:"base_url" validate:"required,url"`
	Token      string `yaml:"token" validate:"required"`
	UserID     string `yaml:"user_id" validate:"required"`
	DeviceID   string `yaml:"device_id"`
	ClientName string `yaml:"client_name" default:"shelfplayer"`
	TimeoutSec int    `yaml:"timeout_sec" default:"15" validate:"gte=1,lte=120"`
}

// StorageConfig represents local persistence configuration.
type StorageConfig struct {
	Path string `yaml:"path" default:"shelfplayer.db"`
}

// PlaybackConfig represents playback and sync configuration.
type PlaybackConfig struct {
	Rate               float64 `yaml:"rate" default:"1.0" validate:"gte=0.25,lte=4.0"`
	Volume             float64 `yaml:"volume" default:"1.0" validate:"gte=0,lte=1.0"`
	SyncIntervalSec    int     `yaml:"sync_interval_sec" default:"15" validate:"gte=1,lte=300"`
	ProgressIntervalMs int     `yaml:"progress_interval_ms" default:"1000" validate:"gte=100,lte=10000"`
	ObserveOnly        bool    `yaml:"observe_only"`
}

// EngineConfig selects the audio transport backend. Settings are opaque
// here; the backend decodes them itself.
type EngineConfig struct {
	Backend  string         `yaml:"backend" default:"sim"`
	Settings map[string]any `yaml:"settings"`
}

// LoggingConfig represents logger configuration.
type LoggingConfig struct {
	Output string `yaml:"output" default:"stdout"`
	Level  string `yaml:"level" default:"info"`
	File   string `yaml:"file"`
}

// Load reads, defaults and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config file")
	}
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.Wrap(err, "apply defaults")
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}
	return cfg, nil
}

// SyncInterval returns the progress push interval.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Playback.SyncIntervalSec) * time.Second
}

// ProgressInterval returns the native progress tick interval.
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.Playback.ProgressIntervalMs) * time.Millisecond
}

// ServerTimeout returns the remote API request timeout.
func (c *Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSec) * time.Second
}
