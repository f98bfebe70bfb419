package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the server configuration file.
type Config struct {
	Port              int    `yaml:"port"`
	CheckpointPath    string `yaml:"checkpoint_path"`
	CheckpointMinutes int    `yaml:"checkpoint_minutes"`

	FgTicks   int64 `yaml:"fg_ticks"`
	BgTicks   int64 `yaml:"bg_ticks"`
	FgSeconds int   `yaml:"fg_seconds"`
	BgSeconds int   `yaml:"bg_seconds"`
	Retries   int   `yaml:"retries"`
	Workers   int   `yaml:"workers"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Port:              7777,
		CheckpointPath:    "moor.ckpt",
		CheckpointMinutes: 30,
		FgTicks:           30000,
		BgTicks:           60000,
		FgSeconds:         5,
		BgSeconds:         3,
		Retries:           3,
		Workers:           8,
	}
}

// Load reads a YAML config, filling omitted fields with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return cfg, nil
}
