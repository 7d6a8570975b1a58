// Package config loads client configuration from a YAML file and/or
// environment variables with a predictable priority: explicit path, then
// CAPGALLERY_CONFIG, then plain env.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the root client configuration.
type Config struct {
	// BaseURL is the backend REST prefix, e.g. http://127.0.0.1:8000/api/v1.
	BaseURL string `yaml:"base_url" env:"CAPGALLERY_BASE_URL" env-default:"http://127.0.0.1:8000/api/v1"`

	// Timeout bounds a single backend call.
	Timeout time.Duration `yaml:"timeout" env:"CAPGALLERY_TIMEOUT" env-default:"30s"`

	// StateDir overrides where tokens and the cached identity are persisted.
	// Empty means the per-user config directory.
	StateDir string `yaml:"state_dir" env:"CAPGALLERY_STATE_DIR"`
}

// MustLoad wraps Load and panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from path when given (env overlays the file),
// from $CAPGALLERY_CONFIG when set, otherwise from env alone.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		path = os.Getenv("CAPGALLERY_CONFIG")
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %q: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("overlay env: %w", err)
		}
		return &cfg, nil
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	return &cfg, nil
}
