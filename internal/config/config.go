// Package config loads and validates storyforge's runtime configuration:
// a YAML file resolved via the XDG Base Directory spec, overlaid with a
// .env file, validated by struct tags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full set of recognized configuration keys (§6).
type Config struct {
	Store   StoreConfig   `yaml:"store" validate:"required"`
	Models  ModelsConfig  `yaml:"models" validate:"required"`
	Limits  Limits        `yaml:"limits" validate:"required"`
	Sweeper SweeperConfig `yaml:"sweeper" validate:"required"`
}

// StoreConfig configures the Postgres adapter.
type StoreConfig struct {
	DSN string `yaml:"dsn" validate:"required"`
}

// ModelsConfig names the model identifier per role.
type ModelsConfig struct {
	Generation string `yaml:"generation" validate:"required"`
	Validation string `yaml:"validation" validate:"required"`
	Extraction string `yaml:"extraction" validate:"required"`
}

func getConfigPath() string {
	if path := os.Getenv("STORYFORGE_CONFIG"); path != "" {
		return path
	}
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "storyforge", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "storyforge", "config.yaml")
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// Load reads the config file (path resolved via STORYFORGE_CONFIG, then
// XDG_CONFIG_HOME, then ~/.config), applies a .env overlay, fills in
// defaults, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	configPath := getConfigPath()
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if dsn := os.Getenv("STORYFORGE_STORE_DSN"); dsn != "" {
		cfg.Store.DSN = dsn
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Limits.MaxRegenerations == 0 {
		c.Limits = DefaultLimits()
	}
	if c.Sweeper.Interval == 0 {
		c.Sweeper = DefaultSweeperConfig()
	}
}

func (c *Config) validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	for pattern, max := range c.Limits.ProseScannerLimits {
		if max < 0 {
			return fmt.Errorf("prose scanner limit for %q must be non-negative, got %d", pattern, max)
		}
	}
	return nil
}
