package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Store:   StoreConfig{DSN: "postgres://localhost:5432/storyforge"},
		Models:  ModelsConfig{Generation: "claude-3-5-sonnet-20241022", Validation: "claude-3-5-sonnet-20241022", Extraction: "claude-3-5-sonnet-20241022"},
		Limits:  DefaultLimits(),
		Sweeper: DefaultSweeperConfig(),
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing store dsn",
			mutate:  func(c *Config) { c.Store.DSN = "" },
			wantErr: true,
			errMsg:  "DSN",
		},
		{
			name:    "missing generation model",
			mutate:  func(c *Config) { c.Models.Generation = "" },
			wantErr: true,
			errMsg:  "Generation",
		},
		{
			name:    "concurrent stories cap too high",
			mutate:  func(c *Config) { c.Limits.ConcurrentStoriesCap = 5000 },
			wantErr: true,
			errMsg:  "ConcurrentStoriesCap",
		},
		{
			name:    "sweeper interval too long",
			mutate:  func(c *Config) { c.Sweeper.Interval = 48 * time.Hour },
			wantErr: true,
			errMsg:  "Interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("validate() error = %v, want error containing %q", err, tt.errMsg)
			}
		})
	}
}

func TestConfigValidationNegativeProseLimit(t *testing.T) {
	cfg := validConfig()
	cfg.Limits.ProseScannerLimits[PatternEmDash] = -1
	if err := cfg.validate(); err == nil {
		t.Fatal("expected error for negative prose scanner limit")
	}
}

func TestDefaultLimits(t *testing.T) {
	cfg := validConfig()
	if err := cfg.validate(); err != nil {
		t.Errorf("DefaultLimits() should produce valid config, got error: %v", err)
	}
}
