package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads the mediator configuration from configDir/config.yaml, expands
// environment variable references, applies defaults, and validates the
// result. It also loads configDir/.env (best-effort — a missing .env is not
// fatal, matching a local dev workflow where environment variables are
// already exported).
func Load(ctx context.Context, configDir string) (*Config, error) {
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment file", "path", envPath)
	}

	cfgPath := filepath.Join(configDir, "config.yaml")
	raw, err := os.ReadFile(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, cfgPath)
		}
		return nil, fmt.Errorf("reading %s: %w", cfgPath, err)
	}

	raw = ExpandEnv(raw)

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidYAML, cfgPath, err)
	}

	cfg.ApplyDefaults()

	if err := NewValidator(&cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	_ = ctx
	return &cfg, nil
}
