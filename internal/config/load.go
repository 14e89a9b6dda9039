package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions.
func Load(path string, logger *slog.Logger) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if cfg.Apps == nil {
		cfg.Apps = make(map[string]App)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Debug("config loaded", "path", path, "apps", len(cfg.Apps))

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values. Users can start without
// creating a config file by passing credentials through the environment.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("config file not found, using defaults", "path", path)

		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// ResolveConfigPath picks the config file path: CLI > env > default.
func ResolveConfigPath(env EnvOverrides, cli CLIOverrides) string {
	if cli.ConfigPath != "" {
		return cli.ConfigPath
	}

	if env.ConfigPath != "" {
		return env.ConfigPath
	}

	return DefaultConfigPath()
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
// It returns the selected app, fully resolved and validated.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*ResolvedApp, error) {
	cfg, err := LoadOrDefault(ResolveConfigPath(env, cli), logger)
	if err != nil {
		return nil, err
	}

	return ResolveApp(cfg, env, cli, logger)
}

// ResolveApp selects and resolves an app from an already-loaded Config.
// The serve command uses it on every reload.
func ResolveApp(cfg *Config, env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*ResolvedApp, error) {
	selector := cli.App
	if selector == "" {
		selector = env.App
	}

	name, app, err := matchApp(cfg, selector, logger)
	if err != nil {
		return nil, err
	}

	resolved := buildResolvedApp(cfg, name, &app, logger)

	if env.AppID != "" {
		resolved.AppID = env.AppID
	}

	if env.AppSecret != "" {
		resolved.AppSecret = env.AppSecret
	}

	if env.BaseURL != "" {
		resolved.BaseURL = env.BaseURL
	}

	if cli.Auth != "" {
		resolved.Auth = cli.Auth
	}

	if err := ValidateResolved(resolved); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return resolved, nil
}
