package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// appNamePattern restricts app section names so they can be written as
// bare TOML keys.
var appNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ResolvedApp contains the selected app's credentials plus effective config
// sections after merging global defaults with per-app overrides and CLI/env
// flags. This is the final product consumed by the CLI and session layer.
type ResolvedApp struct {
	Name         string
	AppID        string
	AppSecret    string
	BaseURL      string
	Auth         string
	Scopes       []string
	CallbackPort int

	UploadConfig
	ServeConfig
	LoggingConfig
	NetworkConfig
}

// matchApp selects an app from the config by selector. The matching
// precedence is: exact name > app_id > unique name prefix. An empty
// selector auto-selects when exactly one app is configured.
func matchApp(cfg *Config, selector string, logger *slog.Logger) (string, App, error) {
	if len(cfg.Apps) == 0 {
		name := selector
		if name == "" {
			name = defaultAppName
		}

		logger.Debug("zero-config mode: no app sections", "app", name)

		return name, App{}, nil
	}

	if selector == "" {
		return matchSingleApp(cfg, logger)
	}

	if a, ok := cfg.Apps[selector]; ok {
		logger.Debug("app matched by name", "app", selector)

		return selector, a, nil
	}

	for name := range cfg.Apps {
		if cfg.Apps[name].AppID == selector {
			logger.Debug("app matched by app_id", "app_id", selector, "app", name)

			return name, cfg.Apps[name], nil
		}
	}

	return matchPrefix(cfg, selector, logger)
}

// matchSingleApp auto-selects when exactly one app is configured, or the
// one named "default" when there are several.
func matchSingleApp(cfg *Config, logger *slog.Logger) (string, App, error) {
	if len(cfg.Apps) == 1 {
		for name := range cfg.Apps {
			logger.Debug("auto-selected single app", "app", name)

			return name, cfg.Apps[name], nil
		}
	}

	if a, ok := cfg.Apps[defaultAppName]; ok {
		return defaultAppName, a, nil
	}

	return "", App{}, fmt.Errorf("multiple apps configured (%s); specify with --app",
		strings.Join(appNames(cfg), ", "))
}

func matchPrefix(cfg *Config, selector string, logger *slog.Logger) (string, App, error) {
	var matches []string

	for name := range cfg.Apps {
		if strings.HasPrefix(name, selector) {
			matches = append(matches, name)
		}
	}

	if len(matches) == 1 {
		logger.Debug("app matched by prefix", "selector", selector, "app", matches[0])

		return matches[0], cfg.Apps[matches[0]], nil
	}

	if len(matches) > 1 {
		sort.Strings(matches)

		return "", App{}, fmt.Errorf("ambiguous app selector %q matches: %s",
			selector, strings.Join(matches, ", "))
	}

	return "", App{}, fmt.Errorf("no app matching %q", selector)
}

func appNames(cfg *Config) []string {
	names := make([]string, 0, len(cfg.Apps))
	for name := range cfg.Apps {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// buildResolvedApp starts from the global sections and applies the app's
// overrides for fields it sets.
func buildResolvedApp(cfg *Config, name string, app *App, logger *slog.Logger) *ResolvedApp {
	resolved := &ResolvedApp{
		Name:          name,
		AppID:         app.AppID,
		AppSecret:     app.AppSecret,
		BaseURL:       app.BaseURL,
		Auth:          app.Auth,
		Scopes:        app.Scopes,
		CallbackPort:  app.CallbackPort,
		UploadConfig:  cfg.UploadConfig,
		ServeConfig:   cfg.ServeConfig,
		LoggingConfig: cfg.LoggingConfig,
		NetworkConfig: cfg.NetworkConfig,
	}

	if resolved.Auth == "" {
		resolved.Auth = defaultAuth
	}

	if app.UploadConcurrency != nil {
		resolved.UploadConcurrency = *app.UploadConcurrency
		logger.Debug("per-app override applied", "field", "upload_concurrency", "value", *app.UploadConcurrency)
	}

	if app.DataTimeout != "" {
		resolved.NetworkConfig.DataTimeout = app.DataTimeout
		logger.Debug("per-app override applied", "field", "data_timeout", "value", app.DataTimeout)
	}

	resolved.LogFile = expandTilde(resolved.LogFile)
	resolved.HistoryFile = expandTilde(resolved.HistoryFile)

	return resolved
}

// RequestTimeout is data_timeout as a duration. Validation guarantees it
// parses; zero means no client-side timeout.
func (r *ResolvedApp) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(r.NetworkConfig.DataTimeout)
	if err != nil {
		return 0
	}

	return d
}

// DialTimeout is connect_timeout as a duration.
func (r *ResolvedApp) DialTimeout() time.Duration {
	d, err := time.ParseDuration(r.ConnectTimeout)
	if err != nil {
		return 0
	}

	return d
}

// MaxBinaryBytes is max_binary_size in bytes; zero means unlimited.
func (r *ResolvedApp) MaxBinaryBytes() int64 {
	n, err := ParseSize(r.MaxBinarySize)
	if err != nil {
		return 0
	}

	return n
}

// expandTilde replaces a leading "~/" with the user's home directory.
// If os.UserHomeDir() fails, the path is returned unexpanded.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}

// AppTokenPath returns the user token file path for an app. Each app gets
// its own file because user tokens are issued per app.
//
//	"default" -> "{dataDir}/token_default.json"
func AppTokenPath(name string) string {
	dataDir := DefaultDataDir()
	if dataDir == "" || !appNamePattern.MatchString(name) {
		return ""
	}

	return filepath.Join(dataDir, "token_"+name+".json")
}

// HistoryPath returns the execution history database path: history_file
// when set, otherwise history.db in the data directory.
func (r *ResolvedApp) HistoryPath() string {
	if r.HistoryFile != "" {
		return r.HistoryFile
	}

	dataDir := DefaultDataDir()
	if dataDir == "" {
		return ""
	}

	return filepath.Join(dataDir, "history.db")
}

// TokenPath is AppTokenPath for the resolved app.
func (r *ResolvedApp) TokenPath() string {
	return AppTokenPath(r.Name)
}
