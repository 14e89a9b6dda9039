package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Validation range constants.
const (
	minUploadConcurrency = 1
	maxUploadConcurrency = 5
	maxUploadPartRate    = 5.0
	minLogRetention      = 1
	minHistoryRetention  = 1
	minShutdownTimeout   = 1 * time.Second
	minConnectTimeout    = 1 * time.Second
	minDataTimeout       = 5 * time.Second
	maxCallbackPort      = 65535
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateApps(cfg)...)
	errs = append(errs, validateUpload(&cfg.UploadConfig)...)
	errs = append(errs, validateServe(&cfg.ServeConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)
	errs = append(errs, validateNetwork(&cfg.NetworkConfig)...)

	return errors.Join(errs...)
}

// ValidateResolved checks the selected app after env and CLI overrides.
// Credentials are not required here: commands that never call the
// platform work without them.
func ValidateResolved(ra *ResolvedApp) error {
	var errs []error

	errs = append(errs, validateAuth("auth", ra.Auth)...)
	errs = append(errs, validateBaseURL("base_url", ra.BaseURL)...)
	errs = append(errs, validateUpload(&ra.UploadConfig)...)
	errs = append(errs, validateDurationMin("data_timeout", ra.DataTimeout, minDataTimeout)...)

	if ra.LogFile != "" && !filepath.IsAbs(ra.LogFile) {
		errs = append(errs, fmt.Errorf("log_file: must be absolute after expansion, got %q", ra.LogFile))
	}

	return errors.Join(errs...)
}

func validateApps(cfg *Config) []error {
	var errs []error

	appIDs := make(map[string]string, len(cfg.Apps))

	for _, name := range appNames(cfg) {
		app := cfg.Apps[name]
		prefix := "app." + name

		if !appNamePattern.MatchString(name) {
			errs = append(errs, fmt.Errorf("%s: name may only contain letters, digits, '-' and '_'", prefix))
		}

		if app.AppID != "" {
			if other, dup := appIDs[app.AppID]; dup {
				errs = append(errs, fmt.Errorf("%s.app_id: %q is also used by app.%s", prefix, app.AppID, other))
			}

			appIDs[app.AppID] = name
		}

		if app.AppID != "" && app.AppSecret == "" && app.Auth != "oauth2" {
			errs = append(errs, fmt.Errorf("%s.app_secret: required for app authentication", prefix))
		}

		errs = append(errs, validateAuth(prefix+".auth", app.Auth)...)
		errs = append(errs, validateBaseURL(prefix+".base_url", app.BaseURL)...)

		if app.CallbackPort < 0 || app.CallbackPort > maxCallbackPort {
			errs = append(errs, fmt.Errorf("%s.callback_port: must be between 0 and %d, got %d",
				prefix, maxCallbackPort, app.CallbackPort))
		}

		if app.UploadConcurrency != nil {
			errs = append(errs, validateConcurrency(prefix+".upload_concurrency", *app.UploadConcurrency)...)
		}

		if app.DataTimeout != "" {
			errs = append(errs, validateDurationMin(prefix+".data_timeout", app.DataTimeout, minDataTimeout)...)
		}
	}

	return errs
}

var validAuthModes = map[string]bool{
	"":       true,
	"app":    true,
	"oauth2": true,
}

func validateAuth(field, mode string) []error {
	if !validAuthModes[mode] {
		return []error{fmt.Errorf("%s: must be one of app, oauth2; got %q", field, mode)}
	}

	return nil
}

// validateBaseURL accepts a bare host or an http(s) URL without a path.
func validateBaseURL(field, value string) []error {
	if value == "" {
		return nil
	}

	raw := value
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid URL %q: %w", field, value, err)}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return []error{fmt.Errorf("%s: scheme must be http or https, got %q", field, u.Scheme)}
	}

	if u.Host == "" || strings.Trim(u.Path, "/") != "" {
		return []error{fmt.Errorf("%s: must be a host such as open.feishu.cn, got %q", field, value)}
	}

	return nil
}

func validateUpload(u *UploadConfig) []error {
	var errs []error

	errs = append(errs, validateConcurrency("upload_concurrency", u.UploadConcurrency)...)

	if u.UploadPartRate <= 0 || u.UploadPartRate > maxUploadPartRate {
		errs = append(errs, fmt.Errorf("upload_part_rate: must be above 0 and at most %g, got %g",
			maxUploadPartRate, u.UploadPartRate))
	}

	if _, err := ParseSize(u.MaxBinarySize); err != nil {
		errs = append(errs, fmt.Errorf("max_binary_size: %w", err))
	}

	return errs
}

func validateConcurrency(field string, n int) []error {
	if n < minUploadConcurrency || n > maxUploadConcurrency {
		return []error{fmt.Errorf("%s: must be between %d and %d, got %d",
			field, minUploadConcurrency, maxUploadConcurrency, n)}
	}

	return nil
}

func validateServe(s *ServeConfig) []error {
	var errs []error

	if _, _, err := net.SplitHostPort(s.ListenAddr); err != nil {
		errs = append(errs, fmt.Errorf("listen_addr: %w", err))
	}

	if s.HistoryRetentionDays < minHistoryRetention {
		errs = append(errs, fmt.Errorf("history_retention_days: must be >= %d, got %d",
			minHistoryRetention, s.HistoryRetentionDays))
	}

	errs = append(errs, validateDurationMin("shutdown_timeout", s.ShutdownTimeout, minShutdownTimeout)...)

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	if l.LogRetentionDays < minLogRetention {
		errs = append(errs, fmt.Errorf("log_retention_days: must be >= %d, got %d",
			minLogRetention, l.LogRetentionDays))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("data_timeout", n.DataTimeout, minDataTimeout)...)

	return errs
}

// validateDuration checks that a duration string is valid and meets a minimum.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}
