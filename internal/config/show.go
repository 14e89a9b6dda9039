package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command. The app
// secret is masked.
func RenderEffective(ra *ResolvedApp, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration for app %q\n\n", ra.Name)

	renderAppSection(ew, ra)
	renderUploadSection(ew, &ra.UploadConfig)
	renderServeSection(ew, &ra.ServeConfig)
	renderLoggingSection(ew, &ra.LoggingConfig)
	renderNetworkSection(ew, &ra.NetworkConfig)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderAppSection(ew *errWriter, ra *ResolvedApp) {
	ew.printf("[app.%s]\n", ra.Name)
	ew.printf("  app_id        = %q\n", ra.AppID)
	ew.printf("  app_secret    = %q\n", MaskSecret(ra.AppSecret))
	ew.printf("  base_url      = %q\n", ra.BaseURL)
	ew.printf("  auth          = %q\n", ra.Auth)

	if len(ra.Scopes) > 0 {
		ew.printf("  scopes        = [%s]\n", joinQuoted(ra.Scopes))
	}

	if ra.CallbackPort != 0 {
		ew.printf("  callback_port = %d\n", ra.CallbackPort)
	}

	ew.printf("\n")
}

func renderUploadSection(ew *errWriter, u *UploadConfig) {
	ew.printf("[upload]\n")
	ew.printf("  upload_concurrency = %d\n", u.UploadConcurrency)
	ew.printf("  upload_part_rate   = %g\n", u.UploadPartRate)
	ew.printf("  max_binary_size    = %q\n", u.MaxBinarySize)
	ew.printf("\n")
}

func renderServeSection(ew *errWriter, s *ServeConfig) {
	ew.printf("[serve]\n")
	ew.printf("  listen_addr            = %q\n", s.ListenAddr)

	if s.HistoryFile != "" {
		ew.printf("  history_file           = %q\n", s.HistoryFile)
	}

	ew.printf("  history_retention_days = %d\n", s.HistoryRetentionDays)
	ew.printf("  shutdown_timeout       = %q\n", s.ShutdownTimeout)
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  log_level          = %q\n", l.LogLevel)

	if l.LogFile != "" {
		ew.printf("  log_file           = %q\n", l.LogFile)
	}

	ew.printf("  log_format         = %q\n", l.LogFormat)
	ew.printf("  log_retention_days = %d\n", l.LogRetentionDays)
	ew.printf("\n")
}

func renderNetworkSection(ew *errWriter, n *NetworkConfig) {
	ew.printf("[network]\n")
	ew.printf("  connect_timeout = %q\n", n.ConnectTimeout)
	ew.printf("  data_timeout    = %q\n", n.DataTimeout)

	if n.UserAgent != "" {
		ew.printf("  user_agent      = %q\n", n.UserAgent)
	}

	ew.printf("  force_http_11   = %t\n", n.ForceHTTP11)
}

// secretVisible is how many trailing characters of a secret stay readable.
const secretVisible = 4

// MaskSecret hides all but the last few characters of a secret.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}

	if len(s) <= secretVisible {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-secretVisible) + s[len(s)-secretVisible:]
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
