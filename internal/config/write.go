package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// configFilePermissions is the standard permission mode for config files.
// Owner read/write only, since app sections hold secrets.
const configFilePermissions = 0o600

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// sectionHeaderPrefix starts any TOML table header. Used to detect section
// boundaries in line-based edits.
const sectionHeaderPrefix = "["

// configTemplate is the default config file content written by
// "config init" and the first "config app add". All global settings are
// present as commented-out defaults so users can discover every option
// without reading docs. This template is written once and never
// regenerated; later edits are text-level so user changes survive.
const configTemplate = `# feishu-go configuration
# Docs: https://github.com/tonimelisma/feishu-go

# Global settings. Uncomment and modify to override defaults.

# Chunked upload workers per file (1-5)
# upload_concurrency = 5

# upload_part requests per second across all uploads
# upload_part_rate = 5.0

# Largest file accepted into a job item
# max_binary_size = "100MiB"

# Address for 'serve'
# listen_addr = "127.0.0.1:8787"

# Execution history retention for 'serve' and 'run'
# history_retention_days = 30

# Log file verbosity: debug, info, warn, error
# log_level = "info"

# Log file path (default: platform standard location)
# log_file = ""

# Per-request timeout
# data_timeout = "60s"

# Apps. Added by 'config app add'. The section name selects the app with
# --app; app_id and unique name prefixes work too.
`

// AppFields are the keys written into a new [app.<name>] section.
type AppFields struct {
	AppID     string
	AppSecret string
	BaseURL   string
	Auth      string
}

// appSection generates the TOML text for a new app section. The blank
// line before the header separates it from the previous section.
func appSection(name string, f AppFields) string {
	var b strings.Builder

	fmt.Fprintf(&b, "\n[%s.%s]\n", appTable, name)
	fmt.Fprintf(&b, "app_id = %q\n", f.AppID)

	if f.AppSecret != "" {
		fmt.Fprintf(&b, "app_secret = %q\n", f.AppSecret)
	}

	if f.BaseURL != "" {
		fmt.Fprintf(&b, "base_url = %q\n", f.BaseURL)
	}

	if f.Auth != "" {
		fmt.Fprintf(&b, "auth = %q\n", f.Auth)
	}

	return b.String()
}

// CreateConfig writes the default template to path. The write is atomic
// (temp file + rename) and parent directories are created as needed.
func CreateConfig(path string) error {
	slog.Info("creating config file", "path", path)

	return atomicWriteFile(path, []byte(configTemplate))
}

// AppendAppSection appends a new app section to the config file, creating
// the file from the template first if it does not exist yet.
func AppendAppSection(path, name string, f AppFields) error {
	slog.Info("appending app section to config",
		"path", path,
		"app", name,
		"app_id", f.AppID,
	)

	if !appNamePattern.MatchString(name) {
		return fmt.Errorf("invalid app name %q: use letters, digits, '-' and '_'", name)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		data = []byte(configTemplate)
	} else if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	content := string(data)

	if _, start := findSectionHeader(strings.Split(content, "\n"), name); start >= 0 {
		return fmt.Errorf("app section %q already exists in config", name)
	}

	// Ensure the file ends with a newline before appending, so the new
	// section header starts on its own line.
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}

	content += appSection(name, f)

	return atomicWriteFile(path, []byte(content))
}

// SetAppKey finds an app section by name and sets a key-value pair. If the
// key already exists within the section, its line is replaced. If not
// found, the key is inserted on the line after the section header.
//
// Value formatting: booleans and integers are written bare; all other
// values are written as quoted strings.
func SetAppKey(path, name, key, value string) error {
	slog.Info("setting app key in config",
		"path", path,
		"app", name,
		"key", key,
	)

	if !knownAppKeys[key] {
		return fmt.Errorf("unknown app key %q", key)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(string(data), "\n")

	headerLine, sectionStart := findSectionHeader(lines, name)
	if sectionStart < 0 {
		return fmt.Errorf("app section %q not found in config", name)
	}

	newLine := fmt.Sprintf("%s = %s", key, formatTOMLValue(value))

	lines = setKeyInSection(lines, headerLine, sectionStart, key, newLine)

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

// DeleteAppSection removes an app section (header + all keys) from the
// config file. Also removes blank lines immediately preceding the section
// header for clean formatting.
func DeleteAppSection(path, name string) error {
	slog.Info("deleting app section from config",
		"path", path,
		"app", name,
	)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(string(data), "\n")

	headerLine, sectionStart := findSectionHeader(lines, name)
	if sectionStart < 0 {
		return fmt.Errorf("app section %q not found in config", name)
	}

	sectionEnd := findSectionEnd(lines, sectionStart)

	// Remove preceding blank lines. Start from the header line itself so
	// the entire section (header + content) is deleted.
	blankStart := headerLine
	for blankStart > 0 && strings.TrimSpace(lines[blankStart-1]) == "" {
		blankStart--
	}

	lines = append(lines[:blankStart], lines[sectionEnd:]...)

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

// findSectionHeader locates the line index of an app section header.
// Both [app.name] and [app."name"] spellings match.
// Returns the header line index and the section content start (header + 1).
// Returns -1 for both if the section is not found.
func findSectionHeader(lines []string, name string) (int, int) {
	bare := fmt.Sprintf("[%s.%s]", appTable, name)
	quoted := fmt.Sprintf("[%s.%q]", appTable, name)

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == bare || trimmed == quoted {
			return i, i + 1
		}
	}

	return -1, -1
}

// findSectionEnd returns the index of the first line after the section's
// own content. This excludes blank lines and comments that precede the
// next section header (those belong to the next section's preamble, not
// this section's content).
func findSectionEnd(lines []string, sectionStart int) int {
	nextHeader := len(lines)

	for i := sectionStart; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, sectionHeaderPrefix) {
			nextHeader = i

			break
		}
	}

	// Walk backwards from the next section header to skip blank lines and
	// comment lines that belong to the next section's preamble.
	end := nextHeader
	for end > sectionStart {
		trimmed := strings.TrimSpace(lines[end-1])
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			end--

			continue
		}

		break
	}

	return end
}

// setKeyInSection either replaces an existing key line or inserts a new
// one after the section header.
func setKeyInSection(lines []string, headerLine, sectionStart int, key, newLine string) []string {
	sectionEnd := findSectionEnd(lines, sectionStart)
	keyPrefix := key + " "
	keyPrefixEq := key + "="

	// Search for existing key within the section.
	for i := headerLine + 1; i < sectionEnd; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, keyPrefix) || strings.HasPrefix(trimmed, keyPrefixEq) {
			lines[i] = newLine

			return lines
		}
	}

	// Key not found, insert after header.
	inserted := make([]string, 0, len(lines)+1)
	inserted = append(inserted, lines[:headerLine+1]...)
	inserted = append(inserted, newLine)
	inserted = append(inserted, lines[headerLine+1:]...)

	return inserted
}

// formatTOMLValue formats a value for TOML output. Booleans and integers
// are written bare; all other values are quoted strings.
func formatTOMLValue(value string) string {
	if value == "true" || value == "false" {
		return value
	}

	if _, err := strconv.Atoi(value); err == nil {
		return value
	}

	return fmt.Sprintf("%q", value)
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path. This prevents partial writes
// from corrupting the config file on crash. Parent directories are created
// as needed. Files are created with configFilePermissions (0600).
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	// Clean up the temp file on any error path.
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
