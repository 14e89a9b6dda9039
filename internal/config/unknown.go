package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownGlobalKeys are the valid flat top-level keys in the config file.
// These correspond to fields in the embedded sub-config structs.
var knownGlobalKeys = map[string]bool{
	// Upload settings
	"upload_concurrency": true, "upload_part_rate": true, "max_binary_size": true,
	// Serve settings
	"listen_addr": true, "history_file": true, "history_retention_days": true, "shutdown_timeout": true,
	// Logging settings
	"log_level": true, "log_file": true, "log_format": true, "log_retention_days": true,
	// Network settings
	"connect_timeout": true, "data_timeout": true, "user_agent": true, "force_http_11": true,
}

// knownAppKeys are the valid keys inside an [app.<name>] section.
var knownAppKeys = map[string]bool{
	"app_id": true, "app_secret": true, "base_url": true, "auth": true,
	"scopes": true, "callback_port": true, "upload_concurrency": true, "data_timeout": true,
}

// Sorted slice forms for Levenshtein matching, so ties resolve
// deterministically.
var (
	knownGlobalKeysList = sortedKeys(knownGlobalKeys)
	knownAppKeysList    = sortedKeys(knownAppKeys)
)

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// appTable is the top-level table holding app sections.
const appTable = "app"

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		if len(key) >= 1 && key[0] == appTable {
			if err := buildAppKeyError(key); err != nil {
				errs = append(errs, err)
			}

			continue
		}

		if err := buildGlobalKeyError(key.String()); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// buildGlobalKeyError creates a descriptive error for an unknown top-level key,
// optionally suggesting the closest known key.
func buildGlobalKeyError(keyStr string) error {
	fieldName := strings.SplitN(keyStr, ".", 2)[0]

	suggestion := closestMatch(fieldName, knownGlobalKeysList)
	if suggestion != "" {
		return fmt.Errorf("unknown config key %q; did you mean %q?", fieldName, suggestion)
	}

	return fmt.Errorf("unknown config key %q", fieldName)
}

// buildAppKeyError reports an unknown key inside an app section. key is
// app.<name>.<field>[...].
func buildAppKeyError(key toml.Key) error {
	if len(key) < 3 {
		return nil
	}

	name, field := key[1], key[2]

	suggestion := closestMatch(field, knownAppKeysList)
	if suggestion != "" {
		return fmt.Errorf("unknown key %q in [app.%s]; did you mean %q?", field, name, suggestion)
	}

	return fmt.Errorf("unknown key %q in [app.%s]", field, name)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Use single-row optimization to avoid allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
