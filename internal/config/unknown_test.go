package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UnknownKey_TopLevel(t *testing.T) {
	path := writeTestConfig(t, `upload_concurency = 3`)

	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "upload_concurency"`)
	assert.Contains(t, err.Error(), `did you mean "upload_concurrency"`)
}

func TestLoad_UnknownKey_InAppSection(t *testing.T) {
	path := writeTestConfig(t, `
[app.work]
app_id = "cli_a1"
app_secert = "x"
`)

	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown key "app_secert" in [app.work]`)
	assert.Contains(t, err.Error(), `did you mean "app_secret"`)
}

func TestLoad_UnknownKey_NoSuggestion(t *testing.T) {
	path := writeTestConfig(t, `completely_unrelated_setting = true`)

	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "completely_unrelated_setting")
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLoad_UnknownKey_MultipleReported(t *testing.T) {
	path := writeTestConfig(t, `
log_levl = "debug"
listen_adr = ":9000"
`)

	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"log_level"`)
	assert.Contains(t, err.Error(), `"listen_addr"`)
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"app_id", "app_di", 2},
		{"log_level", "log_levl", 1},
		{"kitten", "sitting", 3},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, levenshtein(tt.a, tt.b))
		})
	}
}

func TestClosestMatch_Found(t *testing.T) {
	assert.Equal(t, "data_timeout", closestMatch("data_timout", knownGlobalKeysList))
	assert.Equal(t, "callback_port", closestMatch("callbak_port", knownAppKeysList))
}

func TestClosestMatch_NotFound(t *testing.T) {
	assert.Empty(t, closestMatch("zzzzzzzzzzzz", knownGlobalKeysList))
}
