package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/feishu-go/internal/config"
)

// isolateEnv points config and data lookups at a fresh home directory and
// clears credential overrides from the environment.
func isolateEnv(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, ".local", "share"))

	for _, k := range []string{config.EnvConfig, config.EnvApp, config.EnvAppID, config.EnvAppSecret, config.EnvBaseURL} {
		t.Setenv(k, "")
	}

	return home
}

// executeCmd runs the root command with args and returns what it wrote to
// stdout.
func executeCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(bytes.NewReader(nil))
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())

	return out.String(), err
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

// --- logger tests ---

func TestLogLevel(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		flags      CLIFlags
		want       slog.Level
	}{
		{"default", "", CLIFlags{}, slog.LevelInfo},
		{"config debug", "debug", CLIFlags{}, slog.LevelDebug},
		{"config warn", "warn", CLIFlags{}, slog.LevelWarn},
		{"config error", "error", CLIFlags{}, slog.LevelError},
		{"verbose overrides config", "error", CLIFlags{Verbose: true}, slog.LevelDebug},
		{"quiet overrides config", "debug", CLIFlags{Quiet: true}, slog.LevelError},
		{"quiet beats verbose", "", CLIFlags{Verbose: true, Quiet: true}, slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, logLevel(tt.configured, tt.flags))
		})
	}
}

func TestBootstrapLogger_FlagsOnly(t *testing.T) {
	logger := bootstrapLogger(CLIFlags{})
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))

	logger = bootstrapLogger(CLIFlags{Verbose: true})
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestNewLogHandler_Format(t *testing.T) {
	tests := []struct {
		format string
		tty    bool
		json   bool
	}{
		{"json", true, true},
		{"text", false, false},
		{"auto", true, false},
		{"auto", false, true},
	}

	for _, tt := range tests {
		h := newLogHandler(io.Discard, tt.format, tt.tty, slog.LevelInfo)

		_, isJSON := h.(*slog.JSONHandler)
		assert.Equal(t, tt.json, isJSON, "format=%s tty=%v", tt.format, tt.tty)
	}
}

func TestBuildLogger_ConfigLevel(t *testing.T) {
	ra := &config.ResolvedApp{LoggingConfig: config.LoggingConfig{LogLevel: "warn", LogFormat: "text"}}

	logger, closer, err := buildLogger(ra, CLIFlags{})
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
}

func TestBuildLogger_LogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "feishu-go.log")
	ra := &config.ResolvedApp{LoggingConfig: config.LoggingConfig{
		LogLevel:         "info",
		LogFormat:        "auto",
		LogFile:          path,
		LogRetentionDays: 7,
	}}

	logger, closer, err := buildLogger(ra, CLIFlags{})
	require.NoError(t, err)
	require.NotNil(t, closer)

	logger.Info("hello", slog.String("k", "v"))
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// auto on a file means JSON.
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"k":"v"`)
}

func TestBuildLogger_LogFileUnwritable(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	ra := &config.ResolvedApp{LoggingConfig: config.LoggingConfig{
		LogLevel:  "info",
		LogFormat: "json",
		LogFile:   filepath.Join(blocker, "sub", "app.log"),
	}}

	_, _, err := buildLogger(ra, CLIFlags{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opening log file")
}

// --- root command tests ---

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	want := []string{"run", "operations", "describe", "login", "logout", "whoami", "serve", "history", "config"}
	for _, name := range want {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
}

func TestNewRootCmd_PersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"config", "app", "auth", "json", "verbose", "quiet"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "missing --%s", name)
	}

	assert.Equal(t, "v", cmd.PersistentFlags().Lookup("verbose").Shorthand)
	assert.Equal(t, "q", cmd.PersistentFlags().Lookup("quiet").Shorthand)
}

func TestSkipConfigCommands_UsesCommandPath(t *testing.T) {
	cmd := newRootCmd()

	allSkip := [][]string{
		{"operations"},
		{"describe"},
		{"config", "init"},
		{"config", "app", "add"},
		{"config", "app", "set"},
		{"config", "app", "remove"},
	}

	for _, args := range allSkip {
		sub, _, err := cmd.Find(args)
		require.NoError(t, err)

		path := sub.CommandPath()
		assert.True(t, skipConfigCommands[path], "CommandPath %q should be in skipConfigCommands", path)
	}
}

func TestSkipConfigCommands_IgnoresBrokenConfig(t *testing.T) {
	isolateEnv(t)
	path := writeConfigFile(t, "this is not toml = = =")

	out, err := executeCmd(t, "-q", "--config", path, "operations", "user")
	require.NoError(t, err)
	assert.Contains(t, out, "user:get")
}

func TestLoadConfig_BrokenConfigFails(t *testing.T) {
	isolateEnv(t)
	path := writeConfigFile(t, "this is not toml = = =")

	_, err := executeCmd(t, "-q", "--config", path, "config", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}

func TestLoadConfig_ValidTOML(t *testing.T) {
	isolateEnv(t)
	path := writeConfigFile(t, `
[app.work]
app_id = "cli_work"
app_secret = "supersecret"
base_url = "open.larksuite.com"
`)

	out, err := executeCmd(t, "-q", "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "[app.work]")
	assert.Contains(t, out, `"cli_work"`)
	assert.Contains(t, out, "*******cret")
	assert.NotContains(t, out, "supersecret")
}

func TestLoadConfig_MissingFile_ZeroConfig(t *testing.T) {
	isolateEnv(t)
	t.Setenv(config.EnvAppID, "cli_env")

	out, err := executeCmd(t, "-q", "--config", filepath.Join(t.TempDir(), "absent.toml"), "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "[app.default]")
	assert.Contains(t, out, `"cli_env"`)
}

func TestSetupCLIContext_AuthFlagNormalized(t *testing.T) {
	isolateEnv(t)

	out, err := executeCmd(t, "-q", "--json", "--auth", "user",
		"--config", filepath.Join(t.TempDir(), "absent.toml"), "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"Auth": "oauth2"`)
}

func TestSetupCLIContext_InvalidAuth(t *testing.T) {
	isolateEnv(t)

	_, err := executeCmd(t, "--auth", "bogus", "operations")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown authentication mode")
}

func TestMustCLIContext_PanicsWithoutContext(t *testing.T) {
	assert.Panics(t, func() {
		mustCLIContext(context.Background())
	})
}

func TestSetupCLIContext_StoresContext(t *testing.T) {
	isolateEnv(t)

	cmd := newRootCmd()
	sub, _, err := cmd.Find([]string{"operations"})
	require.NoError(t, err)

	require.NoError(t, setupCLIContext(sub, CLIFlags{Quiet: true, JSON: true}))

	cc := mustCLIContext(sub.Context())
	assert.True(t, cc.Flags.JSON)
	assert.Nil(t, cc.Resolved)
	assert.NotNil(t, cc.Logger)
}

// newTestCLIContext attaches a CLIContext to a bare command for tests that
// call RunE functions directly.
func newTestCLIContext(t *testing.T, ra *config.ResolvedApp, flags CLIFlags) (*cobra.Command, *bytes.Buffer) {
	t.Helper()

	var out bytes.Buffer

	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	cc := &CLIContext{
		Flags:    flags,
		Logger:   slog.New(slog.DiscardHandler),
		Resolved: ra,
	}
	cmd.SetContext(context.WithValue(context.Background(), cliContextKey{}, cc))

	return cmd, &out
}
