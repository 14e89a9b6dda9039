package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appsConfig(names ...string) *Config {
	cfg := DefaultConfig()
	for _, name := range names {
		cfg.Apps[name] = App{AppID: "cli_" + name, AppSecret: "s"}
	}

	return cfg
}

func TestMatchApp_ZeroConfig(t *testing.T) {
	name, app, err := matchApp(DefaultConfig(), "", testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "default", name)
	assert.Equal(t, App{}, app)

	name, _, err = matchApp(DefaultConfig(), "ci", testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "ci", name)
}

func TestMatchApp_ExactName(t *testing.T) {
	name, app, err := matchApp(appsConfig("work", "workshop"), "work", testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "work", name)
	assert.Equal(t, "cli_work", app.AppID)
}

func TestMatchApp_ByAppID(t *testing.T) {
	name, _, err := matchApp(appsConfig("work", "home"), "cli_home", testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "home", name)
}

func TestMatchApp_UniquePrefix(t *testing.T) {
	name, _, err := matchApp(appsConfig("work", "home"), "ho", testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "home", name)
}

func TestMatchApp_AmbiguousPrefix(t *testing.T) {
	_, _, err := matchApp(appsConfig("work", "workshop"), "wo", testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")
	assert.Contains(t, err.Error(), "work, workshop")
}

func TestMatchApp_NoMatch(t *testing.T) {
	_, _, err := matchApp(appsConfig("work"), "other", testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no app matching "other"`)
}

func TestMatchApp_DefaultAmongMany(t *testing.T) {
	name, _, err := matchApp(appsConfig("work", "default"), "", testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "default", name)
}

func TestBuildResolvedApp_DefaultsAuthAndExpandsPaths(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.LogFile = "~/logs/feishu.log"
	cfg.HistoryFile = "~/history.db"

	ra := buildResolvedApp(cfg, "work", &App{AppID: "cli_work"}, testLogger(t))
	assert.Equal(t, "app", ra.Auth)
	assert.Equal(t, filepath.Join(home, "logs", "feishu.log"), ra.LogFile)
	assert.Equal(t, filepath.Join(home, "history.db"), ra.HistoryPath())
}

func TestResolvedApp_Durations(t *testing.T) {
	ra := resolvedForTest()
	assert.Equal(t, 60*time.Second, ra.RequestTimeout())
	assert.Equal(t, 10*time.Second, ra.DialTimeout())

	ra.NetworkConfig.DataTimeout = "garbage"
	assert.Zero(t, ra.RequestTimeout())
}

func TestResolvedApp_MaxBinaryBytes(t *testing.T) {
	ra := resolvedForTest()
	assert.Equal(t, int64(100*1024*1024), ra.MaxBinaryBytes())

	ra.MaxBinarySize = "0"
	assert.Zero(t, ra.MaxBinaryBytes())
}

func TestResolvedApp_HistoryPathDefault(t *testing.T) {
	ra := resolvedForTest()
	assert.Equal(t, filepath.Join(DefaultDataDir(), "history.db"), ra.HistoryPath())
}

func TestAppTokenPath(t *testing.T) {
	assert.Equal(t, filepath.Join(DefaultDataDir(), "token_work.json"), AppTokenPath("work"))
	assert.Empty(t, AppTokenPath("../escape"))

	ra := resolvedForTest()
	assert.Equal(t, AppTokenPath("default"), ra.TokenPath())
}

func TestExpandTilde(t *testing.T) {
	assert.Equal(t, "/abs/path", expandTilde("/abs/path"))
	assert.Equal(t, "relative", expandTilde("relative"))
	assert.Equal(t, "", expandTilde(""))
}
