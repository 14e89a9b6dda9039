// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for feishu-go. Values resolve through
// four layers (defaults -> config file -> environment -> CLI flags). Global
// settings are flat top-level keys; each registered Feishu app has its own
// [app.<name>] section holding credentials and per-app overrides.
package config

// Config is the top-level configuration structure parsed from a TOML file.
// The embedded sections decode from flat keys; Apps holds the [app.*]
// tables.
type Config struct {
	UploadConfig
	ServeConfig
	LoggingConfig
	NetworkConfig

	Apps map[string]App `toml:"app"`
}

// App identifies one Feishu/Lark application and how to authenticate
// against it.
type App struct {
	AppID     string `toml:"app_id"`
	AppSecret string `toml:"app_secret"`
	// BaseURL is the open-platform host for app credentials, e.g.
	// "open.feishu.cn" or "open.larksuite.com".
	BaseURL string `toml:"base_url"`
	// Auth is the default authentication mode: "app" or "oauth2".
	Auth         string   `toml:"auth"`
	Scopes       []string `toml:"scopes"`
	CallbackPort int      `toml:"callback_port"`

	// Per-app overrides of global settings. Nil or empty means inherit.
	UploadConcurrency *int   `toml:"upload_concurrency"`
	DataTimeout       string `toml:"data_timeout"`
}

// UploadConfig tunes file transfers to the platform.
type UploadConfig struct {
	// UploadConcurrency is the chunked-upload worker count, 1 to 5.
	UploadConcurrency int `toml:"upload_concurrency"`
	// UploadPartRate is the upload_part request budget per second, shared
	// by every upload in the process.
	UploadPartRate float64 `toml:"upload_part_rate"`
	// MaxBinarySize caps files loaded into job items.
	MaxBinarySize string `toml:"max_binary_size"`
}

// ServeConfig controls the HTTP adapter and the execution history.
type ServeConfig struct {
	ListenAddr           string `toml:"listen_addr"`
	HistoryFile          string `toml:"history_file"`
	HistoryRetentionDays int    `toml:"history_retention_days"`
	ShutdownTimeout      string `toml:"shutdown_timeout"`
}

// LoggingConfig controls log output behavior: level, format, and rotation.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level"`
	LogFile          string `toml:"log_file"`
	LogFormat        string `toml:"log_format"`
	LogRetentionDays int    `toml:"log_retention_days"`
}

// NetworkConfig controls HTTP client behavior: timeouts, user agent, and
// protocol version. force_http_11 is useful behind corporate proxies that
// don't support HTTP/2.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
	ForceHTTP11    bool   `toml:"force_http_11"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Empty strings mean "not specified".
type CLIOverrides struct {
	ConfigPath string // --config flag (empty = use default)
	App        string // --app flag (empty = auto-select)
	Auth       string // --auth flag
}
