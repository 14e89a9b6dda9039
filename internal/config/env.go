package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig    = "FEISHU_GO_CONFIG"
	EnvApp       = "FEISHU_GO_APP"
	EnvAppID     = "FEISHU_GO_APP_ID"
	EnvAppSecret = "FEISHU_GO_APP_SECRET"
	EnvBaseURL   = "FEISHU_GO_BASE_URL"
)

// EnvOverrides holds values derived from environment variables.
// These are resolved by ReadEnvOverrides and made available to callers.
type EnvOverrides struct {
	ConfigPath string // FEISHU_GO_CONFIG: override config file path
	App        string // FEISHU_GO_APP: app section to use
	AppID      string // FEISHU_GO_APP_ID: app credentials, useful in CI
	AppSecret  string // FEISHU_GO_APP_SECRET
	BaseURL    string // FEISHU_GO_BASE_URL: open-platform host
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		App:        os.Getenv(EnvApp),
		AppID:      os.Getenv(EnvAppID),
		AppSecret:  os.Getenv(EnvAppSecret),
		BaseURL:    os.Getenv(EnvBaseURL),
	}
}
