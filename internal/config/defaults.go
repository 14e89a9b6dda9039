package config

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain and work without any config file.
const (
	defaultUploadConcurrency    = 5
	defaultUploadPartRate       = 5.0
	defaultMaxBinarySize        = "100MiB"
	defaultListenAddr           = "127.0.0.1:8787"
	defaultHistoryRetentionDays = 30
	defaultShutdownTimeout      = "30s"
	defaultLogLevel             = "info"
	defaultLogFormat            = "auto"
	defaultLogRetentionDays     = 30
	defaultConnectTimeout       = "10s"
	defaultDataTimeout          = "60s"
	defaultAuth                 = "app"
	defaultAppName              = "default"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		UploadConfig:  defaultUploadConfig(),
		ServeConfig:   defaultServeConfig(),
		LoggingConfig: defaultLoggingConfig(),
		NetworkConfig: defaultNetworkConfig(),
		Apps:          make(map[string]App),
	}
}

func defaultUploadConfig() UploadConfig {
	return UploadConfig{
		UploadConcurrency: defaultUploadConcurrency,
		UploadPartRate:    defaultUploadPartRate,
		MaxBinarySize:     defaultMaxBinarySize,
	}
}

func defaultServeConfig() ServeConfig {
	return ServeConfig{
		ListenAddr:           defaultListenAddr,
		HistoryRetentionDays: defaultHistoryRetentionDays,
		ShutdownTimeout:      defaultShutdownTimeout,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:         defaultLogLevel,
		LogFormat:        defaultLogFormat,
		LogRetentionDays: defaultLogRetentionDays,
	}
}

func defaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ConnectTimeout: defaultConnectTimeout,
		DataTimeout:    defaultDataTimeout,
	}
}
