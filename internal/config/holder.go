package config

import (
	"log/slog"
	"sync"
)

// Holder is the live configuration of a long-running server. Requests
// resolve their app through it, and Reload swaps in a new file snapshot
// without disturbing requests already in flight.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewHolder wraps the config loaded from path.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{
		cfg:  cfg,
		path: path,
	}
}

// Config returns the current snapshot. Callers must not modify it.
func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// Path is the config file the holder reloads from.
func (h *Holder) Path() string {
	return h.path
}

// Update replaces the snapshot.
func (h *Holder) Update(cfg *Config) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cfg = cfg
}

// Reload re-reads the config file. On any load or validation error the
// current snapshot stays in place and the error is returned.
func (h *Holder) Reload(logger *slog.Logger) (*Config, error) {
	cfg, err := LoadOrDefault(h.path, logger)
	if err != nil {
		return nil, err
	}

	h.Update(cfg)

	return cfg, nil
}

// Resolve selects an app from the current snapshot.
func (h *Holder) Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*ResolvedApp, error) {
	return ResolveApp(h.Config(), env, cli, logger)
}
