package node

import (
	"fmt"
	"time"
)

// Batching defaults, applied when the batching block omits a field.
const (
	DefaultBatchSize     = 50
	DefaultBatchInterval = 0
)

// BatchConfig is resolved once per invocation from row 0's
// options.batching.batch block. Its presence selects parallel mode.
type BatchConfig struct {
	Enabled  bool
	Size     int // rows per batch; negative disables pacing
	Interval time.Duration
}

// ResolveBatchConfig reads the batching block from row 0. Schema defaults
// do not apply: only an explicit block enables batching.
func ResolveBatchConfig(host Host) (BatchConfig, error) {
	v, ok, err := host.Parameter("options", 0)
	if err != nil {
		return BatchConfig{}, fmt.Errorf("node: reading batching options: %w", err)
	}

	if !ok {
		return BatchConfig{}, nil
	}

	raw, ok := dig(v, []string{"batching", "batch"})
	if !ok || raw == nil {
		return BatchConfig{}, nil
	}

	block, ok := raw.(map[string]any)
	if !ok {
		return BatchConfig{}, fmt.Errorf("%w: options.batching.batch: expected an object, got %T", ErrInvalidParameter, raw)
	}

	cfg := BatchConfig{Enabled: true, Size: DefaultBatchSize, Interval: DefaultBatchInterval}

	if s, present := block["batchSize"]; present && s != nil {
		n, err := toInt(s)
		if err != nil {
			return BatchConfig{}, fmt.Errorf("%w: batchSize: %w", ErrInvalidParameter, err)
		}

		cfg.Size = n
	}

	if cfg.Size == 0 {
		cfg.Size = 1
	}

	if iv, present := block["batchInterval"]; present && iv != nil {
		ms, err := toInt(iv)
		if err != nil {
			return BatchConfig{}, fmt.Errorf("%w: batchInterval: %w", ErrInvalidParameter, err)
		}

		if ms < 0 {
			return BatchConfig{}, fmt.Errorf("%w: batchInterval must not be negative", ErrInvalidParameter)
		}

		cfg.Interval = time.Duration(ms) * time.Millisecond
	}

	return cfg, nil
}

// pausesBefore reports whether dispatch sleeps before launching row.
func (c BatchConfig) pausesBefore(row int) bool {
	return c.Size > 0 && c.Interval > 0 && row > 0 && row%c.Size == 0
}
