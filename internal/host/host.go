package host

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tonimelisma/feishu-go/internal/node"
)

// ErrBinaryTooLarge is returned when an attached file exceeds the
// configured limit.
var ErrBinaryTooLarge = errors.New("host: binary exceeds max_binary_size")

// Options controls how a job becomes a Host.
type Options struct {
	// BaseDir resolves relative binary paths. Usually the job file's
	// directory.
	BaseDir string
	// MaxBinarySize caps each attached file; zero means unlimited.
	MaxBinarySize int64
}

// Host serves a job's rows and parameters to the driver. It is safe for
// concurrent use: state is read-only after New and every evaluation gets
// its own script runtime.
type Host struct {
	items          []node.Item
	params         map[string]any
	continueOnFail bool
}

var _ node.Host = (*Host)(nil)

// New builds a Host from a job. A job with no items runs once against a
// single empty row.
func New(job *Job, opts Options) (*Host, error) {
	items, err := loadItems(job.Items, opts)
	if err != nil {
		return nil, err
	}

	params := job.Parameters
	if params == nil {
		params = map[string]any{}
	}

	return &Host{items: items, params: params, continueOnFail: job.ContinueOnFail}, nil
}

// Items returns the input rows.
func (h *Host) Items() []node.Item {
	return h.items
}

// ContinueOnFail reports the job's failure policy.
func (h *Host) ContinueOnFail() bool {
	return h.continueOnFail
}

// Parameter returns a top-level parameter with every template inside it
// evaluated for row.
func (h *Host) Parameter(name string, row int) (any, bool, error) {
	v, ok := h.params[name]
	if !ok {
		return nil, false, nil
	}

	if row < 0 || row >= len(h.items) {
		return nil, false, fmt.Errorf("host: row %d out of range", row)
	}

	resolved, err := resolve(v, h.scope(row))
	if err != nil {
		return nil, true, err
	}

	return resolved, true, nil
}

func (h *Host) scope(row int) Scope {
	item := h.items[row]

	binary := make(map[string]any, len(item.Binary))
	for name, b := range item.Binary {
		binary[name] = map[string]any{
			"fileName":      b.FileName,
			"mimeType":      b.MimeType,
			"fileExtension": b.FileExtension,
			"fileSize":      b.FileSize,
		}
	}

	return Scope{JSON: item.JSON, Index: row, Binary: binary}
}

// resolve walks maps and slices and evaluates template strings. The input
// is never modified.
func resolve(v any, scope Scope) (any, error) {
	switch x := v.(type) {
	case string:
		return Evaluate(x, scope)
	case map[string]any:
		out := make(map[string]any, len(x))

		for k, child := range x {
			r, err := resolve(child, scope)
			if err != nil {
				return nil, err
			}

			out[k] = r
		}

		return out, nil
	case []any:
		out := make([]any, len(x))

		for i, child := range x {
			r, err := resolve(child, scope)
			if err != nil {
				return nil, err
			}

			out[i] = r
		}

		return out, nil
	default:
		return v, nil
	}
}

func loadItems(src []JobItem, opts Options) ([]node.Item, error) {
	if len(src) == 0 {
		return []node.Item{{JSON: map[string]any{}}}, nil
	}

	items := make([]node.Item, len(src))

	for i, it := range src {
		item := node.Item{JSON: it.JSON, Paired: i}
		if item.JSON == nil {
			item.JSON = map[string]any{}
		}

		if len(it.Binary) > 0 {
			item.Binary = make(map[string]*node.Binary, len(it.Binary))
		}

		for name, b := range it.Binary {
			bin, err := loadBinary(b, opts)
			if err != nil {
				return nil, fmt.Errorf("host: items[%d].binary.%s: %w", i, name, err)
			}

			item.Binary[name] = bin
		}

		items[i] = item
	}

	return items, nil
}

func loadBinary(src BinarySource, opts Options) (*node.Binary, error) {
	var (
		data []byte
		name = src.FileName
	)

	switch {
	case src.Path != "":
		path := src.Path
		if !filepath.IsAbs(path) && opts.BaseDir != "" {
			path = filepath.Join(opts.BaseDir, path)
		}

		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}

		if opts.MaxBinarySize > 0 && info.Size() > opts.MaxBinarySize {
			return nil, fmt.Errorf("%w: %s is %d bytes", ErrBinaryTooLarge, path, info.Size())
		}

		if data, err = os.ReadFile(path); err != nil {
			return nil, err
		}

		if name == "" {
			name = filepath.Base(path)
		}
	case src.Data != "":
		decoded, err := base64.StdEncoding.DecodeString(src.Data)
		if err != nil {
			return nil, fmt.Errorf("decoding base64 data: %w", err)
		}

		if opts.MaxBinarySize > 0 && int64(len(decoded)) > opts.MaxBinarySize {
			return nil, fmt.Errorf("%w: inline data is %d bytes", ErrBinaryTooLarge, len(decoded))
		}

		data = decoded
	default:
		return nil, fmt.Errorf("%w: binary needs path or data", ErrInvalidJob)
	}

	return node.NewBinary(data, name, src.MimeType), nil
}
