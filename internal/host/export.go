package host

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tonimelisma/feishu-go/internal/node"
)

// filePermissions is the mode for saved binaries.
const filePermissions = 0o644

// ExportedItem is an output row in a form suitable for printing.
type ExportedItem struct {
	JSON   map[string]any            `json:"json"`
	Binary map[string]ExportedBinary `json:"binary,omitempty"`
	Paired int                       `json:"pairedItem"`
}

// ExportedBinary describes a binary without necessarily carrying it.
type ExportedBinary struct {
	FileName      string `json:"fileName,omitempty"`
	MimeType      string `json:"mimeType,omitempty"`
	FileExtension string `json:"fileExtension,omitempty"`
	FileSize      int    `json:"fileSize"`
	Path          string `json:"path,omitempty"`
	Data          string `json:"data,omitempty"` // base64
}

// ExportOptions selects where binaries go.
type ExportOptions struct {
	// Dir, when set, receives every binary as a file.
	Dir string
	// Inline embeds binaries as base64.
	Inline bool
}

// Export converts driver outputs. Saved files are named after the binary's
// file name; collisions get the output, row and slot appended.
func Export(outputs [][]node.Item, opts ExportOptions) ([][]ExportedItem, error) {
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("host: creating output directory: %w", err)
		}
	}

	used := make(map[string]bool)
	result := make([][]ExportedItem, len(outputs))

	for o, items := range outputs {
		result[o] = make([]ExportedItem, len(items))

		for r, item := range items {
			ex := ExportedItem{JSON: item.JSON, Paired: item.Paired}

			if len(item.Binary) > 0 {
				ex.Binary = make(map[string]ExportedBinary, len(item.Binary))
			}

			for slot, b := range item.Binary {
				eb := ExportedBinary{
					FileName:      b.FileName,
					MimeType:      b.MimeType,
					FileExtension: b.FileExtension,
					FileSize:      b.FileSize,
				}

				if opts.Inline {
					eb.Data = base64.StdEncoding.EncodeToString(b.Data)
				}

				if opts.Dir != "" {
					path := uniquePath(opts.Dir, b.FileName, fmt.Sprintf("%d-%d-%s", o, r, slot), used)
					if err := os.WriteFile(path, b.Data, filePermissions); err != nil {
						return nil, fmt.Errorf("host: saving binary: %w", err)
					}

					eb.Path = path
				}

				ex.Binary[slot] = eb
			}

			result[o][r] = ex
		}
	}

	return result, nil
}

func uniquePath(dir, name, suffix string, used map[string]bool) string {
	base := filepath.Base(name)
	if name == "" || base == "." || base == string(filepath.Separator) {
		base = "binary"
	}

	path := filepath.Join(dir, base)
	if !used[path] {
		used[path] = true
		return path
	}

	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]

	for n := 0; ; n++ {
		candidate := stem + "-" + suffix
		if n > 0 {
			candidate += "-" + strconv.Itoa(n)
		}

		path = filepath.Join(dir, candidate+ext)
		if !used[path] {
			used[path] = true
			return path
		}
	}
}
