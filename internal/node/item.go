package node

import (
	"mime"
	"path/filepath"
	"strings"
)

// Item is one row of execution data.
type Item struct {
	JSON   map[string]any     `json:"json"`
	Binary map[string]*Binary `json:"binary,omitempty"`
	Paired int                `json:"pairedItem"`
}

// Binary is an attached file.
type Binary struct {
	Data          []byte `json:"data"`
	FileName      string `json:"fileName,omitempty"`
	MimeType      string `json:"mimeType,omitempty"`
	FileExtension string `json:"fileExtension,omitempty"`
	FileSize      int    `json:"fileSize"`
}

// DefaultBinaryProperty is the binary slot downloads write to and uploads
// read from unless configured otherwise.
const DefaultBinaryProperty = "data"

// NewBinary wraps downloaded bytes. A missing MIME type is inferred from
// the file name's extension.
func NewBinary(data []byte, fileName, mimeType string) *Binary {
	ext := strings.TrimPrefix(filepath.Ext(fileName), ".")

	if mimeType == "" && ext != "" {
		mimeType = mime.TypeByExtension("." + ext)
	}

	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return &Binary{
		Data:          data,
		FileName:      fileName,
		MimeType:      mimeType,
		FileExtension: ext,
		FileSize:      len(data),
	}
}

// ItemFromJSON converts a decoded payload to an item. Objects are used as
// is; any other value is wrapped under "data".
func ItemFromJSON(v any) Item {
	if m, ok := v.(map[string]any); ok {
		return Item{JSON: m}
	}

	if v == nil {
		return Item{JSON: map[string]any{}}
	}

	return Item{JSON: map[string]any{"data": v}}
}
