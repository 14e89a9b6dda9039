package feishu

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"
)

// Form is a multipart/form-data body. Fields are written in insertion
// order; the file part, if any, goes last as the platform expects.
type Form struct {
	fields []formField
	file   *FormFile
}

type formField struct {
	name  string
	value string
}

// FormFile is the single binary part of a multipart request.
type FormFile struct {
	Field       string
	FileName    string
	ContentType string
	Data        []byte
}

// NewForm returns an empty form.
func NewForm() *Form {
	return &Form{}
}

// Field appends a text field and returns the form for chaining.
func (f *Form) Field(name, value string) *Form {
	f.fields = append(f.fields, formField{name: name, value: value})
	return f
}

// File sets the binary part.
func (f *Form) File(file FormFile) *Form {
	f.file = &file
	return f
}

func (f *Form) encode() (io.Reader, string, error) {
	var buf bytes.Buffer

	w := multipart.NewWriter(&buf)

	for _, fld := range f.fields {
		if err := w.WriteField(fld.name, fld.value); err != nil {
			return nil, "", fmt.Errorf("feishu: writing form field %s: %w", fld.name, err)
		}
	}

	if f.file != nil {
		contentType := f.file.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			escapeQuotes(f.file.Field), escapeQuotes(f.file.FileName)))
		h.Set("Content-Type", contentType)

		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("feishu: creating file part: %w", err)
		}

		if _, err := part.Write(f.file.Data); err != nil {
			return nil, "", fmt.Errorf("feishu: writing file part: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("feishu: closing form: %w", err)
	}

	return &buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
