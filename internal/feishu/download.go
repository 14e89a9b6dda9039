package feishu

import (
	"context"
	"mime"
	"strings"
)

// File is a downloaded binary resource.
type File struct {
	Data        []byte
	ContentType string
	FileName    string // from Content-Disposition, empty when absent
}

// Download performs the request and returns the raw response body. A JSON
// response carrying a non-zero code is reported as an APIError.
func (c *Client) Download(ctx context.Context, req *Request) (*File, error) {
	var file *File

	err := c.withRetry(ctx, req, func(rejected string) (string, error) {
		resp, err := c.roundTrip(ctx, req, rejected)
		if err != nil {
			return "", err
		}

		contentType := resp.header.Get("Content-Type")

		if isJSONContent(contentType) || !isSuccess(resp.status) {
			if _, err := unwrapEnvelope(resp); err != nil {
				return resp.bearer, err
			}
		}

		file = &File{
			Data:        resp.body,
			ContentType: contentType,
			FileName:    FileNameFromDisposition(resp.header.Get("Content-Disposition")),
		}

		return resp.bearer, nil
	})
	if err != nil {
		return nil, err
	}

	return file, nil
}

func isJSONContent(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}

	return mt == "application/json"
}

// FileNameFromDisposition extracts the file name from a Content-Disposition
// header. RFC 5987 filename* values are preferred over filename.
func FileNameFromDisposition(header string) string {
	if header == "" {
		return ""
	}

	// mime.ParseMediaType decodes filename* into "filename".
	if _, params, err := mime.ParseMediaType(header); err == nil {
		if name := params["filename"]; name != "" {
			return name
		}
	}

	// Some responses carry unquoted UTF-8 names that ParseMediaType rejects.
	for _, part := range strings.Split(header, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), "filename") {
			continue
		}

		return strings.Trim(strings.TrimSpace(v), `"`)
	}

	return ""
}
