// Package host is the local runtime the node runs inside: it loads job
// files, evaluates parameter templates per row, attaches binaries and
// exports results.
package host

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tonimelisma/feishu-go/internal/node"
)

// ErrInvalidJob is returned for job files that cannot be run.
var ErrInvalidJob = errors.New("host: invalid job")

// Job is one node invocation as written in a job file or posted to the
// HTTP adapter.
type Job struct {
	Resource       string         `yaml:"resource" json:"resource"`
	Operation      string         `yaml:"operation" json:"operation"`
	Authentication string         `yaml:"authentication" json:"authentication,omitempty"`
	ContinueOnFail bool           `yaml:"continue_on_fail" json:"continue_on_fail,omitempty"`
	Parameters     map[string]any `yaml:"parameters" json:"parameters,omitempty"`
	Items          []JobItem      `yaml:"items" json:"items,omitempty"`
}

// JobItem is one input row.
type JobItem struct {
	JSON   map[string]any          `yaml:"json" json:"json,omitempty"`
	Binary map[string]BinarySource `yaml:"binary" json:"binary,omitempty"`
}

// BinarySource attaches a file to a row, either from disk or inline.
type BinarySource struct {
	Path     string `yaml:"path" json:"path,omitempty"`
	Data     string `yaml:"data" json:"data,omitempty"` // base64
	FileName string `yaml:"file_name" json:"file_name,omitempty"`
	MimeType string `yaml:"mime_type" json:"mime_type,omitempty"`
}

// Key returns the job's operation key.
func (j *Job) Key() node.Key {
	return node.Key{Resource: node.Resource(j.Resource), Operation: j.Operation}
}

// Validate checks the fields every job needs.
func (j *Job) Validate() error {
	var errs []error

	if j.Resource == "" {
		errs = append(errs, fmt.Errorf("%w: resource is required", ErrInvalidJob))
	}

	if j.Operation == "" {
		errs = append(errs, fmt.Errorf("%w: operation is required", ErrInvalidJob))
	}

	for i, it := range j.Items {
		for name, src := range it.Binary {
			if (src.Path == "") == (src.Data == "") {
				errs = append(errs, fmt.Errorf("%w: items[%d].binary.%s: set exactly one of path or data",
					ErrInvalidJob, i, name))
			}
		}
	}

	return errors.Join(errs...)
}

// LoadJob reads a YAML (or JSON) job file.
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("host: reading job file: %w", err)
	}

	job, err := ParseJob(data)
	if err != nil {
		return nil, fmt.Errorf("host: %s: %w", path, err)
	}

	return job, nil
}

// ParseJob decodes a YAML job. Unknown fields are rejected so a misspelt
// key does not silently drop a parameter block.
func ParseJob(data []byte) (*Job, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var job Job
	if err := dec.Decode(&job); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty job", ErrInvalidJob)
		}

		return nil, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return &job, nil
}

// DecodeJSONJob decodes a job posted as JSON.
func DecodeJSONJob(r io.Reader) (*Job, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var job Job
	if err := dec.Decode(&job); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return &job, nil
}

// isTemplate reports whether a string parameter is an expression.
func isTemplate(s string) bool {
	return strings.HasPrefix(s, "=")
}
