package node

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Parameter errors. Use errors.Is to check.
var (
	ErrMissingParameter = errors.New("node: missing parameter")
	ErrInvalidParameter = errors.New("node: invalid parameter")
)

// ParamType is the UI/editor type of a parameter.
type ParamType string

const (
	TypeString     ParamType = "string"
	TypeNumber     ParamType = "number"
	TypeBoolean    ParamType = "boolean"
	TypeOptions    ParamType = "options"
	TypeJSON       ParamType = "json"
	TypeCollection ParamType = "collection"
)

// Option is one allowed value of an options parameter.
type Option struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Param declares one parameter. Collections nest their members in
// Children and are addressed with dotted names ("options.timeout").
type Param struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName,omitempty"`
	Type        ParamType `json:"type"`
	Default     any       `json:"default,omitempty"`
	Required    bool      `json:"required,omitempty"`
	Description string    `json:"description,omitempty"`
	Options     []Option  `json:"options,omitempty"`
	Children    []Param   `json:"children,omitempty"`
}

func validateSchema(params []Param) error {
	seen := make(map[string]bool, len(params))

	for _, p := range params {
		if p.Name == "" || strings.Contains(p.Name, ".") {
			return fmt.Errorf("invalid parameter name %q", p.Name)
		}

		if seen[p.Name] {
			return fmt.Errorf("parameter %q declared twice", p.Name)
		}

		seen[p.Name] = true

		if p.Type == TypeOptions && len(p.Options) == 0 {
			return fmt.Errorf("options parameter %q has no options", p.Name)
		}

		if len(p.Children) > 0 {
			if err := validateSchema(p.Children); err != nil {
				return fmt.Errorf("%s: %w", p.Name, err)
			}
		}
	}

	return nil
}

// findParam resolves a dotted path against a schema.
func findParam(params []Param, path []string) (*Param, bool) {
	for i := range params {
		if params[i].Name != path[0] {
			continue
		}

		if len(path) == 1 {
			return &params[i], true
		}

		return findParam(params[i].Children, path[1:])
	}

	return nil, false
}

// Params reads row-scoped parameter values, falling back to schema
// defaults. Accessors never fail; the first problem is kept and reported
// by Err, so handlers read everything and check once.
type Params struct {
	host   Host
	row    int
	schema []Param
	err    error
}

// NewParams binds a host row to an operation schema.
func NewParams(host Host, row int, schema []Param) *Params {
	return &Params{host: host, row: row, schema: schema}
}

// Err returns the first parameter error encountered.
func (p *Params) Err() error {
	return p.err
}

func (p *Params) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

// Value returns the resolved value at a dotted path, or nil.
func (p *Params) Value(name string) any {
	v, _ := p.lookup(name)
	return v
}

// Has reports whether the workflow set the value (defaults do not count).
func (p *Params) Has(name string) bool {
	path := strings.Split(name, ".")

	v, ok, err := p.host.Parameter(path[0], p.row)
	if err != nil || !ok {
		return false
	}

	_, ok = dig(v, path[1:])

	return ok
}

func (p *Params) lookup(name string) (any, bool) {
	path := strings.Split(name, ".")

	v, ok, err := p.host.Parameter(path[0], p.row)
	if err != nil {
		p.fail(fmt.Errorf("%w: %s: %w", ErrInvalidParameter, name, err))
		return nil, false
	}

	if ok {
		if v, ok = dig(v, path[1:]); ok {
			return p.checkOptions(name, path, v), true
		}
	}

	if def, found := findParam(p.schema, path); found && def.Default != nil {
		return def.Default, true
	}

	return nil, false
}

func (p *Params) checkOptions(name string, path []string, v any) any {
	def, found := findParam(p.schema, path)
	if !found || def.Type != TypeOptions {
		return v
	}

	for _, o := range def.Options {
		if fmt.Sprint(o.Value) == fmt.Sprint(v) {
			return v
		}
	}

	p.fail(fmt.Errorf("%w: %s: %v is not one of the allowed values", ErrInvalidParameter, name, v))

	return v
}

func dig(v any, path []string) (any, bool) {
	for _, key := range path {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}

		if v, ok = m[key]; !ok {
			return nil, false
		}
	}

	return v, true
}

func (p *Params) required(name string) bool {
	def, found := findParam(p.schema, strings.Split(name, "."))
	return found && def.Required
}

// String returns a string value. Numbers and booleans are formatted.
func (p *Params) String(name string) string {
	v, ok := p.lookup(name)
	if !ok || v == nil {
		if p.required(name) {
			p.fail(fmt.Errorf("%w: %s", ErrMissingParameter, name))
		}

		return ""
	}

	switch s := v.(type) {
	case string:
		if s == "" && p.required(name) {
			p.fail(fmt.Errorf("%w: %s", ErrMissingParameter, name))
		}

		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	case json.Number:
		return s.String()
	default:
		data, err := json.Marshal(s)
		if err != nil {
			p.fail(fmt.Errorf("%w: %s: %w", ErrInvalidParameter, name, err))
			return ""
		}

		return string(data)
	}
}

// Int returns an integer value; strings are parsed.
func (p *Params) Int(name string) int {
	v, ok := p.lookup(name)
	if !ok || v == nil {
		if p.required(name) {
			p.fail(fmt.Errorf("%w: %s", ErrMissingParameter, name))
		}

		return 0
	}

	n, err := toInt(v)
	if err != nil {
		p.fail(fmt.Errorf("%w: %s: %w", ErrInvalidParameter, name, err))
	}

	return n
}

// Bool returns a boolean value; "true"/"false" strings are accepted.
func (p *Params) Bool(name string) bool {
	v, ok := p.lookup(name)
	if !ok || v == nil {
		return false
	}

	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			p.fail(fmt.Errorf("%w: %s: %q is not a boolean", ErrInvalidParameter, name, b))
		}

		return parsed
	default:
		p.fail(fmt.Errorf("%w: %s: %T is not a boolean", ErrInvalidParameter, name, v))
		return false
	}
}

// JSON returns a structured value. Strings are parsed as JSON; an empty
// string yields nil.
func (p *Params) JSON(name string) any {
	v, ok := p.lookup(name)
	if !ok || v == nil {
		if p.required(name) {
			p.fail(fmt.Errorf("%w: %s", ErrMissingParameter, name))
		}

		return nil
	}

	s, isString := v.(string)
	if !isString {
		return v
	}

	if strings.TrimSpace(s) == "" {
		if p.required(name) {
			p.fail(fmt.Errorf("%w: %s", ErrMissingParameter, name))
		}

		return nil
	}

	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		p.fail(fmt.Errorf("%w: %s: not valid JSON: %w", ErrInvalidParameter, name, err))
		return nil
	}

	return out
}

// Object returns a JSON object value, or an empty map.
func (p *Params) Object(name string) map[string]any {
	v := p.JSON(name)
	if v == nil {
		return map[string]any{}
	}

	m, ok := v.(map[string]any)
	if !ok {
		p.fail(fmt.Errorf("%w: %s: expected an object, got %T", ErrInvalidParameter, name, v))
		return map[string]any{}
	}

	return m
}

// Strings returns a list. Arrays are used element-wise; strings are split
// on commas with blanks dropped.
func (p *Params) Strings(name string) []string {
	v, ok := p.lookup(name)
	if !ok || v == nil {
		if p.required(name) {
			p.fail(fmt.Errorf("%w: %s", ErrMissingParameter, name))
		}

		return nil
	}

	var out []string

	switch list := v.(type) {
	case []any:
		for _, el := range list {
			out = append(out, strings.TrimSpace(fmt.Sprint(el)))
		}
	case []string:
		out = append(out, list...)
	case string:
		for _, part := range strings.Split(list, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	default:
		p.fail(fmt.Errorf("%w: %s: expected a list, got %T", ErrInvalidParameter, name, v))
	}

	if len(out) == 0 && p.required(name) {
		p.fail(fmt.Errorf("%w: %s", ErrMissingParameter, name))
	}

	return out
}

// Timeout returns options.timeout (milliseconds) as a duration.
func (p *Params) Timeout() time.Duration {
	ms := p.Int("options.timeout")
	if ms <= 0 {
		return 0
	}

	return time.Duration(ms) * time.Millisecond
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}

		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case string:
		if strings.TrimSpace(n) == "" {
			return 0, nil
		}

		return strconv.Atoi(strings.TrimSpace(n))
	default:
		return 0, fmt.Errorf("%T is not a number", v)
	}
}
