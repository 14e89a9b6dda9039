package host

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// ErrExpression wraps template parse and evaluation failures.
var ErrExpression = errors.New("host: expression error")

// exprTimeout bounds a single {{ }} evaluation.
const exprTimeout = time.Second

// Scope is what a template can see for one row.
type Scope struct {
	JSON   map[string]any
	Index  int
	Binary map[string]any
}

// segment is literal text or an expression.
type segment struct {
	text string
	expr bool
}

// parseTemplate splits the body of a "=..." template into segments.
func parseTemplate(body string) ([]segment, error) {
	var segs []segment

	for body != "" {
		start := strings.Index(body, "{{")
		if start < 0 {
			segs = append(segs, segment{text: body})
			break
		}

		if start > 0 {
			segs = append(segs, segment{text: body[:start]})
		}

		rest := body[start+2:]

		end := strings.Index(rest, "}}")
		if end < 0 {
			return nil, fmt.Errorf("%w: unclosed {{ in %q", ErrExpression, body)
		}

		code := strings.TrimSpace(rest[:end])
		if code == "" {
			return nil, fmt.Errorf("%w: empty {{ }}", ErrExpression)
		}

		segs = append(segs, segment{text: code, expr: true})
		body = rest[end+2:]
	}

	return segs, nil
}

// Evaluate resolves a template string. Strings without the leading "="
// are returned unchanged. A template that is exactly one {{ }} keeps the
// expression's type; anything else is concatenated into a string.
func Evaluate(s string, scope Scope) (any, error) {
	if !isTemplate(s) {
		return s, nil
	}

	segs, err := parseTemplate(s[1:])
	if err != nil {
		return nil, err
	}

	if len(segs) == 1 && segs[0].expr {
		return evalJS(segs[0].text, scope)
	}

	var b strings.Builder

	for _, seg := range segs {
		if !seg.expr {
			b.WriteString(seg.text)
			continue
		}

		v, err := evalJS(seg.text, scope)
		if err != nil {
			return nil, err
		}

		b.WriteString(stringify(v))
	}

	return b.String(), nil
}

// evalJS runs one expression in a fresh runtime. goja runtimes are not
// safe for concurrent use and parallel rows evaluate at the same time.
// goja wraps Go maps by reference, so the script sees copies of the row.
func evalJS(code string, scope Scope) (any, error) {
	vm := goja.New()

	row := cloneMap(scope.JSON)
	binary := cloneMap(scope.Binary)

	for name, v := range map[string]any{"$json": row, "$index": scope.Index, "$binary": binary} {
		if err := vm.Set(name, v); err != nil {
			return nil, fmt.Errorf("%w: setting %s: %w", ErrExpression, name, err)
		}
	}

	timer := time.AfterFunc(exprTimeout, func() {
		vm.Interrupt("timeout")
	})
	defer timer.Stop()

	result, err := vm.RunString("(function() {\n return " + code + "\n})()")
	if err != nil {
		return nil, fmt.Errorf("%w: {{ %s }}: %w", ErrExpression, code, err)
	}

	return result.Export(), nil
}

// cloneMap deep-copies the nested maps and slices of a decoded JSON value.
// A nil map becomes an empty one.
func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}

	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i, child := range x {
			out[i] = cloneValue(child)
		}

		return out
	default:
		return v
	}
}

// stringify formats an expression result for string interpolation.
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case map[string]any, []any:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}

		return string(data)
	default:
		return fmt.Sprint(x)
	}
}
