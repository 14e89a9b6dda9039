package node

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tonimelisma/feishu-go/internal/feishu"
)

// Resource groups operations by the API area they target.
type Resource string

const (
	ResourceAily        Resource = "aily"
	ResourceBitable     Resource = "bitable"
	ResourceCalendar    Resource = "calendar"
	ResourceChat        Resource = "chat"
	ResourceDoc         Resource = "doc"
	ResourceMessage     Resource = "message"
	ResourceSpace       Resource = "space"
	ResourceSpreadsheet Resource = "spreadsheet"
	ResourceTask        Resource = "task"
	ResourceUser        Resource = "user"
	ResourceWiki        Resource = "wiki"
)

// Key identifies an operation.
type Key struct {
	Resource  Resource
	Operation string
}

func (k Key) String() string {
	return string(k.Resource) + ":" + k.Operation
}

// ParseKey parses "resource:operation".
func ParseKey(s string) (Key, error) {
	res, op, ok := strings.Cut(s, ":")
	if !ok || res == "" || op == "" {
		return Key{}, fmt.Errorf("node: malformed operation key %q (want resource:operation)", s)
	}

	return Key{Resource: Resource(res), Operation: op}, nil
}

// API is the gateway surface handlers use. Satisfied by *feishu.Client.
type API interface {
	Send(ctx context.Context, req *feishu.Request) (any, error)
	Decode(ctx context.Context, req *feishu.Request, v any) error
	Download(ctx context.Context, req *feishu.Request) (*feishu.File, error)
}

// Host is the execution context supplied by the runtime that embeds the
// node.
type Host interface {
	// Items returns the input rows.
	Items() []Item
	// Parameter returns the row-scoped value of a top-level parameter.
	// ok is false when the workflow did not set it.
	Parameter(name string, row int) (value any, ok bool, err error)
	// ContinueOnFail reports whether row failures become error items.
	ContinueOnFail() bool
}

// Call is everything a handler sees for one row.
type Call struct {
	Row    int
	Items  []Item
	Params *Params
	API    API
	Logger *slog.Logger
}

// Item returns the row's own input item.
func (c *Call) Item() Item {
	return c.Items[c.Row]
}

// Handler executes an operation for one row.
type Handler func(ctx context.Context, c *Call) (Result, error)

// Operation is a declarative parameter schema plus its handler.
type Operation struct {
	Key         Key
	DisplayName string
	Description string
	Params      []Param
	Handler     Handler
	// Aliases are older operation values, such as "wiki:spaces:node:info",
	// that resolve to this operation.
	Aliases []string
}
