// Package resource holds the operation catalog: one declarative entry per
// platform endpoint, grouped by resource. Most entries are table-driven
// endpoints; operations with multi-step flows have their own handlers.
package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/tonimelisma/feishu-go/internal/feishu"
	"github.com/tonimelisma/feishu-go/internal/node"
)

// ErrNoBinary is returned when an upload finds no file on the input item.
var ErrNoBinary = errors.New("resource: no binary data on item")

// pathParam matches {name} placeholders in endpoint paths.
var pathParam = regexp.MustCompile(`\{([a-z_A-Z]+)\}`)

// endpoint describes an operation that maps parameters straight onto one
// request. Path placeholders, query names and body fields are all read
// from the row's parameters.
type endpoint struct {
	name        string
	display     string
	description string
	method      string
	path        string

	// query names parameters copied to the query string when set.
	query []string
	// fields names parameters copied to the JSON body when set.
	fields []string
	// extra names a JSON parameter whose object is merged into the body.
	extra string
	// body builds the JSON body when fields cannot express it. It runs
	// after fields and extra and may modify their result.
	body func(p *node.Params, body map[string]any) (any, error)

	// list makes the endpoint a paged listing.
	list *listing

	params []node.Param
}

// listing is the paging shape of a list endpoint.
type listing struct {
	itemsKey string
	maxPage  int
	// defaultLimit is the page size used without returnAll.
	defaultLimit int
}

func (e endpoint) operation(res node.Resource) node.Operation {
	params := slices.Clone(e.params)
	if e.list != nil {
		params = append(params, pagingParams(e.list.defaultLimit)...)
	}

	params = append(params, optionsParam())

	return node.Operation{
		Key:         node.Key{Resource: res, Operation: e.name},
		DisplayName: e.display,
		Description: e.description,
		Params:      params,
		Handler:     e.handle,
	}
}

func (e endpoint) handle(ctx context.Context, c *node.Call) (node.Result, error) {
	req, err := e.request(c.Params)
	if err != nil {
		return nil, err
	}

	if e.list != nil {
		items, err := paginate(ctx, c, req, *e.list)
		if err != nil {
			return nil, err
		}

		return node.JSON(items), nil
	}

	resp, err := c.API.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	return node.JSON(resp), nil
}

func (e endpoint) request(p *node.Params) (*feishu.Request, error) {
	path, err := expandPath(p, e.path)
	if err != nil {
		return nil, err
	}

	req := &feishu.Request{
		Method:  e.method,
		Path:    path,
		Query:   queryFrom(p, e.query...),
		Timeout: p.Timeout(),
	}

	if len(e.fields) > 0 || e.extra != "" || e.body != nil {
		body := fieldsFrom(p, e.fields...)

		if e.extra != "" {
			for k, v := range p.Object(e.extra) {
				body[k] = v
			}
		}

		req.Body = body

		if e.body != nil {
			if req.Body, err = e.body(p, body); err != nil {
				return nil, err
			}
		}
	}

	if err := p.Err(); err != nil {
		return nil, err
	}

	return req, nil
}

// expandPath substitutes {name} placeholders with escaped parameter values.
func expandPath(p *node.Params, path string) (string, error) {
	var missing string

	out := pathParam.ReplaceAllStringFunc(path, func(m string) string {
		name := m[1 : len(m)-1]

		v := p.String(name)
		if v == "" && missing == "" {
			missing = name
		}

		return url.PathEscape(v)
	})

	if missing != "" {
		return "", fmt.Errorf("%w: %s", node.ErrMissingParameter, missing)
	}

	return out, nil
}

// queryFrom copies non-empty parameters to a query string.
func queryFrom(p *node.Params, names ...string) url.Values {
	if len(names) == 0 {
		return nil
	}

	q := url.Values{}

	for _, name := range names {
		if v := p.String(name); v != "" {
			q.Set(name, v)
		}
	}

	return q
}

// fieldsFrom copies set parameters to a body map, keeping their types.
// Empty strings are omitted.
func fieldsFrom(p *node.Params, names ...string) map[string]any {
	body := make(map[string]any, len(names))

	for _, name := range names {
		v := p.Value(name)
		if v == nil {
			continue
		}

		if s, ok := v.(string); ok && s == "" {
			continue
		}

		body[name] = v
	}

	return body
}

// paginate follows page_token while has_more is set when returnAll is on,
// otherwise it fetches one page of limit items.
func paginate(ctx context.Context, c *node.Call, req *feishu.Request, l listing) ([]any, error) {
	returnAll := c.Params.Bool("returnAll")
	limit := c.Params.Int("limit")

	if err := c.Params.Err(); err != nil {
		return nil, err
	}

	pageSize := limit
	if returnAll || pageSize <= 0 {
		pageSize = l.maxPage
	}

	var all []any

	pageToken := ""

	for {
		q := url.Values{}
		for k, v := range req.Query {
			q[k] = v
		}

		q.Set("page_size", strconv.Itoa(pageSize))

		if pageToken != "" {
			q.Set("page_token", pageToken)
		}

		page := *req
		page.Query = q

		raw := map[string]any{}
		if err := c.API.Decode(ctx, &page, &raw); err != nil {
			return nil, err
		}

		if items, ok := raw[l.itemsKey].([]any); ok {
			all = append(all, items...)
		}

		hasMore, _ := raw["has_more"].(bool)
		next, _ := raw["page_token"].(string)

		if !returnAll || !hasMore || next == "" {
			break
		}

		pageToken = next

		c.Logger.Debug("fetching next page",
			slog.String("path", req.Path),
			slog.Int("items", len(all)),
		)
	}

	if all == nil {
		all = []any{}
	}

	return all, nil
}

// idList reads a list of IDs given as an array, a JSON array string or a
// comma-separated string, and enforces an upper bound.
func idList(p *node.Params, name string, most int) ([]string, error) {
	v := p.Value(name)

	if s, ok := v.(string); ok && strings.HasPrefix(strings.TrimSpace(s), "[") {
		ids := p.JSON(name)
		if err := p.Err(); err != nil {
			return nil, err
		}

		arr, _ := ids.([]any)
		out := make([]string, 0, len(arr))

		for _, id := range arr {
			if s := strings.TrimSpace(fmt.Sprint(id)); s != "" {
				out = append(out, s)
			}
		}

		return checkLen(name, out, most)
	}

	ids := p.Strings(name)
	if err := p.Err(); err != nil {
		return nil, err
	}

	return checkLen(name, ids, most)
}

func checkLen(name string, ids []string, most int) ([]string, error) {
	if most > 0 && len(ids) > most {
		return nil, fmt.Errorf("%w: %s has %d entries, at most %d allowed", node.ErrInvalidParameter, name, len(ids), most)
	}

	return ids, nil
}

// inputBinary returns the item's binary in the slot named by the
// parameter, defaulting to "data".
func inputBinary(c *node.Call, param string) (*node.Binary, error) {
	prop := c.Params.String(param)
	if prop == "" {
		prop = node.DefaultBinaryProperty
	}

	b := c.Item().Binary[prop]
	if b == nil || len(b.Data) == 0 {
		return nil, fmt.Errorf("%w: property %q on row %d", ErrNoBinary, prop, c.Row)
	}

	return b, nil
}

// downloadItem turns a downloaded file into an item carrying it in the
// configured binary slot. options.fileName and options.mimeType override
// what the response says.
func downloadItem(c *node.Call, f *feishu.File, fallbackName string, meta map[string]any) node.Item {
	name := strings.TrimSpace(c.Params.String("options.fileName"))
	if name == "" {
		name = f.FileName
	}

	if name == "" {
		name = fallbackName
	}

	mimeType := strings.TrimSpace(c.Params.String("options.mimeType"))
	if mimeType == "" {
		mimeType = f.ContentType
	}

	prop := c.Params.String("binaryPropertyName")
	if prop == "" {
		prop = node.DefaultBinaryProperty
	}

	bin := node.NewBinary(f.Data, name, mimeType)

	js := map[string]any{"fileName": bin.FileName, "mimeType": bin.MimeType}
	for k, v := range meta {
		js[k] = v
	}

	return node.Item{JSON: js, Binary: map[string]*node.Binary{prop: bin}}
}

// download fetches path and returns it as a single binary item.
func download(ctx context.Context, c *node.Call, path, fallbackName string, meta map[string]any) (node.Result, error) {
	f, err := c.API.Download(ctx, &feishu.Request{
		Method:  http.MethodGet,
		Path:    path,
		Timeout: c.Params.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	return node.Items(downloadItem(c, f, fallbackName, meta)), nil
}

// uploadForm attaches the item's binary to form under field.
func uploadForm(form *feishu.Form, field string, b *node.Binary, name string) *feishu.Form {
	if name == "" {
		name = b.FileName
	}

	return form.File(feishu.FormFile{
		Field:       field,
		FileName:    name,
		ContentType: b.MimeType,
		Data:        b.Data,
	})
}

// pathArg returns a required parameter escaped for use in a path.
func pathArg(p *node.Params, name string) string {
	return url.PathEscape(p.String(name))
}
