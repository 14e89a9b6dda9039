package resource

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"

	"github.com/tonimelisma/feishu-go/internal/feishu"
	"github.com/tonimelisma/feishu-go/internal/node"
)

// maxBatchRecords is the platform's limit on records per batch_create.
const maxBatchRecords = 500

var (
	baseURLToken = regexp.MustCompile(`/base/(.*?)(\?|$)`)
	wikiURLToken = regexp.MustCompile(`/wiki/(.*?)(\?|$)`)
	tableQuery   = regexp.MustCompile(`table=(.*?)(&|$)`)
	viewQuery    = regexp.MustCompile(`view=(.*?)(&|$)`)
)

func bitableOperations() []node.Operation {
	appToken := required(str("app_token", "App Token"))
	tableID := required(str("table_id", "Table ID"))

	endpoints := []endpoint{
		{
			name:    "create",
			display: "Create Base",
			method:  http.MethodPost,
			path:    "/open-apis/bitable/v1/apps",
			fields:  []string{"name", "folder_token", "time_zone"},
			params: []node.Param{
				str("name", "Name"),
				str("folder_token", "Folder Token"),
				str("time_zone", "Time Zone"),
			},
		},
		{
			name:    "copy",
			display: "Copy Base",
			method:  http.MethodPost,
			path:    "/open-apis/bitable/v1/apps/{app_token}/copy",
			fields:  []string{"name", "folder_token", "without_content", "time_zone"},
			params: []node.Param{
				appToken,
				str("name", "Name"),
				str("folder_token", "Folder Token"),
				boolean("without_content", "Structure Only", false),
				str("time_zone", "Time Zone"),
			},
		},
		{
			name:    "getMetadata",
			display: "Get Base Metadata",
			method:  http.MethodGet,
			path:    "/open-apis/bitable/v1/apps/{app_token}",
			params:  []node.Param{appToken},
		},
		{
			name:    "updateMetadata",
			display: "Update Base Metadata",
			method:  http.MethodPut,
			path:    "/open-apis/bitable/v1/apps/{app_token}",
			fields:  []string{"name", "enable_advanced_permissions"},
			params: []node.Param{
				appToken,
				str("name", "Name"),
				boolean("enable_advanced_permissions", "Advanced Permissions", false),
			},
		},
		{
			name:    "tableAdd",
			display: "Add Table",
			method:  http.MethodPost,
			path:    "/open-apis/bitable/v1/apps/{app_token}/tables",
			extra:   "body",
			params: []node.Param{
				appToken,
				required(describe(jsonParam("body", "Table"), `Request body, e.g. {"table":{"name":"Tasks"}}.`)),
			},
		},
		{
			name:    "tableList",
			display: "List Tables",
			method:  http.MethodGet,
			path:    "/open-apis/bitable/v1/apps/{app_token}/tables",
			query:   []string{"page_token", "page_size"},
			params: []node.Param{
				appToken,
				str("page_token", "Page Token"),
				num("page_size", "Page Size", 20),
			},
		},
		{
			name:    "fieldList",
			display: "List Fields",
			method:  http.MethodGet,
			path:    "/open-apis/bitable/v1/apps/{app_token}/tables/{table_id}/fields",
			query:   []string{"view_id", "text_field_as_array", "page_token", "page_size"},
			params: []node.Param{
				appToken,
				tableID,
				str("view_id", "View ID"),
				boolean("text_field_as_array", "Text Field as Array", false),
				str("page_token", "Page Token"),
				num("page_size", "Page Size", 20),
			},
		},
		{
			name:    "recordSearch",
			display: "Search Records",
			method:  http.MethodPost,
			path:    "/open-apis/bitable/v1/apps/{app_token}/tables/{table_id}/records/search",
			query:   []string{"user_id_type"},
			extra:   "body",
			list:    &listing{itemsKey: "items", maxPage: 500, defaultLimit: 50},
			params: []node.Param{
				appToken,
				tableID,
				userIDType(),
				describe(jsonParam("body", "Search"), "view_id, field_names, sort and filter."),
			},
		},
		{
			name:    "viewAdd",
			display: "Add View",
			method:  http.MethodPost,
			path:    "/open-apis/bitable/v1/apps/{app_token}/tables/{table_id}/views",
			fields:  []string{"view_name", "view_type"},
			params: []node.Param{
				appToken,
				tableID,
				required(str("view_name", "View Name")),
				choice("view_type", "View Type", "grid", "grid", "kanban", "gallery", "gantt", "form"),
			},
		},
		{
			name:    "viewGet",
			display: "Get View",
			method:  http.MethodGet,
			path:    "/open-apis/bitable/v1/apps/{app_token}/tables/{table_id}/views/{view_id}",
			params: []node.Param{
				appToken,
				tableID,
				required(str("view_id", "View ID")),
			},
		},
	}

	ops := []node.Operation{
		{
			Key:         node.Key{Resource: node.ResourceBitable, Operation: "parseUrl"},
			DisplayName: "Parse Base URL",
			Description: "Extracts app_token, table_id and view_id from a base or wiki link.",
			Params:      []node.Param{required(str("url", "URL")), optionsParam()},
			Handler:     parseBitableURL,
		},
		{
			Key:         node.Key{Resource: node.ResourceBitable, Operation: "exportData"},
			DisplayName: "Export Items to Table",
			Description: "Writes every input item as a record. Runs once, on the first row.",
			Params: []node.Param{
				appToken,
				tableID,
				boolean("autoMapping", "Map Fields by Name", true),
				describe(jsonParam("fields", "Field Mapping"),
					`Used when autoMapping is off: {"item_key":"Field Name"} or [{"field":"item_key","feishuField":"Field Name"}].`),
				optionsParam(),
			},
			Handler: exportToBitable,
		},
	}

	for _, e := range endpoints {
		ops = append(ops, e.operation(node.ResourceBitable))
	}

	return ops
}

func parseBitableURL(ctx context.Context, c *node.Call) (node.Result, error) {
	raw := c.Params.String("url")
	if err := c.Params.Err(); err != nil {
		return nil, err
	}

	out := map[string]any{"app_token": nil, "table_id": nil, "view_id": nil}

	if m := baseURLToken.FindStringSubmatch(raw); m != nil {
		out["app_token"] = m[1]
	} else if m := wikiURLToken.FindStringSubmatch(raw); m != nil {
		var resp struct {
			Node struct {
				ObjToken string `json:"obj_token"`
			} `json:"node"`
		}

		err := c.API.Decode(ctx, &feishu.Request{
			Method:  http.MethodGet,
			Path:    "/open-apis/wiki/v2/spaces/get_node",
			Query:   url.Values{"token": {m[1]}, "obj_type": {"wiki"}},
			Timeout: c.Params.Timeout(),
		}, &resp)
		if err != nil {
			return nil, fmt.Errorf("resource: resolving wiki node %s: %w", m[1], err)
		}

		if resp.Node.ObjToken != "" {
			out["app_token"] = resp.Node.ObjToken
		}
	}

	if m := tableQuery.FindStringSubmatch(raw); m != nil {
		out["table_id"] = m[1]
	}

	if m := viewQuery.FindStringSubmatch(raw); m != nil {
		out["view_id"] = m[1]
	}

	return node.JSON(out), nil
}

// exportToBitable writes all input items at once, so only row 0 acts.
func exportToBitable(ctx context.Context, c *node.Call) (node.Result, error) {
	if c.Row > 0 {
		return node.None{}, nil
	}

	p := c.Params

	path, err := expandPath(p, "/open-apis/bitable/v1/apps/{app_token}/tables/{table_id}/records/batch_create")
	if err != nil {
		return nil, err
	}

	if len(c.Items) == 0 {
		return node.JSON(map[string]any{}), nil
	}

	mapping, err := fieldMapping(p, c.Items[0].JSON)
	if err != nil {
		return nil, err
	}

	records := make([]any, 0, len(c.Items))

	for _, it := range c.Items {
		fields := make(map[string]any, len(mapping))
		for src, dst := range mapping {
			fields[dst] = it.JSON[src]
		}

		records = append(records, map[string]any{"fields": fields})
	}

	var out []node.Item

	for start := 0; start < len(records); start += maxBatchRecords {
		end := min(start+maxBatchRecords, len(records))

		resp, err := c.API.Send(ctx, &feishu.Request{
			Method:  http.MethodPost,
			Path:    path,
			Body:    map[string]any{"records": records[start:end]},
			Timeout: p.Timeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("resource: writing records %d-%d: %w", start, end-1, err)
		}

		out = append(out, node.ItemFromJSON(resp))
	}

	return node.Items(out...), nil
}

// fieldMapping resolves item keys to table field names. With autoMapping
// every key of the first item maps to itself.
func fieldMapping(p *node.Params, first map[string]any) (map[string]string, error) {
	if p.Bool("autoMapping") {
		m := make(map[string]string, len(first))
		for k := range first {
			m[k] = k
		}

		return m, p.Err()
	}

	m := map[string]string{}

	switch v := p.JSON("fields").(type) {
	case map[string]any:
		if values, ok := v["values"].([]any); ok {
			return mappingFromList(values)
		}

		for k, dst := range v {
			m[k] = fmt.Sprint(dst)
		}
	case []any:
		return mappingFromList(v)
	case nil:
	default:
		return nil, fmt.Errorf("%w: fields: expected an object or a list, got %T", node.ErrInvalidParameter, v)
	}

	if err := p.Err(); err != nil {
		return nil, err
	}

	if len(m) == 0 {
		return nil, fmt.Errorf("%w: fields (autoMapping is off)", node.ErrMissingParameter)
	}

	return m, nil
}

func mappingFromList(list []any) (map[string]string, error) {
	m := make(map[string]string, len(list))

	for i, el := range list {
		entry, ok := el.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: fields[%d]: expected an object", node.ErrInvalidParameter, i)
		}

		src, _ := entry["field"].(string)
		dst, _ := entry["feishuField"].(string)

		if src == "" || dst == "" {
			return nil, fmt.Errorf("%w: fields[%d]: field and feishuField are required", node.ErrInvalidParameter, i)
		}

		m[src] = dst
	}

	return m, nil
}
