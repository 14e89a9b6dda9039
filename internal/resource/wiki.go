package resource

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tonimelisma/feishu-go/internal/feishu"
	"github.com/tonimelisma/feishu-go/internal/node"
)

// wikiPageSize is the largest page the node listing accepts.
const wikiPageSize = 50

// Child-listing layouts.
const (
	structureFlat = "flat"
	structureTree = "tree"
)

func wikiOperations() []node.Operation {
	spaceID := required(str("space_id", "Space ID"))
	nodeToken := required(str("node_token", "Node Token"))

	endpoints := []endpoint{
		{
			name:    "spaceGet",
			display: "Get Space",
			method:  http.MethodGet,
			path:    "/open-apis/wiki/v2/spaces/{space_id}",
			query:   []string{"lang"},
			params:  []node.Param{spaceID, choice("lang", "Language", "zh", "zh", "en", "ja")},
		},
		{
			name:    "spaceSetting",
			display: "Update Space Settings",
			method:  http.MethodPut,
			path:    "/open-apis/wiki/v2/spaces/{space_id}/setting",
			fields:  []string{"create_setting", "security_setting", "comment_setting"},
			params: []node.Param{
				spaceID,
				choice("create_setting", "Who Can Create Top-Level Pages", "", "admin", "admin_and_member"),
				choice("security_setting", "Who Can Copy, Print and Export", "", "allow", "not_allow"),
				choice("comment_setting", "Who Can Comment", "", "allow", "not_allow"),
			},
		},
		{
			name:    "memberAdd",
			display: "Add Space Member",
			method:  http.MethodPost,
			path:    "/open-apis/wiki/v2/spaces/{space_id}/members",
			query:   []string{"need_notification"},
			fields:  []string{"member_type", "member_id", "member_role"},
			params: []node.Param{
				spaceID,
				choice("member_type", "Member Type", "openid", "openid", "userid", "unionid", "email", "openchat", "opendepartmentid"),
				required(str("member_id", "Member ID")),
				choice("member_role", "Role", "member", "member", "admin"),
				boolean("need_notification", "Notify", false),
			},
		},
		{
			name:    "membersList",
			display: "List Space Members",
			method:  http.MethodGet,
			path:    "/open-apis/wiki/v2/spaces/{space_id}/members",
			list:    &listing{itemsKey: "members", maxPage: wikiPageSize, defaultLimit: 50},
			params:  []node.Param{spaceID},
		},
		{
			name:    "nodeGet",
			display: "Get Node",
			method:  http.MethodGet,
			path:    "/open-apis/wiki/v2/spaces/get_node",
			query:   []string{"token", "obj_type"},
			params: []node.Param{
				required(str("token", "Token")),
				choice("obj_type", "Token Type", "wiki", "wiki", "doc", "docx", "sheet", "mindnote", "bitable", "file", "slides"),
			},
		},
		{
			name:    "nodeCreate",
			display: "Create Node",
			method:  http.MethodPost,
			path:    "/open-apis/wiki/v2/spaces/{space_id}/nodes",
			fields:  []string{"obj_type", "node_type", "parent_node_token", "origin_node_token", "title"},
			params: []node.Param{
				spaceID,
				choice("obj_type", "Document Type", "docx", "docx", "sheet", "mindnote", "bitable", "file", "slides"),
				choice("node_type", "Node Type", "origin", "origin", "shortcut"),
				str("parent_node_token", "Parent Node Token"),
				describe(str("origin_node_token", "Origin Node Token"), "Required for shortcuts."),
				str("title", "Title"),
			},
		},
		{
			name:    "nodeCopy",
			display: "Copy Node",
			method:  http.MethodPost,
			path:    "/open-apis/wiki/v2/spaces/{space_id}/nodes/{node_token}/copy",
			fields:  []string{"target_parent_token", "target_space_id", "title"},
			params: []node.Param{
				spaceID,
				nodeToken,
				str("target_parent_token", "Target Parent Token"),
				str("target_space_id", "Target Space ID"),
				str("title", "Title"),
			},
		},
		{
			name:    "nodeMove",
			display: "Move Node",
			method:  http.MethodPost,
			path:    "/open-apis/wiki/v2/spaces/{space_id}/nodes/{node_token}/move",
			fields:  []string{"target_parent_token", "target_space_id"},
			params: []node.Param{
				spaceID,
				nodeToken,
				str("target_parent_token", "Target Parent Token"),
				str("target_space_id", "Target Space ID"),
			},
		},
		{
			name:    "nodeUpdateTitle",
			display: "Rename Node",
			method:  http.MethodPost,
			path:    "/open-apis/wiki/v2/spaces/{space_id}/nodes/{node_token}/update_title",
			fields:  []string{"title"},
			params:  []node.Param{spaceID, nodeToken, required(str("title", "Title"))},
		},
	}

	ops := []node.Operation{
		{
			Key:         node.Key{Resource: node.ResourceWiki, Operation: "nodeChildren"},
			DisplayName: "List Child Nodes",
			Params: append([]node.Param{
				spaceID,
				str("parent_node_token", "Parent Node Token"),
				boolean("recursive", "Recursive", false),
				describe(num("recursiveDepth", "Depth", 2), "Levels to descend; 0 is unlimited."),
				choice("dataStructure", "Layout", structureFlat, structureFlat, structureTree),
			}, append(pagingParams(50), optionsParam())...),
			Handler: listWikiChildren,
		},
		{
			Key:         node.Key{Resource: node.ResourceWiki, Operation: "nodeCreateHierarchy"},
			DisplayName: "Create Node Path",
			Description: "Creates each missing level of a title path and returns the last node.",
			Params: []node.Param{
				spaceID,
				choice("obj_type", "Document Type", "docx", "docx", "sheet", "mindnote", "bitable", "file", "slides"),
				str("parent_node_token", "Parent Node Token"),
				required(describe(jsonParam("breadcrumbItems", "Title Path"), `["Level 1","Level 2"]`)),
				choice("intermediate_obj_type", "Intermediate Document Type", "docx", "docx", "sheet", "mindnote", "bitable"),
				boolean("skipExisting", "Reuse Existing Levels", true),
				optionsParam(),
			},
			Handler: createWikiHierarchy,
		},
	}

	for _, e := range endpoints {
		ops = append(ops, e.operation(node.ResourceWiki))
	}

	return ops
}

// wikiLister pages through a space's node listing.
type wikiLister struct {
	c       *node.Call
	timeout time.Duration
}

func (w wikiLister) page(ctx context.Context, spaceID, parent, pageToken string, size int) ([]any, string, bool, error) {
	q := url.Values{"page_size": {strconv.Itoa(size)}}
	if parent != "" {
		q.Set("parent_node_token", parent)
	}

	if pageToken != "" {
		q.Set("page_token", pageToken)
	}

	var resp struct {
		Items     []any  `json:"items"`
		PageToken string `json:"page_token"`
		HasMore   bool   `json:"has_more"`
	}

	err := w.c.API.Decode(ctx, &feishu.Request{
		Method:  http.MethodGet,
		Path:    "/open-apis/wiki/v2/spaces/" + url.PathEscape(spaceID) + "/nodes",
		Query:   q,
		Timeout: w.timeout,
	}, &resp)
	if err != nil {
		return nil, "", false, err
	}

	return resp.Items, resp.PageToken, resp.HasMore, nil
}

// all returns every child of parent.
func (w wikiLister) all(ctx context.Context, spaceID, parent string) ([]any, error) {
	var out []any

	token := ""

	for {
		items, next, more, err := w.page(ctx, spaceID, parent, token, wikiPageSize)
		if err != nil {
			return nil, err
		}

		out = append(out, items...)

		if !more || next == "" {
			return out, nil
		}

		token = next
	}
}

// list honours returnAll and limit for the top level.
func (w wikiLister) list(ctx context.Context, spaceID, parent string, returnAll bool, limit int) ([]any, error) {
	if returnAll {
		return w.all(ctx, spaceID, parent)
	}

	if limit <= 0 {
		limit = wikiPageSize
	}

	items, _, _, err := w.page(ctx, spaceID, parent, "", limit)

	return items, err
}

type childWalk struct {
	lister   wikiLister
	maxDepth int // 0 is unlimited
	tree     bool
}

// expand annotates nodes with their title path and, when descending,
// all of their children. In flat layout children follow their parent.
func (cw childWalk) expand(ctx context.Context, nodes []any, path []string, depth int, recursive bool) ([]any, error) {
	var out []any

	for _, raw := range nodes {
		n, ok := raw.(map[string]any)
		if !ok {
			out = append(out, raw)
			continue
		}

		title, _ := n["title"].(string)
		crumbs := append(append([]string{}, path...), title)
		n["breadcrumbItems"] = crumbs

		out = append(out, n)

		hasChild, _ := n["has_child"].(bool)
		if !recursive || !hasChild || (cw.maxDepth != 0 && depth >= cw.maxDepth) {
			if cw.tree {
				n["children"] = []any{}
			}

			continue
		}

		space, _ := n["space_id"].(string)
		token, _ := n["node_token"].(string)

		children, err := cw.lister.all(ctx, space, token)
		if err != nil {
			return nil, fmt.Errorf("resource: listing children of %s: %w", token, err)
		}

		children, err = cw.expand(ctx, children, crumbs, depth+1, recursive)
		if err != nil {
			return nil, err
		}

		if cw.tree {
			if children == nil {
				children = []any{}
			}

			n["children"] = children
		} else {
			out = append(out, children...)
		}
	}

	return out, nil
}

func listWikiChildren(ctx context.Context, c *node.Call) (node.Result, error) {
	p := c.Params

	spaceID := p.String("space_id")
	parent := p.String("parent_node_token")
	recursive := p.Bool("recursive")
	depth := p.Int("recursiveDepth")
	layout := p.String("dataStructure")
	returnAll := p.Bool("returnAll")
	limit := p.Int("limit")

	if err := p.Err(); err != nil {
		return nil, err
	}

	if depth < 0 {
		return nil, fmt.Errorf("%w: recursiveDepth must not be negative", node.ErrInvalidParameter)
	}

	lister := wikiLister{c: c, timeout: p.Timeout()}

	top, err := lister.list(ctx, spaceID, parent, returnAll, limit)
	if err != nil {
		return nil, err
	}

	walk := childWalk{
		lister:   lister,
		maxDepth: depth,
		tree:     recursive && layout == structureTree,
	}

	nodes, err := walk.expand(ctx, top, nil, 1, recursive)
	if err != nil {
		return nil, err
	}

	if nodes == nil {
		nodes = []any{}
	}

	return node.JSON(nodes), nil
}

func createWikiHierarchy(ctx context.Context, c *node.Call) (node.Result, error) {
	p := c.Params

	spaceID := p.String("space_id")
	objType := p.String("obj_type")
	midType := p.String("intermediate_obj_type")
	parent := p.String("parent_node_token")
	skipExisting := p.Bool("skipExisting")

	titles, err := idList(p, "breadcrumbItems", 0)
	if err != nil {
		return nil, err
	}

	if err := p.Err(); err != nil {
		return nil, err
	}

	if len(titles) == 0 {
		return nil, fmt.Errorf("%w: breadcrumbItems must be a non-empty list", node.ErrInvalidParameter)
	}

	lister := wikiLister{c: c, timeout: p.Timeout()}
	created := make([]map[string]any, 0, len(titles))

	for i, title := range titles {
		kind := midType
		if i == len(titles)-1 {
			kind = objType
		}

		if skipExisting {
			existing, err := findChild(ctx, lister, spaceID, parent, title)
			if err != nil {
				return nil, err
			}

			if existing != nil {
				parent, _ = existing["node_token"].(string)
				created = append(created, hierarchyLevel(i, title, existing, true))

				continue
			}
		}

		body := map[string]any{"obj_type": kind, "node_type": "origin", "title": title}
		if parent != "" {
			body["parent_node_token"] = parent
		}

		var resp struct {
			Node map[string]any `json:"node"`
		}

		err := c.API.Decode(ctx, &feishu.Request{
			Method:  http.MethodPost,
			Path:    "/open-apis/wiki/v2/spaces/" + url.PathEscape(spaceID) + "/nodes",
			Body:    body,
			Timeout: p.Timeout(),
		}, &resp)
		if err != nil {
			return nil, fmt.Errorf("resource: creating level %d %q: %w", i+1, title, err)
		}

		if resp.Node == nil {
			return nil, fmt.Errorf("resource: creating level %d %q: response has no node", i+1, title)
		}

		parent, _ = resp.Node["node_token"].(string)
		created = append(created, hierarchyLevel(i, title, resp.Node, false))
	}

	last := created[len(created)-1]

	return node.JSON(map[string]any{
		"space_id":        spaceID,
		"breadcrumbItems": titles,
		"createdNodes":    created,
		"finalNode":       last,
		"node_token":      last["node_token"],
		"obj_token":       last["obj_token"],
	}), nil
}

func findChild(ctx context.Context, lister wikiLister, spaceID, parent, title string) (map[string]any, error) {
	children, err := lister.all(ctx, spaceID, parent)
	if err != nil {
		return nil, fmt.Errorf("resource: listing children of %q: %w", parent, err)
	}

	for _, raw := range children {
		if n, ok := raw.(map[string]any); ok && n["title"] == title {
			return n, nil
		}
	}

	return nil, nil
}

func hierarchyLevel(i int, title string, n map[string]any, skipped bool) map[string]any {
	return map[string]any{
		"level":      i + 1,
		"title":      title,
		"node_token": n["node_token"],
		"obj_token":  n["obj_token"],
		"skipped":    skipped,
	}
}
