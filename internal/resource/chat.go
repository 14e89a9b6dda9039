package resource

import (
	"net/http"

	"github.com/tonimelisma/feishu-go/internal/node"
)

func idListBody(name string) func(p *node.Params, _ map[string]any) (any, error) {
	return func(p *node.Params, _ map[string]any) (any, error) {
		ids, err := idList(p, name, 0)
		if err != nil {
			return nil, err
		}

		return map[string]any{name: ids}, nil
	}
}

func chatOperations() []node.Operation {
	endpoints := []endpoint{
		{
			name:    "list",
			display: "List Chats",
			method:  http.MethodGet,
			path:    "/open-apis/im/v1/chats",
			query:   []string{"user_id_type", "sort_type"},
			list:    &listing{itemsKey: "items", maxPage: 100, defaultLimit: 20},
			params: []node.Param{
				userIDType(),
				choice("sort_type", "Sort", "ByCreateTimeAsc", "ByCreateTimeAsc", "ByActiveTimeDesc"),
			},
		},
		{
			name:    "search",
			display: "Search Chats",
			method:  http.MethodGet,
			path:    "/open-apis/im/v1/chats/search",
			query:   []string{"query", "user_id_type"},
			list:    &listing{itemsKey: "items", maxPage: 100, defaultLimit: 20},
			params: []node.Param{
				str("query", "Keyword"),
				userIDType(),
			},
		},
		{
			name:    "get",
			display: "Get Chat",
			method:  http.MethodGet,
			path:    "/open-apis/im/v1/chats/{chat_id}",
			query:   []string{"user_id_type"},
			params: []node.Param{
				required(str("chat_id", "Chat ID")),
				userIDType(),
			},
		},
		{
			name:    "addMembers",
			display: "Add Chat Members",
			method:  http.MethodPost,
			path:    "/open-apis/im/v1/chats/{chat_id}/members",
			query:   []string{"member_id_type", "succeed_type"},
			params: []node.Param{
				required(str("chat_id", "Chat ID")),
				required(str("id_list", "Member IDs")),
				memberIDType(),
				describe(num("succeed_type", "Partial Success", 0),
					"0: skip unavailable IDs, 1: add available IDs and report the rest, 2: fail on any unavailable ID."),
			},
			body: idListBody("id_list"),
		},
		{
			name:    "removeMembers",
			display: "Remove Chat Members",
			method:  http.MethodDelete,
			path:    "/open-apis/im/v1/chats/{chat_id}/members",
			query:   []string{"member_id_type"},
			params: []node.Param{
				required(str("chat_id", "Chat ID")),
				memberIDType(),
				required(str("id_list", "Member IDs")),
			},
			body: idListBody("id_list"),
		},
		{
			name:    "listMembers",
			display: "List Chat Members",
			method:  http.MethodGet,
			path:    "/open-apis/im/v1/chats/{chat_id}/members",
			query:   []string{"member_id_type"},
			list:    &listing{itemsKey: "items", maxPage: 100, defaultLimit: 20},
			params: []node.Param{
				required(str("chat_id", "Chat ID")),
				choice("member_id_type", "Member ID Type", "open_id", "open_id", "union_id", "user_id"),
			},
		},
		{
			name:    "deleteManagers",
			display: "Remove Chat Managers",
			method:  http.MethodPost,
			path:    "/open-apis/im/v1/chats/{chat_id}/managers/delete_managers",
			query:   []string{"member_id_type"},
			params: []node.Param{
				required(str("chat_id", "Chat ID")),
				required(str("manager_ids", "Manager IDs")),
				choice("member_id_type", "Member ID Type", "open_id", "open_id", "user_id", "app_id"),
			},
			body: idListBody("manager_ids"),
		},
	}

	ops := make([]node.Operation, 0, len(endpoints))
	for _, e := range endpoints {
		ops = append(ops, e.operation(node.ResourceChat))
	}

	return ops
}
