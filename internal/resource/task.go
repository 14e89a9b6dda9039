package resource

import (
	"net/http"

	"github.com/tonimelisma/feishu-go/internal/node"
)

func taskOperations() []node.Operation {
	endpoints := []endpoint{
		{
			name:    "create",
			display: "Create Task",
			method:  http.MethodPost,
			path:    "/open-apis/task/v2/tasks",
			query:   []string{"user_id_type"},
			fields:  []string{"summary", "description"},
			extra:   "body",
			params: []node.Param{
				required(str("summary", "Title")),
				str("description", "Description"),
				userIDType(),
				describe(jsonParam("body", "Additional Fields"), "due, members, tasklists and other task fields."),
			},
		},
		{
			name:    "delete",
			display: "Delete Task",
			method:  http.MethodDelete,
			path:    "/open-apis/task/v2/tasks/{task_guid}",
			params:  []node.Param{required(str("task_guid", "Task GUID"))},
		},
		{
			name:    "removeMembers",
			display: "Remove Task Members",
			method:  http.MethodPost,
			path:    "/open-apis/task/v2/tasks/{task_guid}/remove_members",
			query:   []string{"user_id_type"},
			params: []node.Param{
				required(str("task_guid", "Task GUID")),
				userIDType(),
				required(describe(jsonParam("members", "Members"), `[{"id":"ou_x","role":"assignee"}]`)),
			},
			body: func(p *node.Params, _ map[string]any) (any, error) {
				return map[string]any{"members": p.JSON("members")}, nil
			},
		},
	}

	ops := make([]node.Operation, 0, len(endpoints))
	for _, e := range endpoints {
		ops = append(ops, e.operation(node.ResourceTask))
	}

	return ops
}
