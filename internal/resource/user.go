package resource

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tonimelisma/feishu-go/internal/feishu"
	"github.com/tonimelisma/feishu-go/internal/node"
)

// batchGetMaxUsers is the platform's limit per users/batch call.
const batchGetMaxUsers = 50

func userOperations() []node.Operation {
	get := endpoint{
		name:    "get",
		display: "Get User",
		method:  http.MethodGet,
		path:    "/open-apis/contact/v3/users/{user_id}",
		query:   []string{"user_id_type", "department_id_type"},
		params: []node.Param{
			required(str("user_id", "User ID")),
			userIDType(),
			departmentIDType(),
		},
	}

	return []node.Operation{
		get.operation(node.ResourceUser),
		{
			Key:         node.Key{Resource: node.ResourceUser, Operation: "batchGet"},
			DisplayName: "Get Users",
			Params: []node.Param{
				required(describe(str("user_ids", "User IDs"), "Comma-separated or a JSON array, at most 50.")),
				userIDType(),
				departmentIDType(),
				optionsParam(),
			},
			Handler: batchGetUsers,
		},
		{
			Key:         node.Key{Resource: node.ResourceUser, Operation: "findByDepartment"},
			DisplayName: "List Department Users",
			Params: append([]node.Param{
				required(describe(str("department_id", "Department ID"), "0 is the root department.")),
				departmentIDType(),
				userIDType(),
			}, append(pagingParams(50), optionsParam())...),
			Handler: findUsersByDepartment,
		},
	}
}

func batchGetUsers(ctx context.Context, c *node.Call) (node.Result, error) {
	p := c.Params

	ids, err := idList(p, "user_ids", batchGetMaxUsers)
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: user_ids", node.ErrMissingParameter)
	}

	q := queryFrom(p, "user_id_type", "department_id_type")
	q["user_ids"] = ids

	if err := p.Err(); err != nil {
		return nil, err
	}

	resp, err := c.API.Send(ctx, &feishu.Request{
		Method:  http.MethodGet,
		Path:    "/open-apis/contact/v3/users/batch",
		Query:   q,
		Timeout: p.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	return node.JSON(resp), nil
}

func findUsersByDepartment(ctx context.Context, c *node.Call) (node.Result, error) {
	p := c.Params

	deptID := p.String("department_id")
	deptIDType := p.String("department_id_type")

	// The root department only exists as department_id 0.
	if deptID == "0" && deptIDType == "open_department_id" {
		deptIDType = "department_id"
	}

	if err := p.Err(); err != nil {
		return nil, err
	}

	items, err := paginate(ctx, c, &feishu.Request{
		Method: http.MethodGet,
		Path:   "/open-apis/contact/v3/users/find_by_department",
		Query: url.Values{
			"department_id":      {deptID},
			"department_id_type": {deptIDType},
			"user_id_type":       {p.String("user_id_type")},
		},
		Timeout: p.Timeout(),
	}, listing{itemsKey: "items", maxPage: 50})
	if err != nil {
		return nil, err
	}

	return node.JSON(items), nil
}
