package resource

import "github.com/tonimelisma/feishu-go/internal/node"

// Schema builders. They keep the catalog tables readable.

func str(name, display string) node.Param {
	return node.Param{Name: name, DisplayName: display, Type: node.TypeString}
}

func num(name, display string, def any) node.Param {
	return node.Param{Name: name, DisplayName: display, Type: node.TypeNumber, Default: def}
}

func boolean(name, display string, def bool) node.Param {
	return node.Param{Name: name, DisplayName: display, Type: node.TypeBoolean, Default: def}
}

func jsonParam(name, display string) node.Param {
	return node.Param{Name: name, DisplayName: display, Type: node.TypeJSON}
}

func choice(name, display, def string, values ...string) node.Param {
	opts := make([]node.Option, 0, len(values))
	for _, v := range values {
		opts = append(opts, node.Option{Name: v, Value: v})
	}

	p := node.Param{Name: name, DisplayName: display, Type: node.TypeOptions, Options: opts}
	if def != "" {
		p.Default = def
	}

	return p
}

func required(p node.Param) node.Param {
	p.Required = true
	return p
}

func describe(p node.Param, description string) node.Param {
	p.Description = description
	return p
}

func userIDType() node.Param {
	return choice("user_id_type", "User ID Type", "open_id", "open_id", "union_id", "user_id")
}

func memberIDType() node.Param {
	return choice("member_id_type", "Member ID Type", "open_id", "open_id", "union_id", "user_id", "app_id")
}

func departmentIDType() node.Param {
	return choice("department_id_type", "Department ID Type", "open_department_id", "open_department_id", "department_id")
}

func binaryProperty(display string) node.Param {
	p := str("binaryPropertyName", display)
	p.Default = node.DefaultBinaryProperty

	return p
}

func pagingParams(defaultLimit int) []node.Param {
	return []node.Param{
		boolean("returnAll", "Return All", false),
		num("limit", "Limit", defaultLimit),
	}
}

// optionsParam is the per-row options collection every operation accepts.
// extra adds operation-specific members.
func optionsParam(extra ...node.Param) node.Param {
	children := []node.Param{
		describe(num("timeout", "Timeout", nil), "Request timeout in milliseconds."),
		{
			Name:        "batching",
			DisplayName: "Batching",
			Type:        node.TypeCollection,
			Children: []node.Param{{
				Name:        "batch",
				DisplayName: "Batch",
				Type:        node.TypeCollection,
				Description: "Present on the first row to run rows concurrently, pausing between batches.",
				Children: []node.Param{
					num("batchSize", "Items per Batch", node.DefaultBatchSize),
					describe(num("batchInterval", "Batch Interval", node.DefaultBatchInterval), "Milliseconds between batches."),
				},
			}},
		},
	}

	return node.Param{
		Name:        "options",
		DisplayName: "Options",
		Type:        node.TypeCollection,
		Children:    append(children, extra...),
	}
}
