package resource

import (
	"context"
	"net/http"

	"github.com/tonimelisma/feishu-go/internal/feishu"
	"github.com/tonimelisma/feishu-go/internal/node"
)

func spreadsheetOperations() []node.Operation {
	token := required(str("spreadsheet_token", "Spreadsheet Token"))
	sheetID := required(str("sheet_id", "Sheet ID"))
	rng := required(describe(str("range", "Range"), "<sheetId>!A1:B2"))
	dimension := choice("major_dimension", "Dimension", "ROWS", "ROWS", "COLUMNS")
	startIndex := required(num("start_index", "Start Index", nil))
	endIndex := required(num("end_index", "End Index", nil))

	// dimensionRange is the v2 dimension object shared by several calls.
	dimensionRange := func(p *node.Params) map[string]any {
		return map[string]any{
			"sheetId":        p.String("sheet_id"),
			"majorDimension": p.String("major_dimension"),
			"startIndex":     p.Int("start_index"),
			"endIndex":       p.Int("end_index"),
		}
	}

	valueRange := func(p *node.Params, _ map[string]any) (any, error) {
		return map[string]any{
			"valueRange": map[string]any{"range": p.String("range"), "values": p.JSON("values")},
		}, nil
	}

	endpoints := []endpoint{
		{
			name:    "create",
			display: "Create Spreadsheet",
			method:  http.MethodPost,
			path:    "/open-apis/sheets/v3/spreadsheets",
			fields:  []string{"title", "folder_token"},
			params: []node.Param{
				str("title", "Title"),
				str("folder_token", "Folder Token"),
			},
		},
		{
			name:    "addSheet",
			display: "Add Sheet",
			method:  http.MethodPost,
			path:    "/open-apis/sheets/v2/spreadsheets/{spreadsheet_token}/sheets_batch_update",
			params: []node.Param{
				token,
				required(str("title", "Title")),
				num("index", "Position", 0),
			},
			body: func(p *node.Params, _ map[string]any) (any, error) {
				props := map[string]any{"title": p.String("title"), "index": p.Int("index")}
				return batchUpdate(map[string]any{"addSheet": map[string]any{"properties": props}}), nil
			},
		},
		{
			name:    "deleteSheet",
			display: "Delete Sheet",
			method:  http.MethodPost,
			path:    "/open-apis/sheets/v2/spreadsheets/{spreadsheet_token}/sheets_batch_update",
			params:  []node.Param{token, sheetID},
			body: func(p *node.Params, _ map[string]any) (any, error) {
				return batchUpdate(map[string]any{"deleteSheet": map[string]any{"sheetId": p.String("sheet_id")}}), nil
			},
		},
		{
			name:    "addDimension",
			display: "Add Rows or Columns",
			method:  http.MethodPost,
			path:    "/open-apis/sheets/v2/spreadsheets/{spreadsheet_token}/dimension_range",
			params: []node.Param{
				token,
				sheetID,
				dimension,
				required(describe(num("length", "Count", nil), "At most 5000.")),
			},
			body: func(p *node.Params, _ map[string]any) (any, error) {
				return map[string]any{"dimension": map[string]any{
					"sheetId":        p.String("sheet_id"),
					"majorDimension": p.String("major_dimension"),
					"length":         p.Int("length"),
				}}, nil
			},
		},
		{
			name:    "insertDimension",
			display: "Insert Rows or Columns",
			method:  http.MethodPost,
			path:    "/open-apis/sheets/v2/spreadsheets/{spreadsheet_token}/insert_dimension_range",
			params: []node.Param{
				token,
				sheetID,
				dimension,
				startIndex,
				endIndex,
				choice("inherit_style", "Inherit Style", "", "BEFORE", "AFTER"),
			},
			body: func(p *node.Params, _ map[string]any) (any, error) {
				body := map[string]any{"dimension": dimensionRange(p)}
				if s := p.String("inherit_style"); s != "" {
					body["inheritStyle"] = s
				}

				return body, nil
			},
		},
		{
			name:    "updateDimension",
			display: "Update Rows or Columns",
			method:  http.MethodPut,
			path:    "/open-apis/sheets/v2/spreadsheets/{spreadsheet_token}/dimension_range",
			params: []node.Param{
				token,
				sheetID,
				dimension,
				startIndex,
				endIndex,
				boolean("visible", "Visible", true),
				num("fixed_size", "Size", nil),
			},
			body: func(p *node.Params, _ map[string]any) (any, error) {
				props := map[string]any{"visible": p.Bool("visible")}
				if p.Value("fixed_size") != nil {
					props["fixedSize"] = p.Int("fixed_size")
				}

				return map[string]any{"dimension": dimensionRange(p), "dimensionProperties": props}, nil
			},
		},
		{
			name:    "moveDimension",
			display: "Move Rows or Columns",
			method:  http.MethodPost,
			path:    "/open-apis/sheets/v3/spreadsheets/{spreadsheet_token}/sheets/{sheet_id}/move_dimension",
			params: []node.Param{
				token,
				sheetID,
				dimension,
				startIndex,
				endIndex,
				required(num("destination_index", "Destination Index", nil)),
			},
			body: func(p *node.Params, _ map[string]any) (any, error) {
				return map[string]any{
					"source": map[string]any{
						"major_dimension": p.String("major_dimension"),
						"start_index":     p.Int("start_index"),
						"end_index":       p.Int("end_index"),
					},
					"destination_index": p.Int("destination_index"),
				}, nil
			},
		},
		{
			name:    "mergeCells",
			display: "Merge Cells",
			method:  http.MethodPost,
			path:    "/open-apis/sheets/v2/spreadsheets/{spreadsheet_token}/merge_cells",
			fields:  []string{"range", "mergeType"},
			params: []node.Param{
				token,
				rng,
				choice("mergeType", "Merge Type", "MERGE_ALL", "MERGE_ALL", "MERGE_ROWS", "MERGE_COLUMNS"),
			},
		},
		{
			name:    "unmergeCells",
			display: "Unmerge Cells",
			method:  http.MethodPost,
			path:    "/open-apis/sheets/v2/spreadsheets/{spreadsheet_token}/unmerge_cells",
			fields:  []string{"range"},
			params:  []node.Param{token, rng},
		},
		{
			name:    "replaceCells",
			display: "Find and Replace",
			method:  http.MethodPost,
			path:    "/open-apis/sheets/v3/spreadsheets/{spreadsheet_token}/sheets/{sheet_id}/replace",
			fields:  []string{"find", "replacement"},
			params: []node.Param{
				token,
				sheetID,
				rng,
				required(str("find", "Find")),
				str("replacement", "Replace With"),
				boolean("match_case", "Match Case", false),
				boolean("match_entire_cell", "Match Entire Cell", false),
				boolean("search_by_regex", "Regular Expression", false),
				boolean("include_formulas", "Search Formulas", false),
			},
			body: func(p *node.Params, body map[string]any) (any, error) {
				body["replacement"] = p.String("replacement")
				body["find_condition"] = map[string]any{
					"range":             p.String("range"),
					"match_case":        p.Bool("match_case"),
					"match_entire_cell": p.Bool("match_entire_cell"),
					"search_by_regex":   p.Bool("search_by_regex"),
					"include_formulas":  p.Bool("include_formulas"),
				}

				return body, nil
			},
		},
		{
			name:    "valuesRead",
			display: "Read Range",
			method:  http.MethodGet,
			path:    "/open-apis/sheets/v2/spreadsheets/{spreadsheet_token}/values/{range}",
			query:   []string{"valueRenderOption", "dateTimeRenderOption", "user_id_type"},
			params: []node.Param{
				token,
				rng,
				choice("valueRenderOption", "Value Render", "", "ToString", "FormattedValue", "Formula", "UnformattedValue"),
				choice("dateTimeRenderOption", "Date Render", "", "FormattedString"),
				choice("user_id_type", "User ID Type", "lark_id", "lark_id", "open_id", "union_id"),
			},
		},
		{
			name:    "valuesAppend",
			display: "Append Values",
			method:  http.MethodPost,
			path:    "/open-apis/sheets/v2/spreadsheets/{spreadsheet_token}/values_append",
			query:   []string{"insertDataOption"},
			params: []node.Param{
				token,
				rng,
				required(describe(jsonParam("values", "Values"), "Two-dimensional array of cell values.")),
				choice("insertDataOption", "When Rows Are Occupied", "OVERWRITE", "OVERWRITE", "INSERT_ROWS"),
			},
			body: valueRange,
		},
		{
			name:    "valuesPrepend",
			display: "Prepend Values",
			method:  http.MethodPost,
			path:    "/open-apis/sheets/v2/spreadsheets/{spreadsheet_token}/values_prepend",
			params: []node.Param{
				token,
				rng,
				required(describe(jsonParam("values", "Values"), "Two-dimensional array of cell values.")),
			},
			body: valueRange,
		},
	}

	ops := []node.Operation{{
		Key:         node.Key{Resource: node.ResourceSpreadsheet, Operation: "valuesImage"},
		DisplayName: "Write Image to Cell",
		Params: []node.Param{
			token,
			describe(required(str("range", "Cell")), "A single cell, <sheetId>!A1:A1."),
			binaryProperty("Input Binary Field"),
			required(str("name", "Image Name")),
			optionsParam(),
		},
		Handler: writeCellImage,
	}}

	for _, e := range endpoints {
		ops = append(ops, e.operation(node.ResourceSpreadsheet))
	}

	return ops
}

func batchUpdate(request map[string]any) map[string]any {
	return map[string]any{"requests": []any{request}}
}

// writeCellImage sends the image bytes as a JSON array of byte values, the
// encoding values_image expects.
func writeCellImage(ctx context.Context, c *node.Call) (node.Result, error) {
	b, err := inputBinary(c, "binaryPropertyName")
	if err != nil {
		return nil, err
	}

	p := c.Params

	path, err := expandPath(p, "/open-apis/sheets/v2/spreadsheets/{spreadsheet_token}/values_image")
	if err != nil {
		return nil, err
	}

	image := make([]int, len(b.Data))
	for i, v := range b.Data {
		image[i] = int(v)
	}

	body := map[string]any{
		"range": p.String("range"),
		"image": image,
		"name":  p.String("name"),
	}

	if err := p.Err(); err != nil {
		return nil, err
	}

	resp, err := c.API.Send(ctx, &feishu.Request{
		Method:  http.MethodPost,
		Path:    path,
		Body:    body,
		Timeout: p.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	return node.JSON(resp), nil
}
