package resource

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/tonimelisma/feishu-go/internal/feishu"
	"github.com/tonimelisma/feishu-go/internal/node"
)

func ailyOperations() []node.Operation {
	appID := required(str("app_id", "Aily App ID"))
	skillID := required(str("skill_id", "Skill ID"))

	endpoints := []endpoint{
		{
			name:    "skillsList",
			display: "List Skills",
			method:  http.MethodGet,
			path:    "/open-apis/aily/v1/apps/{app_id}/skills",
			list:    &listing{itemsKey: "skills", maxPage: 100, defaultLimit: 20},
			params:  []node.Param{appID},
		},
		{
			name:    "skillGet",
			display: "Get Skill",
			method:  http.MethodGet,
			path:    "/open-apis/aily/v1/apps/{app_id}/skills/{skill_id}",
			params:  []node.Param{appID, skillID},
		},
		{
			name:    "skillStart",
			display: "Start Skill",
			method:  http.MethodPost,
			path:    "/open-apis/aily/v1/apps/{app_id}/skills/{skill_id}/start",
			params: []node.Param{
				appID,
				skillID,
				jsonParam("global_variable", "Global Variables"),
				str("input", "Input"),
			},
			body: skillStartBody,
		},
		{
			name:    "fileGet",
			display: "Get File",
			method:  http.MethodGet,
			path:    "/open-apis/aily/v1/files/{file_id}",
			params:  []node.Param{required(str("file_id", "File ID"))},
		},
	}

	ops := []node.Operation{{
		Key:         node.Key{Resource: node.ResourceAily, Operation: "fileUpload"},
		DisplayName: "Upload File",
		Params: []node.Param{
			binaryProperty("Input Binary Field"),
			optionsParam(str("file_name", "File Name")),
		},
		Handler: uploadAilyFile,
	}}

	for _, e := range endpoints {
		ops = append(ops, e.operation(node.ResourceAily))
	}

	return ops
}

// skillStartBody sends global_variable as an object when it parses, and
// as the raw string otherwise.
func skillStartBody(p *node.Params, body map[string]any) (any, error) {
	switch v := p.Value("global_variable").(type) {
	case string:
		if v != "" && v != "{}" {
			var parsed any
			if err := json.Unmarshal([]byte(v), &parsed); err == nil {
				body["global_variable"] = parsed
			} else {
				body["global_variable"] = v
			}
		}
	case map[string]any:
		if len(v) > 0 {
			body["global_variable"] = v
		}
	}

	if input := p.String("input"); input != "" {
		body["input"] = input
	}

	return body, nil
}

func uploadAilyFile(ctx context.Context, c *node.Call) (node.Result, error) {
	b, err := inputBinary(c, "binaryPropertyName")
	if err != nil {
		return nil, err
	}

	name := c.Params.String("options.file_name")
	if name == "" {
		name = b.FileName
	}

	if name == "" {
		name = "file"
	}

	if err := c.Params.Err(); err != nil {
		return nil, err
	}

	form := uploadForm(feishu.NewForm().Field("file_name", name), "file", b, name)

	resp, err := c.API.Send(ctx, &feishu.Request{
		Method:  http.MethodPost,
		Path:    "/open-apis/aily/v1/files",
		Form:    form,
		Timeout: c.Params.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	return node.JSON(resp), nil
}
