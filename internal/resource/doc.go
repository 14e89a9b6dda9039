package resource

import (
	"net/http"

	"github.com/tonimelisma/feishu-go/internal/node"
)

func docOperations() []node.Operation {
	endpoints := []endpoint{
		{
			name:    "getContent",
			display: "Get Document Content",
			method:  http.MethodGet,
			path:    "/open-apis/docs/v1/content",
			query:   []string{"doc_token", "doc_type", "content_type", "lang"},
			params: []node.Param{
				required(str("doc_token", "Document Token")),
				choice("doc_type", "Document Type", "docx", "docx"),
				choice("content_type", "Content Type", "markdown", "markdown"),
				choice("lang", "Mention Language", "zh", "zh", "en", "ja"),
			},
		},
		{
			name:    "getAllBlocks",
			display: "Get Document Blocks",
			method:  http.MethodGet,
			path:    "/open-apis/docx/v1/documents/{document_id}/blocks",
			query:   []string{"page_size", "page_token", "document_revision_id", "user_id_type"},
			params: []node.Param{
				required(str("document_id", "Document ID")),
				num("page_size", "Page Size", 500),
				str("page_token", "Page Token"),
				describe(num("document_revision_id", "Revision", -1), "-1 reads the latest revision."),
				userIDType(),
			},
		},
		{
			name:    "blockConvert",
			display: "Convert to Blocks",
			method:  http.MethodPost,
			path:    "/open-apis/docx/v1/documents/blocks/convert",
			query:   []string{"user_id_type"},
			fields:  []string{"content_type", "content"},
			params: []node.Param{
				choice("content_type", "Content Type", "markdown", "markdown", "html"),
				required(str("content", "Content")),
				userIDType(),
			},
		},
	}

	ops := make([]node.Operation, 0, len(endpoints))
	for _, e := range endpoints {
		ops = append(ops, e.operation(node.ResourceDoc))
	}

	return ops
}
