package resource

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/tonimelisma/feishu-go/internal/feishu"
	"github.com/tonimelisma/feishu-go/internal/node"
)

type staticToken string

func (t staticToken) Token(context.Context, string) (string, error) { return string(t), nil }

// recorded is one request as the fake platform saw it.
type recorded struct {
	Method string
	Path   string
	Query  url.Values
	Body   map[string]any
	Form   map[string]string
	Files  map[string][]byte
}

// platform is a scripted fake of the open API. Routes are keyed by
// "METHOD /path"; unrouted requests get a 404 envelope.
type platform struct {
	t      *testing.T
	mu     sync.Mutex
	routes map[string]http.HandlerFunc
	calls  []recorded
	srv    *httptest.Server
}

func newPlatform(t *testing.T) *platform {
	t.Helper()

	p := &platform{t: t, routes: map[string]http.HandlerFunc{}}
	p.srv = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.srv.Close)

	return p
}

// on answers with a data payload.
func (p *platform) on(method, path, data string) {
	p.handle(method, path, func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, data)
	})
}

func (p *platform) handle(method, path string, h http.HandlerFunc) {
	p.routes[method+" "+path] = h
}

func (p *platform) serve(w http.ResponseWriter, r *http.Request) {
	rec := recorded{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query()}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		require.NoError(p.t, r.ParseMultipartForm(32<<20))

		rec.Form = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			rec.Form[k] = v[0]
		}

		rec.Files = map[string][]byte{}
		for k, fhs := range r.MultipartForm.File {
			f, err := fhs[0].Open()
			require.NoError(p.t, err)

			data, _ := io.ReadAll(f)
			f.Close()

			rec.Files[k] = data
			rec.Form[k+".filename"] = fhs[0].Filename
		}
	} else if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			require.NoError(p.t, json.Unmarshal(data, &rec.Body), "body %s", data)
		}
	}

	p.mu.Lock()
	p.calls = append(p.calls, rec)
	p.mu.Unlock()

	if h, ok := p.routes[r.Method+" "+r.URL.Path]; ok {
		h(w, r)
		return
	}

	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"code":404,"msg":"no route ` + r.Method + " " + r.URL.Path + `"}`))
}

func (p *platform) requests() []recorded {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]recorded(nil), p.calls...)
}

func (p *platform) only() recorded {
	p.t.Helper()

	calls := p.requests()
	require.Len(p.t, calls, 1)

	return calls[0]
}

func writeEnvelope(w http.ResponseWriter, data string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"code":0,"msg":"success","data":` + data + `}`))
}

// host serves the same parameters to every row.
type host struct {
	items  []node.Item
	params map[string]any
}

func (h *host) Items() []node.Item { return h.items }

func (h *host) Parameter(name string, _ int) (any, bool, error) {
	v, ok := h.params[name]
	return v, ok, nil
}

func (h *host) ContinueOnFail() bool { return false }

func oneRow() []node.Item {
	return []node.Item{{JSON: map[string]any{}}}
}

// run executes key over items against the fake platform.
func run(t *testing.T, p *platform, key string, params map[string]any, items ...node.Item) (*node.Report, error) {
	t.Helper()

	reg, err := NewRegistry(Options{PartLimiter: rate.NewLimiter(rate.Inf, 1)})
	require.NoError(t, err)

	k, err := node.ParseKey(key)
	require.NoError(t, err)

	op, err := reg.Lookup(k)
	require.NoError(t, err)

	if len(items) == 0 {
		items = oneRow()
	}

	client := feishu.NewClient(feishu.AuthApp, p.srv.URL, nil, staticToken("t-1"), slog.Default())

	return node.NewDriver(slog.Default()).Run(context.Background(), node.Invocation{
		Operation: op,
		Host:      &host{items: items, params: params},
		API:       client,
	})
}

func mustRun(t *testing.T, p *platform, key string, params map[string]any, items ...node.Item) []node.Item {
	t.Helper()

	report, err := run(t, p, key, params, items...)
	require.NoError(t, err)
	require.Len(t, report.Outputs, 1)

	return report.Outputs[0]
}

func TestCatalog_Complete(t *testing.T) {
	reg, err := NewRegistry(Options{})
	require.NoError(t, err)

	want := map[node.Resource][]string{
		node.ResourceMessage: {"send", "reply", "edit", "cardUpdate", "cardDelayUpdate", "urgentApp", "batchSend",
			"batchProgress", "ephemeralSend", "imageUpload", "imageDownload", "fileUpload", "fileDownload", "eventDecrypt"},
		node.ResourceChat: {"list", "search", "get", "addMembers", "removeMembers", "listMembers", "deleteManagers"},
		node.ResourceBitable: {"create", "copy", "getMetadata", "updateMetadata", "parseUrl", "tableAdd", "tableList",
			"fieldList", "recordSearch", "viewAdd", "viewGet", "exportData"},
		node.ResourceCalendar: {"create", "get", "search", "createEvent", "getEvent", "listEvents", "searchEvents", "deleteEvent"},
		node.ResourceDoc:      {"getContent", "getAllBlocks", "blockConvert"},
		node.ResourceWiki: {"spaceGet", "spaceSetting", "memberAdd", "membersList", "nodeGet", "nodeCreate", "nodeCopy",
			"nodeMove", "nodeUpdateTitle", "nodeChildren", "nodeCreateHierarchy"},
		node.ResourceSpreadsheet: {"create", "addSheet", "deleteSheet", "addDimension", "insertDimension", "updateDimension",
			"moveDimension", "mergeCells", "unmergeCells", "replaceCells", "valuesRead", "valuesAppend", "valuesPrepend", "valuesImage"},
		node.ResourceSpace: {"fileUpload", "chunkUpload", "fileDownload", "export", "unsubscribe"},
		node.ResourceTask:  {"create", "delete", "removeMembers"},
		node.ResourceUser:  {"get", "batchGet", "findByDepartment"},
		node.ResourceAily:  {"skillsList", "skillGet", "skillStart", "fileUpload", "fileGet"},
	}

	total := 0

	for res, names := range want {
		for _, name := range names {
			_, err := reg.Lookup(node.Key{Resource: res, Operation: name})
			assert.NoError(t, err)
		}

		total += len(names)
	}

	assert.Equal(t, total, reg.Len(), "no operations beyond the catalog")

	for _, op := range reg.Operations("") {
		assert.NotEmpty(t, op.DisplayName, op.Key.String())
	}
}

func TestCatalog_LegacyKeysResolve(t *testing.T) {
	reg, err := NewRegistry(Options{})
	require.NoError(t, err)

	for key, aliases := range legacyKeys {
		_, err := reg.Lookup(key)
		require.NoError(t, err, "legacy entry for missing operation %s", key)

		for _, alias := range aliases {
			legacy, err := node.ParseKey(alias)
			require.NoError(t, err)

			op, err := reg.Lookup(node.Key{Resource: legacy.Resource, Operation: alias})
			require.NoError(t, err, alias)
			assert.Equal(t, key, op.Key, alias)
		}
	}

	op, err := reg.Lookup(node.Key{Resource: node.ResourceChat, Operation: "chat:addMembers"})
	require.NoError(t, err)
	assert.Equal(t, "chat:addMembers", op.Key.String())
}

func TestMessageSend_Text(t *testing.T) {
	p := newPlatform(t)
	p.on(http.MethodPost, "/open-apis/im/v1/messages", `{"message_id":"om_1"}`)

	out := mustRun(t, p, "message:send", map[string]any{
		"receive_id_type": "chat_id",
		"receive_id":      "oc_1",
		"text_content":    "hi",
		"uuid":            "u-1",
	})

	req := p.only()
	assert.Equal(t, "chat_id", req.Query.Get("receive_id_type"))
	assert.Equal(t, map[string]any{
		"receive_id": "oc_1",
		"msg_type":   "text",
		"content":    `{"text":"hi"}`,
		"uuid":       "u-1",
	}, req.Body)

	require.Len(t, out, 1)
	assert.Equal(t, "om_1", out[0].JSON["message_id"])
}

func TestMessageSend_ContentByType(t *testing.T) {
	tests := []struct {
		msgType string
		params  map[string]any
		want    string
	}{
		{"image", map[string]any{"image_key": "img_1"}, `{"image_key":"img_1"}`},
		{"media", map[string]any{"media_file_key": "f", "media_image_key": "i"}, `{"file_key":"f","image_key":"i"}`},
		{"media", map[string]any{"media_file_key": "f"}, `{"file_key":"f"}`},
		{"sticker", map[string]any{"sticker_file_key": "s"}, `{"file_key":"s"}`},
		{"share_chat", map[string]any{"share_chat_id": "oc_2"}, `{"chat_id":"oc_2"}`},
		{"share_user", map[string]any{"share_user_id": "ou_2"}, `{"user_id":"ou_2"}`},
		{"interactive", map[string]any{"interactive_content": map[string]any{"elements": []any{}}}, `{"elements":[]}`},
		{"post", map[string]any{"post_content": `{"zh_cn":{}}`}, `{"zh_cn":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.msgType, func(t *testing.T) {
			p := newPlatform(t)
			p.on(http.MethodPost, "/open-apis/im/v1/messages", `{}`)

			params := map[string]any{"receive_id": "ou_1", "msg_type": tt.msgType}
			for k, v := range tt.params {
				params[k] = v
			}

			mustRun(t, p, "message:send", params)
			assert.JSONEq(t, tt.want, p.only().Body["content"].(string))
		})
	}
}

func TestMessageSend_MissingContent(t *testing.T) {
	p := newPlatform(t)

	_, err := run(t, p, "message:send", map[string]any{"receive_id": "ou_1", "msg_type": "image"})
	require.ErrorIs(t, err, node.ErrMissingParameter)
	assert.Contains(t, err.Error(), "image_key")
	assert.Empty(t, p.requests())
}

func TestMessageBatchSend(t *testing.T) {
	p := newPlatform(t)
	p.on(http.MethodPost, "/open-apis/message/v4/batch_send/", `{"message_id":"bm_1"}`)

	mustRun(t, p, "message:batchSend", map[string]any{
		"msg_type":     "text",
		"open_ids":     `["ou_1","ou_2"]`,
		"user_ids":     "u1, u2",
		"text_content": "hello",
	})

	body := p.only().Body
	assert.Equal(t, map[string]any{"text": "hello"}, body["content"])
	assert.Equal(t, []any{"ou_1", "ou_2"}, body["open_ids"])
	assert.Equal(t, []any{"u1", "u2"}, body["user_ids"])
	assert.NotContains(t, body, "department_ids")
}

func TestMessageBatchSend_TooManyRecipients(t *testing.T) {
	p := newPlatform(t)

	ids := make([]any, 201)
	for i := range ids {
		ids[i] = "ou"
	}

	_, err := run(t, p, "message:batchSend", map[string]any{"msg_type": "text", "open_ids": ids, "text_content": "x"})
	assert.ErrorIs(t, err, node.ErrInvalidParameter)
}

func TestMessageReplyAndUrgent(t *testing.T) {
	p := newPlatform(t)
	p.on(http.MethodPost, "/open-apis/im/v1/messages/om_1/reply", `{}`)
	p.on(http.MethodPatch, "/open-apis/im/v1/messages/om_1/urgent_app", `{"invalid_user_id_list":[]}`)

	mustRun(t, p, "message:reply", map[string]any{"message_id": "om_1", "text_content": "ok", "reply_in_thread": true})
	mustRun(t, p, "message:urgentApp", map[string]any{"message_id": "om_1", "user_id_list": "ou_1,ou_2"})

	calls := p.requests()
	require.Len(t, calls, 2)
	assert.Equal(t, map[string]any{"msg_type": "text", "content": `{"text":"ok"}`, "reply_in_thread": true}, calls[0].Body)
	assert.Equal(t, "open_id", calls[1].Query.Get("user_id_type"))
	assert.Equal(t, map[string]any{"user_id_list": []any{"ou_1", "ou_2"}}, calls[1].Body)
}

func TestMessageEventDecrypt(t *testing.T) {
	enc := encryptEvent(t, "k", []byte(`{"schema":"2.0","header":{"event_type":"im.message.receive_v1"}}`))

	out := mustRun(t, newPlatform(t), "message:eventDecrypt", map[string]any{"encrypt_key": "k", "encrypt_data": enc})
	require.Len(t, out, 1)
	assert.Equal(t, "2.0", out[0].JSON["schema"])

	notJSON := encryptEvent(t, "k", []byte("hello world"))

	_, err := run(t, newPlatform(t), "message:eventDecrypt", map[string]any{"encrypt_key": "k", "encrypt_data": notJSON})
	assert.ErrorIs(t, err, feishu.ErrDecrypt)
}

func TestMessageImageUploadAndDownload(t *testing.T) {
	p := newPlatform(t)
	p.on(http.MethodPost, "/open-apis/im/v1/images", `{"image_key":"img_1"}`)
	p.handle(http.MethodGet, "/open-apis/im/v1/images/img_1", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("PNGDATA"))
	})

	in := node.Item{
		JSON:   map[string]any{},
		Binary: map[string]*node.Binary{"photo": node.NewBinary([]byte("PNGDATA"), "a.png", "")},
	}

	out := mustRun(t, p, "message:imageUpload", map[string]any{"binaryPropertyName": "photo"}, in)
	assert.Equal(t, "img_1", out[0].JSON["image_key"])

	up := p.requests()[0]
	assert.Equal(t, "message", up.Form["image_type"])
	assert.Equal(t, []byte("PNGDATA"), up.Files["image"])
	assert.Equal(t, "a.png", up.Form["image.filename"])

	out = mustRun(t, p, "message:imageDownload", map[string]any{"image_key": "img_1"})
	require.Len(t, out, 1)

	bin := out[0].Binary[node.DefaultBinaryProperty]
	require.NotNil(t, bin)
	assert.Equal(t, []byte("PNGDATA"), bin.Data)
	assert.Equal(t, "image/png", bin.MimeType)
	assert.Equal(t, "img_1", out[0].JSON["image_key"])
}

func TestUploadWithoutBinary(t *testing.T) {
	_, err := run(t, newPlatform(t), "message:imageUpload", map[string]any{})
	assert.ErrorIs(t, err, ErrNoBinary)
}

func TestChatList_ReturnAllFollowsPages(t *testing.T) {
	p := newPlatform(t)
	p.handle(http.MethodGet, "/open-apis/im/v1/chats", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page_token") == "" {
			writeEnvelope(w, `{"items":[{"chat_id":"a"},{"chat_id":"b"}],"has_more":true,"page_token":"p2"}`)
			return
		}

		writeEnvelope(w, `{"items":[{"chat_id":"c"}],"has_more":false}`)
	})

	out := mustRun(t, p, "chat:list", map[string]any{"returnAll": true})
	require.Len(t, out, 3)
	assert.Equal(t, "c", out[2].JSON["chat_id"])

	calls := p.requests()
	require.Len(t, calls, 2)
	assert.Equal(t, "100", calls[0].Query.Get("page_size"))
	assert.Equal(t, "ByCreateTimeAsc", calls[0].Query.Get("sort_type"))
	assert.Equal(t, "p2", calls[1].Query.Get("page_token"))
}

func TestChatList_LimitFetchesOnePage(t *testing.T) {
	p := newPlatform(t)
	p.on(http.MethodGet, "/open-apis/im/v1/chats", `{"items":[{"chat_id":"a"}],"has_more":true,"page_token":"p2"}`)

	out := mustRun(t, p, "chat:list", map[string]any{"limit": 7})
	assert.Len(t, out, 1)
	assert.Equal(t, "7", p.only().Query.Get("page_size"))
}

func TestChatAddMembers(t *testing.T) {
	p := newPlatform(t)
	p.on(http.MethodPost, "/open-apis/im/v1/chats/oc_1/members", `{"invalid_id_list":[]}`)

	mustRun(t, p, "chat:addMembers", map[string]any{"chat_id": "oc_1", "id_list": " ou_1 ,ou_2,"})

	req := p.only()
	assert.Equal(t, "open_id", req.Query.Get("member_id_type"))
	assert.Equal(t, "0", req.Query.Get("succeed_type"))
	assert.Equal(t, map[string]any{"id_list": []any{"ou_1", "ou_2"}}, req.Body)
}

func TestEndpoint_MissingPathParameter(t *testing.T) {
	p := newPlatform(t)

	_, err := run(t, p, "chat:get", map[string]any{})
	require.ErrorIs(t, err, node.ErrMissingParameter)
	assert.Contains(t, err.Error(), "chat_id")
	assert.Empty(t, p.requests())
}

func TestEndpoint_PathValuesEscaped(t *testing.T) {
	p := newPlatform(t)
	p.on(http.MethodGet, "/open-apis/sheets/v2/spreadsheets/sht_1/values/ab12!A1:B2", `{"valueRange":{}}`)

	mustRun(t, p, "spreadsheet:valuesRead", map[string]any{"spreadsheet_token": "sht_1", "range": "ab12!A1:B2"})
	assert.Equal(t, "lark_id", p.only().Query.Get("user_id_type"))
}

func TestEndpoint_APIErrorPropagates(t *testing.T) {
	p := newPlatform(t)
	p.handle(http.MethodGet, "/open-apis/im/v1/chats/oc_1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":232011,"msg":"operator not in chat"}`))
	})

	_, err := run(t, p, "chat:get", map[string]any{"chat_id": "oc_1"})

	var apiErr *feishu.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 232011, apiErr.Code)

	var rowErr *node.RowError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, 0, rowErr.Row)
}

func TestBitableParseURL(t *testing.T) {
	p := newPlatform(t)
	p.on(http.MethodGet, "/open-apis/wiki/v2/spaces/get_node", `{"node":{"obj_token":"bas_9"}}`)

	out := mustRun(t, p, "bitable:parseUrl", map[string]any{
		"url": "https://x.feishu.cn/base/bas_1?table=tbl_1&view=vew_1",
	})
	assert.Equal(t, map[string]any{"app_token": "bas_1", "table_id": "tbl_1", "view_id": "vew_1"}, out[0].JSON)
	assert.Empty(t, p.requests())

	out = mustRun(t, p, "bitable:parseUrl", map[string]any{"url": "https://x.feishu.cn/wiki/wik_1?table=tbl_2"})
	assert.Equal(t, map[string]any{"app_token": "bas_9", "table_id": "tbl_2", "view_id": nil}, out[0].JSON)
	assert.Equal(t, "wik_1", p.only().Query.Get("token"))
}

func TestBitableExportData_RunsOnceForAllRows(t *testing.T) {
	p := newPlatform(t)
	p.on(http.MethodPost, "/open-apis/bitable/v1/apps/bas_1/tables/tbl_1/records/batch_create", `{"records":[]}`)

	items := []node.Item{
		{JSON: map[string]any{"name": "a", "n": 1.0}},
		{JSON: map[string]any{"name": "b", "n": 2.0}},
		{JSON: map[string]any{"name": "c", "n": 3.0}},
	}

	out := mustRun(t, p, "bitable:exportData", map[string]any{
		"app_token":   "bas_1",
		"table_id":    "tbl_1",
		"autoMapping": false,
		"fields":      []any{map[string]any{"field": "name", "feishuField": "Name"}},
	}, items...)

	require.Len(t, out, 1, "later rows produce nothing")
	assert.Equal(t, 0, out[0].Paired)

	records := p.only().Body["records"].([]any)
	require.Len(t, records, 3)
	assert.Equal(t, map[string]any{"fields": map[string]any{"Name": "b"}}, records[1])
}

func TestBitableExportData_AutoMapping(t *testing.T) {
	p := newPlatform(t)
	p.on(http.MethodPost, "/open-apis/bitable/v1/apps/bas_1/tables/tbl_1/records/batch_create", `{}`)

	mustRun(t, p, "bitable:exportData", map[string]any{"app_token": "bas_1", "table_id": "tbl_1"},
		node.Item{JSON: map[string]any{"a": "x", "b": true}})

	records := p.only().Body["records"].([]any)
	assert.Equal(t, map[string]any{"fields": map[string]any{"a": "x", "b": true}}, records[0])
}

func TestBitableRecordSearch_BodyAndPaging(t *testing.T) {
	p := newPlatform(t)
	p.on(http.MethodPost, "/open-apis/bitable/v1/apps/bas_1/tables/tbl_1/records/search", `{"items":[{"record_id":"r1"}]}`)

	out := mustRun(t, p, "bitable:recordSearch", map[string]any{
		"app_token": "bas_1",
		"table_id":  "tbl_1",
		"body":      `{"view_id":"vew_1"}`,
		"returnAll": true,
	})
	require.Len(t, out, 1)

	req := p.only()
	assert.Equal(t, "500", req.Query.Get("page_size"))
	assert.Equal(t, map[string]any{"view_id": "vew_1"}, req.Body)
}

// wikiTree serves a small space:
//
//	A (has children) -> A1 (has children) -> A1x
//	B
func wikiTree(p *platform) {
	children := map[string]string{
		"":    `[{"title":"A","node_token":"a","space_id":"s","has_child":true},{"title":"B","node_token":"b","space_id":"s","has_child":false}]`,
		"a":   `[{"title":"A1","node_token":"a1","space_id":"s","has_child":true}]`,
		"a1":  `[{"title":"A1x","node_token":"a1x","space_id":"s","has_child":false}]`,
		"new": `[]`,
	}

	p.handle(http.MethodGet, "/open-apis/wiki/v2/spaces/s/nodes", func(w http.ResponseWriter, r *http.Request) {
		items, ok := children[r.URL.Query().Get("parent_node_token")]
		if !ok {
			items = `[]`
		}

		writeEnvelope(w, `{"items":`+items+`,"has_more":false}`)
	})
}

func titles(items []node.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.JSON["title"].(string))
	}

	return out
}

func TestWikiNodeChildren_NonRecursive(t *testing.T) {
	p := newPlatform(t)
	wikiTree(p)

	out := mustRun(t, p, "wiki:nodeChildren", map[string]any{"space_id": "s"})
	assert.Equal(t, []string{"A", "B"}, titles(out))
	assert.Equal(t, []string{"A"}, out[0].JSON["breadcrumbItems"])
	assert.NotContains(t, out[0].JSON, "children")
	assert.Equal(t, "50", p.only().Query.Get("page_size"))
}

func TestWikiNodeChildren_RecursiveFlat(t *testing.T) {
	p := newPlatform(t)
	wikiTree(p)

	out := mustRun(t, p, "wiki:nodeChildren", map[string]any{"space_id": "s", "recursive": true, "recursiveDepth": 0})
	assert.Equal(t, []string{"A", "A1", "A1x", "B"}, titles(out))
	assert.Equal(t, []string{"A", "A1", "A1x"}, out[2].JSON["breadcrumbItems"])
}

func TestWikiNodeChildren_DepthLimitsDescent(t *testing.T) {
	p := newPlatform(t)
	wikiTree(p)

	out := mustRun(t, p, "wiki:nodeChildren", map[string]any{"space_id": "s", "recursive": true})
	assert.Equal(t, []string{"A", "A1", "B"}, titles(out), "default depth 2 stops below the second level")
}

func TestWikiNodeChildren_Tree(t *testing.T) {
	p := newPlatform(t)
	wikiTree(p)

	out := mustRun(t, p, "wiki:nodeChildren", map[string]any{
		"space_id": "s", "recursive": true, "recursiveDepth": 0, "dataStructure": "tree",
	})
	require.Equal(t, []string{"A", "B"}, titles(out))

	a1 := out[0].JSON["children"].([]any)[0].(map[string]any)
	assert.Equal(t, "A1", a1["title"])
	assert.Len(t, a1["children"], 1)
	assert.Equal(t, []any{}, out[1].JSON["children"])
}

func TestWikiNodeCreateHierarchy(t *testing.T) {
	p := newPlatform(t)
	wikiTree(p)

	var created []map[string]any

	p.handle(http.MethodPost, "/open-apis/wiki/v2/spaces/s/nodes", func(w http.ResponseWriter, _ *http.Request) {
		calls := p.requests()
		body := calls[len(calls)-1].Body
		created = append(created, body)

		writeEnvelope(w, `{"node":{"node_token":"new","obj_token":"obj_new"}}`)
	})

	out := mustRun(t, p, "wiki:nodeCreateHierarchy", map[string]any{
		"space_id":        "s",
		"obj_type":        "sheet",
		"breadcrumbItems": `["A","A1","Report"]`,
	})

	require.Len(t, created, 1, "existing levels are reused")
	assert.Equal(t, map[string]any{"obj_type": "sheet", "node_type": "origin", "title": "Report", "parent_node_token": "a1"}, created[0])

	res := out[0].JSON
	assert.Equal(t, "new", res["node_token"])
	assert.Equal(t, "obj_new", res["obj_token"])

	levels := res["createdNodes"].([]map[string]any)
	require.Len(t, levels, 3)
	assert.Equal(t, true, levels[0]["skipped"])
	assert.Equal(t, false, levels[2]["skipped"])
	assert.Equal(t, 3, levels[2]["level"])
}

func TestWikiNodeCreateHierarchy_EmptyPath(t *testing.T) {
	_, err := run(t, newPlatform(t), "wiki:nodeCreateHierarchy", map[string]any{"space_id": "s", "breadcrumbItems": `[]`})
	assert.ErrorIs(t, err, node.ErrInvalidParameter)
}

func TestSpreadsheetBodies(t *testing.T) {
	p := newPlatform(t)
	p.on(http.MethodPost, "/open-apis/sheets/v2/spreadsheets/sht/sheets_batch_update", `{}`)
	p.on(http.MethodPost, "/open-apis/sheets/v3/spreadsheets/sht/sheets/s1/move_dimension", `{}`)
	p.on(http.MethodPost, "/open-apis/sheets/v2/spreadsheets/sht/values_append", `{}`)

	mustRun(t, p, "spreadsheet:addSheet", map[string]any{"spreadsheet_token": "sht", "title": "Q3", "index": 1})
	mustRun(t, p, "spreadsheet:moveDimension", map[string]any{
		"spreadsheet_token": "sht", "sheet_id": "s1", "start_index": 0, "end_index": 1, "destination_index": 4,
	})
	mustRun(t, p, "spreadsheet:valuesAppend", map[string]any{
		"spreadsheet_token": "sht", "range": "s1!A1:B1", "values": `[["a","b"]]`,
	})

	calls := p.requests()
	require.Len(t, calls, 3)

	assert.Equal(t, map[string]any{"requests": []any{
		map[string]any{"addSheet": map[string]any{"properties": map[string]any{"title": "Q3", "index": 1.0}}},
	}}, calls[0].Body)
	assert.Equal(t, map[string]any{
		"source":            map[string]any{"major_dimension": "ROWS", "start_index": 0.0, "end_index": 1.0},
		"destination_index": 4.0,
	}, calls[1].Body)
	assert.Equal(t, "OVERWRITE", calls[2].Query.Get("insertDataOption"))
	assert.Equal(t, map[string]any{"valueRange": map[string]any{
		"range": "s1!A1:B1", "values": []any{[]any{"a", "b"}},
	}}, calls[2].Body)
}

func TestSpreadsheetValuesImage(t *testing.T) {
	p := newPlatform(t)
	p.on(http.MethodPost, "/open-apis/sheets/v2/spreadsheets/sht/values_image", `{"revision":2}`)

	in := node.Item{Binary: map[string]*node.Binary{"data": node.NewBinary([]byte{1, 2, 255}, "x.png", "")}}

	mustRun(t, p, "spreadsheet:valuesImage", map[string]any{
		"spreadsheet_token": "sht", "range": "s1!A1:A1", "name": "x.png",
	}, in)

	assert.Equal(t, []any{1.0, 2.0, 255.0}, p.only().Body["image"])
}

func TestUserBatchGet(t *testing.T) {
	p := newPlatform(t)
	p.on(http.MethodGet, "/open-apis/contact/v3/users/batch", `{"items":[]}`)

	mustRun(t, p, "user:batchGet", map[string]any{"user_ids": "ou_1,ou_2"})
	assert.Equal(t, []string{"ou_1", "ou_2"}, p.only().Query["user_ids"])

	ids := make([]any, 51)
	for i := range ids {
		ids[i] = "ou"
	}

	_, err := run(t, p, "user:batchGet", map[string]any{"user_ids": ids})
	assert.ErrorIs(t, err, node.ErrInvalidParameter)

	_, err = run(t, p, "user:batchGet", map[string]any{"user_ids": ""})
	assert.ErrorIs(t, err, node.ErrMissingParameter)
}

func TestUserFindByDepartment_RootDepartment(t *testing.T) {
	p := newPlatform(t)
	p.on(http.MethodGet, "/open-apis/contact/v3/users/find_by_department", `{"items":[{"open_id":"ou_1"}]}`)

	out := mustRun(t, p, "user:findByDepartment", map[string]any{"department_id": "0"})
	require.Len(t, out, 1)

	q := p.only().Query
	assert.Equal(t, "department_id", q.Get("department_id_type"))
	assert.Equal(t, "50", q.Get("page_size"))
}

func TestTaskCreate_MergesExtraFields(t *testing.T) {
	p := newPlatform(t)
	p.on(http.MethodPost, "/open-apis/task/v2/tasks", `{"task":{"guid":"g"}}`)

	mustRun(t, p, "task:create", map[string]any{
		"summary": "Ship it",
		"body":    map[string]any{"due": map[string]any{"timestamp": "1700000000000"}},
	})

	req := p.only()
	assert.Equal(t, "open_id", req.Query.Get("user_id_type"))
	assert.Equal(t, map[string]any{
		"summary": "Ship it",
		"due":     map[string]any{"timestamp": "1700000000000"},
	}, req.Body)
}

func TestAilySkillStart(t *testing.T) {
	p := newPlatform(t)
	p.on(http.MethodPost, "/open-apis/aily/v1/apps/app/skills/sk/start", `{"output":"done"}`)

	out := mustRun(t, p, "aily:skillStart", map[string]any{
		"app_id": "app", "skill_id": "sk", "global_variable": `{"channel":"x"}`, "input": "go",
	})

	assert.Equal(t, "done", out[0].JSON["output"])
	assert.Equal(t, map[string]any{"global_variable": map[string]any{"channel": "x"}, "input": "go"}, p.only().Body)
}

func TestCalendarSearchEvents_OmitsEmptyFilter(t *testing.T) {
	p := newPlatform(t)
	p.on(http.MethodPost, "/open-apis/calendar/v4/calendars/cal/events/search", `{"items":[]}`)

	mustRun(t, p, "calendar:searchEvents", map[string]any{"calendar_id": "cal", "query": "standup"})

	req := p.only()
	assert.Equal(t, map[string]any{"query": "standup"}, req.Body)
	assert.Equal(t, "20", req.Query.Get("page_size"))
}

// encryptEvent builds an encrypted callback body with a fixed IV.
func encryptEvent(t *testing.T, encryptKey string, plaintext []byte) string {
	t.Helper()

	key := sha256.Sum256([]byte(encryptKey))

	block, err := aes.NewCipher(key[:])
	require.NoError(t, err)

	iv := []byte("0123456789abcdef")
	pad := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append(bytes.Clone(plaintext), bytes.Repeat([]byte{byte(pad)}, pad)...)

	out := make([]byte, aes.BlockSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)

	return base64.StdEncoding.EncodeToString(out)
}
