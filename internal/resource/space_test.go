package resource

import (
	"bytes"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/feishu-go/internal/node"
	"github.com/tonimelisma/feishu-go/internal/upload"
)

func fileItem(data []byte, name string) node.Item {
	return node.Item{
		JSON:   map[string]any{},
		Binary: map[string]*node.Binary{node.DefaultBinaryProperty: node.NewBinary(data, name, "")},
	}
}

func TestSpaceFileUpload(t *testing.T) {
	p := newPlatform(t)
	p.on(http.MethodPost, "/open-apis/drive/v1/files/upload_all", `{"file_token":"box_1"}`)

	data := []byte("quarterly numbers")

	out := mustRun(t, p, "space:fileUpload", map[string]any{
		"parent_node": "fld_1",
		"options":     map[string]any{"checksum": upload.Checksum(data)},
	}, fileItem(data, "report.txt"))

	assert.Equal(t, "box_1", out[0].JSON["file_token"])

	req := p.only()
	assert.Equal(t, "report.txt", req.Form["file_name"])
	assert.Equal(t, "explorer", req.Form["parent_type"])
	assert.Equal(t, "fld_1", req.Form["parent_node"])
	assert.Equal(t, "17", req.Form["size"])
	assert.Equal(t, upload.Checksum(data), req.Form["checksum"])
	assert.Equal(t, data, req.Files["file"])
}

func TestSpaceFileUpload_TooLarge(t *testing.T) {
	p := newPlatform(t)

	_, err := run(t, p, "space:fileUpload", map[string]any{"parent_node": "fld_1"},
		fileItem(make([]byte, maxUploadAllSize+1), "big.bin"))

	require.ErrorIs(t, err, node.ErrInvalidParameter)
	assert.Contains(t, err.Error(), "chunkUpload")
	assert.Empty(t, p.requests())
}

func TestSpaceChunkUpload(t *testing.T) {
	p := newPlatform(t)
	p.on(http.MethodPost, upload.PreparePath, `{"upload_id":"up_1","block_size":4,"block_num":3}`)
	p.on(http.MethodPost, upload.PartPath, `{}`)
	p.on(http.MethodPost, upload.FinishPath, `{"file_token":"box_2"}`)

	data := []byte("0123456789")

	out := mustRun(t, p, "space:chunkUpload", map[string]any{
		"parent_node": "fld_1",
		"options":     map[string]any{"concurrency": 2, "file_name": "digits.txt"},
	}, fileItem(data, "ignored.txt"))

	res := out[0].JSON
	assert.Equal(t, "box_2", res["file_token"])
	assert.Equal(t, "up_1", res["upload_id"])
	assert.Equal(t, 3, res["uploaded_parts"])
	assert.Equal(t, "digits.txt", res["file_name"])

	var parts [][]byte

	for _, req := range p.requests() {
		switch req.Path {
		case upload.PreparePath:
			assert.Equal(t, "digits.txt", req.Body["file_name"])
			assert.Equal(t, 10.0, req.Body["size"])
		case upload.PartPath:
			assert.Equal(t, upload.Checksum(req.Files["file"]), req.Form["checksum"])
			parts = append(parts, req.Files["file"])
		case upload.FinishPath:
			assert.Equal(t, map[string]any{"upload_id": "up_1", "block_num": 3.0}, req.Body)
		}
	}

	require.Len(t, parts, 3)
	assert.Equal(t, len(data), len(bytes.Join(parts, nil)))
}

func TestSpaceExport(t *testing.T) {
	p := newPlatform(t)
	p.on(http.MethodPost, "/open-apis/drive/v1/export_tasks", `{"ticket":"tk_1"}`)

	var polls atomic.Int32

	p.handle(http.MethodGet, "/open-apis/drive/v1/export_tasks/tk_1", func(w http.ResponseWriter, _ *http.Request) {
		if polls.Add(1) < 3 {
			writeEnvelope(w, `{"result":{"job_status":2}}`)
			return
		}

		writeEnvelope(w, `{"result":{"job_status":0,"file_token":"ft_1","file_name":"Plan","file_extension":"pdf","file_size":3,"type":"docx"}}`)
	})
	p.handle(http.MethodGet, "/open-apis/drive/v1/export_tasks/file/ft_1/download", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("PDF"))
	})

	out := mustRun(t, p, "space:export", map[string]any{
		"token":   "doc_1",
		"sub_id":  "ignored-for-pdf",
		"options": map[string]any{"pollInterval": 1},
	})

	require.Len(t, out, 1)
	assert.Equal(t, int32(3), polls.Load())

	bin := out[0].Binary[node.DefaultBinaryProperty]
	require.NotNil(t, bin)
	assert.Equal(t, []byte("PDF"), bin.Data)
	assert.Equal(t, "Plan.pdf", bin.FileName)
	assert.Equal(t, "application/pdf", bin.MimeType)
	assert.Equal(t, "tk_1", out[0].JSON["ticket"])
	assert.Equal(t, "ft_1", out[0].JSON["file_token"])

	create := p.requests()[0]
	assert.Equal(t, map[string]any{"type": "docx", "token": "doc_1", "file_extension": "pdf"}, create.Body)

	for _, req := range p.requests()[1:4] {
		assert.Equal(t, "doc_1", req.Query.Get("token"))
	}
}

func TestSpaceExport_CSVCarriesSubID(t *testing.T) {
	p := newPlatform(t)
	p.on(http.MethodPost, "/open-apis/drive/v1/export_tasks", `{"ticket":"tk_1"}`)
	p.on(http.MethodGet, "/open-apis/drive/v1/export_tasks/tk_1", `{"result":{"job_status":0,"file_token":"ft_1"}}`)
	p.handle(http.MethodGet, "/open-apis/drive/v1/export_tasks/file/ft_1/download", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("a,b"))
	})

	out := mustRun(t, p, "space:export", map[string]any{
		"type": "sheet", "token": "sht_1", "file_extension": "csv", "sub_id": "s1",
	})

	assert.Equal(t, "s1", p.requests()[0].Body["sub_id"])
	assert.Equal(t, "exported_file.csv", out[0].Binary[node.DefaultBinaryProperty].FileName)
}

func TestSpaceExport_JobFailure(t *testing.T) {
	p := newPlatform(t)
	p.on(http.MethodPost, "/open-apis/drive/v1/export_tasks", `{"ticket":"tk_1"}`)
	p.on(http.MethodGet, "/open-apis/drive/v1/export_tasks/tk_1", `{"result":{"job_status":110}}`)

	_, err := run(t, p, "space:export", map[string]any{"token": "doc_1"})
	require.ErrorIs(t, err, ErrExport)
	assert.Contains(t, err.Error(), "no permission")
}

func TestSpaceExport_GivesUpAfterMaxPolls(t *testing.T) {
	p := newPlatform(t)
	p.on(http.MethodPost, "/open-apis/drive/v1/export_tasks", `{"ticket":"tk_1"}`)
	p.on(http.MethodGet, "/open-apis/drive/v1/export_tasks/tk_1", `{"result":{"job_status":1}}`)

	_, err := run(t, p, "space:export", map[string]any{
		"token":   "doc_1",
		"options": map[string]any{"pollInterval": 1, "maxPolls": 2},
	})
	require.ErrorIs(t, err, ErrExport)
	assert.True(t, strings.Contains(err.Error(), "after 2 polls"))
	assert.Len(t, p.requests(), 3)
}

func TestSpaceFileDownload_OptionsOverrideName(t *testing.T) {
	p := newPlatform(t)
	p.handle(http.MethodGet, "/open-apis/drive/v1/medias/box_1/download", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Content-Disposition", `attachment; filename="server.txt"`)
		_, _ = w.Write([]byte("hello"))
	})

	out := mustRun(t, p, "space:fileDownload", map[string]any{
		"file_token":         "box_1",
		"binaryPropertyName": "file",
		"options":            map[string]any{"fileName": "mine.txt"},
	})

	bin := out[0].Binary["file"]
	require.NotNil(t, bin)
	assert.Equal(t, "mine.txt", bin.FileName)
	assert.Equal(t, "text/plain", bin.MimeType)
	assert.Equal(t, "box_1", out[0].JSON["file_token"])
}
