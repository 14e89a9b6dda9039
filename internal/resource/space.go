package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tonimelisma/feishu-go/internal/feishu"
	"github.com/tonimelisma/feishu-go/internal/node"
	"github.com/tonimelisma/feishu-go/internal/upload"
)

// maxUploadAllSize is the largest file upload_all accepts; bigger files
// need the chunked flow.
const maxUploadAllSize = 20 << 20

// Export polling defaults.
const (
	DefaultExportPollInterval = 2 * time.Second
	DefaultExportMaxPolls     = 60
)

// Export job states. Anything else is a failure.
const (
	exportSucceeded    = 0
	exportInitializing = 1
	exportProcessing   = 2
)

// ErrExport is returned when an export job fails or never completes.
var ErrExport = errors.New("resource: export failed")

var exportJobErrors = map[int]string{
	3:    "internal error",
	107:  "document too large to export",
	108:  "processing timed out",
	109:  "no permission on an exported block",
	110:  "no permission",
	111:  "document deleted",
	122:  "export is disabled while a copy is being created",
	123:  "document does not exist",
	6000: "too many images in document",
}

var exportMIMETypes = map[string]string{
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"pdf":  "application/pdf",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"csv":  "text/csv",
}

// space binds the drive operations to catalog-wide upload settings.
type space struct {
	opts Options
}

func spaceOperations(opts Options) []node.Operation {
	s := space{opts: opts}

	unsubscribe := endpoint{
		name:    "unsubscribe",
		display: "Unsubscribe from Document Events",
		method:  http.MethodDelete,
		path:    "/open-apis/drive/v1/files/{file_token}/delete_subscribe",
		query:   []string{"file_type", "event_type"},
		params: []node.Param{
			required(str("file_token", "File Token")),
			choice("file_type", "File Type", "docx", "doc", "docx", "sheet", "bitable", "file", "folder", "slides"),
			describe(str("event_type", "Event Type"), "Required for folders, e.g. file.created_in_folder_v1."),
		},
	}

	return []node.Operation{
		unsubscribe.operation(node.ResourceSpace),
		{
			Key:         node.Key{Resource: node.ResourceSpace, Operation: "fileUpload"},
			DisplayName: "Upload File",
			Description: "Uploads a file of at most 20 MiB in one request.",
			Params: []node.Param{
				required(str("parent_node", "Folder Token")),
				binaryProperty("Input Binary Field"),
				optionsParam(
					str("file_name", "File Name"),
					describe(str("checksum", "Checksum"), "Adler-32 of the file as a decimal string."),
				),
			},
			Handler: s.uploadFile,
		},
		{
			Key:         node.Key{Resource: node.ResourceSpace, Operation: "chunkUpload"},
			DisplayName: "Upload Large File",
			Description: "Uploads a file in blocks: prepare, parallel parts, finish.",
			Params: []node.Param{
				required(str("parent_node", "Folder Token")),
				binaryProperty("Input Binary Field"),
				optionsParam(
					str("file_name", "File Name"),
					describe(num("concurrency", "Parallel Parts", upload.DefaultConcurrency), "1 to 5."),
					boolean("checksum", "Send Block Checksums", true),
				),
			},
			Handler: s.chunkUpload,
		},
		{
			Key:         node.Key{Resource: node.ResourceSpace, Operation: "fileDownload"},
			DisplayName: "Download File",
			Params: []node.Param{
				required(str("file_token", "File Token")),
				binaryProperty("Output Binary Field"),
				optionsParam(str("fileName", "File Name"), str("mimeType", "MIME Type")),
			},
			Handler: func(ctx context.Context, c *node.Call) (node.Result, error) {
				token := c.Params.String("file_token")
				if err := c.Params.Err(); err != nil {
					return nil, err
				}

				return download(ctx, c, "/open-apis/drive/v1/medias/"+pathArg(c.Params, "file_token")+"/download",
					token, map[string]any{"file_token": token})
			},
		},
		{
			Key:         node.Key{Resource: node.ResourceSpace, Operation: "export"},
			DisplayName: "Export Document",
			Description: "Exports a document, waits for the job and downloads the result.",
			Params: []node.Param{
				choice("type", "Document Type", "docx", "doc", "docx", "sheet", "bitable"),
				required(str("token", "Document Token")),
				choice("file_extension", "Format", "pdf", "docx", "pdf", "xlsx", "csv"),
				describe(str("sub_id", "Sheet or Table ID"), "Required for CSV exports of sheets and bases."),
				binaryProperty("Output Binary Field"),
				optionsParam(
					str("fileName", "File Name"),
					describe(num("pollInterval", "Poll Interval", int(DefaultExportPollInterval/time.Millisecond)), "Milliseconds between status checks."),
					num("maxPolls", "Max Polls", DefaultExportMaxPolls),
				),
			},
			Handler: s.export,
		},
	}
}

func (s space) uploadFile(ctx context.Context, c *node.Call) (node.Result, error) {
	b, err := inputBinary(c, "binaryPropertyName")
	if err != nil {
		return nil, err
	}

	p := c.Params
	parent := p.String("parent_node")
	checksum := p.String("options.checksum")

	name := p.String("options.file_name")
	if name == "" {
		name = b.FileName
	}

	if err := p.Err(); err != nil {
		return nil, err
	}

	name, err = upload.NormalizeFileName(name)
	if err != nil {
		return nil, err
	}

	if len(b.Data) > maxUploadAllSize {
		return nil, fmt.Errorf("%w: file is %d bytes, upload_all takes at most %d; use chunkUpload",
			node.ErrInvalidParameter, len(b.Data), maxUploadAllSize)
	}

	form := feishu.NewForm().
		Field("file_name", name).
		Field("parent_type", upload.DefaultParentType).
		Field("parent_node", parent).
		Field("size", strconv.Itoa(len(b.Data)))

	if checksum != "" {
		form.Field("checksum", checksum)
	}

	uploadForm(form, "file", b, name)

	resp, err := c.API.Send(ctx, &feishu.Request{
		Method:  http.MethodPost,
		Path:    "/open-apis/drive/v1/files/upload_all",
		Form:    form,
		Timeout: p.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	return node.JSON(resp), nil
}

func (s space) chunkUpload(ctx context.Context, c *node.Call) (node.Result, error) {
	b, err := inputBinary(c, "binaryPropertyName")
	if err != nil {
		return nil, err
	}

	p := c.Params
	parent := p.String("parent_node")
	concurrency := p.Int("options.concurrency")
	checksum := p.Bool("options.checksum")

	name := p.String("options.file_name")
	if name == "" {
		name = b.FileName
	}

	if err := p.Err(); err != nil {
		return nil, err
	}

	if concurrency == 0 {
		concurrency = s.opts.UploadConcurrency
	}

	up := upload.NewUploader(c.API, s.opts.PartLimiter, c.Logger)

	res, err := up.Upload(ctx, upload.File{Name: name, Data: b.Data}, upload.Options{
		ParentNode:  parent,
		Concurrency: concurrency,
		Checksum:    checksum,
		PartTimeout: p.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	out := map[string]any{
		"upload_id":       res.UploadID,
		"block_size":      res.BlockSize,
		"block_num":       res.BlockCount,
		"file_name":       res.FileName,
		"file_size":       res.FileSize,
		"uploaded_parts":  res.UploadedParts,
		"finish_response": res.FinishResponse,
	}

	if fin, ok := res.FinishResponse.(map[string]any); ok {
		if token, ok := fin["file_token"]; ok {
			out["file_token"] = token
		}
	}

	return node.JSON(out), nil
}

type exportResult struct {
	JobStatus     int    `json:"job_status"`
	JobErrorMsg   string `json:"job_error_msg"`
	FileToken     string `json:"file_token"`
	FileName      string `json:"file_name"`
	FileExtension string `json:"file_extension"`
	FileSize      int64  `json:"file_size"`
	Type          string `json:"type"`
}

func (s space) export(ctx context.Context, c *node.Call) (node.Result, error) {
	p := c.Params

	docType := p.String("type")
	token := p.String("token")
	ext := p.String("file_extension")
	subID := p.String("sub_id")
	interval := time.Duration(p.Int("options.pollInterval")) * time.Millisecond
	maxPolls := p.Int("options.maxPolls")

	if err := p.Err(); err != nil {
		return nil, err
	}

	if interval <= 0 {
		interval = DefaultExportPollInterval
	}

	if maxPolls <= 0 {
		maxPolls = DefaultExportMaxPolls
	}

	create := map[string]any{"type": docType, "token": token, "file_extension": ext}
	if subID != "" && ext == "csv" && (docType == "sheet" || docType == "bitable") {
		create["sub_id"] = subID
	}

	var task struct {
		Ticket string `json:"ticket"`
	}

	err := c.API.Decode(ctx, &feishu.Request{
		Method:  http.MethodPost,
		Path:    "/open-apis/drive/v1/export_tasks",
		Body:    create,
		Timeout: p.Timeout(),
	}, &task)
	if err != nil {
		return nil, fmt.Errorf("resource: creating export task: %w", err)
	}

	if task.Ticket == "" {
		return nil, fmt.Errorf("%w: export task returned no ticket", ErrExport)
	}

	result, err := s.waitExport(ctx, c, task.Ticket, token, interval, maxPolls)
	if err != nil {
		return nil, err
	}

	f, err := c.API.Download(ctx, &feishu.Request{
		Method:  http.MethodGet,
		Path:    "/open-apis/drive/v1/export_tasks/file/" + url.PathEscape(result.FileToken) + "/download",
		Timeout: p.Timeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("resource: downloading export %s: %w", result.FileToken, err)
	}

	if result.FileExtension != "" {
		ext = result.FileExtension
	}

	if f.ContentType == "" || strings.HasPrefix(f.ContentType, "application/octet-stream") {
		if mt, ok := exportMIMETypes[ext]; ok {
			f.ContentType = mt
		}
	}

	base := result.FileName
	if base == "" {
		base = "exported_file"
	}

	item := downloadItem(c, f, base+"."+ext, map[string]any{
		"ticket":         task.Ticket,
		"file_token":     result.FileToken,
		"file_name":      result.FileName,
		"file_extension": result.FileExtension,
		"file_size":      result.FileSize,
		"type":           result.Type,
	})

	return node.Items(item), nil
}

// waitExport polls the job until it succeeds, fails or runs out of polls.
func (s space) waitExport(ctx context.Context, c *node.Call, ticket, token string, interval time.Duration, maxPolls int) (*exportResult, error) {
	for poll := range maxPolls {
		var status struct {
			Result *exportResult `json:"result"`
		}

		err := c.API.Decode(ctx, &feishu.Request{
			Method:  http.MethodGet,
			Path:    "/open-apis/drive/v1/export_tasks/" + url.PathEscape(ticket),
			Query:   url.Values{"token": {token}},
			Timeout: c.Params.Timeout(),
		}, &status)
		if err != nil {
			return nil, fmt.Errorf("resource: checking export %s: %w", ticket, err)
		}

		if status.Result == nil {
			return nil, fmt.Errorf("%w: status of %s has no result", ErrExport, ticket)
		}

		switch status.Result.JobStatus {
		case exportSucceeded:
			if status.Result.FileToken == "" {
				return nil, fmt.Errorf("%w: job %s finished without a file token", ErrExport, ticket)
			}

			return status.Result, nil
		case exportInitializing, exportProcessing:
			c.Logger.Debug("export pending",
				slog.String("ticket", ticket),
				slog.Int("poll", poll+1),
				slog.Int("status", status.Result.JobStatus),
			)
		default:
			msg := exportJobErrors[status.Result.JobStatus]
			if msg == "" {
				msg = status.Result.JobErrorMsg
			}

			if msg == "" {
				msg = "unknown error"
			}

			return nil, fmt.Errorf("%w: job status %d: %s", ErrExport, status.Result.JobStatus, msg)
		}

		if poll == maxPolls-1 {
			break
		}

		if err := node.Sleep(ctx, interval); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: job %s still running after %d polls", ErrExport, ticket, maxPolls)
}
