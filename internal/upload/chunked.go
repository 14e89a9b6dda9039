// Package upload implements the drive's three-phase chunked upload:
// prepare a transaction, send every block through a bounded worker pool,
// then finish the transaction.
package upload

import (
	"context"
	"errors"
	"fmt"
	"hash/adler32"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"github.com/tonimelisma/feishu-go/internal/feishu"
)

// Endpoints of the chunked upload flow.
const (
	PreparePath = "/open-apis/drive/v1/files/upload_prepare"
	PartPath    = "/open-apis/drive/v1/files/upload_part"
	FinishPath  = "/open-apis/drive/v1/files/upload_finish"
)

const (
	// DefaultConcurrency is the worker count when none is configured.
	DefaultConcurrency = 5
	// MaxConcurrency matches the platform's 5 QPS limit on upload_part.
	MaxConcurrency = 5
	// MaxFileNameLength is the platform's limit, counted in characters.
	MaxFileNameLength = 250
	// DefaultParentType is the only parent kind the flow targets.
	DefaultParentType = "explorer"

	partQPS   = 5
	partBurst = 5
)

// Errors returned before any request is sent.
var (
	ErrEmptyFile       = errors.New("upload: file is empty")
	ErrNoFileName      = errors.New("upload: file name is required")
	ErrFileNameTooLong = errors.New("upload: file name exceeds 250 characters")
	ErrNoParent        = errors.New("upload: parent folder token is required")
)

// API is the gateway surface the flow needs. Satisfied by *feishu.Client.
type API interface {
	Decode(ctx context.Context, req *feishu.Request, v any) error
	Send(ctx context.Context, req *feishu.Request) (any, error)
}

// File is the content to upload.
type File struct {
	Name string
	Data []byte
}

// Options tunes one upload.
type Options struct {
	ParentNode  string
	Concurrency int           // clamped to [1, MaxConcurrency]; 0 means DefaultConcurrency
	Checksum    bool          // send an Adler-32 checksum with every part
	PartTimeout time.Duration // per upload_part request; 0 means none
}

// Transaction is the server-issued upload session. It lives only for one
// Upload call.
type Transaction struct {
	UploadID   string `json:"upload_id"`
	BlockSize  int64  `json:"block_size"`
	BlockCount int    `json:"block_num"`
}

// Part describes one uploaded block.
type Part struct {
	Seq      int    `json:"seq"`
	Offset   int64  `json:"offset"`
	Size     int    `json:"size"`
	Checksum string `json:"checksum,omitempty"`
	Response any    `json:"response,omitempty"`
}

// Result is the outcome of a completed upload.
type Result struct {
	UploadID       string `json:"upload_id"`
	BlockSize      int64  `json:"block_size"`
	BlockCount     int    `json:"block_num"`
	FileName       string `json:"file_name"`
	FileSize       int    `json:"file_size"`
	UploadedParts  int    `json:"uploaded_parts"`
	FinishResponse any    `json:"finish_response"`
	Parts          []Part `json:"-"`
}

// Uploader runs chunked uploads. One limiter is shared by all uploads
// made through the same Uploader.
type Uploader struct {
	api     API
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewUploader creates an Uploader that paces parts through limiter. Pass
// the same limiter to every uploader so the part rate holds across
// concurrent uploads; nil means a limiter at the platform rate.
func NewUploader(api API, limiter *rate.Limiter, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}

	if limiter == nil {
		limiter = NewPartLimiter(0)
	}

	return &Uploader{
		api:     api,
		limiter: limiter,
		logger:  logger,
	}
}

// NewPartLimiter returns a limiter for upload_part calls at perSecond.
// Zero or less means the platform's rate.
func NewPartLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		perSecond = partQPS
	}

	return rate.NewLimiter(rate.Limit(perSecond), partBurst)
}

// NormalizeFileName NFC-normalizes name and checks the platform limits.
func NormalizeFileName(name string) (string, error) {
	name = norm.NFC.String(name)

	if name == "" {
		return "", ErrNoFileName
	}

	if utf8.RuneCountInString(name) > MaxFileNameLength {
		return "", ErrFileNameTooLong
	}

	return name, nil
}

// Checksum is the Adler-32 of data as the decimal string the platform
// expects.
func Checksum(data []byte) string {
	return strconv.FormatUint(uint64(adler32.Checksum(data)), 10)
}

// Upload performs prepare, parts and finish. Any part failure cancels the
// remaining parts and fails the upload without calling finish.
func (u *Uploader) Upload(ctx context.Context, file File, opts Options) (*Result, error) {
	name, err := NormalizeFileName(file.Name)
	if err != nil {
		return nil, err
	}

	if len(file.Data) == 0 {
		return nil, ErrEmptyFile
	}

	if opts.ParentNode == "" {
		return nil, ErrNoParent
	}

	tx, err := u.prepare(ctx, name, opts.ParentNode, len(file.Data))
	if err != nil {
		return nil, err
	}

	workers := clampConcurrency(opts.Concurrency)

	u.logger.Info("chunked upload prepared",
		slog.String("file", name),
		slog.Int("size", len(file.Data)),
		slog.String("upload_id", tx.UploadID),
		slog.Int64("block_size", tx.BlockSize),
		slog.Int("blocks", tx.BlockCount),
		slog.Int("workers", workers),
	)

	parts, err := u.sendParts(ctx, tx, file.Data, workers, opts)
	if err != nil {
		return nil, err
	}

	finish, err := u.api.Send(ctx, &feishu.Request{
		Method: http.MethodPost,
		Path:   FinishPath,
		Body: map[string]any{
			"upload_id": tx.UploadID,
			"block_num": tx.BlockCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("upload: finish %s: %w", tx.UploadID, err)
	}

	u.logger.Info("chunked upload finished",
		slog.String("file", name),
		slog.String("upload_id", tx.UploadID),
		slog.Int("parts", len(parts)),
	)

	return &Result{
		UploadID:       tx.UploadID,
		BlockSize:      tx.BlockSize,
		BlockCount:     tx.BlockCount,
		FileName:       name,
		FileSize:       len(file.Data),
		UploadedParts:  len(parts),
		FinishResponse: finish,
		Parts:          parts,
	}, nil
}

func (u *Uploader) prepare(ctx context.Context, name, parent string, size int) (*Transaction, error) {
	var tx Transaction

	err := u.api.Decode(ctx, &feishu.Request{
		Method: http.MethodPost,
		Path:   PreparePath,
		Body: map[string]any{
			"file_name":   name,
			"parent_type": DefaultParentType,
			"parent_node": parent,
			"size":        size,
		},
	}, &tx)
	if err != nil {
		return nil, fmt.Errorf("upload: prepare: %w", err)
	}

	if tx.UploadID == "" {
		return nil, fmt.Errorf("upload: prepare returned no upload_id")
	}

	if tx.BlockSize <= 0 {
		return nil, fmt.Errorf("upload: prepare returned block size %d", tx.BlockSize)
	}

	if want := int((int64(size) + tx.BlockSize - 1) / tx.BlockSize); tx.BlockCount != want {
		return nil, fmt.Errorf("upload: prepare returned %d blocks, want %d for %d bytes in %d-byte blocks",
			tx.BlockCount, want, size, tx.BlockSize)
	}

	return &tx, nil
}

// sendParts runs a pull-based pool: each worker claims the next unclaimed
// sequence number until none remain. Claims are made in ascending order;
// completion order is unspecified.
func (u *Uploader) sendParts(ctx context.Context, tx *Transaction, data []byte, workers int, opts Options) ([]Part, error) {
	parts := make([]Part, tx.BlockCount)

	var next atomic.Int64

	g, gctx := errgroup.WithContext(ctx)

	for range min(workers, tx.BlockCount) {
		g.Go(func() error {
			for {
				seq := int(next.Add(1) - 1)
				if seq >= tx.BlockCount {
					return nil
				}

				part, err := u.sendPart(gctx, tx, data, seq, opts)
				if err != nil {
					return err
				}

				parts[seq] = part
			}
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return parts, nil
}

func (u *Uploader) sendPart(ctx context.Context, tx *Transaction, data []byte, seq int, opts Options) (Part, error) {
	start := int64(seq) * tx.BlockSize
	end := min(start+tx.BlockSize, int64(len(data)))
	chunk := data[start:end]

	part := Part{Seq: seq, Offset: start, Size: len(chunk)}

	if err := u.limiter.Wait(ctx); err != nil {
		return Part{}, fmt.Errorf("upload: part %d: %w", seq, err)
	}

	form := feishu.NewForm().
		Field("upload_id", tx.UploadID).
		Field("seq", strconv.Itoa(seq)).
		Field("size", strconv.Itoa(len(chunk)))

	if opts.Checksum {
		part.Checksum = Checksum(chunk)
		form.Field("checksum", part.Checksum)
	}

	form.File(feishu.FormFile{
		Field:       "file",
		FileName:    "part_" + strconv.Itoa(seq),
		ContentType: "application/octet-stream",
		Data:        chunk,
	})

	resp, err := u.api.Send(ctx, &feishu.Request{
		Method:  http.MethodPost,
		Path:    PartPath,
		Form:    form,
		Timeout: opts.PartTimeout,
	})
	if err != nil {
		return Part{}, fmt.Errorf("upload: part %d of %d: %w", seq, tx.BlockCount, err)
	}

	part.Response = resp

	u.logger.Debug("part uploaded",
		slog.String("upload_id", tx.UploadID),
		slog.Int("seq", seq),
		slog.Int("size", len(chunk)),
	)

	return part, nil
}

func clampConcurrency(n int) int {
	switch {
	case n <= 0:
		return DefaultConcurrency
	case n > MaxConcurrency:
		return MaxConcurrency
	default:
		return n
	}
}
