package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tonimelisma/feishu-go/internal/config"
	"github.com/tonimelisma/feishu-go/internal/feishu"
	"github.com/tonimelisma/feishu-go/internal/host"
	"github.com/tonimelisma/feishu-go/internal/node"
	"github.com/tonimelisma/feishu-go/internal/resource"
	"github.com/tonimelisma/feishu-go/internal/runlog"
	"github.com/tonimelisma/feishu-go/internal/session"
	"github.com/tonimelisma/feishu-go/internal/upload"
)

// Execution sources recorded in the history.
const (
	sourceRun   = "run"
	sourceServe = "serve"
)

// executor runs jobs against the operation catalog. One executor lives for
// the whole process so token sources and the upload part limiter are
// shared by every execution.
type executor struct {
	registry *node.Registry
	sessions *session.Provider
	driver   *node.Driver
	history  *runlog.Store // nil disables recording
	logger   *slog.Logger
}

// newExecutor builds the catalog and session provider for ra.
func newExecutor(ra *config.ResolvedApp, history *runlog.Store, logger *slog.Logger) (*executor, error) {
	registry, err := newRegistry(ra)
	if err != nil {
		return nil, err
	}

	return &executor{
		registry: registry,
		sessions: session.NewProvider(session.NewHTTPClient(ra), logger),
		driver:   node.NewDriver(logger),
		history:  history,
		logger:   logger,
	}, nil
}

// newRegistry builds the catalog. A nil ra uses the catalog defaults,
// which is enough for commands that only describe operations.
func newRegistry(ra *config.ResolvedApp) (*node.Registry, error) {
	var opts resource.Options

	if ra != nil {
		opts.UploadConcurrency = ra.UploadConcurrency
		opts.PartLimiter = upload.NewPartLimiter(ra.UploadPartRate)
	}

	registry, err := resource.NewRegistry(opts)
	if err != nil {
		return nil, fmt.Errorf("building operation catalog: %w", err)
	}

	return registry, nil
}

// executionResult is what a completed job hands back to its caller.
type executionResult struct {
	ID     string
	Report *node.Report
}

// execute validates job, runs it for ra and records the outcome. The
// returned error is the job's failure; history problems are only logged.
func (e *executor) execute(
	ctx context.Context, ra *config.ResolvedApp, job *host.Job, opts host.Options, source string,
) (*executionResult, error) {
	started := time.Now()

	report, err := e.run(ctx, ra, job, opts)

	operation := job.Key().String()
	if op, lookupErr := e.registry.Lookup(job.Key()); lookupErr == nil {
		operation = op.Key.String()
	}

	entry := &runlog.Execution{
		App:       ra.Name,
		Operation: operation,
		Source:    source,
		Status:    runlog.StatusSucceeded,
		StartedAt: started,
		Duration:  time.Since(started),
	}

	if report != nil {
		entry.Mode = string(report.Mode)
		entry.Rows = report.Rows
		entry.Failed = report.Failed
	}

	if err != nil {
		entry.Status = runlog.StatusFailed
		entry.Error = err.Error()
	}

	e.record(entry)

	e.logger.Info("execution finished",
		slog.String("id", entry.ID),
		slog.String("operation", entry.Operation),
		slog.String("status", entry.Status),
		slog.Int("rows", entry.Rows),
		slog.Int("failed", entry.Failed),
		slog.Duration("duration", entry.Duration),
	)

	if err != nil {
		return nil, err
	}

	return &executionResult{ID: entry.ID, Report: report}, nil
}

func (e *executor) run(ctx context.Context, ra *config.ResolvedApp, job *host.Job, opts host.Options) (*node.Report, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	op, err := e.registry.Lookup(job.Key())
	if err != nil {
		return nil, err
	}

	mode, err := jobAuthMode(job, ra)
	if err != nil {
		return nil, err
	}

	h, err := host.New(job, opts)
	if err != nil {
		return nil, err
	}

	sess, err := e.sessions.Session(ctx, ra, mode)
	if err != nil {
		return nil, err
	}

	return e.driver.Run(ctx, node.Invocation{Operation: op, Host: h, API: sess.Client})
}

// jobAuthMode picks the job's own authentication, falling back to the
// app's configured mode.
func jobAuthMode(job *host.Job, ra *config.ResolvedApp) (feishu.AuthMode, error) {
	if job.Authentication != "" {
		return feishu.ParseAuthMode(job.Authentication)
	}

	return feishu.ParseAuthMode(ra.Auth)
}

// record writes entry to the history with a context of its own, so a
// canceled execution is still recorded.
func (e *executor) record(entry *runlog.Execution) {
	if e.history == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()

	if err := e.history.Record(ctx, entry); err != nil {
		e.logger.Warn("recording execution failed", slog.String("error", err.Error()))
	}
}

const (
	historyWriteTimeout = 5 * time.Second
	dataDirPermissions  = 0o700
)

// openHistory opens the execution history for ra. A history that cannot
// be opened is logged and skipped: it never blocks an execution.
func openHistory(ctx context.Context, ra *config.ResolvedApp, logger *slog.Logger) *runlog.Store {
	path := ra.HistoryPath()
	if path == "" {
		logger.Warn("no data directory; execution history disabled")

		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), dataDirPermissions); err != nil {
		logger.Warn("creating history directory failed", slog.String("error", err.Error()))

		return nil
	}

	store, err := runlog.Open(ctx, path, logger)
	if err != nil {
		logger.Warn("opening execution history failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return nil
	}

	return store
}

// rowFailure extracts the failing row from a fail-fast error.
func rowFailure(err error) (int, bool) {
	var rowErr *node.RowError
	if errors.As(err, &rowErr) {
		return rowErr.Row, true
	}

	return 0, false
}
