package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/feishu-go/internal/config"
	"github.com/tonimelisma/feishu-go/internal/feishu"
	"github.com/tonimelisma/feishu-go/internal/host"
	"github.com/tonimelisma/feishu-go/internal/node"
	"github.com/tonimelisma/feishu-go/internal/runlog"
)

const (
	readHeaderTimeout  = 10 * time.Second
	maxJobBodyBytes    = 128 << 20
	defaultListLimit   = 50
	historyPrunePeriod = time.Hour
)

func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the operation catalog over HTTP",
		Long: `Run an HTTP server that executes jobs posted as JSON.

Routes:
  GET  /healthz
  GET  /v1/operations[?resource=...]
  GET  /v1/operations/{resource}/{operation}
  POST /v1/executions[?app=...]
  GET  /v1/executions[?limit=...]
  GET  /v1/executions/{id}

The config file is reloaded when it changes on disk or on SIGHUP.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides listen_addr)")

	return cmd
}

func runServe(ctx context.Context, listen string) error {
	cc := mustCLIContext(ctx)
	ra := cc.Resolved
	logger := cc.Logger

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctx = shutdownContext(ctx, logger)

	cleanup, err := writePIDFile(servePIDPath())
	if err != nil {
		return err
	}
	defer cleanup()

	cfgPath := cc.ConfigPath()

	cfg, err := config.LoadOrDefault(cfgPath, logger)
	if err != nil {
		return err
	}

	history := openHistory(ctx, ra, logger)
	if history != nil {
		defer history.Close()

		go pruneHistory(ctx, history, time.Duration(ra.HistoryRetentionDays)*24*time.Hour, logger)
	}

	exec, err := newExecutor(ra, history, logger)
	if err != nil {
		return err
	}

	srv := &server{
		holder:  config.NewHolder(cfg, cfgPath),
		env:     cc.Env,
		cli:     cc.Overrides(),
		exec:    exec,
		history: history,
		logger:  logger,
	}

	go srv.watchConfig(ctx)

	if listen == "" {
		listen = ra.ListenAddr
	}

	httpServer := &http.Server{
		Addr:              listen,
		Handler:           srv.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("serving", slog.String("addr", listen), slog.Int("operations", exec.registry.Len()))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving on %s: %w", listen, err)
	case <-ctx.Done():
	}

	timeout, err := time.ParseDuration(ra.ShutdownTimeout)
	if err != nil {
		return fmt.Errorf("shutdown_timeout: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	logger.Info("server stopped")

	return nil
}

// server is the HTTP adapter. Each request resolves its app from the
// current config snapshot, so a reload applies to the next request.
type server struct {
	holder  *config.Holder
	env     config.EnvOverrides
	cli     config.CLIOverrides
	exec    *executor
	history *runlog.Store
	logger  *slog.Logger
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Row   *int   `json:"row,omitempty"`
}

// ExecutionResponse is the body of a successful POST /v1/executions.
type ExecutionResponse struct {
	ID      string                `json:"id,omitempty"`
	Mode    node.Mode             `json:"mode"`
	Rows    int                   `json:"rows"`
	Failed  int                   `json:"failed"`
	Outputs [][]host.ExportedItem `json:"outputs"`
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/operations", s.listOperations)
		r.Get("/operations/{resource}/{operation}", s.getOperation)
		r.Post("/executions", s.createExecution)
		r.Get("/executions", s.listExecutions)
		r.Get("/executions/{id}", s.getExecution)
	})

	return r
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version})
}

func (s *server) listOperations(w http.ResponseWriter, r *http.Request) {
	ops := s.exec.registry.Operations(node.Resource(r.URL.Query().Get("resource")))

	views := make([]operationView, len(ops))
	for i, op := range ops {
		views[i] = viewOf(op, false)
	}

	writeJSON(w, http.StatusOK, views)
}

func (s *server) getOperation(w http.ResponseWriter, r *http.Request) {
	key := node.Key{
		Resource:  node.Resource(chi.URLParam(r, "resource")),
		Operation: chi.URLParam(r, "operation"),
	}

	op, err := s.exec.registry.Lookup(key)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	writeJSON(w, http.StatusOK, viewOf(op, true))
}

func (s *server) createExecution(w http.ResponseWriter, r *http.Request) {
	job, err := host.DecodeJSONJob(http.MaxBytesReader(w, r.Body, maxJobBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if hasPathBinaries(job) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: binaries must be sent as base64 data", host.ErrInvalidJob))
		return
	}

	cli := s.cli
	if app := r.URL.Query().Get("app"); app != "" {
		cli.App = app
	}

	ra, err := s.holder.Resolve(s.env, cli, s.logger)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.exec.execute(r.Context(), ra, job, host.Options{MaxBinarySize: ra.MaxBinaryBytes()}, sourceServe)
	if err != nil {
		resp := ErrorResponse{Error: err.Error()}
		if row, ok := rowFailure(err); ok {
			resp.Row = &row
		}

		writeJSON(w, errorStatus(err), resp)

		return
	}

	exported, err := host.Export(res.Report.Outputs, host.ExportOptions{Inline: true})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, ExecutionResponse{
		ID:      res.ID,
		Mode:    res.Report.Mode,
		Rows:    res.Report.Rows,
		Failed:  res.Report.Failed,
		Outputs: exported,
	})
}

func (s *server) listExecutions(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("execution history is disabled"))
		return
	}

	limit := defaultListLimit

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}

		limit = n
	}

	list, err := s.history.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if list == nil {
		list = []runlog.Execution{}
	}

	writeJSON(w, http.StatusOK, list)
}

func (s *server) getExecution(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("execution history is disabled"))
		return
	}

	e, err := s.history.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, runlog.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, e)
}

// errorStatus maps an execution failure to an HTTP status.
func errorStatus(err error) int {
	var apiErr *feishu.APIError

	switch {
	case errors.Is(err, node.ErrUnknownOperation):
		return http.StatusNotFound
	case errors.Is(err, host.ErrInvalidJob),
		errors.Is(err, host.ErrExpression),
		errors.Is(err, host.ErrBinaryTooLarge),
		errors.Is(err, node.ErrMissingParameter),
		errors.Is(err, node.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, feishu.ErrNoCredentials), errors.Is(err, feishu.ErrNotLoggedIn):
		return http.StatusUnauthorized
	case errors.As(err, &apiErr), errors.Is(err, feishu.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func hasPathBinaries(job *host.Job) bool {
	for _, item := range job.Items {
		for _, b := range item.Binary {
			if b.Path != "" {
				return true
			}
		}
	}

	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := printJSON(w, v); err != nil {
		slog.Debug("writing response failed", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// watchConfig reloads the config file when it changes on disk or when the
// process receives SIGHUP. The directory is watched rather than the file so
// atomic replaces are seen.
func (s *server) watchConfig(ctx context.Context) {
	path := filepath.Clean(s.holder.Path())
	hup := hangupNotify(ctx)

	var events <-chan fsnotify.Event
	var errs <-chan error

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("config watch unavailable", slog.String("error", err.Error()))
	} else {
		defer watcher.Close()

		if err := watcher.Add(filepath.Dir(path)); err != nil {
			s.logger.Warn("config watch unavailable; reload with SIGHUP",
				slog.String("dir", filepath.Dir(path)),
				slog.String("error", err.Error()),
			)
		} else {
			events, errs = watcher.Events, watcher.Errors
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}

			if filepath.Clean(ev.Name) != path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}

			s.reload("file changed")
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}

			s.logger.Warn("config watcher error", slog.String("error", err.Error()))
		case <-hup:
			s.reload("SIGHUP")
		}
	}
}

// reload swaps in the config file's current contents. An invalid file
// leaves the previous config in place.
func (s *server) reload(reason string) {
	cfg, err := s.holder.Reload(s.logger)
	if err != nil {
		s.logger.Warn("config reload failed; keeping previous config",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)

		return
	}

	s.logger.Info("config reloaded", slog.String("reason", reason), slog.Int("apps", len(cfg.Apps)))
}

// pruneHistory drops executions older than retention, once at start and
// then periodically.
func pruneHistory(ctx context.Context, store *runlog.Store, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(historyPrunePeriod)
	defer ticker.Stop()

	for {
		n, err := store.Prune(ctx, retention)
		if err != nil {
			logger.Warn("pruning execution history failed", slog.String("error", err.Error()))
		} else if n > 0 {
			logger.Info("pruned execution history", slog.Int64("removed", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
