// Package runlog keeps a history of node executions in SQLite.
package runlog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Execution statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrNotFound is returned by Get for an unknown execution ID.
var ErrNotFound = errors.New("runlog: execution not found")

const (
	sqlInsertExecution = `INSERT INTO executions
		(id, app, operation, source, mode, status, row_count, failed_rows, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSelectExecution = `SELECT id, app, operation, source, mode, status, row_count, failed_rows,
		error, started_at, duration_ms FROM executions`

	sqlPruneExecutions = `DELETE FROM executions WHERE started_at < ?`
)

// Execution is one recorded node run.
type Execution struct {
	ID        string        `json:"id"`
	App       string        `json:"app"`
	Operation string        `json:"operation"`
	Source    string        `json:"source"` // "run" or "serve"
	Mode      string        `json:"mode,omitempty"`
	Status    string        `json:"status"`
	Rows      int           `json:"rows"`
	Failed    int           `json:"failed"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Store is the execution history database. It is safe for concurrent use.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
}

// Open opens (creating if needed) the history database at dbPath and
// applies pending migrations.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("runlog: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("execution history ready", slog.String("db_path", dbPath))

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

// runMigrations applies all pending schema migrations using the goose v3
// Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("runlog: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("runlog: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("runlog: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores e, assigning an ID and start time when they are unset.
func (s *Store) Record(ctx context.Context, e *Execution) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	if e.StartedAt.IsZero() {
		e.StartedAt = s.nowFunc()
	}

	if e.Status != StatusSucceeded && e.Status != StatusFailed {
		return fmt.Errorf("runlog: invalid status %q", e.Status)
	}

	_, err := s.db.ExecContext(ctx, sqlInsertExecution,
		e.ID, e.App, e.Operation, e.Source, e.Mode, e.Status, e.Rows, e.Failed,
		e.Error, e.StartedAt.UnixNano(), e.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("runlog: recording execution %s: %w", e.ID, err)
	}

	s.logger.Debug("execution recorded",
		slog.String("id", e.ID),
		slog.String("operation", e.Operation),
		slog.String("status", e.Status),
	)

	return nil
}

// List returns the most recent executions, newest first. limit <= 0
// returns everything.
func (s *Store) List(ctx context.Context, limit int) ([]Execution, error) {
	query := sqlSelectExecution + ` ORDER BY started_at DESC, id`

	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("runlog: listing executions: %w", err)
	}
	defer rows.Close()

	var out []Execution

	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runlog: iterating executions: %w", err)
	}

	return out, nil
}

// Get returns one execution by ID.
func (s *Store) Get(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, sqlSelectExecution+` WHERE id = ?`, id)

	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return e, err
}

// Prune deletes executions older than retention and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.nowFunc().Add(-retention).UnixNano()

	res, err := s.db.ExecContext(ctx, sqlPruneExecutions, cutoff)
	if err != nil {
		return 0, fmt.Errorf("runlog: pruning executions: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("runlog: pruning executions: %w", err)
	}

	if n > 0 {
		s.logger.Info("pruned execution history", slog.Int64("removed", n))
	}

	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(sc scanner) (*Execution, error) {
	var (
		e          Execution
		startedAt  int64
		durationMS int64
	)

	err := sc.Scan(&e.ID, &e.App, &e.Operation, &e.Source, &e.Mode, &e.Status,
		&e.Rows, &e.Failed, &e.Error, &startedAt, &durationMS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("runlog: scanning execution: %w", err)
	}

	e.StartedAt = time.Unix(0, startedAt)
	e.Duration = time.Duration(durationMS) * time.Millisecond

	return &e, nil
}
