// Package audit persists finished agent runs and their tool call records so
// operators can review what the agent queried and changed.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/haasonsaas/adpilot/pkg/models"
)

// ErrNotFound is returned by GetRun for an unknown id.
var ErrNotFound = errors.New("audit: run not found")

// Config configures the audit store.
type Config struct {
	// Enabled turns persistence on. A disabled store is nil.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Path is the SQLite database file. Default: adpilot-audit.db
	Path string `yaml:"path" json:"path"`

	// MaxFieldSize truncates stored prompts, replies and tool outputs.
	// Default: 16 KiB
	MaxFieldSize int `yaml:"max_field_size" json:"max_field_size"`

	// Retention deletes runs older than this on open. Zero keeps everything.
	Retention time.Duration `yaml:"retention" json:"retention"`
}

const (
	defaultPath         = "adpilot-audit.db"
	defaultMaxFieldSize = 16 << 10
)

// Store is a SQLite-backed run log. It implements agent.RunRecorder.
type Store struct {
	db           *sql.DB
	maxFieldSize int
	logger       *slog.Logger
}

// Open opens (creating if needed) the database at cfg.Path and applies the
// schema.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		cfg.Path = defaultPath
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := newStore(db, cfg, logger)
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if cfg.Retention > 0 {
		n, err := s.Prune(ctx, time.Now().Add(-cfg.Retention))
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if n > 0 {
			s.logger.Info("pruned audit runs", "count", n)
		}
	}
	return s, nil
}

func newStore(db *sql.DB, cfg Config, logger *slog.Logger) *Store {
	if cfg.MaxFieldSize <= 0 {
		cfg.MaxFieldSize = defaultMaxFieldSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:           db,
		maxFieldSize: cfg.MaxFieldSize,
		logger:       logger.With("component", "audit"),
	}
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			workflow TEXT NOT NULL,
			prompt TEXT NOT NULL,
			text TEXT,
			error_message TEXT,
			iterations INTEGER NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			started_at INTEGER NOT NULL,
			duration_ns INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
		`CREATE TABLE IF NOT EXISTS tool_calls (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			call_id TEXT NOT NULL,
			name TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			input TEXT,
			output TEXT,
			error_message TEXT,
			is_error INTEGER NOT NULL,
			started_at INTEGER NOT NULL,
			duration_ns INTEGER NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate audit schema: %w", err)
		}
	}
	return nil
}

// RecordRun stores run and its tool calls in one transaction. A run without an
// id gets a new one.
func (s *Store) RecordRun(ctx context.Context, run *models.RunRecord) error {
	if run == nil {
		return nil
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, workflow, prompt, text, error_message, iterations, input_tokens, output_tokens, started_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Workflow,
		s.clip(run.Prompt),
		nullableString(s.clip(run.Text)),
		nullableString(run.Error),
		run.Iterations,
		run.Usage.InputTokens,
		run.Usage.OutputTokens,
		run.StartedAt.UnixNano(),
		int64(run.Duration),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	for i, tc := range run.ToolCalls {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tool_calls (run_id, seq, call_id, name, iteration, input, output, error_message, is_error, started_at, duration_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID,
			i,
			tc.ID,
			tc.Name,
			tc.Iteration,
			nullableString(string(tc.Input)),
			nullableString(s.clip(tc.Output)),
			nullableString(tc.Error),
			tc.IsError,
			tc.StartedAt.UnixNano(),
			int64(tc.Duration),
		)
		if err != nil {
			return fmt.Errorf("insert tool call %s: %w", tc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun returns a run with its tool calls.
func (s *Store) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow, prompt, text, error_message, iterations, input_tokens, output_tokens, started_at, duration_ns
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT call_id, name, iteration, input, output, error_message, is_error, started_at, duration_ns
		FROM tool_calls WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("get tool calls of %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		tc, err := scanToolCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tool call: %w", err)
		}
		run.ToolCalls = append(run.ToolCalls, *tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get tool calls of %s: %w", id, err)
	}
	return run, nil
}

// ListOptions filters ListRuns.
type ListOptions struct {
	Workflow string
	Limit    int
}

// ListRuns returns runs newest first, without their tool calls.
func (s *Store) ListRuns(ctx context.Context, opts ListOptions) ([]*models.RunRecord, error) {
	var (
		where []string
		args  []any
	)
	if opts.Workflow != "" {
		where = append(where, "workflow = ?")
		args = append(args, opts.Workflow)
	}
	query := `
		SELECT id, workflow, prompt, text, error_message, iterations, input_tokens, output_tokens, started_at, duration_ns
		FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// Prune deletes runs started before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM tool_calls WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`,
		cutoff.UnixNano()); err != nil {
		return 0, fmt.Errorf("prune tool calls: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*models.RunRecord, error) {
	var (
		run       models.RunRecord
		text      sql.NullString
		errMsg    sql.NullString
		startedAt int64
		duration  int64
	)
	if err := sc.Scan(
		&run.ID,
		&run.Workflow,
		&run.Prompt,
		&text,
		&errMsg,
		&run.Iterations,
		&run.Usage.InputTokens,
		&run.Usage.OutputTokens,
		&startedAt,
		&duration,
	); err != nil {
		return nil, err
	}
	run.Text = text.String
	run.Error = errMsg.String
	run.StartedAt = time.Unix(0, startedAt).UTC()
	run.Duration = time.Duration(duration)
	return &run, nil
}

func scanToolCall(sc scanner) (*models.ToolCallRecord, error) {
	var (
		tc        models.ToolCallRecord
		input     sql.NullString
		output    sql.NullString
		errMsg    sql.NullString
		startedAt int64
		duration  int64
	)
	if err := sc.Scan(
		&tc.ID,
		&tc.Name,
		&tc.Iteration,
		&input,
		&output,
		&errMsg,
		&tc.IsError,
		&startedAt,
		&duration,
	); err != nil {
		return nil, err
	}
	if input.Valid {
		tc.Input = json.RawMessage(input.String)
	}
	tc.Output = output.String
	tc.Error = errMsg.String
	tc.StartedAt = time.Unix(0, startedAt).UTC()
	tc.Duration = time.Duration(duration)
	return &tc, nil
}

// clip truncates v to the configured field size on a rune boundary.
func (s *Store) clip(v string) string {
	if len(v) <= s.maxFieldSize {
		return v
	}
	cut := s.maxFieldSize
	for cut > 0 && !utf8.RuneStart(v[cut]) {
		cut--
	}
	return v[:cut] + "...[truncated]"
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
