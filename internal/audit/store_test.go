package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/haasonsaas/adpilot/pkg/models"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *Store) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock, newStore(db, Config{}, nil)
}

func sampleRun() *models.RunRecord {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.RunRecord{
		ID:         "run-1",
		Workflow:   "health_check",
		Prompt:     "check account 42",
		Text:       "all good",
		Iterations: 2,
		Usage:      models.Usage{InputTokens: 120, OutputTokens: 40},
		StartedAt:  started,
		Duration:   3 * time.Second,
		ToolCalls: []models.ToolCallRecord{
			{
				ID:        "call-1",
				Name:      "query",
				Iteration: 1,
				Input:     json.RawMessage(`{"customer_id":"42"}`),
				Output:    `{"results":[]}`,
				StartedAt: started.Add(time.Second),
				Duration:  200 * time.Millisecond,
			},
			{
				ID:        "call-2",
				Name:      "mutate",
				Iteration: 1,
				Input:     json.RawMessage(`{"customer_id":"42"}`),
				Error:     "permission denied",
				IsError:   true,
				StartedAt: started.Add(time.Second),
				Duration:  10 * time.Millisecond,
			},
		},
	}
}

func TestStore_RecordRun(t *testing.T) {
	tests := []struct {
		name        string
		setupMock   func(sqlmock.Sqlmock)
		errContains string
	}{
		{
			name: "successful insert",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO runs").
					WithArgs("run-1", "health_check", "check account 42", "all good", nil, 2, int64(120), int64(40), sqlmock.AnyArg(), int64(3*time.Second)).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO tool_calls").
					WithArgs("run-1", 0, "call-1", "query", 1, sqlmock.AnyArg(), sqlmock.AnyArg(), nil, false, sqlmock.AnyArg(), sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO tool_calls").
					WithArgs("run-1", 1, "call-2", "mutate", 1, sqlmock.AnyArg(), nil, "permission denied", true, sqlmock.AnyArg(), sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "tool call insert fails rolls back",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO runs").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO tool_calls").WillReturnError(errors.New("disk full"))
				mock.ExpectRollback()
			},
			errContains: "insert tool call call-1: disk full",
		},
		{
			name: "begin fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(errors.New("database is locked"))
			},
			errContains: "database is locked",
		},
		{
			name: "commit fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO runs").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO tool_calls").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO tool_calls").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit().WillReturnError(errors.New("io error"))
			},
			errContains: "commit run run-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mock, store := setupMockDB(t)
			tt.setupMock(mock)

			err := store.RecordRun(context.Background(), sampleRun())
			if tt.errContains == "" && err != nil {
				t.Fatalf("RecordRun() error = %v", err)
			}
			if tt.errContains != "" && (err == nil || !strings.Contains(err.Error(), tt.errContains)) {
				t.Fatalf("RecordRun() error = %v, want containing %q", err, tt.errContains)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestStore_RecordRunAssignsID(t *testing.T) {
	_, mock, store := setupMockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO runs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	run := &models.RunRecord{Workflow: "chat", Prompt: "hi"}
	if err := store.RecordRun(context.Background(), run); err != nil {
		t.Fatal(err)
	}
	if run.ID == "" {
		t.Error("run id not assigned")
	}
	if err := store.RecordRun(context.Background(), nil); err != nil {
		t.Errorf("RecordRun(nil) = %v", err)
	}
}

func TestStore_GetRunErrors(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		_, mock, store := setupMockDB(t)
		mock.ExpectQuery("SELECT .* FROM runs WHERE id").WithArgs("missing").WillReturnError(sql.ErrNoRows)

		_, err := store.GetRun(context.Background(), "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("query fails", func(t *testing.T) {
		_, mock, store := setupMockDB(t)
		mock.ExpectQuery("SELECT .* FROM runs WHERE id").WillReturnError(errors.New("connection reset"))

		_, err := store.GetRun(context.Background(), "run-1")
		if err == nil || errors.Is(err, ErrNotFound) || !strings.Contains(err.Error(), "connection reset") {
			t.Errorf("error = %v", err)
		}
	})
}

func TestStore_ListRunsQuery(t *testing.T) {
	_, mock, store := setupMockDB(t)
	rows := sqlmock.NewRows([]string{"id", "workflow", "prompt", "text", "error_message", "iterations", "input_tokens", "output_tokens", "started_at", "duration_ns"}).
		AddRow("run-2", "chat", "hi", "hello", nil, 1, 10, 5, time.Now().UnixNano(), int64(time.Second)).
		AddRow("run-1", "chat", "yo", nil, "provider down", 0, 0, 0, time.Now().Add(-time.Hour).UnixNano(), int64(time.Second))
	mock.ExpectQuery(`SELECT .* FROM runs WHERE workflow = \? ORDER BY started_at DESC LIMIT \?`).
		WithArgs("chat", 5).
		WillReturnRows(rows)

	runs, err := store.ListRuns(context.Background(), ListOptions{Workflow: "chat", Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("len = %d", len(runs))
	}
	if runs[0].Text != "hello" || runs[1].Error != "provider down" || runs[1].Succeeded() {
		t.Errorf("runs = %+v %+v", runs[0], runs[1])
	}
}

func TestStore_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, Config{Path: filepath.Join(t.TempDir(), "audit.db")}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	run := sampleRun()
	if err := store.RecordRun(ctx, run); err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}
	old := &models.RunRecord{ID: "run-0", Workflow: "chat", Prompt: "old", StartedAt: run.StartedAt.Add(-48 * time.Hour)}
	if err := store.RecordRun(ctx, old); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Workflow != "health_check" || got.Usage.Total() != 160 || got.Duration != 3*time.Second {
		t.Errorf("run = %+v", got)
	}
	if !got.StartedAt.Equal(run.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, run.StartedAt)
	}
	if len(got.ToolCalls) != 2 {
		t.Fatalf("tool calls = %d", len(got.ToolCalls))
	}
	if got.ToolCalls[1].Error != "permission denied" || !got.ToolCalls[1].IsError {
		t.Errorf("tool call = %+v", got.ToolCalls[1])
	}
	if string(got.ToolCalls[0].Input) != `{"customer_id":"42"}` {
		t.Errorf("input = %s", got.ToolCalls[0].Input)
	}
	if got.FailedToolCalls() != 1 {
		t.Errorf("FailedToolCalls() = %d", got.FailedToolCalls())
	}

	runs, err := store.ListRuns(ctx, ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "run-1" {
		t.Errorf("ListRuns() = %d runs, first %q", len(runs), runs[0].ID)
	}

	n, err := store.Prune(ctx, run.StartedAt.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}
	if _, err := store.GetRun(ctx, "run-0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("pruned run still present: %v", err)
	}
}

func TestStore_Clip(t *testing.T) {
	store := newStore(nil, Config{MaxFieldSize: 5}, nil)
	if got := store.clip("abc"); got != "abc" {
		t.Errorf("clip(short) = %q", got)
	}
	if got := store.clip("abcdefgh"); got != "abcde...[truncated]" {
		t.Errorf("clip(long) = %q", got)
	}
	// "é" is two bytes; the cut must not split it.
	if got := store.clip("abcdéfg"); got != "abcd...[truncated]" {
		t.Errorf("clip(multibyte) = %q", got)
	}
}
