package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/haasonsaas/adpilot/pkg/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedProvider replays a fixed sequence of turns and records every request.
type scriptedProvider struct {
	mu       sync.Mutex
	turns    []func(req *CompletionRequest) (*CompletionResponse, error)
	requests []*CompletionRequest
	fallback func(req *CompletionRequest) (*CompletionResponse, error)
}

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	p.mu.Lock()
	snapshot := *req
	snapshot.Messages = append([]CompletionMessage(nil), req.Messages...)
	p.requests = append(p.requests, &snapshot)
	n := len(p.requests) - 1
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n < len(p.turns) {
		return p.turns[n](req)
	}
	if p.fallback != nil {
		return p.fallback(req)
	}
	return nil, fmt.Errorf("unexpected turn %d", n)
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) request(i int) *CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

func textTurn(text string) func(*CompletionRequest) (*CompletionResponse, error) {
	return func(*CompletionRequest) (*CompletionResponse, error) {
		return &CompletionResponse{
			Text:       text,
			StopReason: StopEndTurn,
			Usage:      models.Usage{InputTokens: 10, OutputTokens: 5},
		}, nil
	}
}

func toolTurn(calls ...models.ToolCall) func(*CompletionRequest) (*CompletionResponse, error) {
	return func(*CompletionRequest) (*CompletionResponse, error) {
		return &CompletionResponse{
			ToolCalls:  calls,
			StopReason: StopToolUse,
			Usage:      models.Usage{InputTokens: 20, OutputTokens: 8},
		}, nil
	}
}

func call(id, name, input string) models.ToolCall {
	return models.ToolCall{ID: id, Name: name, Input: json.RawMessage(input)}
}

type queryInput struct {
	CustomerID string `json:"customer_id" jsonschema:"description=10-digit customer id"`
	Query      string `json:"query"`
}

// testRegistry registers list_accounts (succeeds) and query (fails with
// "permission denied").
func testRegistry(t *testing.T) *ToolRegistry {
	t.Helper()
	reg := NewToolRegistry()
	must(t, reg.Register(ToolSpec{
		ID:          ToolListAccounts,
		Description: "List accessible accounts",
		Handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
			return map[string]any{"accounts": []string{"1234567890"}}, nil
		},
	}))
	must(t, reg.Register(ToolSpec{
		ID:          ToolQuery,
		Description: "Run a GAQL query",
		Schema:      SchemaFor[queryInput](),
		Handler: Typed(func(ctx context.Context, in queryInput) (any, error) {
			return nil, errors.New("permission denied")
		}),
	}))
	return reg
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

type memoryRecorder struct {
	mu   sync.Mutex
	runs []*models.RunRecord
	err  error
}

func (r *memoryRecorder) RecordRun(ctx context.Context, run *models.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return r.err
}
