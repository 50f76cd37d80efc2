package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/adpilot/internal/observability"
	"github.com/haasonsaas/adpilot/pkg/models"
)

// DispatchConfig configures tool execution within one model turn.
type DispatchConfig struct {
	// Concurrency is the maximum number of tools running at once. Default: 4.
	Concurrency int

	// PerToolTimeout bounds a single tool execution. Default: 90 seconds.
	PerToolTimeout time.Duration

	// MaxResultBytes truncates tool output fed back to the model. Default: 64 KiB.
	MaxResultBytes int
}

func (c DispatchConfig) withDefaults() DispatchConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.PerToolTimeout <= 0 {
		c.PerToolTimeout = 90 * time.Second
	}
	if c.MaxResultBytes <= 0 {
		c.MaxResultBytes = 64 << 10
	}
	return c
}

// Dispatch is the outcome of one tool call: the result fed back to the model
// and the audit record.
type Dispatch struct {
	Result models.ToolResult
	Record models.ToolCallRecord
}

// Dispatcher runs the tool calls of a model turn concurrently. It never fails
// as a whole: every call yields exactly one result, error-flagged when the tool
// is unknown, the input is invalid, or the handler errors, panics or times out.
type Dispatcher struct {
	registry *ToolRegistry
	config   DispatchConfig
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *ToolRegistry, config DispatchConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		config:   config.withDefaults(),
		logger:   logger.With("component", "dispatcher"),
	}
}

// Dispatch executes calls and returns their outcomes in call order.
func (d *Dispatcher) Dispatch(ctx context.Context, iteration int, calls []models.ToolCall) []Dispatch {
	out := make([]Dispatch, len(calls))

	var g errgroup.Group
	g.SetLimit(d.config.Concurrency)
	for i, call := range calls {
		g.Go(func() error {
			out[i] = d.execute(ctx, iteration, call)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (d *Dispatcher) execute(ctx context.Context, iteration int, call models.ToolCall) Dispatch {
	ctx, span := d.tracer.TraceToolExecution(ctx, call.Name, call.ID)
	defer span.End()

	start := time.Now()
	value, err := d.run(ctx, call)
	elapsed := time.Since(start)

	record := models.ToolCallRecord{
		ID:        call.ID,
		Name:      call.Name,
		Iteration: iteration,
		Input:     call.Input,
		StartedAt: start,
		Duration:  elapsed,
	}
	result := models.ToolResult{ToolCallID: call.ID}

	status := "success"
	if err != nil {
		toolErr := newToolError(call.Name, call.ID, err)
		status = "error"
		record.Error = toolErr.Error()
		record.IsError = true
		result.Content = toolErr.Error()
		result.IsError = true
		observability.RecordError(span, toolErr)
		d.logger.Warn("tool failed",
			"tool", call.Name,
			"tool_call_id", call.ID,
			"error_type", toolErr.Type,
			"error", toolErr.Error(),
			"duration_ms", elapsed.Milliseconds(),
		)
	} else {
		result.Content = truncateResult(formatOutput(value), d.config.MaxResultBytes)
		record.Output = result.Content
		d.logger.Debug("tool completed",
			"tool", call.Name,
			"tool_call_id", call.ID,
			"duration_ms", elapsed.Milliseconds(),
		)
	}
	d.metrics.RecordToolExecution(call.Name, status, elapsed.Seconds())

	return Dispatch{Result: result, Record: record}
}

// run resolves and executes one call under the per-tool timeout, converting a
// handler panic into an error.
func (d *Dispatcher) run(ctx context.Context, call models.ToolCall) (any, error) {
	handler, err := d.registry.Resolve(call.Name, call.Input)
	if err != nil {
		return nil, err
	}

	toolCtx, cancel := context.WithTimeout(ctx, d.config.PerToolTimeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("tool panicked", "tool", call.Name, "panic", r, "stack", string(debug.Stack()))
				done <- outcome{err: fmt.Errorf("%w: %v", ErrToolPanic, r)}
			}
		}()
		value, err := handler(toolCtx, call.Input)
		done <- outcome{value: value, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && toolCtx.Err() != nil {
			return nil, d.interrupted(ctx, toolCtx)
		}
		return o.value, o.err
	case <-toolCtx.Done():
		return nil, d.interrupted(ctx, toolCtx)
	}
}

// interrupted reports why toolCtx ended: its own deadline or the caller.
func (d *Dispatcher) interrupted(ctx, toolCtx context.Context) error {
	if errors.Is(toolCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w after %v", ErrToolTimeout, d.config.PerToolTimeout)
	}
	return fmt.Errorf("tool execution canceled: %w", ctx.Err())
}

// formatOutput renders a handler value as tool result text. Strings pass
// through; everything else is JSON encoded.
func formatOutput(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.RawMessage:
		return string(val)
	case nil:
		return "null"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func truncateResult(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("\n...[truncated %d bytes]", len(s)-cut)
}
