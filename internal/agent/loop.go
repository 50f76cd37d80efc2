package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/adpilot/internal/observability"
	"github.com/haasonsaas/adpilot/pkg/models"
)

// LoopConfig configures the tool-invocation loop.
type LoopConfig struct {
	// MaxIterations limits the number of model turns in one run.
	// Default: 10
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`

	// MaxTokens is the max tokens for each model response.
	// Default: 4096
	MaxTokens int64 `yaml:"max_tokens" json:"max_tokens"`

	// Concurrency is the maximum number of tools running at once within a turn.
	// Default: 4
	Concurrency int `yaml:"concurrency" json:"concurrency"`

	// PerToolTimeout bounds each tool execution.
	// Default: 90s
	PerToolTimeout time.Duration `yaml:"per_tool_timeout" json:"per_tool_timeout"`

	// MaxResultBytes truncates tool output fed back to the model.
	// Default: 64 KiB
	MaxResultBytes int `yaml:"max_result_bytes" json:"max_result_bytes"`

	// Model is passed through to the provider; empty uses its default.
	Model string `yaml:"model" json:"model"`

	// System is the default system prompt.
	System string `yaml:"system" json:"system"`
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations:  10,
		MaxTokens:      4096,
		Concurrency:    4,
		PerToolTimeout: 90 * time.Second,
		MaxResultBytes: 64 << 10,
	}
}

func sanitizeLoopConfig(cfg LoopConfig) LoopConfig {
	defaults := DefaultLoopConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.PerToolTimeout <= 0 {
		cfg.PerToolTimeout = defaults.PerToolTimeout
	}
	if cfg.MaxResultBytes <= 0 {
		cfg.MaxResultBytes = defaults.MaxResultBytes
	}
	return cfg
}

// RunRecorder persists finished runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *models.RunRecord) error
}

// RunRequest is the input of one Run.
type RunRequest struct {
	// Prompt is the new user message.
	Prompt string

	// History is prior conversation, e.g. earlier chat exchanges. It is copied,
	// never modified.
	History []CompletionMessage

	// System overrides the configured system prompt when set.
	System string

	// Workflow labels the run in the audit log, metrics and traces.
	Workflow string
}

// RunResult is the outcome of one Run.
type RunResult struct {
	RunID      string                  `json:"run_id"`
	Text       string                  `json:"text"`
	ToolCalls  []models.ToolCallRecord `json:"tool_calls"`
	Usage      models.Usage            `json:"usage"`
	Iterations int                     `json:"iterations"`
	StopReason StopReason              `json:"stop_reason,omitempty"`

	// Messages is the full conversation including the final assistant turn.
	Messages []CompletionMessage `json:"-"`
}

// Loop drives a conversation with the reasoning service. Each turn either
// completes the run (no tool calls) or dispatches every requested tool and
// feeds all results back before the next turn is requested.
//
//	AwaitingModel ──(no tool calls)──▶ Completed
//	      ▲  │
//	      │  └──(tool calls)──▶ DispatchingTools
//	      └──────(all results)──────┘
//
// A run fails when the provider errors or MaxIterations turns pass without
// completion.
type Loop struct {
	provider   LLMProvider
	registry   *ToolRegistry
	dispatcher *Dispatcher
	config     LoopConfig
	logger     *slog.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	recorder   RunRecorder
}

// LoopOption customizes a Loop.
type LoopOption func(*Loop)

// WithMetrics records model, tool and run metrics.
func WithMetrics(m *observability.Metrics) LoopOption {
	return func(l *Loop) { l.metrics = m }
}

// WithTracer emits spans for runs, model turns and tool dispatches.
func WithTracer(t *observability.Tracer) LoopOption {
	return func(l *Loop) { l.tracer = t }
}

// WithRecorder persists every finished run, successful or not.
func WithRecorder(r RunRecorder) LoopOption {
	return func(l *Loop) { l.recorder = r }
}

// NewLoop creates a loop over provider and the tools in registry.
func NewLoop(provider LLMProvider, registry *ToolRegistry, config LoopConfig, logger *slog.Logger, opts ...LoopOption) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = NewToolRegistry()
	}
	config = sanitizeLoopConfig(config)
	l := &Loop{
		provider: provider,
		registry: registry,
		config:   config,
		logger:   logger.With("component", "agent"),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.dispatcher = NewDispatcher(registry, DispatchConfig{
		Concurrency:    config.Concurrency,
		PerToolTimeout: config.PerToolTimeout,
		MaxResultBytes: config.MaxResultBytes,
	}, logger)
	l.dispatcher.metrics = l.metrics
	l.dispatcher.tracer = l.tracer
	return l
}

// Config returns the effective configuration.
func (l *Loop) Config() LoopConfig {
	return l.config
}

// Run executes one conversation to completion.
//
// On failure the partial RunResult is returned alongside the error so callers
// can report the tool calls that did happen. The error is a *LoopError.
func (l *Loop) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if l.provider == nil {
		return nil, ErrNoProvider
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	started := time.Now()
	result := &RunResult{RunID: uuid.NewString()}
	logger := l.logger.With("run_id", result.RunID, "workflow", req.Workflow)

	ctx, span := l.tracer.TraceRun(ctx, result.RunID, req.Workflow)
	defer span.End()

	system := l.config.System
	if req.System != "" {
		system = req.System
	}

	messages := make([]CompletionMessage, 0, len(req.History)+1+2*l.config.MaxIterations)
	messages = append(messages, req.History...)
	messages = append(messages, CompletionMessage{Role: models.RoleUser, Content: req.Prompt})
	tools := l.registry.Definitions()

	finish := func(err error) (*RunResult, error) {
		result.Messages = messages
		outcome := "completed"
		switch {
		case err == nil:
		case isMaxIterations(err):
			outcome = "max_iterations"
		default:
			outcome = "error"
		}
		l.metrics.RecordLoopRun(outcome)
		observability.RecordError(span, err)
		l.record(ctx, req, result, err, started)

		if err != nil {
			logger.Warn("agent run failed", "error", err, "iterations", result.Iterations, "tool_calls", len(result.ToolCalls))
			return result, err
		}
		logger.Info("agent run completed",
			"iterations", result.Iterations,
			"tool_calls", len(result.ToolCalls),
			"input_tokens", result.Usage.InputTokens,
			"output_tokens", result.Usage.OutputTokens,
			"duration_ms", time.Since(started).Milliseconds(),
		)
		return result, nil
	}

	for iteration := 0; iteration < l.config.MaxIterations; iteration++ {
		result.Iterations = iteration + 1

		resp, err := l.complete(ctx, &CompletionRequest{
			Model:     l.config.Model,
			System:    system,
			Messages:  messages,
			Tools:     tools,
			MaxTokens: l.config.MaxTokens,
		}, iteration)
		if err != nil {
			return finish(&LoopError{Phase: PhaseAwaitingModel, Iteration: iteration, Cause: err})
		}
		result.Usage.Add(resp.Usage)
		result.StopReason = resp.StopReason
		messages = append(messages, CompletionMessage{
			Role:      models.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			result.Text = resp.Text
			return finish(nil)
		}

		logger.Debug("dispatching tools", "iteration", iteration, "count", len(resp.ToolCalls))
		dispatched := l.dispatcher.Dispatch(ctx, iteration, resp.ToolCalls)
		toolResults := make([]models.ToolResult, len(dispatched))
		for i, d := range dispatched {
			toolResults[i] = d.Result
			result.ToolCalls = append(result.ToolCalls, d.Record)
		}
		messages = append(messages, CompletionMessage{Role: models.RoleTool, ToolResults: toolResults})

		if err := ctx.Err(); err != nil {
			return finish(&LoopError{Phase: PhaseDispatchingTools, Iteration: iteration, Cause: err})
		}
	}

	return finish(&LoopError{
		Phase:     PhaseDispatchingTools,
		Iteration: l.config.MaxIterations,
		Cause:     ErrMaxIterations,
	})
}

func (l *Loop) complete(ctx context.Context, req *CompletionRequest, iteration int) (*CompletionResponse, error) {
	ctx, span := l.tracer.TraceLLMRequest(ctx, l.provider.Name(), req.Model, iteration)
	defer span.End()

	start := time.Now()
	resp, err := l.provider.Complete(ctx, req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		l.metrics.RecordLLMRequest(l.provider.Name(), req.Model, "error", elapsed, 0, 0)
		observability.RecordError(span, err)
		return nil, err
	}
	l.metrics.RecordLLMRequest(l.provider.Name(), req.Model, "success", elapsed,
		resp.Usage.InputTokens, resp.Usage.OutputTokens)
	return resp, nil
}

func (l *Loop) record(ctx context.Context, req RunRequest, result *RunResult, runErr error, started time.Time) {
	if l.recorder == nil {
		return
	}
	rec := &models.RunRecord{
		ID:         result.RunID,
		Workflow:   req.Workflow,
		Prompt:     req.Prompt,
		Text:       result.Text,
		Iterations: result.Iterations,
		Usage:      result.Usage,
		ToolCalls:  result.ToolCalls,
		StartedAt:  started,
		Duration:   time.Since(started),
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := l.recorder.RecordRun(context.WithoutCancel(ctx), rec); err != nil {
		l.logger.Warn("failed to record run", "run_id", result.RunID, "error", err)
	}
}

func isMaxIterations(err error) bool {
	return errors.Is(err, ErrMaxIterations)
}
