// Package providers implements agent.LLMProvider for the reasoning service.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/adpilot/internal/agent"
	"github.com/haasonsaas/adpilot/internal/backoff"
	"github.com/haasonsaas/adpilot/pkg/models"
)

const (
	// DefaultModel is used when neither the request nor the config names one.
	DefaultModel = "claude-sonnet-4-20250514"

	defaultMaxTokens = 4096
)

// AnthropicConfig holds configuration parameters for creating an AnthropicProvider.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key (required).
	APIKey string

	// BaseURL overrides the default Anthropic API base URL.
	BaseURL string

	// DefaultModel is used when CompletionRequest.Model is empty.
	DefaultModel string

	// Timeout bounds one HTTP request. Zero means no client-side timeout.
	Timeout time.Duration

	// Retry controls retries of rate-limited, overloaded and 5xx responses.
	Retry backoff.Policy

	Logger *slog.Logger
}

// AnthropicProvider implements agent.LLMProvider on the Messages API. Each
// Complete call is one non-streaming request; the loop needs the whole turn
// before it can dispatch tools.
//
// AnthropicProvider is safe for concurrent use.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	retry        backoff.Policy
	logger       *slog.Logger
}

// NewAnthropicProvider creates a provider. The SDK's own retries are disabled
// in favour of the configured backoff policy.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = DefaultModel
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	options := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	if config.Timeout > 0 {
		options = append(options, option.WithHTTPClient(&http.Client{Timeout: config.Timeout}))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		defaultModel: config.DefaultModel,
		retry:        config.Retry.WithDefaults(),
		logger:       config.Logger.With("component", "anthropic"),
	}, nil
}

// Name returns the provider identifier used in metrics and logs.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Complete sends one turn of the conversation and returns the model's reply.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	model := p.model(req.Model)
	params, err := p.buildParams(req, model)
	if err != nil {
		return nil, err
	}

	msg, err := backoff.Retry(ctx, p.retry, func(attempt int) (*anthropic.Message, error) {
		msg, err := p.client.Messages.New(ctx, params)
		if err == nil {
			return msg, nil
		}
		wrapped := p.wrapError(err, model)
		if ctx.Err() != nil || !IsRetryable(wrapped) {
			return nil, backoff.Permanent(wrapped)
		}
		p.logger.Warn("anthropic request failed, retrying", "attempt", attempt, "error", wrapped)
		return nil, wrapped
	})
	if err != nil {
		return nil, err
	}
	return convertResponse(msg)
}

func (p *AnthropicProvider) buildParams(req *agent.CompletionRequest, model string) (anthropic.MessageNewParams, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}
	return params, nil
}

func (p *AnthropicProvider) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// convertMessages maps the conversation onto Anthropic content blocks. Tool
// results travel in user messages, tool calls in assistant messages.
func convertMessages(messages []agent.CompletionMessage) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			input := map[string]any{}
			if len(tc.Input) > 0 {
				if err := json.Unmarshal(tc.Input, &input); err != nil {
					return nil, fmt.Errorf("invalid input for tool call %s: %w", tc.ID, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

// convertTools maps tool definitions to Anthropic tool params. Schema keywords
// other than properties and required are forwarded as extra fields.
func convertTools(tools []agent.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))

	for _, tool := range tools {
		raw := map[string]any{}
		if len(tool.InputSchema) > 0 {
			if err := json.Unmarshal(tool.InputSchema, &raw); err != nil {
				return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
			}
		}

		var schema anthropic.ToolInputSchemaParam
		if props, ok := raw["properties"]; ok {
			schema.Properties = props
		}
		if req, ok := raw["required"].([]any); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
		extra := map[string]any{}
		for k, v := range raw {
			switch k {
			case "type", "properties", "required":
			default:
				extra[k] = v
			}
		}
		if len(extra) > 0 {
			schema.ExtraFields = extra
		}

		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if tool.Description != "" {
			param.OfTool.Description = anthropic.String(tool.Description)
		}
		result = append(result, param)
	}
	return result, nil
}

func convertResponse(msg *anthropic.Message) (*agent.CompletionResponse, error) {
	resp := &agent.CompletionResponse{
		StopReason: agent.StopReason(msg.StopReason),
		Model:      string(msg.Model),
		Usage: models.Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}

	var text []string
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "tool_use":
			input := block.Input
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: input,
			})
		}
	}
	resp.Text = strings.Join(text, "\n")
	return resp, nil
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return newProviderError(p.Name(), model, err)
	}

	providerErr := &ProviderError{
		Reason:    classifyStatusCode(apiErr.StatusCode),
		Provider:  p.Name(),
		Model:     model,
		Status:    apiErr.StatusCode,
		RequestID: apiErr.RequestID,
		Message:   "anthropic request failed",
		Cause:     err,
	}

	var payload anthropicErrorPayload
	if raw := apiErr.RawJSON(); raw != "" && json.Unmarshal([]byte(raw), &payload) == nil {
		if payload.Error.Message != "" {
			providerErr.Message = payload.Error.Message
		}
		if payload.Error.Type != "" {
			providerErr.Code = payload.Error.Type
			if reason := classifyErrorCode(payload.Error.Type); reason != ReasonUnknown {
				providerErr.Reason = reason
			}
		}
		if payload.RequestID != "" {
			providerErr.RequestID = payload.RequestID
		}
	}
	return providerErr
}
