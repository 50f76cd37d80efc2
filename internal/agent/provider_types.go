package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/adpilot/pkg/models"
)

// LLMProvider is the reasoning service the loop talks to.
//
// Implementations must be safe for concurrent use.
type LLMProvider interface {
	// Complete sends the conversation and returns the model's next turn.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name, used in metrics and traces.
	Name() string
}

// CompletionRequest contains all parameters for one model turn.
type CompletionRequest struct {
	// Model specifies which model to use. If empty, the provider's default is used.
	Model string `json:"model"`

	// System is the system prompt.
	System string `json:"system,omitempty"`

	// Messages contains the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools defines the tools the model may request.
	Tools []ToolDefinition `json:"tools,omitempty"`

	// MaxTokens limits the length of the generated response.
	MaxTokens int64 `json:"max_tokens,omitempty"`
}

// CompletionMessage is a single conversation entry.
//
// User messages carry Content. Assistant messages carry Content and/or
// ToolCalls. Tool messages carry ToolResults, one per call of the preceding
// assistant message.
type CompletionMessage struct {
	Role        models.Role         `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// ToolDefinition is the model-facing description of a registered tool.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// StopReason is why the model ended its turn.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopSequence  StopReason = "stop_sequence"
)

// CompletionResponse is one model turn. A response with no ToolCalls is the
// completion signal.
type CompletionResponse struct {
	Text       string            `json:"text,omitempty"`
	ToolCalls  []models.ToolCall `json:"tool_calls,omitempty"`
	StopReason StopReason        `json:"stop_reason"`
	Usage      models.Usage      `json:"usage"`
	Model      string            `json:"model,omitempty"`
}
