package agent

import (
	"errors"
	"fmt"
	"strings"
)

// Common sentinel errors for agent operations
var (
	// ErrMaxIterations indicates the loop reached its iteration cap without the
	// model signalling completion.
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrNoProvider indicates no LLM provider is configured
	ErrNoProvider = errors.New("no provider configured")

	// ErrEmptyPrompt indicates Run was called with nothing to send
	ErrEmptyPrompt = errors.New("empty prompt")

	// ErrToolNotFound indicates a requested tool isn't registered
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidToolInput indicates tool input failed schema validation
	ErrInvalidToolInput = errors.New("invalid tool input")

	// ErrToolTimeout indicates a tool execution timed out
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolPanic indicates a tool panicked during execution
	ErrToolPanic = errors.New("tool panicked")

	// ErrInvalidToolSpec is wrapped by registration failures
	ErrInvalidToolSpec = errors.New("invalid tool spec")
)

// ToolErrorType categorizes tool execution errors.
type ToolErrorType string

const (
	ToolErrorNotFound     ToolErrorType = "not_found"
	ToolErrorInvalidInput ToolErrorType = "invalid_input"
	ToolErrorTimeout      ToolErrorType = "timeout"
	ToolErrorPermission   ToolErrorType = "permission"
	ToolErrorRateLimit    ToolErrorType = "rate_limit"
	ToolErrorExecution    ToolErrorType = "execution"
	ToolErrorPanic        ToolErrorType = "panic"
)

// ToolError is a failed tool dispatch. Its Error text is exactly the message
// the model sees in the error-flagged tool result.
type ToolError struct {
	Type       ToolErrorType
	ToolName   string
	ToolCallID string
	Cause      error
}

func (e *ToolError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("tool %s failed", e.ToolName)
	}
	return e.Cause.Error()
}

func (e *ToolError) Unwrap() error {
	return e.Cause
}

// newToolError wraps cause and classifies it.
func newToolError(name, callID string, cause error) *ToolError {
	return &ToolError{
		Type:       classifyToolError(cause),
		ToolName:   name,
		ToolCallID: callID,
		Cause:      cause,
	}
}

// classifyToolError determines the error type from sentinels first and then
// from the message text returned by remote services.
func classifyToolError(err error) ToolErrorType {
	switch {
	case err == nil:
		return ToolErrorExecution
	case errors.Is(err, ErrToolNotFound):
		return ToolErrorNotFound
	case errors.Is(err, ErrInvalidToolInput):
		return ToolErrorInvalidInput
	case errors.Is(err, ErrToolTimeout):
		return ToolErrorTimeout
	case errors.Is(err, ErrToolPanic):
		return ToolErrorPanic
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "deadline exceeded"):
		return ToolErrorTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "resource_exhausted"):
		return ToolErrorRateLimit
	case strings.Contains(msg, "permission") || strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "access denied"):
		return ToolErrorPermission
	default:
		return ToolErrorExecution
	}
}

// LoopPhase is the state the loop was in when an error occurred.
type LoopPhase string

const (
	PhaseAwaitingModel    LoopPhase = "awaiting_model"
	PhaseDispatchingTools LoopPhase = "dispatching_tools"
)

// LoopError represents a fatal error in a Run, with the phase and iteration
// it occurred in.
type LoopError struct {
	Phase     LoopPhase
	Iteration int
	Cause     error
}

func (e *LoopError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("agent loop failed at %s (iteration %d)", e.Phase, e.Iteration)
	}
	return fmt.Sprintf("agent loop failed at %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
}

func (e *LoopError) Unwrap() error {
	return e.Cause
}
