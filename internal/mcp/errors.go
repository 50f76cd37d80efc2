package mcp

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotStarted is returned by Call when no connection is active.
	ErrNotStarted = errors.New("mcp bridge not started")

	// ErrAlreadyStarted is returned by Start when a connection is already active.
	ErrAlreadyStarted = errors.New("mcp bridge already started")

	// ErrTerminated is returned by Start once the bridge has terminated.
	// A new Bridge must be constructed to reconnect.
	ErrTerminated = errors.New("mcp bridge terminated")

	// ErrBridgeClosed fails requests that were pending when the connection went away.
	ErrBridgeClosed = errors.New("mcp bridge closed")

	// ErrRPCTimeout is matched by every TimeoutError.
	ErrRPCTimeout = errors.New("mcp request timed out")

	// ErrLineTooLong reports server output that exceeded the line limit.
	ErrLineTooLong = errors.New("mcp line exceeds maximum size")
)

// StartupError reports a failed Start.
type StartupError struct {
	Reason string
	Err    error
}

func (e *StartupError) Error() string {
	if e.Err == nil {
		return "mcp startup: " + e.Reason
	}
	return fmt.Sprintf("mcp startup: %s: %v", e.Reason, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// TimeoutError reports a request that received no response in time.
type TimeoutError struct {
	Method  string
	ID      int64
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("mcp request %s (id %d) timed out after %v", e.Method, e.ID, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrRPCTimeout }

// RemoteError is a JSON-RPC error returned by the server. Its message is kept
// verbatim so callers can surface the underlying cause.
type RemoteError struct {
	Code    int
	Message string
	Data    []byte
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Kind names the standard JSON-RPC error class of Code, or "remote_error" for
// server-defined codes.
func (e *RemoteError) Kind() string {
	switch e.Code {
	case ErrCodeParseError:
		return "parse_error"
	case ErrCodeInvalidRequest:
		return "invalid_request"
	case ErrCodeMethodNotFound:
		return "method_not_found"
	case ErrCodeInvalidParams:
		return "invalid_params"
	case ErrCodeInternalError:
		return "internal_error"
	default:
		return "remote_error"
	}
}

// ToolError is a tools/call reply flagged with isError.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tool %s failed", e.Tool)
	}
	return e.Message
}
