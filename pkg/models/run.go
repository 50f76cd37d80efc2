package models

import "time"

// RunRecord summarizes one agent run for the audit log.
type RunRecord struct {
	ID         string           `json:"id"`
	Workflow   string           `json:"workflow"`
	Prompt     string           `json:"prompt"`
	Text       string           `json:"text,omitempty"`
	Error      string           `json:"error,omitempty"`
	Iterations int              `json:"iterations"`
	Usage      Usage            `json:"usage"`
	ToolCalls  []ToolCallRecord `json:"tool_calls"`
	StartedAt  time.Time        `json:"started_at"`
	Duration   time.Duration    `json:"duration"`
}

// Succeeded reports whether the run finished without error.
func (r *RunRecord) Succeeded() bool {
	return r.Error == ""
}

// FailedToolCalls counts the error-flagged tool calls in the run.
func (r *RunRecord) FailedToolCalls() int {
	n := 0
	for _, tc := range r.ToolCalls {
		if tc.IsError {
			n++
		}
	}
	return n
}
