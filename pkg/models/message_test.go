package models

import (
	"encoding/json"
	"testing"
)

func TestUsage_Add(t *testing.T) {
	var u Usage
	u.Add(Usage{InputTokens: 10, OutputTokens: 3})
	u.Add(Usage{InputTokens: 5, OutputTokens: 2})

	if u.InputTokens != 15 || u.OutputTokens != 5 {
		t.Fatalf("usage = %+v, want 15/5", u)
	}
	if u.Total() != 20 {
		t.Errorf("Total() = %d, want 20", u.Total())
	}
}

func TestToolResult_OmitsFalseIsError(t *testing.T) {
	data, err := json.Marshal(ToolResult{ToolCallID: "t1", Content: "ok"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"tool_call_id":"t1","content":"ok"}` {
		t.Errorf("json = %s", data)
	}
}
