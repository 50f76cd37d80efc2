package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// CallTool invokes a server tool via tools/call and unwraps its reply.
//
// The text of the first content block is decoded as JSON when possible;
// text that is not JSON is returned as a plain string. A reply flagged isError
// becomes a *ToolError carrying the text. A reply with no content yields nil.
func (b *Bridge) CallTool(ctx context.Context, name string, arguments map[string]any) (any, error) {
	if arguments == nil {
		arguments = map[string]any{}
	}
	raw, err := b.Call(ctx, MethodToolsCall, CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, err
	}

	var result ToolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse %s result: %w", name, err)
	}
	return unwrapToolResult(name, &result)
}

func unwrapToolResult(name string, result *ToolCallResult) (any, error) {
	if result.IsError {
		return nil, &ToolError{Tool: name, Message: joinText(result.Content)}
	}
	block, ok := firstText(result.Content)
	if !ok {
		return nil, nil
	}

	var decoded any
	if err := json.Unmarshal([]byte(block.Text), &decoded); err == nil {
		return decoded, nil
	}
	return block.Text, nil
}

func firstText(blocks []ContentBlock) (ContentBlock, bool) {
	for _, block := range blocks {
		if block.Type == "text" {
			return block, true
		}
	}
	return ContentBlock{}, false
}

func joinText(blocks []ContentBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}
