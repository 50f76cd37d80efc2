// Package mcp drives a Model Context Protocol server running as a child process.
//
// The server speaks newline-delimited JSON-RPC 2.0 over stdin/stdout. A Bridge
// owns one such process: it performs the initialize handshake, correlates
// concurrent requests with their responses by numeric id, and exposes the Google
// Ads verbs (list accounts, query, mutate) on top of tools/call.
package mcp

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	jsonRPCVersion = "2.0"

	// DefaultProtocolVersion is the MCP revision sent in the handshake.
	DefaultProtocolVersion = "2024-11-05"

	// DefaultTimeout bounds every request that does not carry a shorter context deadline.
	DefaultTimeout = 60 * time.Second
)

// Method names used on the wire.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsCall   = "tools/call"
)

// BridgeConfig describes how to launch the MCP server subprocess.
type BridgeConfig struct {
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args" json:"args,omitempty"`
	Env     map[string]string `yaml:"env" json:"env,omitempty"`
	WorkDir string            `yaml:"workdir" json:"workdir,omitempty"`

	// Timeout is the per-request deadline. Zero means DefaultTimeout.
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`

	ProtocolVersion string `yaml:"protocol_version" json:"protocol_version,omitempty"`
	ClientName      string `yaml:"client_name" json:"client_name,omitempty"`
	ClientVersion   string `yaml:"client_version" json:"client_version,omitempty"`
}

// Validate checks the launch configuration for obviously unsafe values.
func (c *BridgeConfig) Validate() error {
	if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("command is required")
	}
	if strings.Contains(filepath.Clean(c.Command), "..") {
		return fmt.Errorf("command contains path traversal: %q", c.Command)
	}
	if c.WorkDir != "" && strings.Contains(filepath.Clean(c.WorkDir), "..") {
		return fmt.Errorf("workdir contains path traversal: %q", c.WorkDir)
	}
	for i, arg := range c.Args {
		if containsShellMetachars(arg) {
			return fmt.Errorf("arg[%d] contains suspicious shell metacharacters: %q", i, arg)
		}
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}

func (c BridgeConfig) withDefaults() BridgeConfig {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ProtocolVersion == "" {
		c.ProtocolVersion = DefaultProtocolVersion
	}
	if c.ClientName == "" {
		c.ClientName = "adpilot"
	}
	if c.ClientVersion == "" {
		c.ClientVersion = "1.0.0"
	}
	return c
}

// containsShellMetachars flags patterns that only make sense for command chaining.
func containsShellMetachars(s string) bool {
	for _, pattern := range []string{"$(", "${", "`", "&&", "||", ";", "|", ">", "<", "\n", "\r"} {
		if strings.Contains(s, pattern) {
			return true
		}
	}
	return false
}

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Notification is a JSON-RPC 2.0 notification (no id, no response).
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// envelope is the decoding target for every line read from the server.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Standard JSON-RPC error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// ServerInfo identifies the connected server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientInfo identifies this client in the handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is the handshake payload.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
}

// InitializeResult holds the handshake reply.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

// CallToolParams holds parameters for tools/call.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolCallResult holds the reply of tools/call.
type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock is one piece of tool output.
type ContentBlock struct {
	Type     string `json:"type"` // text | image | resource
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}
