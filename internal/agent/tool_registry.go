package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	invjsonschema "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolID identifies one of the tools the agent can expose to the model.
type ToolID string

const (
	ToolListAccounts       ToolID = "list_accounts"
	ToolQuery              ToolID = "query"
	ToolMutate             ToolID = "mutate"
	ToolValidateCampaign   ToolID = "validate_campaign"
	ToolKeywordResearch    ToolID = "keyword_research"
	ToolCompetitorAnalysis ToolID = "competitor_analysis"
	ToolSendNotification   ToolID = "send_notification"
)

// KnownToolIDs returns every defined tool identifier.
func KnownToolIDs() []ToolID {
	return []ToolID{
		ToolListAccounts, ToolQuery, ToolMutate, ToolValidateCampaign,
		ToolKeywordResearch, ToolCompetitorAnalysis, ToolSendNotification,
	}
}

// Valid reports whether id is a defined tool identifier.
func (id ToolID) Valid() bool {
	return slices.Contains(KnownToolIDs(), id)
}

// HandlerFunc executes a tool. The returned value is serialized into the tool
// result; a returned error becomes an error-flagged result carrying its message.
type HandlerFunc func(ctx context.Context, input json.RawMessage) (any, error)

// ToolSpec describes one tool implementation.
type ToolSpec struct {
	ID          ToolID
	Description string
	// Schema is the JSON Schema of the tool input object.
	Schema  json.RawMessage
	Handler HandlerFunc
}

type registeredTool struct {
	spec   ToolSpec
	schema *jsonschema.Schema
}

// ToolRegistry maps tool identifiers to their handlers. Every entry is
// validated when it is registered.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[ToolID]*registeredTool
	order []ToolID
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[ToolID]*registeredTool)}
}

// Register validates spec and adds it. It fails on an unknown or duplicate id,
// a nil handler, or a schema that does not compile.
func (r *ToolRegistry) Register(spec ToolSpec) error {
	if !spec.ID.Valid() {
		return fmt.Errorf("%w: unknown tool id %q", ErrInvalidToolSpec, spec.ID)
	}
	if spec.Handler == nil {
		return fmt.Errorf("%w: %s has no handler", ErrInvalidToolSpec, spec.ID)
	}
	if len(spec.Schema) == 0 {
		spec.Schema = json.RawMessage(`{"type":"object"}`)
	}
	compiled, err := jsonschema.CompileString(string(spec.ID)+".schema.json", string(spec.Schema))
	if err != nil {
		return fmt.Errorf("%w: %s schema: %v", ErrInvalidToolSpec, spec.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[spec.ID]; exists {
		return fmt.Errorf("%w: %s registered twice", ErrInvalidToolSpec, spec.ID)
	}
	r.tools[spec.ID] = &registeredTool{spec: spec, schema: compiled}
	r.order = append(r.order, spec.ID)
	return nil
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns the model-facing tool list in registration order.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, id := range r.order {
		t := r.tools[id]
		defs = append(defs, ToolDefinition{
			Name:        string(id),
			Description: t.spec.Description,
			InputSchema: t.spec.Schema,
		})
	}
	return defs
}

// Resolve looks up name and validates input against its schema.
func (r *ToolRegistry) Resolve(name string, input json.RawMessage) (HandlerFunc, error) {
	r.mu.RLock()
	t, ok := r.tools[ToolID(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %s: input is not JSON: %v", ErrInvalidToolInput, name, err)
	}
	if err := t.schema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidToolInput, name, err)
	}
	return t.spec.Handler, nil
}

// SchemaFor reflects the JSON Schema of a tool input struct. Field names come
// from json tags; descriptions and enums from jsonschema tags.
func SchemaFor[T any]() json.RawMessage {
	reflector := &invjsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
		Anonymous:      true,
	}
	var zero T
	schema := reflector.Reflect(&zero)
	schema.Version = ""
	schema.ID = ""

	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("reflect tool schema: %v", err))
	}
	return data
}

// Decode unmarshals tool input into a typed struct.
func Decode[T any](input json.RawMessage) (T, error) {
	var v T
	if len(input) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(input, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidToolInput, err)
	}
	return v, nil
}

// Typed adapts a handler on a typed input struct to a HandlerFunc.
func Typed[T any](fn func(ctx context.Context, input T) (any, error)) HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		in, err := Decode[T](raw)
		if err != nil {
			return nil, err
		}
		return fn(ctx, in)
	}
}
