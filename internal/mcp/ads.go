package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Tool names exposed by the Google Ads MCP server.
const (
	RemoteToolListAccounts = "list_accounts"
	RemoteToolQuery        = "query"
	RemoteToolMutate       = "mutate"
)

// Mutation verbs accepted by the Ads API.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpRemove = "remove"
)

var (
	// ErrInvalidMutation is wrapped by every local mutate validation failure.
	ErrInvalidMutation = errors.New("invalid mutation")

	// ErrInvalidCustomerID reports a customer id that is not 10 digits.
	ErrInvalidCustomerID = errors.New("invalid customer id")
)

// MutateOperation is one typed operation in a mutate batch.
type MutateOperation struct {
	// Entity is the resource kind, e.g. "campaign", "ad_group", "campaign_budget".
	Entity    string         `json:"entity"`
	Operation string         `json:"operation" jsonschema:"enum=create,enum=update,enum=remove"`
	Resource  map[string]any `json:"resource"`
}

// MutateRequest describes a mutate batch. DryRun is a pointer so that an unset
// value can be told apart from an explicit false: nil means dry run.
type MutateRequest struct {
	CustomerID     string            `json:"customer_id"`
	Operations     []MutateOperation `json:"operations"`
	DryRun         *bool             `json:"dry_run,omitempty"`
	PartialFailure bool              `json:"partial_failure,omitempty"`
}

// IsDryRun reports whether the request is validate-only.
func (r MutateRequest) IsDryRun() bool {
	return r.DryRun == nil || *r.DryRun
}

// Validate checks the request shape before anything is sent to the server.
func (r MutateRequest) Validate() error {
	if _, err := NormalizeCustomerID(r.CustomerID); err != nil {
		return err
	}
	if len(r.Operations) == 0 {
		return fmt.Errorf("%w: no operations", ErrInvalidMutation)
	}
	for i, op := range r.Operations {
		if strings.TrimSpace(op.Entity) == "" {
			return fmt.Errorf("%w: operation %d: entity is required", ErrInvalidMutation, i)
		}
		switch op.Operation {
		case OpCreate:
			if len(op.Resource) == 0 {
				return fmt.Errorf("%w: operation %d: create requires a resource", ErrInvalidMutation, i)
			}
		case OpUpdate, OpRemove:
			if name, _ := op.Resource["resource_name"].(string); name == "" {
				return fmt.Errorf("%w: operation %d: %s requires resource.resource_name", ErrInvalidMutation, i, op.Operation)
			}
		default:
			return fmt.Errorf("%w: operation %d: unknown verb %q (want create, update or remove)", ErrInvalidMutation, i, op.Operation)
		}
	}
	return nil
}

// NormalizeCustomerID strips dashes from a customer id and checks it is the
// 10-digit form the Ads API expects.
func NormalizeCustomerID(id string) (string, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(id), "-", "")
	if len(clean) != 10 {
		return "", fmt.Errorf("%w: %q must have 10 digits", ErrInvalidCustomerID, id)
	}
	for _, r := range clean {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q must be numeric", ErrInvalidCustomerID, id)
		}
	}
	return clean, nil
}

// ListAccounts returns the customer accounts the credentials can access.
func (b *Bridge) ListAccounts(ctx context.Context) (any, error) {
	return b.CallTool(ctx, RemoteToolListAccounts, nil)
}

// Query runs a read-only GAQL query against one customer.
func (b *Bridge) Query(ctx context.Context, customerID, query string) (any, error) {
	id, err := NormalizeCustomerID(customerID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is required")
	}
	return b.CallTool(ctx, RemoteToolQuery, map[string]any{
		"customer_id": id,
		"query":       query,
	})
}

// Mutate applies a batch of operations. Both dry_run and partial_failure are
// always sent; a live mutation requires DryRun set to false explicitly.
func (b *Bridge) Mutate(ctx context.Context, req MutateRequest) (any, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	id, _ := NormalizeCustomerID(req.CustomerID)

	ops := make([]any, len(req.Operations))
	for i, op := range req.Operations {
		ops[i] = map[string]any{
			"entity":    op.Entity,
			"operation": op.Operation,
			"resource":  op.Resource,
		}
	}

	dryRun := req.IsDryRun()
	if !dryRun {
		b.logger.Warn("executing live mutation", "customer_id", id, "operations", len(ops))
	}
	return b.CallTool(ctx, RemoteToolMutate, map[string]any{
		"customer_id":     id,
		"operations":      ops,
		"dry_run":         dryRun,
		"partial_failure": req.PartialFailure,
	})
}
