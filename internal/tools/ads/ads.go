// Package ads registers the Google Ads tools: account listing, GAQL queries
// and mutations proxied through the MCP bridge, and local campaign validation.
package ads

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/haasonsaas/adpilot/internal/agent"
	"github.com/haasonsaas/adpilot/internal/campaigns"
	"github.com/haasonsaas/adpilot/internal/mcp"
)

// Client is the subset of the bridge the handlers use. *mcp.Bridge implements it.
type Client interface {
	ListAccounts(ctx context.Context) (any, error)
	Query(ctx context.Context, customerID, query string) (any, error)
	Mutate(ctx context.Context, req mcp.MutateRequest) (any, error)
}

// ErrLiveMutationDenied is returned when the model asks for dry_run=false in
// a run that was not started with live mutations enabled.
var ErrLiveMutationDenied = errors.New("live mutations are not enabled for this run; retry with dry_run=true")

type liveKey struct{}

// WithLiveMutations marks ctx as allowed to apply mutations for real.
func WithLiveMutations(ctx context.Context) context.Context {
	return context.WithValue(ctx, liveKey{}, true)
}

// LiveMutationsAllowed reports whether ctx was marked by WithLiveMutations.
func LiveMutationsAllowed(ctx context.Context) bool {
	v, _ := ctx.Value(liveKey{}).(bool)
	return v
}

type queryInput struct {
	CustomerID string `json:"customer_id" jsonschema:"description=Google Ads customer id (10 digits; dashes allowed)"`
	Query      string `json:"query" jsonschema:"description=GAQL query such as SELECT campaign.id FROM campaign"`
}

type mutateInput struct {
	CustomerID     string                `json:"customer_id" jsonschema:"description=Google Ads customer id (10 digits; dashes allowed)"`
	Operations     []mcp.MutateOperation `json:"operations" jsonschema:"minItems=1,description=Ordered operations; each names an entity and a verb with a resource payload"`
	DryRun         *bool                 `json:"dry_run,omitempty" jsonschema:"description=Validate without applying. Defaults to true; only false applies changes"`
	PartialFailure bool                  `json:"partial_failure,omitempty" jsonschema:"description=Report failing operations individually instead of aborting the batch"`
}

type validationOutput struct {
	Valid  bool              `json:"valid"`
	Issues []campaigns.Issue `json:"issues"`
}

// Register adds list_accounts, query, mutate and validate_campaign to reg.
func Register(reg *agent.ToolRegistry, client Client, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ads_tools")

	specs := []agent.ToolSpec{
		{
			ID:          agent.ToolListAccounts,
			Description: "List the Google Ads customer accounts accessible with the configured credentials.",
			Handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
				return client.ListAccounts(ctx)
			},
		},
		{
			ID:          agent.ToolQuery,
			Description: "Run a read-only GAQL query against one Google Ads customer and return the rows.",
			Schema:      agent.SchemaFor[queryInput](),
			Handler: agent.Typed(func(ctx context.Context, in queryInput) (any, error) {
				return client.Query(ctx, in.CustomerID, in.Query)
			}),
		},
		{
			ID: agent.ToolMutate,
			Description: "Create, update or remove Google Ads entities. Runs as a dry run (validate only) " +
				"unless dry_run is explicitly false.",
			Schema: agent.SchemaFor[mutateInput](),
			Handler: agent.Typed(func(ctx context.Context, in mutateInput) (any, error) {
				req := mcp.MutateRequest{
					CustomerID:     in.CustomerID,
					Operations:     in.Operations,
					DryRun:         in.DryRun,
					PartialFailure: in.PartialFailure,
				}
				if !req.IsDryRun() && !LiveMutationsAllowed(ctx) {
					logger.Warn("live mutation refused", "customer_id", in.CustomerID, "operations", len(in.Operations))
					return nil, ErrLiveMutationDenied
				}
				return client.Mutate(ctx, req)
			}),
		},
		{
			ID: agent.ToolValidateCampaign,
			Description: "Check a campaign plan locally (channel, bidding strategy compatibility, budget, " +
				"keywords) before creating it. Does not contact Google Ads.",
			Schema: agent.SchemaFor[campaigns.Plan](),
			Handler: agent.Typed(func(ctx context.Context, plan campaigns.Plan) (any, error) {
				issues := campaigns.ValidatePlan(plan)
				if issues == nil {
					issues = []campaigns.Issue{}
				}
				return validationOutput{Valid: !campaigns.HasErrors(issues), Issues: issues}, nil
			}),
		},
	}

	for _, spec := range specs {
		if err := reg.Register(spec); err != nil {
			return err
		}
	}
	return nil
}
