package main

import (
	"github.com/spf13/cobra"

	"github.com/haasonsaas/adpilot/internal/workflows"
)

type outputOptions struct {
	json bool
}

func (o *outputOptions) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.json, "json", false, "Print the full run result as JSON")
}

func buildDesignCmd(opts *rootOptions) *cobra.Command {
	var (
		out        outputOptions
		goal       string
		budget     float64
		channel    string
		url        string
		locations  []string
		customerID string
	)
	cmd := &cobra.Command{
		Use:   "design",
		Short: "Design a campaign for a business goal and daily budget",
		Example: `  adpilot design --goal "more demo signups" --budget 50
  adpilot design --goal "ecommerce sales" --budget 200 --channel PERFORMANCE_MAX --url https://example.com`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params := map[string]any{
				"goal":   goal,
				"budget": budget,
			}
			setIf(params, "channel", channel)
			setIf(params, "url", url)
			setIf(params, "customer_id", customerID)
			if len(locations) > 0 {
				params["locations"] = locations
			}
			return runWorkflow(cmd.Context(), opts, cmd.OutOrStdout(), workflows.DesignCampaign, params, out.json)
		},
	}
	out.bind(cmd)
	cmd.Flags().StringVar(&goal, "goal", "", "Business goal for the campaign")
	cmd.Flags().Float64Var(&budget, "budget", 0, "Daily budget in account currency")
	cmd.Flags().StringVar(&channel, "channel", "", "Preferred channel (SEARCH, DISPLAY, PERFORMANCE_MAX, ...)")
	cmd.Flags().StringVar(&url, "url", "", "Landing page URL")
	cmd.Flags().StringSliceVar(&locations, "locations", nil, "Target locations")
	cmd.Flags().StringVar(&customerID, "customer-id", "", "Account to check for existing campaigns")
	_ = cmd.MarkFlagRequired("goal")
	_ = cmd.MarkFlagRequired("budget")
	return cmd
}

func buildValidateCmd(opts *rootOptions) *cobra.Command {
	var (
		out        outputOptions
		planPath   string
		customerID string
		local      bool
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a campaign plan before creating it",
		Long: `Check a campaign plan file (YAML or JSON).

With --local the plan is checked against the bidding, channel and match type
tables without calling the agent. Otherwise the agent reviews the plan and
explains each finding.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if local {
				return runValidateLocal(cmd.OutOrStdout(), planPath, out.json)
			}
			plan, err := loadPlanParam(planPath)
			if err != nil {
				return err
			}
			params := map[string]any{"plan": plan}
			setIf(params, "customer_id", customerID)
			return runWorkflow(cmd.Context(), opts, cmd.OutOrStdout(), workflows.ValidateCampaign, params, out.json)
		},
	}
	out.bind(cmd)
	cmd.Flags().StringVar(&planPath, "plan", "", "Path to the plan file")
	cmd.Flags().StringVar(&customerID, "customer-id", "", "Account to check for conflicts")
	cmd.Flags().BoolVar(&local, "local", false, "Validate locally without the agent")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func buildCreateCmd(opts *rootOptions) *cobra.Command {
	var (
		out        outputOptions
		planPath   string
		customerID string
		live       bool
		notify     bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a campaign from a plan (dry run unless --live)",
		Long: `Create a campaign from a plan file.

By default every mutation is sent with validate_only so nothing is applied.
Pass --live to actually create the campaign.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			plan, err := loadPlanParam(planPath)
			if err != nil {
				return err
			}
			params := map[string]any{
				"customer_id": customerID,
				"plan":        plan,
				"live":        live,
				"notify":      notify,
			}
			if live {
				stderrf("LIVE mode: changes will be applied to account %s\n", customerID)
			}
			return runWorkflow(cmd.Context(), opts, cmd.OutOrStdout(), workflows.CreateCampaign, params, out.json)
		},
	}
	out.bind(cmd)
	cmd.Flags().StringVar(&planPath, "plan", "", "Path to the plan file")
	cmd.Flags().StringVar(&customerID, "customer-id", "", "Google Ads customer ID")
	cmd.Flags().BoolVar(&live, "live", false, "Apply the changes instead of a dry run")
	cmd.Flags().BoolVar(&notify, "notify", false, "Post a summary to Slack")
	_ = cmd.MarkFlagRequired("plan")
	_ = cmd.MarkFlagRequired("customer-id")
	return cmd
}

func buildHealthCmd(opts *rootOptions) *cobra.Command {
	var (
		out        outputOptions
		customerID string
		dateRange  string
		notify     bool
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Run an account health check",
		RunE: func(cmd *cobra.Command, _ []string) error {
			params := map[string]any{"customer_id": customerID, "notify": notify}
			setIf(params, "date_range", dateRange)
			return runWorkflow(cmd.Context(), opts, cmd.OutOrStdout(), workflows.HealthCheck, params, out.json)
		},
	}
	out.bind(cmd)
	cmd.Flags().StringVar(&customerID, "customer-id", "", "Google Ads customer ID")
	cmd.Flags().StringVar(&dateRange, "date-range", "", "GAQL date range such as LAST_7_DAYS (default LAST_30_DAYS)")
	cmd.Flags().BoolVar(&notify, "notify", false, "Post the findings to Slack")
	_ = cmd.MarkFlagRequired("customer-id")
	return cmd
}

func buildCompetitorsCmd(opts *rootOptions) *cobra.Command {
	var (
		out         outputOptions
		domain      string
		competitors []string
		customerID  string
	)
	cmd := &cobra.Command{
		Use:   "competitors",
		Short: "Analyze competitors of a domain",
		RunE: func(cmd *cobra.Command, _ []string) error {
			params := map[string]any{"domain": domain}
			if len(competitors) > 0 {
				params["competitors"] = competitors
			}
			setIf(params, "customer_id", customerID)
			return runWorkflow(cmd.Context(), opts, cmd.OutOrStdout(), workflows.CompetitorAnalysis, params, out.json)
		},
	}
	out.bind(cmd)
	cmd.Flags().StringVar(&domain, "domain", "", "Your domain")
	cmd.Flags().StringSliceVar(&competitors, "competitors", nil, "Known competitor domains")
	cmd.Flags().StringVar(&customerID, "customer-id", "", "Account to compare against")
	_ = cmd.MarkFlagRequired("domain")
	return cmd
}

func buildKeywordsCmd(opts *rootOptions) *cobra.Command {
	var (
		out      outputOptions
		seeds    []string
		location string
		language string
	)
	cmd := &cobra.Command{
		Use:   "keywords [seed...]",
		Short: "Research keywords from seed terms",
		RunE: func(cmd *cobra.Command, args []string) error {
			seeds = append(seeds, args...)
			params := map[string]any{"seed_keywords": seeds}
			setIf(params, "location", location)
			setIf(params, "language", language)
			return runWorkflow(cmd.Context(), opts, cmd.OutOrStdout(), workflows.KeywordResearch, params, out.json)
		},
	}
	out.bind(cmd)
	cmd.Flags().StringSliceVar(&seeds, "seed", nil, "Seed keyword (repeatable)")
	cmd.Flags().StringVar(&location, "location", "", "Target location")
	cmd.Flags().StringVar(&language, "language", "", "Target language")
	return cmd
}

func buildChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive session with the agent",
		Long:  `Start a conversation with the agent. Each line is one request; earlier exchanges stay in context. Type "exit" or press Ctrl-D to quit.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func buildAccountsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List accessible Google Ads accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAccounts(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
}

func setIf(params map[string]any, key, value string) {
	if value != "" {
		params[key] = value
	}
}
