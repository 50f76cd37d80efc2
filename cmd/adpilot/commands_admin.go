package main

import (
	"time"

	"github.com/spf13/cobra"
)

// buildConfigCmd creates the "config" command group.
func buildConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "check",
			Short: "Load, resolve and validate the configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runConfigCheck(opts, cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "schema",
			Short: "Print the JSON Schema of the configuration file",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runConfigSchema(cmd.OutOrStdout())
			},
		},
	)
	return cmd
}

// buildSecretsCmd creates the "secrets" command group for the OS keychain.
func buildSecretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage credentials in the OS keychain",
		Long: `Store credentials in the OS keychain so they need not live in the config
file or the environment. Environment variables always take precedence.`,
	}

	var value string
	set := &cobra.Command{
		Use:   "set NAME",
		Short: "Store a credential (reads the value from stdin without --value)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSecretsSet(cmd.InOrStdin(), cmd.OutOrStdout(), args[0], value)
		},
	}
	set.Flags().StringVar(&value, "value", "", "Credential value")

	cmd.AddCommand(
		set,
		&cobra.Command{
			Use:   "delete NAME",
			Short: "Remove a credential from the keychain",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSecretsDelete(cmd.OutOrStdout(), args[0])
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "Show where each known credential is resolved from",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runSecretsList(cmd.OutOrStdout())
			},
		},
	)
	return cmd
}

// buildTokenCmd creates the "token" command that issues webhook bearer tokens.
func buildTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		subject string
		actions []string
		expiry  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the webhook gateway",
		Example: `  adpilot token --subject ci --action health_check --expiry 720h
  adpilot token --subject ops`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runToken(opts, cmd.OutOrStdout(), subject, actions, expiry)
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Token subject (caller name)")
	cmd.Flags().StringSliceVar(&actions, "action", nil, "Allowed workflow (repeatable; default all)")
	cmd.Flags().DurationVar(&expiry, "expiry", 24*time.Hour, "Token lifetime (0 for no expiry)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

// buildRunsCmd creates the "runs" command group over the audit log.
func buildRunsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded agent runs",
	}

	var (
		workflow string
		limit    int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRunsList(cmd.Context(), opts, cmd.OutOrStdout(), workflow, limit)
		},
	}
	list.Flags().StringVar(&workflow, "workflow", "", "Only runs of this workflow")
	list.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs")

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete runs older than a duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRunsPrune(cmd.Context(), opts, cmd.OutOrStdout(), olderThan)
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age cutoff")

	cmd.AddCommand(
		list,
		&cobra.Command{
			Use:   "show RUN_ID",
			Short: "Show one run with its tool calls",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runRunsShow(cmd.Context(), opts, cmd.OutOrStdout(), args[0])
			},
		},
		prune,
	)
	return cmd
}
