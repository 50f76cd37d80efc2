package main

import "github.com/spf13/cobra"

// buildServeCmd creates the "serve" command that starts the webhook gateway.
func buildServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP webhook gateway",
		Long: `Start the HTTP webhook gateway.

POST /webhook with {"action": "<workflow>", "params": {...}} runs a workflow
and returns {"success": ..., "data": ..., "error": ...}. /healthz reports the
Google Ads server state and /metrics exposes Prometheus metrics.

Requests need a bearer token when gateway.auth.jwt_secret is set (see
"adpilot token"). Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  adpilot serve --config adpilot.yaml
  adpilot serve --addr 127.0.0.1:9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Override gateway.addr")
	return cmd
}
