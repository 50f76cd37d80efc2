// Package main provides the adpilot CLI.
//
// adpilot drives Google Ads campaign work through a reasoning agent that
// calls Google Ads (via an MCP server subprocess), a market-research API and
// Slack.
//
// # Basic Usage
//
//	adpilot design --goal "more demo signups" --budget 50
//	adpilot validate --plan plan.yaml --local
//	adpilot create --customer-id 123-456-7890 --plan plan.yaml
//	adpilot chat
//	adpilot serve --config adpilot.yaml
//
// # Environment Variables
//
//   - ADPILOT_CONFIG: Path to configuration file (default: adpilot.yaml when present)
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - GOOGLE_ADS_DEVELOPER_TOKEN: Google Ads developer token passed to the MCP server
//   - GOOGLE_ADS_LOGIN_CUSTOMER_ID: Manager account used for Google Ads calls
//   - ADPILOT_RESEARCH_API_KEY: Market-research API key
//   - ADPILOT_SLACK_WEBHOOK_URL: Slack incoming webhook
//   - ADPILOT_JWT_SECRET: Webhook bearer-token secret
//
// Credentials not found in the environment are looked up in the OS keychain
// (see "adpilot secrets").
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information, set by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	envConfigPath     = "ADPILOT_CONFIG"
	defaultConfigName = "adpilot.yaml"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

// resolveConfigPath picks the flag, then ADPILOT_CONFIG, then ./adpilot.yaml
// if it exists. An empty result means built-in defaults.
func (o *rootOptions) resolveConfigPath() string {
	if p := strings.TrimSpace(o.configPath); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(envConfigPath)); p != "" {
		return p
	}
	if _, err := os.Stat(defaultConfigName); err == nil {
		return defaultConfigName
	}
	return ""
}

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "adpilot",
		Short: "adpilot - agent for Google Ads campaign operations",
		Long: `adpilot routes campaign requests to a reasoning agent that can query and
change Google Ads accounts, research keywords and competitors, and post
results to Slack.

Campaign creation is a dry run unless --live is given.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to YAML/JSON5 config file (or set "+envConfigPath+")")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(
		buildDesignCmd(opts),
		buildValidateCmd(opts),
		buildCreateCmd(opts),
		buildHealthCmd(opts),
		buildCompetitorsCmd(opts),
		buildKeywordsCmd(opts),
		buildChatCmd(opts),
		buildAccountsCmd(opts),
		buildServeCmd(opts),
		buildConfigCmd(opts),
		buildSecretsCmd(),
		buildTokenCmd(opts),
		buildRunsCmd(opts),
	)
	return rootCmd
}
