package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/haasonsaas/adpilot/internal/audit"
	"github.com/haasonsaas/adpilot/internal/auth"
	"github.com/haasonsaas/adpilot/internal/config"
	"github.com/haasonsaas/adpilot/internal/secrets"
	"github.com/haasonsaas/adpilot/internal/workflows"
)

// =============================================================================
// Config
// =============================================================================

func runConfigCheck(opts *rootOptions, out io.Writer) error {
	cfg, _, store, err := loadConfig(opts)
	if err != nil {
		return err
	}
	path := opts.resolveConfigPath()
	if path == "" {
		path = "(defaults)"
	}

	w := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintf(w, "config\t%s\n", path)
	fmt.Fprintf(w, "model\t%s\n", cfg.LLM.Model)
	fmt.Fprintf(w, "anthropic key\t%s\n", describeSecret(cfg.LLM.APIKey, store, secrets.AnthropicAPIKey))
	fmt.Fprintf(w, "google ads server\t%s\n", enabledString(cfg.Ads.MCP.Command != "", cfg.Ads.MCP.Command))
	fmt.Fprintf(w, "developer token\t%s\n", describeSecret(cfg.Ads.DeveloperToken, store, secrets.GoogleAdsDeveloperToken))
	fmt.Fprintf(w, "research api\t%s\n", enabledString(cfg.Research.BaseURL != "", cfg.Research.BaseURL))
	fmt.Fprintf(w, "slack\t%s\n", enabledString(cfg.Notify.WebhookURL != "", cfg.Notify.Channel))
	fmt.Fprintf(w, "gateway\t%s (auth %s)\n", cfg.Gateway.Addr, enabledString(cfg.Gateway.Auth.Enabled(), ""))
	fmt.Fprintf(w, "audit\t%s\n", enabledString(cfg.Audit.Enabled, cfg.Audit.Path))
	if err := w.Flush(); err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, "configuration OK")
	return err
}

func runConfigSchema(out io.Writer) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(schema))
	return err
}

func enabledString(enabled bool, detail string) string {
	if !enabled {
		return "disabled"
	}
	if detail == "" {
		return "enabled"
	}
	return "enabled: " + detail
}

func describeSecret(value string, store *secrets.Store, name string) string {
	if value == "" {
		return "not set"
	}
	if store != nil {
		if src := store.Source(name); src != "" {
			return "set (" + src + ")"
		}
	}
	return "set (config)"
}

// =============================================================================
// Secrets
// =============================================================================

func checkSecretName(name string) error {
	if slices.Contains(secrets.Known, name) {
		return nil
	}
	return fmt.Errorf("unknown credential %q (known: %s)", name, strings.Join(secrets.Known, ", "))
}

func runSecretsSet(in io.Reader, out io.Writer, name, value string) error {
	store, err := secrets.Open()
	if err != nil {
		return err
	}
	return secretsSet(store, in, out, name, value)
}

func secretsSet(store *secrets.Store, in io.Reader, out io.Writer, name, value string) error {
	if err := checkSecretName(name); err != nil {
		return err
	}
	if value == "" {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read value: %w", err)
		}
		value = strings.TrimSpace(line)
	}
	if value == "" {
		return errors.New("empty value")
	}
	if err := store.Set(name, value); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "stored %s in keychain\n", name)
	return err
}

func runSecretsDelete(out io.Writer, name string) error {
	store, err := secrets.Open()
	if err != nil {
		return err
	}
	return secretsDelete(store, out, name)
}

func secretsDelete(store *secrets.Store, out io.Writer, name string) error {
	if err := checkSecretName(name); err != nil {
		return err
	}
	if err := store.Delete(name); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "deleted %s from keychain\n", name)
	return err
}

func runSecretsList(out io.Writer) error {
	store, err := secrets.Open()
	if err != nil {
		fmt.Fprintf(out, "keychain unavailable: %v\n", err)
	}
	return secretsList(store, out)
}

func secretsList(store *secrets.Store, out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSOURCE")
	for _, name := range secrets.Known {
		src := store.Source(name)
		if src == "" {
			src = "not set"
		}
		fmt.Fprintf(w, "%s\t%s\n", name, src)
	}
	return w.Flush()
}

// =============================================================================
// Tokens
// =============================================================================

func runToken(opts *rootOptions, out io.Writer, subject string, actions []string, expiry time.Duration) error {
	cfg, _, _, err := loadConfig(opts)
	if err != nil {
		return err
	}
	token, err := issueToken(cfg.Gateway.Auth, subject, actions, expiry)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func issueToken(cfg config.GatewayAuth, subject string, actions []string, expiry time.Duration) (string, error) {
	if !cfg.Enabled() {
		return "", fmt.Errorf("%w: set gateway.auth.jwt_secret or %s", auth.ErrAuthDisabled, secrets.WebhookJWTSecret)
	}
	for _, action := range actions {
		if _, ok := workflows.Lookup(action); !ok {
			return "", fmt.Errorf("%w: %q", workflows.ErrUnknownWorkflow, action)
		}
	}
	svc := auth.NewJWTService(auth.Config{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
		Expiry:   expiry,
	})
	return svc.Generate(subject, actions...)
}

// =============================================================================
// Runs
// =============================================================================

func openAudit(ctx context.Context, opts *rootOptions) (*audit.Store, error) {
	cfg, logger, _, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if !cfg.Audit.Enabled {
		return nil, errors.New("audit log is disabled (audit.enabled)")
	}
	return audit.Open(ctx, cfg.Audit, logger)
}

func runRunsList(ctx context.Context, opts *rootOptions, out io.Writer, workflow string, limit int) error {
	store, err := openAudit(ctx, opts)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(ctx, audit.ListOptions{Workflow: workflow, Limit: limit})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		_, err := fmt.Fprintln(out, "no runs recorded")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWORKFLOW\tSTARTED\tDURATION\tITER\tTOKENS\tSTATUS")
	for _, r := range runs {
		status := "ok"
		if !r.Succeeded() {
			status = "error"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.ID,
			r.Workflow,
			r.StartedAt.Local().Format(time.DateTime),
			r.Duration.Round(time.Millisecond),
			r.Iterations,
			r.Usage.Total(),
			status,
		)
	}
	return w.Flush()
}

func runRunsShow(ctx context.Context, opts *rootOptions, out io.Writer, id string) error {
	store, err := openAudit(ctx, opts)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.GetRun(ctx, id)
	if err != nil {
		return fmt.Errorf("run %s: %w", id, err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(run)
}

func runRunsPrune(ctx context.Context, opts *rootOptions, out io.Writer, olderThan time.Duration) error {
	if olderThan <= 0 {
		return errors.New("--older-than must be positive")
	}
	store, err := openAudit(ctx, opts)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.Prune(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "pruned %d run(s)\n", n)
	return err
}
